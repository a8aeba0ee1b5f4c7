package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "quire.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, CommitMessageOptional, config.CommitMessage)
	assert.Equal(t, "127.0.0.1:8080", config.Addr())
	assert.Equal(t, 256, config.Cache.Size)
	assert.True(t, config.Seed.Enabled)
	assert.Equal(t, "home.md", config.Seed.Page)
	assert.Equal(t, "robot", config.Seed.AuthorName)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
repository = "/srv/wiki"
log_level = "debug"
commit_message = "required"

[server]
port = 9090

[index]
in_memory = true
compress_min_size = 64

[cache]
size = 16

[seed]
page = "Home.md"
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/wiki", config.Repository)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, CommitMessageRequired, config.CommitMessage)
	assert.Equal(t, "127.0.0.1:9090", config.Addr())
	assert.True(t, config.Index.InMemory)
	assert.Equal(t, 64, config.Index.CompressMinSize)
	assert.Equal(t, 16, config.Cache.Size)
	assert.Equal(t, "Home.md", config.Seed.Page)
	assert.True(t, config.Seed.Enabled, "unset keys keep their defaults")
	require.NoError(t, config.Validate())
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "repository = [")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `repository = "/from/file"`)
	t.Setenv("QUIRE_REPOSITORY", "/from/env")
	t.Setenv("QUIRE_LOG_LEVEL", "warn")
	t.Setenv("QUIRE_SERVER_HOST", "0.0.0.0")
	t.Setenv("QUIRE_SERVER_PORT", "9000")
	t.Setenv("QUIRE_INDEX_PATH", "/tmp/index")

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env", config.Repository)
	assert.Equal(t, "warn", config.LogLevel)
	assert.Equal(t, "0.0.0.0:9000", config.Addr())
	assert.Equal(t, "/tmp/index", config.Index.Path)
}

func TestEnvironmentBadPort(t *testing.T) {
	t.Setenv("QUIRE_SERVER_PORT", "eighty")
	_, err := Load("")
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	t.Setenv("QUIRE_CONFIG", "")
	assert.Equal(t, DefaultPath, Path())

	t.Setenv("QUIRE_CONFIG", "/etc/quire.toml")
	assert.Equal(t, "/etc/quire.toml", Path())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing repository", func(c *Config) { c.Repository = "" }, true},
		{"unknown log level", func(c *Config) { c.LogLevel = "chatty" }, true},
		{"unknown commit mode", func(c *Config) { c.CommitMessage = "sometimes" }, true},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, true},
		{"negative cache", func(c *Config) { c.Cache.Size = -1 }, true},
		{"disabled messages", func(c *Config) { c.CommitMessage = CommitMessageDisabled }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			config.Repository = "/srv/wiki"
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
