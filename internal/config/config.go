// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

const DefaultPath = "quire.toml"

// CommitMessageMode controls whether API writers must supply a message.
type CommitMessageMode string

const (
	CommitMessageRequired CommitMessageMode = "required"
	CommitMessageOptional CommitMessageMode = "optional"
	CommitMessageDisabled CommitMessageMode = "disabled"
)

type Config struct {
	Repository    string            `toml:"repository"`
	LogLevel      string            `toml:"log_level"` // debug, info, warn, error
	CommitMessage CommitMessageMode `toml:"commit_message"`

	Server struct {
		Host string `toml:"host"`
		Port int    `toml:"port"`
	} `toml:"server"`

	Index struct {
		Path            string `toml:"path"`
		InMemory        bool   `toml:"in_memory"`
		CompressMinSize int    `toml:"compress_min_size"`
	} `toml:"index"`

	Cache struct {
		Size int `toml:"size"`
	} `toml:"cache"`

	Seed struct {
		Enabled     bool   `toml:"enabled"`
		Page        string `toml:"page"`
		AuthorName  string `toml:"author_name"`
		AuthorEmail string `toml:"author_email"`
	} `toml:"seed"`
}

func Default() *Config {
	var c Config
	c.LogLevel = "info"
	c.CommitMessage = CommitMessageOptional
	c.Server.Host = "127.0.0.1"
	c.Server.Port = 8080
	c.Index.CompressMinSize = 1024
	c.Cache.Size = 256
	c.Seed.Enabled = true
	c.Seed.Page = "home.md"
	c.Seed.AuthorName = "robot"
	c.Seed.AuthorEmail = "robot@quire.local"
	return &c
}

// Path returns the config file location, honouring QUIRE_CONFIG.
func Path() string {
	if p := os.Getenv("QUIRE_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path over the defaults and applies QUIRE_* overrides. A missing
// file is not an error; the defaults and environment still apply.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, config); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("QUIRE_REPOSITORY"); ok {
		c.Repository = v
	}
	if v, ok := os.LookupEnv("QUIRE_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("QUIRE_SERVER_HOST"); ok {
		c.Server.Host = v
	}
	if v, ok := os.LookupEnv("QUIRE_SERVER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QUIRE_SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := os.LookupEnv("QUIRE_INDEX_PATH"); ok {
		c.Index.Path = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Repository == "" {
		return errors.New("repository path is required")
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch c.CommitMessage {
	case CommitMessageRequired, CommitMessageOptional, CommitMessageDisabled:
	default:
		return fmt.Errorf("commit_message: unknown mode %q", c.CommitMessage)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("cache.size: must not be negative")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
