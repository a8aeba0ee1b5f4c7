package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestIndex(t *testing.T, compressMinSize int) *Store {
	s, err := Open(Options{InMemory: true, CompressMinSize: compressMinSize})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := setupTestIndex(t, 0)

	_, ok, err := s.Get("deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)

	want := &Listing{Files: []string{"home.md", "docs/a.md"}, Changed: []string{"docs/a.md"}}
	require.NoError(t, s.Put("deadbeef", want))

	got, ok, err := s.Get("deadbeef")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestPutRejectsEmptyHash(t *testing.T) {
	s := setupTestIndex(t, 0)
	assert.Error(t, s.Put("", &Listing{}))
}

func TestLargeListingsAreCompressed(t *testing.T) {
	s := setupTestIndex(t, 64)

	files := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		files = append(files, fmt.Sprintf("section-%d/page-%d.md", i%10, i))
	}
	want := &Listing{Files: files, Changed: files[:3]}
	require.NoError(t, s.Put("abc", want))

	got, ok, err := s.Get("abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCodecRoundTrip(t *testing.T) {
	c, err := newCodec(8)
	require.NoError(t, err)
	defer c.close()

	small := []byte(`{}`)
	assert.Equal(t, small, c.encode(small))

	large := []byte(`{"files":["a.md","b.md","c.md","d.md","e.md"]}`)
	encoded := c.encode(large)
	assert.Equal(t, zstdMagic, encoded[:4])

	decoded, err := c.decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, large, decoded)
}
