package filestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestPutGetDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put("users", "u-1", doc{Name: "a", Count: 1}))

	var got doc
	require.NoError(t, s.Get("users", "u-1", &got))
	assert.Equal(t, doc{Name: "a", Count: 1}, got)

	// Overwrite replaces the whole value.
	require.NoError(t, s.Put("users", "u-1", doc{Name: "b", Count: 2}))
	require.NoError(t, s.Get("users", "u-1", &got))
	assert.Equal(t, "b", got.Name)

	require.NoError(t, s.Delete("users", "u-1"))
	assert.ErrorIs(t, s.Get("users", "u-1", &got), ErrNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, s.Delete("users", "u-1"))
}

func TestTake_ReadsAndRemoves(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put("states", "s-1", doc{Name: "a"}))

	var got doc
	require.NoError(t, s.Take("states", "s-1", &got))
	assert.Equal(t, "a", got.Name)

	// The row is gone; a second take loses.
	assert.ErrorIs(t, s.Take("states", "s-1", &got), ErrNotFound)
	assert.ErrorIs(t, s.Get("states", "s-1", &got), ErrNotFound)
}

func TestGet_Missing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	var got doc
	assert.ErrorIs(t, s.Get("nothing", "nope", &got), ErrNotFound)
}

func TestKeys(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	keys, err := s.Keys("states")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Put("states", "k1", doc{}))
	require.NoError(t, s.Put("states", "k2", doc{}))
	require.NoError(t, s.Put("other", "k3", doc{}))

	keys, err = s.Keys("states")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys)
}

func TestKeySanitization(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	// A hostile key must not escape the bucket directory.
	require.NoError(t, s.Put("users", "../escape", doc{Name: "x"}))
	var got doc
	require.NoError(t, s.Get("users", "../escape", &got))
	assert.Equal(t, "x", got.Name)

	escaped := filepath.Join(dir, "escape.json")
	assert.NoFileExists(t, escaped)
}
