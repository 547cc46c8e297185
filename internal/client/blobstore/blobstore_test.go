package blobstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "chunks"))
	require.NoError(t, err)

	require.NoError(t, s.Put("f_0", []byte("data")))
	assert.FileExists(t, filepath.Join(s.Dir(), "f_0.chunk"))

	b, err := s.Get("f_0")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), b)

	require.NoError(t, s.Delete("f_0"))
	require.NoError(t, s.Delete("f_0"), "missing blob is fine")

	_, err = s.Get("f_0")
	require.Error(t, err)
}

func TestSweep_RemovesUnreferenced(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"a_0", "a_1", "b_0"} {
		require.NoError(t, s.Put(id, []byte(id)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o600))

	removed, err := s.Sweep(map[string]struct{}{"a_0": {}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a_1", "b_0"}, removed)

	assert.FileExists(t, s.Path("a_0"))
	assert.NoFileExists(t, s.Path("b_0"))
	assert.FileExists(t, filepath.Join(s.Dir(), "notes.txt"), "foreign files are left alone")
}
