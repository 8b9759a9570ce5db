// internal/storage/file_storage_test.go
package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type episodeDoc struct {
	ID    string   `json:"id"`
	Lines []string `json:"lines"`
}

func TestSaveAndLoadJSON(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	in := episodeDoc{ID: "ep1", Lines: []string{"hi", "bye"}}
	n, err := fs.SaveJSONFile("episodes", "episode_ep1.json", in)
	require.NoError(t, err)
	assert.Positive(t, n)

	info, err := os.Stat(fs.Path("episodes", "episode_ep1.json"))
	require.NoError(t, err)
	assert.Equal(t, n, info.Size())
	assert.False(t, fs.FileExists("episodes", "episode_ep1.json.tmp"))

	var out episodeDoc
	require.NoError(t, fs.LoadJSONFile("episodes", "episode_ep1.json", &out))
	assert.Equal(t, in, out)
}

func TestListFiles(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	names, err := fs.ListFiles("episodes", ".json")
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"b.json", "a.json", "notes.txt"} {
		_, err := fs.SaveTextFile("episodes", name, []byte("{}"))
		require.NoError(t, err)
	}
	names, err = fs.ListFiles("episodes", ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json"}, names)

	require.NoError(t, fs.DeleteFile("episodes", "a.json"))
	assert.Error(t, fs.DeleteFile("episodes", "a.json"))
}
