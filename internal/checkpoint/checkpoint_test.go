package checkpoint

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileStore(path)

	want := model.CheckpointState{
		RunID:       "run-1",
		ChunkSize:   64,
		Overlap:     8,
		NextOffset:  128,
		EvidenceLen: 1000,
		CreatedAt:   time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.ChunkSize, got.ChunkSize)
	assert.Equal(t, want.Overlap, got.Overlap)
	assert.Equal(t, want.NextOffset, got.NextOffset)
	assert.Equal(t, want.EvidenceLen, got.EvidenceLen)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	_, err := store.Load()
	assert.Error(t, err)
}

func TestFileStore_SaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileStore(path)

	require.NoError(t, store.Save(model.CheckpointState{RunID: "a", NextOffset: 1}))
	require.NoError(t, store.Save(model.CheckpointState{RunID: "b", NextOffset: 2}))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "b", got.RunID)
	assert.Equal(t, uint64(2), got.NextOffset)

	// No leftover temp files from the write-temp-then-rename discipline.
	entries, err := filepathGlob(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*"))
}
