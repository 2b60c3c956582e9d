package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchFile_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run_id: initial\nchunk_size_mib: 16\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := WatchFile(path, func(cfg *Config) { reloaded <- cfg }, func(error) {})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("run_id: updated\nchunk_size_mib: 32\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "updated", cfg.RunID)
		assert.Equal(t, uint64(32), cfg.ChunkSizeMiB)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatchFile_InvalidRewriteReportsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size_mib: 16\n"), 0o644))

	errs := make(chan error, 1)
	w, err := WatchFile(path, func(*Config) {}, func(e error) { errs <- e })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("chunk_size_mib: 0\n"), 0o644))

	select {
	case e := <-errs:
		assert.Error(t, e)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}
}
