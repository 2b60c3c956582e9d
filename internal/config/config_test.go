package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(16), cfg.ChunkSizeMiB)
	assert.Equal(t, uint64(4096), cfg.OverlapBytes)
}

func TestValidate_RejectsZeroChunkSize(t *testing.T) {
	cfg := Default()
	cfg.ChunkSizeMiB = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsDuplicateFileTypeID(t *testing.T) {
	cfg := Default()
	cfg.FileTypes = []FileTypeConfig{
		{ID: "jpeg", HeaderPatterns: []PatternConfig{{ID: "h1", Hex: "ffd8"}}},
		{ID: "jpeg", HeaderPatterns: []PatternConfig{{ID: "h2", Hex: "ffd9"}}},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyPatternHex(t *testing.T) {
	cfg := Default()
	cfg.FileTypes = []FileTypeConfig{
		{ID: "jpeg", HeaderPatterns: []PatternConfig{{ID: "h1", Hex: ""}}},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsMalformedPatternHex(t *testing.T) {
	cfg := Default()
	cfg.FileTypes = []FileTypeConfig{
		{ID: "jpeg", HeaderPatterns: []PatternConfig{{ID: "h1", Hex: "zz"}}},
	}
	assert.Error(t, cfg.Validate())

	cfg.FileTypes = []FileTypeConfig{
		{ID: "jpeg", FooterPatterns: []PatternConfig{{ID: "f1", Hex: "0"}}},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsMissingFileTypeID(t *testing.T) {
	cfg := Default()
	cfg.FileTypes = []FileTypeConfig{{ID: ""}}
	assert.Error(t, cfg.Validate())
}

func TestLoad_ParsesYAMLAndAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
run_id: "test-run"
chunk_size_mib: 32
overlap_bytes: 1024
enable_string_scan: true
file_types:
  - id: jpeg
    extensions: ["jpg", "jpeg"]
    header_patterns:
      - id: jpeg-header
        hex: "ffd8ff"
    min_size: 128
    max_size: 1048576
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-run", cfg.RunID)
	assert.Equal(t, uint64(32), cfg.ChunkSizeMiB)
	assert.Equal(t, uint64(1024), cfg.OverlapBytes)
	assert.True(t, cfg.EnableStringScan)
	require.Len(t, cfg.FileTypes, 1)
	assert.Equal(t, "jpeg", cfg.FileTypes[0].ID)
	// Defaults not present in the YAML still apply post-unmarshal.
	assert.Equal(t, "jsonl", cfg.Metadata.Backend)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidConfigIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size_mib: 0\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
