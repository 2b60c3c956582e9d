package carve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenchrcum/forensic-carver/internal/config"
	"github.com/kenchrcum/forensic-carver/internal/scanner"
)

func TestDefaultCarvers_OneInstancePerFileType(t *testing.T) {
	carvers := DefaultCarvers(config.Default())
	seen := map[string]bool{}
	for _, c := range carvers {
		require.Falsef(t, seen[c.FileType()], "duplicate carver for %s", c.FileType())
		seen[c.FileType()] = true
	}
	assert.True(t, seen["jpeg"])
	assert.True(t, seen["sqlite"])
	assert.True(t, seen["sqlite-wal"])
}

func TestFilterByTypes_EmptyAllowListKeepsEverything(t *testing.T) {
	carvers := DefaultCarvers(config.Default())
	assert.Equal(t, len(carvers), len(FilterByTypes(carvers, nil)))
}

func TestFilterByTypes_ExactMatch(t *testing.T) {
	carvers := DefaultCarvers(config.Default())
	kept := FilterByTypes(carvers, []string{"jpeg"})
	require.Len(t, kept, 1)
	assert.Equal(t, "jpeg", kept[0].FileType())
}

func TestFilterByTypes_GlobMatchesWholeFamily(t *testing.T) {
	carvers := DefaultCarvers(config.Default())
	kept := FilterByTypes(carvers, []string{"sqlite*"})

	var types []string
	for _, c := range kept {
		types = append(types, c.FileType())
	}
	assert.Contains(t, types, "sqlite")
	assert.Contains(t, types, "sqlite-wal")
	assert.Contains(t, types, "sqlite-page")
	assert.NotContains(t, types, "jpeg")
}

func TestBuildPatterns_PageRecoveryOptIn(t *testing.T) {
	cfg := config.Default()
	patterns, err := BuildPatterns(cfg)
	require.NoError(t, err)
	for _, p := range patterns {
		assert.NotEqual(t, "sqlite-page", p.FileTypeID)
	}

	cfg.EnableSQLitePageRecovery = true
	patterns, err = BuildPatterns(cfg)
	require.NoError(t, err)
	ids := map[string][]byte{}
	for _, p := range patterns {
		if p.FileTypeID == "sqlite-page" {
			ids[p.ID] = p.Bytes
		}
	}
	assert.Equal(t, []byte{0x0D}, ids["sqlite-leaf-table"])
	assert.Equal(t, []byte{0x0A}, ids["sqlite-leaf-index"])
}

func TestBuildPatterns_ConfigAddsAndOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.FileTypes = []config.FileTypeConfig{
		{
			ID: "pcap",
			HeaderPatterns: []config.PatternConfig{
				{ID: "pcap-le", Hex: "d4c3b2a1"},
			},
		},
		{
			ID: "jpeg",
			HeaderPatterns: []config.PatternConfig{
				// Tighten the built-in 3-byte needle to a full JFIF prefix.
				{ID: "jpeg", Hex: "ffd8ffe0"},
			},
		},
	}

	patterns, err := BuildPatterns(cfg)
	require.NoError(t, err)

	byID := map[string]scanner.Pattern{}
	for _, p := range patterns {
		byID[p.ID] = p
	}
	assert.Equal(t, []byte{0xD4, 0xC3, 0xB2, 0xA1}, byID["pcap-le"].Bytes)
	assert.Equal(t, "pcap", byID["pcap-le"].FileTypeID)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xE0}, byID["jpeg"].Bytes)
}

func TestBuildPatterns_RejectsBadHex(t *testing.T) {
	cfg := config.Default()
	cfg.FileTypes = []config.FileTypeConfig{
		{ID: "bad", HeaderPatterns: []config.PatternConfig{{ID: "x", Hex: "zz"}}},
	}
	_, err := BuildPatterns(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid hex")
}

func TestConfigCarvers_BuildsFooterGenericForCustomTypes(t *testing.T) {
	cfg := config.Default()
	cfg.FileTypes = []config.FileTypeConfig{
		{
			ID:         "swf",
			Extensions: []string{".swf"},
			MinSize:    64,
			HeaderPatterns: []config.PatternConfig{{ID: "swf-fws", Hex: "465753"}},
			FooterPatterns: []config.PatternConfig{{ID: "swf-end", Hex: "000000"}},
		},
		// Names a built-in: contributes bounds/patterns only, no new carver.
		{ID: "jpeg", MaxSize: 1024},
	}

	carvers, err := ConfigCarvers(cfg)
	require.NoError(t, err)
	require.Len(t, carvers, 1)
	assert.Equal(t, "swf", carvers[0].FileType())
	assert.Equal(t, "swf", carvers[0].Extension())
}

func TestConfigCarvers_CustomTypeNeedsFooter(t *testing.T) {
	cfg := config.Default()
	cfg.FileTypes = []config.FileTypeConfig{
		{ID: "mystery", HeaderPatterns: []config.PatternConfig{{ID: "m", Hex: "00ff"}}},
	}
	_, err := ConfigCarvers(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "footer pattern")
}

func TestFilterPatternsByTypes_GlobMatchesWholeFamily(t *testing.T) {
	patterns := DefaultPatterns()
	kept := FilterPatternsByTypes(patterns, []string{"tiff*", "rar"})

	typeIDs := map[string]bool{}
	for _, p := range kept {
		typeIDs[p.FileTypeID] = true
	}
	assert.True(t, typeIDs["tiff"])
	assert.True(t, typeIDs["rar"])
	assert.False(t, typeIDs["jpeg"])
}
