package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePatterns_RejectsEmptyByteSequence(t *testing.T) {
	_, err := CompilePatterns([]struct {
		ID, FileTypeID string
		Bytes          []byte
	}{
		{ID: "bad", FileTypeID: "x", Bytes: nil},
	})
	require.Error(t, err)
}

func TestScanChunk_FindsOverlappingMatches(t *testing.T) {
	patterns := []Pattern{{ID: "aa", FileTypeID: "t", Bytes: []byte("AA")}}
	s := New(patterns, false)
	// "AAA" contains two overlapping matches of "AA", at offsets 0 and 1.
	hits := s.ScanChunk(1, []byte("AAA"))
	require.Len(t, hits, 2)
	assert.Equal(t, uint64(0), hits[0].LocalOffset)
	assert.Equal(t, uint64(1), hits[1].LocalOffset)
	assert.Equal(t, uint64(1), hits[0].ChunkID)
}

func TestScanChunk_MultiplePatternsAllReported(t *testing.T) {
	patterns := []Pattern{
		{ID: "jpeg", FileTypeID: "jpeg", Bytes: []byte{0xFF, 0xD8, 0xFF}},
		{ID: "png", FileTypeID: "png", Bytes: []byte{0x89, 'P', 'N', 'G'}},
	}
	s := New(patterns, false)
	data := append([]byte{0x00, 0x00}, append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte{0x89, 'P', 'N', 'G'}...)...)
	hits := s.ScanChunk(0, data)
	require.Len(t, hits, 2)

	byType := map[string]bool{}
	for _, h := range hits {
		byType[h.FileTypeID] = true
	}
	assert.True(t, byType["jpeg"])
	assert.True(t, byType["png"])
}

func TestScanChunk_PatternLongerThanDataIsSkipped(t *testing.T) {
	patterns := []Pattern{{ID: "x", FileTypeID: "x", Bytes: []byte("toolong")}}
	s := New(patterns, false)
	assert.Empty(t, s.ScanChunk(0, []byte("ab")))
}

func TestScanChunk_NoPatternMatch(t *testing.T) {
	patterns := []Pattern{{ID: "x", FileTypeID: "x", Bytes: []byte("ZZZ")}}
	s := New(patterns, false)
	assert.Empty(t, s.ScanChunk(0, []byte("abcdef")))
}
