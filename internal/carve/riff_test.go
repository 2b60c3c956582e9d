package carve

import (
	"encoding/binary"
	"testing"

	"github.com/kenchrcum/forensic-carver/internal/evidence"
	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalRIFF(formatTag string, payloadSize int) []byte {
	buf := make([]byte, 12+payloadSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(4+payloadSize))
	copy(buf[8:12], formatTag)
	return buf
}

func TestWAVCarver_TrustsDeclaredSize(t *testing.T) {
	data := minimalRIFF("WAVE", 20)
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := NewWAVCarver(0, 0)
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "wav"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, "wav", file.FileType)
	assert.Equal(t, uint64(len(data)), file.Size)
	assert.True(t, file.Validated)
}

func TestAVICarver_WrongFormatTagIsRejected(t *testing.T) {
	data := minimalRIFF("WAVE", 20) // a WAV payload, not AVI
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := NewAVICarver(0, 0)
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "avi"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file)
}

func TestWEBPCarver_DeclaredSizePastEvidenceEndIsTruncated(t *testing.T) {
	data := minimalRIFF("WEBP", 100)
	data = data[:50]
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := NewWEBPCarver(0, 0)
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "webp"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, uint64(50), file.Size)
	assert.False(t, file.Validated)
	assert.True(t, file.Truncated)
}
