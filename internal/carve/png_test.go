package carve

import (
	"encoding/binary"
	"testing"

	"github.com/kenchrcum/forensic-carver/internal/evidence"
	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngChunk encodes one PNG chunk (length, type, data, a fake CRC).
func pngChunk(typ string, data []byte) []byte {
	buf := make([]byte, 4+4+len(data)+4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(data)))
	copy(buf[4:8], typ)
	copy(buf[8:], data)
	return buf
}

func minimalPNG() []byte {
	out := append([]byte{}, pngSignature...)
	out = append(out, pngChunk("IHDR", make([]byte, 13))...)
	out = append(out, pngChunk("IEND", nil)...)
	return out
}

func TestPNGCarver_MinimalImage(t *testing.T) {
	data := minimalPNG()
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &PNGCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "png"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, "png", file.FileType)
	assert.Equal(t, uint64(len(data)), file.Size)
	assert.True(t, file.Validated)
	assert.False(t, file.Truncated)
}

func TestPNGCarver_WrongSignatureIsRejected(t *testing.T) {
	data := append([]byte{0x00, 0x00, 0x00, 0x00}, minimalPNG()[4:]...)
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &PNGCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "png"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file)
}

func TestPNGCarver_TruncatedBeforeIEND(t *testing.T) {
	data := minimalPNG()
	data = data[:len(data)-6] // cut into the IEND chunk
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &PNGCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "png"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.False(t, file.Validated)
	assert.True(t, file.Truncated)
	assert.NotEmpty(t, file.Errors)
}

func TestPNGCarver_BelowMinSizeIsRejected(t *testing.T) {
	data := minimalPNG()
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &PNGCarver{MinSize: uint64(len(data) + 1)}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "png"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file)
}
