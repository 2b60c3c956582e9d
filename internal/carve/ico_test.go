package carve

import (
	"encoding/binary"
	"testing"

	"github.com/kenchrcum/forensic-carver/internal/evidence"
	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// singleEntryICO builds an ICO with one directory entry pointing at an
// embedded PNG image.
func singleEntryICO() []byte {
	img := append([]byte{}, pngSig8...)
	img = append(img, make([]byte, 24)...) // pad past the 8-byte sniff window

	const headerSize = 6 + 16
	entry := make([]byte, 16)
	binary.LittleEndian.PutUint32(entry[8:12], uint32(len(img)))
	binary.LittleEndian.PutUint32(entry[12:16], uint32(headerSize))

	out := []byte{0, 0, 1, 0, 1, 0} // reserved, type=1 (icon), count=1
	out = append(out, entry...)
	out = append(out, img...)
	return out
}

func TestICOCarver_SingleValidEntry(t *testing.T) {
	data := singleEntryICO()
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &ICOCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "ico"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, uint64(len(data)), file.Size)
	assert.True(t, file.Validated)
}

func TestICOCarver_NoValidImageEntryIsRejected(t *testing.T) {
	data := singleEntryICO()
	// corrupt the embedded PNG signature so no directory entry validates
	data[6+16] = 0x00

	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &ICOCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "ico"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file)
}

func TestICOCarver_TooManyEntriesIsRejected(t *testing.T) {
	data := []byte{0, 0, 1, 0, 0xFF, 0x00} // count=255 > maxIconEntries
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &ICOCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "ico"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file)
}
