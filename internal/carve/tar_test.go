package carve

import (
	"fmt"
	"testing"

	"github.com/kenchrcum/forensic-carver/internal/evidence"
	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tarHeaderBlock builds a minimal 512-byte USTAR header for a file of the
// given size, with a correctly computed checksum field.
func tarHeaderBlock(name string, size int) []byte {
	b := make([]byte, tarBlockSize)
	copy(b[0:100], name)
	copy(b[100:108], "0000644\x00")
	copy(b[108:116], "0000000\x00")
	copy(b[116:124], "0000000\x00")
	copy(b[124:136], fmt.Sprintf("%011o\x00", size))
	copy(b[136:148], "00000000000\x00")
	copy(b[148:156], "        ") // checksum field blanked during computation
	copy(b[257:263], "ustar\x00")

	unsigned, _ := tarChecksums(b)
	copy(b[148:156], fmt.Sprintf("%06o\x00 ", unsigned))
	return b
}

func padTo512(b []byte) []byte {
	rem := len(b) % tarBlockSize
	if rem == 0 {
		return b
	}
	return append(b, make([]byte, tarBlockSize-rem)...)
}

func TestTARCarver_SingleEntryArchive(t *testing.T) {
	content := []byte("hello tar world\n")
	var data []byte
	data = append(data, tarHeaderBlock("hello.txt", len(content))...)
	data = append(data, padTo512(content)...)
	data = append(data, make([]byte, tarBlockSize*2)...) // two zero blocks

	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &TARCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: tarMagicOffset, FileTypeID: "tar", PatternID: "tar-ustar"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, uint64(len(data)), file.Size)
	assert.True(t, file.Validated)
	assert.False(t, file.Truncated)
}

func TestTARCarver_MissingTerminatorIsTruncated(t *testing.T) {
	content := []byte("partial")
	var data []byte
	data = append(data, tarHeaderBlock("partial.txt", len(content))...)
	data = append(data, padTo512(content)...)
	// no trailing zero blocks

	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &TARCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: tarMagicOffset, FileTypeID: "tar", PatternID: "tar-ustar"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.False(t, file.Validated)
	assert.True(t, file.Truncated)
}

func TestTARCarver_InvalidChecksumIsRejected(t *testing.T) {
	block := tarHeaderBlock("x.txt", 0)
	block[148] = 'Z' // corrupt the checksum field
	src := evidence.NewMemorySource(block)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &TARCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: tarMagicOffset, FileTypeID: "tar", PatternID: "tar-ustar"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file)
}
