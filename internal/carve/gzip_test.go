package carve

import (
	"testing"

	"github.com/kenchrcum/forensic-carver/internal/evidence"
	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGZIPCarver_StopsAtNextMember(t *testing.T) {
	member1 := append([]byte{0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}, []byte("payload1")...)
	member2 := append([]byte{0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}, []byte("payload2")...)
	data := append(append([]byte{}, member1...), member2...)

	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &GZIPCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "gzip"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, uint64(len(member1)), file.Size)
	assert.True(t, file.Validated)
	assert.False(t, file.Truncated)
}

func TestGZIPCarver_NoNextMemberCarvesToEOF(t *testing.T) {
	data := append([]byte{0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}, []byte("tail-of-evidence")...)

	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &GZIPCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "gzip"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, uint64(len(data)), file.Size)
	assert.True(t, file.Truncated)
	assert.NotEmpty(t, file.Errors)
}

func TestGZIPCarver_WrongCompressionMethodIsRejected(t *testing.T) {
	data := []byte{0x1F, 0x8B, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &GZIPCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "gzip"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file)
}
