package carve

import (
	"encoding/binary"
	"testing"

	"github.com/kenchrcum/forensic-carver/internal/evidence"
	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalSQLite(pageSize uint16, pageCount uint32) []byte {
	header := make([]byte, 100)
	copy(header[:16], sqliteMagic)
	binary.BigEndian.PutUint16(header[16:18], pageSize)
	binary.BigEndian.PutUint32(header[28:32], pageCount)

	total := uint64(pageSize) * uint64(pageCount)
	buf := make([]byte, total)
	copy(buf, header)
	return buf
}

func TestSQLiteCarver_DerivesSizeFromPageSizeAndCount(t *testing.T) {
	data := minimalSQLite(4096, 2)
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &SQLiteCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "sqlite"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, uint64(8192), file.Size)
	assert.True(t, file.Validated)
}

func TestSQLiteCarver_NonPowerOfTwoPageSizeIsRejected(t *testing.T) {
	data := minimalSQLite(4096, 1)
	binary.BigEndian.PutUint16(data[16:18], 4097)
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &SQLiteCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "sqlite"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file)
}

func TestSQLiteCarver_TruncatedAtEvidenceEnd(t *testing.T) {
	data := minimalSQLite(4096, 2)
	data = data[:4096+100]
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &SQLiteCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "sqlite"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, uint64(len(data)), file.Size)
	assert.False(t, file.Validated)
	assert.True(t, file.Truncated)
}

// validLeafPage builds a minimal table-leaf b-tree page: one cell whose
// pointer sits 16 bytes before the end of the page, no freeblocks.
func validLeafPage(pageSize int) []byte {
	page := make([]byte, pageSize)
	page[0] = 0x0D
	binary.BigEndian.PutUint16(page[3:5], 1) // cell count
	cellStart := uint16(pageSize - 16)
	binary.BigEndian.PutUint16(page[5:7], cellStart) // content area start
	binary.BigEndian.PutUint16(page[8:10], cellStart)
	page[cellStart] = 0x01
	return page
}

func TestSQLiteOrphanPageCarver_AcceptsValidLeafPage(t *testing.T) {
	data := validLeafPage(4096)
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &SQLiteOrphanPageCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "sqlite-page", PatternID: "sqlite-leaf-table"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, uint64(4096), file.Size)
	assert.True(t, file.Validated)
	assert.False(t, file.Truncated)
}

func TestSQLiteOrphanPageCarver_RejectsZeroCellCount(t *testing.T) {
	data := validLeafPage(4096)
	binary.BigEndian.PutUint16(data[3:5], 0)
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &SQLiteOrphanPageCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "sqlite-page"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file)
}

func TestSQLiteOrphanPageCarver_RejectsFreeblockLoop(t *testing.T) {
	data := validLeafPage(4096)
	binary.BigEndian.PutUint16(data[1:3], 4080) // first freeblock
	binary.BigEndian.PutUint16(data[4080:4082], 4080) // next points at itself
	binary.BigEndian.PutUint16(data[4082:4084], 8)
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &SQLiteOrphanPageCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "sqlite-page"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file)
}
