package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var sqliteMagic = []byte("SQLite format 3\x00")

// SQLiteCarver validates the 16-byte magic and derives total size from
// page_size * page_count in the 100-byte database header.
type SQLiteCarver struct {
	MinSize, MaxSize uint64
}

func (c *SQLiteCarver) FileType() string  { return "sqlite" }
func (c *SQLiteCarver) Extension() string { return "sqlite" }

func (c *SQLiteCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header, err := ReadExactAt(ctx, hit.GlobalOffset, 100)
	if err != nil {
		return nil, nil
	}
	if !bytesEqual(header[:16], sqliteMagic) {
		return nil, nil
	}

	pageSizeRaw := binary.BigEndian.Uint16(header[16:18])
	pageSize := uint64(pageSizeRaw)
	if pageSizeRaw == 1 {
		pageSize = 65536
	}
	if !isValidPageSize(pageSize) {
		return nil, nil
	}

	pageCount := uint64(binary.BigEndian.Uint32(header[28:32]))
	var total uint64
	if pageCount == 0 {
		total = pageSize
	} else {
		total = pageSize * pageCount
	}
	if total < 100 {
		total = 100
	}

	truncated := false
	if c.MaxSize > 0 && total > c.MaxSize {
		total = c.MaxSize
		truncated = true
	}
	if hit.GlobalOffset+total > ctx.Evidence.Len() {
		total = ctx.Evidence.Len() - hit.GlobalOffset
		truncated = true
	}

	fullPath, relPath, err := OutputPath(ctx.OutputRoot, c.FileType(), c.Extension(), hit.GlobalOffset)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return nil, errIO(err)
	}
	defer f.Close()

	md5h, sha256h := newHashers()
	written, eofTruncated, werr := WriteRange(ctx, hit.GlobalOffset, hit.GlobalOffset+total, f, md5h, sha256h)
	if werr != nil {
		os.Remove(fullPath)
		return nil, werr
	}
	if eofTruncated {
		truncated = true
	}
	if written < c.MinSize {
		os.Remove(fullPath)
		return nil, nil
	}
	var errs []string
	if truncated {
		errs = append(errs, "max_size reached before page_size*page_count")
	}
	globalEnd := hit.GlobalOffset
	if written > 0 {
		globalEnd = hit.GlobalOffset + written - 1
	}
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: c.FileType(), Extension: c.Extension(),
		RelativePath: relPath, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: !truncated, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}

// isValidPageSize requires a power of two in [512, 65536].
func isValidPageSize(size uint64) bool {
	if size < 512 || size > 65536 {
		return false
	}
	return size&(size-1) == 0
}
