package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var candidatePageSizes = []uint64{512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

// SQLiteOrphanPageCarver accepts a standalone leaf b-tree page (one not
// attached to a recognizable database header) if its header parses as a
// leaf table/index page, it has a non-zero cell count, fragmented free
// bytes <= 60, every cell pointer lies within the content area with no
// duplicates, and any freeblock chain is strictly increasing, in bounds,
// and acyclic. It tries each plausible page size and accepts the first
// that validates.
type SQLiteOrphanPageCarver struct {
	MinSize, MaxSize uint64
}

func (c *SQLiteOrphanPageCarver) FileType() string  { return "sqlite-page" }
func (c *SQLiteOrphanPageCarver) Extension() string { return "sqlite-page" }

func (c *SQLiteOrphanPageCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	for _, pageSize := range candidatePageSizes {
		if c.MaxSize > 0 && pageSize > c.MaxSize {
			continue
		}
		data, err := ReadExactAt(ctx, hit.GlobalOffset, int(pageSize))
		if err != nil {
			continue
		}
		if !validateLeafPage(data) {
			continue
		}

		fullPath, relPath, err := OutputPath(ctx.OutputRoot, c.FileType(), c.Extension(), hit.GlobalOffset)
		if err != nil {
			return nil, err
		}
		f, err := os.Create(fullPath)
		if err != nil {
			return nil, errIO(err)
		}
		md5h, sha256h := newHashers()
		written, eofTruncated, werr := WriteRange(ctx, hit.GlobalOffset, hit.GlobalOffset+pageSize, f, md5h, sha256h)
		f.Close()
		if werr != nil {
			os.Remove(fullPath)
			return nil, werr
		}
		if eofTruncated || written < c.MinSize {
			os.Remove(fullPath)
			return nil, nil
		}
		globalEnd := hit.GlobalOffset + written - 1
		return &model.CarvedFile{
			RunID: ctx.RunID, FileType: c.FileType(), Extension: c.Extension(),
			RelativePath: relPath, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
			Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
			Validated: true, Truncated: false, PatternID: hit.PatternID,
		}, nil
	}
	return nil, nil
}

func validateLeafPage(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	pageType := data[0]
	if pageType != 10 && pageType != 13 {
		return false
	}
	firstFreeblock := binary.BigEndian.Uint16(data[1:3])
	numCells := int(binary.BigEndian.Uint16(data[3:5]))
	if numCells == 0 {
		return false
	}
	contentStart := int(binary.BigEndian.Uint16(data[5:7]))
	if contentStart == 0 {
		contentStart = 65536
	}
	fragFree := data[7]
	if fragFree > 60 {
		return false
	}

	ptrArrayStart := 8 // leaf pages have an 8-byte header
	ptrArrayEnd := ptrArrayStart + numCells*2
	if ptrArrayEnd > len(data) || ptrArrayEnd > contentStart {
		return false
	}

	seen := make(map[uint16]struct{}, numCells)
	for i := 0; i < numCells; i++ {
		off := binary.BigEndian.Uint16(data[ptrArrayStart+i*2 : ptrArrayStart+i*2+2])
		if int(off) < contentStart || int(off) >= len(data) {
			return false
		}
		if _, dup := seen[off]; dup {
			return false
		}
		seen[off] = struct{}{}
	}

	// Freeblock chain: each freeblock is {next(2 BE), size(2 BE)}; must be
	// strictly increasing in offset, within bounds, and acyclic.
	visited := make(map[uint16]struct{})
	next := firstFreeblock
	last := uint16(0)
	for next != 0 {
		if _, dup := visited[next]; dup {
			return false
		}
		if int(next) <= int(last) && last != 0 {
			return false
		}
		if int(next)+4 > len(data) {
			return false
		}
		visited[next] = struct{}{}
		last = next
		next = binary.BigEndian.Uint16(data[next : next+2])
	}

	return true
}
