package carve

import (
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var oggMagic = []byte("OggS")

// OGGCarver walks consecutive "OggS" pages, each page's length given by
// its segment table, until a page sets the end-of-stream flag or the next
// four bytes stop being the page magic.
type OGGCarver struct {
	MinSize, MaxSize uint64
}

func (c *OGGCarver) FileType() string  { return "ogg" }
func (c *OGGCarver) Extension() string { return "ogg" }

func (c *OGGCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	offset := hit.GlobalOffset
	maxEnd := ctx.Evidence.Len()
	if c.MaxSize > 0 && hit.GlobalOffset+c.MaxSize < maxEnd {
		maxEnd = hit.GlobalOffset + c.MaxSize
	}

	truncated := false
	sawEOS := false
	pages := 0
	for offset+27 <= maxEnd {
		page, err := ReadExactAt(ctx, offset, 27)
		if err != nil {
			truncated = true
			break
		}
		if !bytesEqual(page[0:4], oggMagic) {
			if pages == 0 {
				return nil, nil
			}
			break
		}
		headerType := page[5]
		segCount := int(page[26])
		segTable, err := ReadExactAt(ctx, offset+27, segCount)
		if err != nil {
			truncated = true
			break
		}
		dataLen := uint64(0)
		for _, v := range segTable {
			dataLen += uint64(v)
		}
		pageLen := uint64(27) + uint64(segCount) + dataLen
		if offset+pageLen > maxEnd {
			truncated = true
			break
		}
		offset += pageLen
		pages++
		if headerType&0x04 != 0 {
			sawEOS = true
			break
		}
	}
	if pages == 0 {
		return nil, nil
	}
	if !sawEOS {
		truncated = true
	}

	total := offset - hit.GlobalOffset
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
		errs = append(errs, "stream ended before end-of-stream page flag")
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
