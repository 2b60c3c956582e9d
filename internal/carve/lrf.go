package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var lrfMagic = []byte{0x4C, 0x52, 0x46, 0x00, 0x00, 0x00, 0x00, 0x00}

const lrfObjectIndexEntrySize = 16

// LRFCarver trusts the 32-byte LRF header's object-index offset and
// object count fields: total size is the object index's end, the same
// header-length-field-trust strategy as the RIFF family and 7z.
type LRFCarver struct {
	MinSize, MaxSize uint64
}

func (c *LRFCarver) FileType() string  { return "lrf" }
func (c *LRFCarver) Extension() string { return "lrf" }

func (c *LRFCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header, err := ReadExactAt(ctx, hit.GlobalOffset, 32)
	if err != nil || !bytesEqual(header[0:8], lrfMagic) {
		return nil, nil
	}
	numObjects := binary.LittleEndian.Uint64(header[16:24])
	objectIndexOffset := binary.LittleEndian.Uint64(header[24:32])
	if numObjects == 0 || numObjects > 10_000_000 {
		return nil, nil
	}
	total := objectIndexOffset + numObjects*lrfObjectIndexEntrySize

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
		errs = append(errs, "max_size reached before object index end")
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
