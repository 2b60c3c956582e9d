package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var sevenZMagic = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}

const sevenZSignatureHeaderSize = 32

// SevenZCarver trusts the 32-byte signature header's NextHeaderOffset and
// NextHeaderSize fields: total size is the signature header plus those
// two values, directly analogous to the RIFF family's declared-length
// trust.
type SevenZCarver struct {
	MinSize, MaxSize uint64
}

func (c *SevenZCarver) FileType() string  { return "7z" }
func (c *SevenZCarver) Extension() string { return "7z" }

func (c *SevenZCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header, err := ReadExactAt(ctx, hit.GlobalOffset, sevenZSignatureHeaderSize)
	if err != nil || !bytesEqual(header[0:6], sevenZMagic) {
		return nil, nil
	}
	nextHeaderOffset := binary.LittleEndian.Uint64(header[12:20])
	nextHeaderSize := binary.LittleEndian.Uint64(header[20:28])
	total := uint64(sevenZSignatureHeaderSize) + nextHeaderOffset + nextHeaderSize

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
		errs = append(errs, "max_size reached before NextHeaderOffset+NextHeaderSize")
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
