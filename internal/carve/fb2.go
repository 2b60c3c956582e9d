package carve

import (
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var fb2OpenTag = []byte("<FictionBook")
var fb2CloseTag = []byte("</FictionBook>")

// FB2Carver is a heuristic-boundary carver: it has no length field or
// chunk structure to trust, so it searches forward for the closing
// </FictionBook> tag the way the EML carver searches forward for the
// next mbox "\nFrom " boundary.
type FB2Carver struct {
	MinSize, MaxSize uint64
}

func (c *FB2Carver) FileType() string  { return "fb2" }
func (c *FB2Carver) Extension() string { return "fb2" }

func (c *FB2Carver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	prefix, err := ReadExactAt(ctx, hit.GlobalOffset, len(fb2OpenTag))
	if err != nil || !bytesEqual(prefix, fb2OpenTag) {
		return nil, nil
	}

	maxEnd := ctx.Evidence.Len()
	if c.MaxSize > 0 && hit.GlobalOffset+c.MaxSize < maxEnd {
		maxEnd = hit.GlobalOffset + c.MaxSize
	}

	const bufSize = 256 * 1024
	var carry []byte
	offset := hit.GlobalOffset
	closeGlobal := uint64(0)
	found := false

	for offset < maxEnd {
		want := maxEnd - offset
		if want > bufSize {
			want = bufSize
		}
		buf := make([]byte, want)
		n, err := ctx.Evidence.ReadAt(offset, buf)
		if err != nil || n == 0 {
			break
		}
		buf = buf[:n]
		search := append(append([]byte{}, carry...), buf...)
		if pos := FindPattern(search, fb2CloseTag); pos >= 0 {
			closeGlobal = offset - uint64(len(carry)) + uint64(pos) + uint64(len(fb2CloseTag))
			found = true
			break
		}
		offset += uint64(len(buf))
		tail := len(fb2CloseTag) - 1
		if len(buf) >= tail {
			carry = append([]byte{}, buf[len(buf)-tail:]...)
		} else {
			carry = append([]byte{}, buf...)
		}
	}

	truncated := !found
	var total uint64
	if found {
		total = closeGlobal - hit.GlobalOffset
	} else {
		total = maxEnd - hit.GlobalOffset
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
		errs = append(errs, "closing </FictionBook> tag not found before max_size/EOF")
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
