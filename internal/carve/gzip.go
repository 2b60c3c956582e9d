package carve

import (
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var gzipMagic = []byte{0x1F, 0x8B}

// GZIPCarver is an intentional best-effort heuristic-boundary carver: it
// does not decode the DEFLATE stream to find the true end of a member, so
// multi-member concatenated archives are carved up to wherever the next
// gzip magic appears (or EOF), which may over- or under-shoot a single
// member's real boundary.
type GZIPCarver struct {
	MinSize, MaxSize uint64
}

func (c *GZIPCarver) FileType() string  { return "gzip" }
func (c *GZIPCarver) Extension() string { return "gz" }

func (c *GZIPCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header, err := ReadExactAt(ctx, hit.GlobalOffset, 3)
	if err != nil || !bytesEqual(header[0:2], gzipMagic) || header[2] != 0x08 {
		return nil, nil
	}

	maxEnd := ctx.Evidence.Len()
	if c.MaxSize > 0 && hit.GlobalOffset+c.MaxSize < maxEnd {
		maxEnd = hit.GlobalOffset + c.MaxSize
	}

	nextMagic := scanForMagicAfter(ctx, hit.GlobalOffset+2, maxEnd, gzipMagic)
	var total uint64
	truncated := false
	if nextMagic > 0 {
		total = nextMagic - hit.GlobalOffset
	} else {
		total = maxEnd - hit.GlobalOffset
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
		errs = append(errs, "no subsequent gzip member found; carved to EOF/max_size (best-effort, no deflate decode)")
	}
	globalEnd := hit.GlobalOffset
	if written > 0 {
		globalEnd = hit.GlobalOffset + written - 1
	}
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: c.FileType(), Extension: c.Extension(),
		RelativePath: relPath, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: true, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}

// scanForMagicAfter returns the global offset of the next occurrence of
// magic at or after from, scanning up to (not including) limit. Returns 0
// if not found.
func scanForMagicAfter(ctx *ExtractionContext, from, limit uint64, magic []byte) uint64 {
	const bufSize = 64 * 1024
	var carry []byte
	offset := from
	for offset < limit {
		want := limit - offset
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
		if pos := FindPattern(search, magic); pos >= 0 {
			return offset - uint64(len(carry)) + uint64(pos)
		}
		offset += uint64(len(buf))
		tail := len(magic) - 1
		if len(buf) >= tail {
			carry = append([]byte{}, buf[len(buf)-tail:]...)
		} else {
			carry = append([]byte{}, buf...)
		}
	}
	return 0
}
