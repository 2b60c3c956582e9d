package carve

import (
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

// JPEGCarver scans forward from an FF D8 header for the FF D9 end-of-image
// marker, writing bytes through as it goes rather than pre-computing a
// size (JPEG carries no length field).
type JPEGCarver struct {
	MinSize, MaxSize uint64
}

func (c *JPEGCarver) FileType() string  { return "jpeg" }
func (c *JPEGCarver) Extension() string { return "jpg" }

func (c *JPEGCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	maxEnd := uint64(1<<63 - 1)
	if c.MaxSize > 0 {
		maxEnd = hit.GlobalOffset + c.MaxSize
	}

	fullPath, relPath, err := OutputPath(ctx.OutputRoot, c.FileType(), c.Extension(), hit.GlobalOffset)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return nil, errIO(err)
	}

	const bufSize = 64 * 1024
	buf := make([]byte, bufSize)
	offset := hit.GlobalOffset
	var prev byte
	havePrev := false
	found := false
	truncated := false

	var writer = func(b []byte) error {
		if _, err := f.Write(b); err != nil {
			return errIO(err)
		}
		return nil
	}

	md5h, sha256h := newHashers()

scan:
	for offset < maxEnd {
		want := maxEnd - offset
		if want > bufSize {
			want = bufSize
		}
		n, rerr := ctx.Evidence.ReadAt(offset, buf[:want])
		if rerr != nil {
			f.Close()
			os.Remove(fullPath)
			return nil, errEvidence(rerr)
		}
		if n == 0 {
			truncated = true
			break
		}

		for i := 0; i < n; i++ {
			b := buf[i]
			if havePrev && prev == 0xFF && b == 0xD9 {
				if err := writer(buf[:i+1]); err != nil {
					f.Close()
					os.Remove(fullPath)
					return nil, err
				}
				md5h.Write(buf[:i+1])
				sha256h.Write(buf[:i+1])
				offset += uint64(i + 1)
				found = true
				break scan
			}
			prev = b
			havePrev = true
		}
		if err := writer(buf[:n]); err != nil {
			f.Close()
			os.Remove(fullPath)
			return nil, err
		}
		md5h.Write(buf[:n])
		sha256h.Write(buf[:n])
		offset += uint64(n)
	}

	if offset >= maxEnd && !found {
		truncated = true
	}

	if err := f.Close(); err != nil {
		os.Remove(fullPath)
		return nil, errIO(err)
	}

	written := offset - hit.GlobalOffset
	if written < c.MinSize {
		os.Remove(fullPath)
		return nil, nil
	}

	var errs []string
	if truncated {
		errs = append(errs, "max_size reached before EOI")
	}

	globalEnd := hit.GlobalOffset
	if written > 0 {
		globalEnd = hit.GlobalOffset + written - 1
	}

	return &model.CarvedFile{
		RunID:        ctx.RunID,
		FileType:     c.FileType(),
		Extension:    c.Extension(),
		RelativePath: relPath,
		GlobalStart:  hit.GlobalOffset,
		GlobalEnd:    globalEnd,
		Size:         written,
		MD5:          hexSum(md5h),
		SHA256:       hexSum(sha256h),
		Validated:    found,
		Truncated:    truncated,
		Errors:       errs,
		PatternID:    hit.PatternID,
	}, nil
}
