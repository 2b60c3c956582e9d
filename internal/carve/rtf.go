package carve

import (
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var rtfMagic = []byte(`{\rtf1`)

// RTFCarver tracks brace nesting depth to find the end of the top-level
// group, the document's true end. A \bin control word is followed by a
// decimal byte count and that many raw bytes of embedded binary data;
// those bytes are skipped outright rather than scanned for braces, since
// binary payloads can legitimately contain unescaped '{' or '}'.
type RTFCarver struct {
	MinSize, MaxSize uint64
}

func (c *RTFCarver) FileType() string  { return "rtf" }
func (c *RTFCarver) Extension() string { return "rtf" }

func (c *RTFCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	prefix, err := ReadExactAt(ctx, hit.GlobalOffset, len(rtfMagic))
	if err != nil || !bytesEqual(prefix, rtfMagic) {
		return nil, nil
	}

	maxEnd := ctx.Evidence.Len()
	if c.MaxSize > 0 && hit.GlobalOffset+c.MaxSize < maxEnd {
		maxEnd = hit.GlobalOffset + c.MaxSize
	}

	const bufSize = 256 * 1024
	depth := 0
	closed := false
	offset := hit.GlobalOffset
	truncated := false

	for offset < maxEnd && !closed {
		want := maxEnd - offset
		if want > bufSize {
			want = bufSize
		}
		buf := make([]byte, want)
		n, rerr := ctx.Evidence.ReadAt(offset, buf)
		if n == 0 {
			truncated = true
			break
		}
		buf = buf[:n]
		i := 0
		jumpedOffset := false
		for i < len(buf) {
			switch buf[i] {
			case '\\':
				if i+1 < len(buf) && (buf[i+1] == '{' || buf[i+1] == '}' || buf[i+1] == '\\') {
					i += 2
					continue
				}
				if matchesKeyword(buf[i:], "bin") {
					numStart := i + 4
					j := numStart
					for j < len(buf) && buf[j] >= '0' && buf[j] <= '9' {
						j++
					}
					if j > numStart && j < len(buf) {
						skipBytes := parseUintSlice(buf[numStart:j])
						// A space after the digits is the control word's
						// delimiter; any other byte already belongs to the payload.
						payloadStart := uint64(j)
						if buf[j] == ' ' {
							payloadStart++
						}
						skipTo := payloadStart + skipBytes
						if skipTo <= uint64(len(buf)) {
							i = int(skipTo)
							continue
						}
						// binary payload crosses the buffer boundary; jump the
						// absolute cursor and refetch on the next outer pass.
						offset = offset + payloadStart + skipBytes
						jumpedOffset = true
					}
				}
				if jumpedOffset {
					break
				}
				i++
			case '{':
				depth++
				i++
			case '}':
				depth--
				i++
				if depth == 0 {
					closed = true
				}
			default:
				i++
			}
			if closed || jumpedOffset {
				break
			}
		}
		if closed {
			offset += uint64(i)
			break
		}
		if jumpedOffset {
			continue
		}
		offset += uint64(len(buf))
		if rerr != nil {
			truncated = true
			break
		}
	}
	if !closed {
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
		errs = append(errs, "top-level group did not close before max_size/EOF")
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

func matchesKeyword(b []byte, kw string) bool {
	if len(b) < len(kw)+1 || b[0] != '\\' {
		return false
	}
	for i := 0; i < len(kw); i++ {
		if b[i+1] != kw[i] {
			return false
		}
	}
	return true
}

func parseUintSlice(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v*10 + uint64(c-'0')
	}
	return v
}
