package carve

import (
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

// FooterCarver is the generic "pattern search for footer" strategy: check
// a header pattern on the first buffer, then slide a carry-buffer window
// forward searching for a footer pattern until it's found, evidence runs
// out, or max_size is hit. Used directly for PDF and as the basis for
// XZ/BZIP2/footer-generic file types configured from the pattern table.
type FooterCarver struct {
	TypeID, Ext      string
	MinSize, MaxSize uint64
	HeaderPatterns   [][]byte // at least one must match at offset 0, if non-empty
	FooterPatterns   [][]byte
	FooterIncludesLen int // bytes of the footer pattern itself to include (defaults to pattern length)
}

func (c *FooterCarver) FileType() string  { return c.TypeID }
func (c *FooterCarver) Extension() string { return c.Ext }

func (c *FooterCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	if len(c.HeaderPatterns) > 0 {
		maxLen := 0
		for _, p := range c.HeaderPatterns {
			if len(p) > maxLen {
				maxLen = len(p)
			}
		}
		head := ReadPrefix(ctx, hit.GlobalOffset, maxLen)
		matched := false
		for _, p := range c.HeaderPatterns {
			if len(head) >= len(p) && bytesEqual(head[:len(p)], p) {
				matched = true
				break
			}
		}
		if !matched {
			return nil, nil
		}
	}

	maxEnd := uint64(1<<63 - 1)
	if c.MaxSize > 0 {
		maxEnd = hit.GlobalOffset + c.MaxSize
	}
	if maxEnd > ctx.Evidence.Len() {
		maxEnd = ctx.Evidence.Len()
	}

	longestFooter := 0
	for _, p := range c.FooterPatterns {
		if len(p) > longestFooter {
			longestFooter = len(p)
		}
	}

	const bufSize = 64 * 1024
	var carry []byte
	offset := hit.GlobalOffset
	endOffset := maxEnd
	found := false

	for offset < maxEnd {
		want := maxEnd - offset
		if want > bufSize {
			want = bufSize
		}
		buf := make([]byte, want)
		n, err := ctx.Evidence.ReadAt(offset, buf)
		if err != nil {
			return nil, errEvidence(err)
		}
		if n == 0 {
			endOffset = offset
			break
		}
		buf = buf[:n]

		search := append(append([]byte{}, carry...), buf...)
		bestPos := -1
		bestLen := 0
		for _, p := range c.FooterPatterns {
			if pos := FindPattern(search, p); pos >= 0 && (bestPos < 0 || pos < bestPos) {
				bestPos = pos
				bestLen = len(p)
			}
		}
		if bestPos >= 0 {
			matchGlobal := offset - uint64(len(carry)) + uint64(bestPos)
			if matchGlobal >= hit.GlobalOffset {
				inclLen := bestLen
				if c.FooterIncludesLen > 0 {
					inclLen = c.FooterIncludesLen
				}
				endOffset = matchGlobal + uint64(inclLen)
				if endOffset > maxEnd {
					endOffset = maxEnd
				}
				found = true
				break
			}
		}

		offset += uint64(len(buf))
		tail := longestFooter - 1
		if tail < 0 {
			tail = 0
		}
		if len(buf) >= tail {
			carry = append([]byte{}, buf[len(buf)-tail:]...)
		} else {
			carry = append([]byte{}, buf...)
		}
	}

	fullPath, relPath, err := OutputPath(ctx.OutputRoot, c.TypeID, c.Ext, hit.GlobalOffset)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return nil, errIO(err)
	}
	defer f.Close()

	md5h, sha256h := newHashers()
	written, eofTruncated, werr := WriteRange(ctx, hit.GlobalOffset, endOffset, f, md5h, sha256h)
	if werr != nil {
		os.Remove(fullPath)
		return nil, werr
	}
	if written < c.MinSize {
		os.Remove(fullPath)
		return nil, nil
	}

	truncated := !found || eofTruncated
	var errs []string
	if truncated {
		errs = append(errs, "max_size or eof reached before footer pattern")
	}

	globalEnd := hit.GlobalOffset
	if written > 0 {
		globalEnd = hit.GlobalOffset + written - 1
	}
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: c.TypeID, Extension: c.Ext,
		RelativePath: relPath, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: found, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NewPDFCarver builds the PDF carver: "%PDF-" header, "%%EOF" footer.
func NewPDFCarver(minSize, maxSize uint64) Carver {
	return &FooterCarver{
		TypeID: "pdf", Ext: "pdf", MinSize: minSize, MaxSize: maxSize,
		HeaderPatterns: [][]byte{[]byte("%PDF-")},
		FooterPatterns: [][]byte{[]byte("%%EOF")},
	}
}

// NewXZCarver builds the XZ carver: 6-byte magic header, footer magic.
func NewXZCarver(minSize, maxSize uint64) Carver {
	return &FooterCarver{
		TypeID: "xz", Ext: "xz", MinSize: minSize, MaxSize: maxSize,
		HeaderPatterns: [][]byte{{0xFD, '7', 'z', 'X', 'Z', 0x00}},
		FooterPatterns: [][]byte{{0x59, 0x5A}}, // "YZ" footer magic tail
	}
}

// NewBZIP2Carver builds the BZIP2 carver: "BZh" header, block/stream end marker footer.
func NewBZIP2Carver(minSize, maxSize uint64) Carver {
	return &FooterCarver{
		TypeID: "bzip2", Ext: "bz2", MinSize: minSize, MaxSize: maxSize,
		HeaderPatterns: [][]byte{[]byte("BZh")},
		FooterPatterns: [][]byte{{0x17, 0x72, 0x45, 0x38, 0x50, 0x90}},
	}
}
