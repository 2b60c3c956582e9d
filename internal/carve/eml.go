package carve

import (
	"bytes"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var emlHeaderMarkers = [][]byte{
	[]byte("From:"), []byte("To:"), []byte("Subject:"),
	[]byte("Date:"), []byte("Message-ID:"), []byte("MIME-Version:"),
}

var emlTemplateMarkers = [][]byte{
	[]byte("%s"), []byte("%d"), []byte("{}"), []byte("<%s>"), []byte("${"),
}

var mboxBoundary = []byte("\nFrom ")

const emlMinHeadersRequired = 2

// EMLCarver rejects unless at least two distinct RFC-822 header markers
// appear in the first 2KiB, an '@' is present, the data has CRLF or LF
// line endings, and no template marker is found (the common
// log-format-string false positive). On acceptance it scans forward for
// the next mbox "\nFrom " boundary as the end marker.
type EMLCarver struct {
	MinSize, MaxSize uint64
}

func (c *EMLCarver) FileType() string  { return "eml" }
func (c *EMLCarver) Extension() string { return "eml" }

func (c *EMLCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	head := ReadPrefix(ctx, hit.GlobalOffset, 2048)
	if len(head) == 0 {
		return nil, nil
	}

	count := 0
	for _, m := range emlHeaderMarkers {
		if bytes.Contains(head, m) {
			count++
		}
	}
	if count < emlMinHeadersRequired {
		return nil, nil
	}
	for _, t := range emlTemplateMarkers {
		if bytes.Contains(head, t) {
			return nil, nil
		}
	}
	if !bytes.ContainsRune(head, '@') {
		return nil, nil
	}
	if !bytes.Contains(head, []byte("\r\n")) && !bytes.ContainsRune(head, '\n') {
		return nil, nil
	}

	maxEnd := uint64(1<<63 - 1)
	if c.MaxSize > 0 {
		maxEnd = hit.GlobalOffset + c.MaxSize
	}
	if maxEnd > ctx.Evidence.Len() {
		maxEnd = ctx.Evidence.Len()
	}

	const bufSize = 64 * 1024
	var carry []byte
	offset := hit.GlobalOffset
	endOffset := maxEnd
	foundBoundary := false

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
		if pos := FindPattern(search, mboxBoundary); pos >= 0 {
			boundary := offset - uint64(len(carry)) + uint64(pos)
			if boundary > hit.GlobalOffset {
				endOffset = boundary
				foundBoundary = true
				break
			}
		}

		offset += uint64(len(buf))
		tail := len(mboxBoundary) - 1
		if len(buf) >= tail {
			carry = append([]byte{}, buf[len(buf)-tail:]...)
		} else {
			carry = append([]byte{}, buf...)
		}
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
	written, eofTruncated, werr := WriteRange(ctx, hit.GlobalOffset, endOffset, f, md5h, sha256h)
	if werr != nil {
		os.Remove(fullPath)
		return nil, werr
	}
	if written < c.MinSize {
		os.Remove(fullPath)
		return nil, nil
	}

	truncated := eofTruncated || (!foundBoundary && endOffset == maxEnd && c.MaxSize > 0)
	var errs []string
	if truncated {
		errs = append(errs, "no further mbox boundary found before limit")
	}

	globalEnd := hit.GlobalOffset
	if written > 0 {
		globalEnd = hit.GlobalOffset + written - 1
	}
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: c.FileType(), Extension: c.Extension(),
		RelativePath: relPath, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: foundBoundary, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}
