package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// PNGCarver walks PNG chunks (length, 4-byte type, data, CRC) until IEND.
type PNGCarver struct {
	MinSize, MaxSize uint64
}

func (c *PNGCarver) FileType() string  { return "png" }
func (c *PNGCarver) Extension() string { return "png" }

func (c *PNGCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	fullPath, relPath, err := OutputPath(ctx.OutputRoot, c.FileType(), c.Extension(), hit.GlobalOffset)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return nil, errIO(err)
	}
	defer f.Close()

	stream := NewCarveStream(ctx, hit.GlobalOffset, c.MaxSize, f)

	sig, err := stream.ReadExact(len(pngSignature))
	if err != nil {
		return finishOrReject(c, stream, f, fullPath, hit, err)
	}
	for i := range pngSignature {
		if sig[i] != pngSignature[i] {
			os.Remove(fullPath)
			return nil, nil
		}
	}

	validated := false
	var truncated bool
	var errs []string

loop:
	for {
		lenBytes, err := stream.ReadExact(4)
		if err != nil {
			truncated = true
			errs = append(errs, classifyEOFTruncation(err))
			break
		}
		length := binary.BigEndian.Uint32(lenBytes)
		if length > 64<<20 {
			os.Remove(fullPath)
			return nil, nil
		}
		typ, err := stream.ReadExact(4)
		if err != nil {
			truncated = true
			errs = append(errs, classifyEOFTruncation(err))
			break
		}
		if _, err := stream.ReadExact(int(length)); err != nil {
			truncated = true
			errs = append(errs, classifyEOFTruncation(err))
			break
		}
		if _, err := stream.ReadExact(4); err != nil { // CRC
			truncated = true
			errs = append(errs, classifyEOFTruncation(err))
			break
		}
		if string(typ) == "IEND" {
			validated = true
			break loop
		}
	}

	written, md5hex, sha256hex, _ := stream.Finish()
	if written < c.MinSize {
		os.Remove(fullPath)
		return nil, nil
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
		MD5:          md5hex,
		SHA256:       sha256hex,
		Validated:    validated,
		Truncated:    truncated,
		Errors:       errs,
		PatternID:    hit.PatternID,
	}, nil
}

// classifyEOFTruncation turns a CarveStream error into the diagnostic
// string recorded in CarvedFile.Errors.
func classifyEOFTruncation(err error) string {
	if ce, ok := err.(*CarveError); ok {
		switch ce.Kind {
		case KindTruncated:
			return "max_size reached before terminator"
		case KindEOF:
			return "unexpected eof before terminator"
		}
	}
	return "truncated"
}

// finishOrReject handles the common "failed to even read the header"
// case shared by every stream-based carver: remove the file and report a
// false positive rather than a truncated/invalid record.
func finishOrReject(c Carver, stream *CarveStream, f *os.File, fullPath string, hit model.NormalizedHit, err error) (*model.CarvedFile, error) {
	os.Remove(fullPath)
	return nil, nil
}
