package carve

import (
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

// GIFCarver walks GIF blocks after the Logical Screen Descriptor (and
// optional Global Color Table) until the 0x3B trailer.
type GIFCarver struct {
	MinSize, MaxSize uint64
}

func (c *GIFCarver) FileType() string  { return "gif" }
func (c *GIFCarver) Extension() string { return "gif" }

func (c *GIFCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
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

	sig, err := stream.ReadExact(6)
	if err != nil {
		os.Remove(fullPath)
		return nil, nil
	}
	if string(sig[:3]) != "GIF" || (string(sig[3:6]) != "87a" && string(sig[3:6]) != "89a") {
		os.Remove(fullPath)
		return nil, nil
	}

	// Logical Screen Descriptor: width(2) height(2) packed(1) bg(1) aspect(1)
	lsd, err := stream.ReadExact(7)
	if err != nil {
		os.Remove(fullPath)
		return nil, nil
	}
	packed := lsd[4]
	if packed&0x80 != 0 {
		gctSize := 3 * (1 << ((packed & 0x07) + 1))
		if _, err := stream.ReadExact(gctSize); err != nil {
			return rejectTruncated(fullPath, stream, hit, ctx, c)
		}
	}

	validated := false
	truncated := false
	var errs []string

loop:
	for {
		blockID, err := stream.ReadExact(1)
		if err != nil {
			truncated = true
			errs = append(errs, classifyEOFTruncation(err))
			break
		}
		switch blockID[0] {
		case 0x3B: // trailer
			validated = true
			break loop
		case 0x21: // extension
			if _, err := stream.ReadExact(1); err != nil { // label
				truncated = true
				errs = append(errs, classifyEOFTruncation(err))
				break loop
			}
			if err := readSubBlocks(stream); err != nil {
				truncated = true
				errs = append(errs, classifyEOFTruncation(err))
				break loop
			}
		case 0x2C: // image descriptor
			imgDesc, err := stream.ReadExact(9)
			if err != nil {
				truncated = true
				errs = append(errs, classifyEOFTruncation(err))
				break loop
			}
			if imgDesc[8]&0x80 != 0 {
				lctSize := 3 * (1 << ((imgDesc[8] & 0x07) + 1))
				if _, err := stream.ReadExact(lctSize); err != nil {
					truncated = true
					errs = append(errs, classifyEOFTruncation(err))
					break loop
				}
			}
			if _, err := stream.ReadExact(1); err != nil { // LZW min code size
				truncated = true
				errs = append(errs, classifyEOFTruncation(err))
				break loop
			}
			if err := readSubBlocks(stream); err != nil {
				truncated = true
				errs = append(errs, classifyEOFTruncation(err))
				break loop
			}
		default:
			os.Remove(fullPath)
			return nil, nil
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
		RunID: ctx.RunID, FileType: c.FileType(), Extension: c.Extension(),
		RelativePath: relPath, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
		Size: written, MD5: md5hex, SHA256: sha256hex,
		Validated: validated, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}

// readSubBlocks consumes a GIF sub-block chain terminated by a zero-length
// block.
func readSubBlocks(stream *CarveStream) error {
	for {
		lenB, err := stream.ReadExact(1)
		if err != nil {
			return err
		}
		if lenB[0] == 0 {
			return nil
		}
		if _, err := stream.ReadExact(int(lenB[0])); err != nil {
			return err
		}
	}
}

func rejectTruncated(fullPath string, stream *CarveStream, hit model.NormalizedHit, ctx *ExtractionContext, c *GIFCarver) (*model.CarvedFile, error) {
	written, md5hex, sha256hex, _ := stream.Finish()
	if written < c.MinSize {
		os.Remove(fullPath)
		return nil, nil
	}
	globalEnd := hit.GlobalOffset
	if written > 0 {
		globalEnd = hit.GlobalOffset + written - 1
	}
	relPath, _ := relFromFull(ctx.OutputRoot, fullPath)
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: c.FileType(), Extension: c.Extension(),
		RelativePath: relPath, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
		Size: written, MD5: md5hex, SHA256: sha256hex,
		Validated: false, Truncated: true, Errors: []string{"unexpected eof before trailer"}, PatternID: hit.PatternID,
	}, nil
}
