package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var movValidAtomTypes = map[string]bool{
	"ftyp": true, "moov": true, "mdat": true, "free": true, "skip": true,
	"wide": true, "pnot": true, "junk": true, "uuid": true, "pict": true,
}

// MOVCarver walks top-level QuickTime atoms (32-bit size + 4-byte type,
// with the 64-bit extended-size and size-extends-to-EOF conventions) the
// same way the PNG/GIF carvers walk chunks, stopping when an atom's type
// is no longer a recognized top-level QuickTime atom or the size-extends-
// to-EOF convention is hit.
type MOVCarver struct {
	MinSize, MaxSize uint64
}

func (c *MOVCarver) FileType() string  { return "mov" }
func (c *MOVCarver) Extension() string { return "mov" }

// movFtypOffset is how far the "ftyp" fourcc sits past the atom start
// (after the 32-bit atom size); the scanner's hit lands on the fourcc,
// so the carver rewinds before walking atoms.
const movFtypOffset = 4

func (c *MOVCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	if hit.GlobalOffset < movFtypOffset {
		return nil, nil
	}
	start := hit.GlobalOffset - movFtypOffset
	first, err := ReadExactAt(ctx, start, 8)
	if err != nil || !movValidAtomTypes[string(first[4:8])] {
		return nil, nil
	}

	maxEnd := ctx.Evidence.Len()
	if c.MaxSize > 0 && start+c.MaxSize < maxEnd {
		maxEnd = start + c.MaxSize
	}

	offset := start
	truncated := false
	sawMoov, sawMdat := false, false
	for offset+8 <= maxEnd {
		atomHeader, err := ReadExactAt(ctx, offset, 8)
		if err != nil {
			truncated = true
			break
		}
		size32 := binary.BigEndian.Uint32(atomHeader[0:4])
		atomType := string(atomHeader[4:8])
		if !movValidAtomTypes[atomType] {
			break
		}
		switch atomType {
		case "moov":
			sawMoov = true
		case "mdat":
			sawMdat = true
		}

		var headerLen uint64 = 8
		var size uint64
		switch size32 {
		case 0:
			offset = maxEnd
			continue
		case 1:
			ext, err := ReadExactAt(ctx, offset+8, 8)
			if err != nil {
				truncated = true
				break
			}
			size = binary.BigEndian.Uint64(ext)
			headerLen = 16
		default:
			size = uint64(size32)
		}
		if size < headerLen {
			truncated = true
			break
		}
		offset += size
		if sawMoov && sawMdat && offset >= maxEnd {
			break
		}
	}
	if !sawMoov || !sawMdat {
		truncated = true
	}

	total := offset - start
	if total > maxEnd-start {
		total = maxEnd - start
	}

	fullPath, relPath, err := OutputPath(ctx.OutputRoot, c.FileType(), c.Extension(), start)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return nil, errIO(err)
	}
	defer f.Close()

	md5h, sha256h := newHashers()
	written, eofTruncated, werr := WriteRange(ctx, start, start+total, f, md5h, sha256h)
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
		errs = append(errs, "atom walk ended before an unrecognized top-level atom or EOF/max_size")
	}
	globalEnd := start
	if written > 0 {
		globalEnd = start + written - 1
	}
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: c.FileType(), Extension: c.Extension(),
		RelativePath: relPath, GlobalStart: start, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: sawMoov && sawMdat, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}
