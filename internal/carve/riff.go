package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

// riffCarver implements the "trust the declared length" strategy shared
// by every RIFF-container format (WAV, AVI, WEBP): read the 12-byte RIFF
// header, trust its size field, cap by max_size and evidence length.
type riffCarver struct {
	fileType, extension string
	formatTag           string // "WAVE", "AVI ", "WEBP"
	minSize, maxSize    uint64
}

func (c *riffCarver) FileType() string  { return c.fileType }
func (c *riffCarver) Extension() string { return c.extension }

func (c *riffCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header, err := ReadExactAt(ctx, hit.GlobalOffset, 12)
	if err != nil {
		return nil, nil
	}
	if string(header[0:4]) != "RIFF" {
		return nil, nil
	}
	if string(header[8:12]) != c.formatTag {
		return nil, nil
	}
	declared := binary.LittleEndian.Uint32(header[4:8])
	totalSize := uint64(declared) + 8

	truncated := false
	if c.maxSize > 0 && totalSize > c.maxSize {
		totalSize = c.maxSize
		truncated = true
	}
	if hit.GlobalOffset+totalSize > ctx.Evidence.Len() {
		totalSize = ctx.Evidence.Len() - hit.GlobalOffset
		truncated = true
	}

	fullPath, relPath, err := OutputPath(ctx.OutputRoot, c.fileType, c.extension, hit.GlobalOffset)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return nil, errIO(err)
	}
	defer f.Close()

	md5h, sha256h := newHashers()
	written, eofTruncated, werr := WriteRange(ctx, hit.GlobalOffset, hit.GlobalOffset+totalSize, f, md5h, sha256h)
	if werr != nil {
		os.Remove(fullPath)
		return nil, werr
	}
	if eofTruncated {
		truncated = true
	}
	if written < c.minSize {
		os.Remove(fullPath)
		return nil, nil
	}

	var errs []string
	if truncated {
		errs = append(errs, "max_size reached before declared RIFF length")
	}

	globalEnd := hit.GlobalOffset
	if written > 0 {
		globalEnd = hit.GlobalOffset + written - 1
	}

	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: c.fileType, Extension: c.extension,
		RelativePath: relPath, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: !truncated, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}

// NewWAVCarver builds the WAV (RIFF/WAVE) carver.
func NewWAVCarver(minSize, maxSize uint64) Carver {
	return &riffCarver{fileType: "wav", extension: "wav", formatTag: "WAVE", minSize: minSize, maxSize: maxSize}
}

// NewAVICarver builds the AVI (RIFF/AVI ) carver.
func NewAVICarver(minSize, maxSize uint64) Carver {
	return &riffCarver{fileType: "avi", extension: "avi", formatTag: "AVI ", minSize: minSize, maxSize: maxSize}
}

// NewWEBPCarver builds the WEBP (RIFF/WEBP) carver.
func NewWEBPCarver(minSize, maxSize uint64) Carver {
	return &riffCarver{fileType: "webp", extension: "webp", formatTag: "WEBP", minSize: minSize, maxSize: maxSize}
}
