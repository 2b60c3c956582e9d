package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

const (
	maxIconEntries      = 64
	maxSingleImageSize  = 512 * 1024
	maxReasonableICOLen = 4 << 20
)

var pngSig8 = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// ICOCarver validates the ICO directory and every referenced image
// before trusting the file as a whole: reject directories with more than
// 64 entries, and require at least one entry to point at a plausible
// embedded PNG or BMP (BITMAPINFOHEADER with positive width <= 256).
type ICOCarver struct {
	MinSize, MaxSize uint64
}

func (c *ICOCarver) FileType() string  { return "ico" }
func (c *ICOCarver) Extension() string { return "ico" }

func (c *ICOCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header, err := ReadExactAt(ctx, hit.GlobalOffset, 6)
	if err != nil {
		return nil, nil
	}
	if header[0] != 0 || header[1] != 0 {
		return nil, nil
	}
	iconType := binary.LittleEndian.Uint16(header[2:4])
	if iconType != 1 && iconType != 2 {
		return nil, nil
	}
	count := int(binary.LittleEndian.Uint16(header[4:6]))
	if count < 1 || count > maxIconEntries {
		return nil, nil
	}

	dirSize := count * 16
	dir, err := ReadExactAt(ctx, hit.GlobalOffset+6, dirSize)
	if err != nil {
		return nil, nil
	}

	headerSize := uint64(6 + dirSize)
	validImageFound := false
	maxEnd := headerSize

	for i := 0; i < count; i++ {
		e := dir[i*16 : i*16+16]
		size := binary.LittleEndian.Uint32(e[8:12])
		offset := binary.LittleEndian.Uint32(e[12:16])
		if size == 0 || uint64(offset) < headerSize || size > maxSingleImageSize {
			continue
		}
		data := ReadPrefix(ctx, hit.GlobalOffset+uint64(offset), int(minU32(size, 64)))
		if validateImageData(data) {
			validImageFound = true
			end := uint64(offset) + uint64(size)
			if end > maxEnd {
				maxEnd = end
			}
		}
	}

	if !validImageFound {
		return nil, nil
	}

	total := maxEnd
	truncated := false
	if total > maxReasonableICOLen {
		total = maxReasonableICOLen
		truncated = true
	}
	if c.MaxSize > 0 && total > c.MaxSize {
		total = c.MaxSize
		truncated = true
	}
	if hit.GlobalOffset+total > ctx.Evidence.Len() {
		total = ctx.Evidence.Len() - hit.GlobalOffset
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
		errs = append(errs, "max_size reached before last icon directory entry")
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

func validateImageData(data []byte) bool {
	if len(data) >= 8 {
		match := true
		for i := 0; i < 8; i++ {
			if data[i] != pngSig8[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	if len(data) >= 8 {
		dibHeaderSize := binary.LittleEndian.Uint32(data[0:4])
		width := int32(binary.LittleEndian.Uint32(data[4:8]))
		if dibHeaderSize == 40 && width > 0 && width <= 256 {
			return true
		}
	}
	return false
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
