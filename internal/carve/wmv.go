package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var asfHeaderGUID = []byte{0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11, 0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C}
var asfFilePropertiesGUID = []byte{0xA1, 0xDC, 0xAB, 0x8C, 0x47, 0xA9, 0xCF, 0x11, 0x8E, 0xE4, 0x00, 0xC0, 0x0C, 0x20, 0x53, 0x65}

// WMVCarver walks the ASF Header Object's sub-objects looking for the
// File Properties Object, then trusts its embedded File Size field as
// the authoritative total length. If the File Properties Object can't be
// located, it falls back to the header object's own declared size plus
// whatever remains up to max_size/EOF.
type WMVCarver struct {
	MinSize, MaxSize uint64
}

func (c *WMVCarver) FileType() string  { return "wmv" }
func (c *WMVCarver) Extension() string { return "wmv" }

func (c *WMVCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header, err := ReadExactAt(ctx, hit.GlobalOffset, 30)
	if err != nil || !bytesEqual(header[0:16], asfHeaderGUID) {
		return nil, nil
	}
	headerObjectSize := binary.LittleEndian.Uint64(header[16:24])
	numHeaderObjects := binary.LittleEndian.Uint32(header[24:28])

	var fileSize uint64
	found := false
	offset := hit.GlobalOffset + 30
	headerEnd := hit.GlobalOffset + headerObjectSize
	for i := uint32(0); i < numHeaderObjects && offset+24 <= headerEnd; i++ {
		sub, err := ReadExactAt(ctx, offset, 24)
		if err != nil {
			break
		}
		subSize := binary.LittleEndian.Uint64(sub[16:24])
		if bytesEqual(sub[0:16], asfFilePropertiesGUID) {
			fp, err := ReadExactAt(ctx, offset+40, 8)
			if err == nil {
				fileSize = binary.LittleEndian.Uint64(fp)
				found = true
			}
			break
		}
		if subSize < 24 {
			break
		}
		offset += subSize
	}

	truncated := false
	var total uint64
	if found && fileSize >= headerObjectSize {
		total = fileSize
	} else {
		total = ctx.Evidence.Len() - hit.GlobalOffset
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
		errs = append(errs, "File Properties Object not found or size bounded by max_size/EOF")
	}
	globalEnd := hit.GlobalOffset
	if written > 0 {
		globalEnd = hit.GlobalOffset + written - 1
	}
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: c.FileType(), Extension: c.Extension(),
		RelativePath: relPath, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: found && !truncated, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}
