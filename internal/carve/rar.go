package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var rar4Magic = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}
var rar5Magic = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00}

const rarEndArchiveBlock = 0x7B

// RARCarver walks RAR4 block headers (HEAD_CRC, HEAD_TYPE, HEAD_FLAGS,
// HEAD_SIZE, an optional ADD_SIZE when the long-block flag is set) until
// it reaches an end-of-archive block or can no longer parse a header, and
// walks RAR5 blocks using their vint-encoded header and data sizes.
type RARCarver struct {
	MinSize, MaxSize uint64
}

func (c *RARCarver) FileType() string  { return "rar" }
func (c *RARCarver) Extension() string { return "rar" }

func (c *RARCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	prefix := ReadPrefix(ctx, hit.GlobalOffset, 8)
	var total uint64
	var truncated bool
	switch {
	case len(prefix) >= 8 && bytesEqual(prefix[:8], rar5Magic):
		total, truncated = c.walkRAR5(ctx, hit.GlobalOffset)
	case len(prefix) >= 7 && bytesEqual(prefix[:7], rar4Magic):
		total, truncated = c.walkRAR4(ctx, hit.GlobalOffset)
	default:
		return nil, nil
	}
	if total == 0 {
		return nil, nil
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
		errs = append(errs, "block walk ended before end-of-archive marker")
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

func (c *RARCarver) walkRAR4(ctx *ExtractionContext, base uint64) (uint64, bool) {
	offset := base + 7
	maxEnd := ctx.Evidence.Len()
	if c.MaxSize > 0 && base+c.MaxSize < maxEnd {
		maxEnd = base + c.MaxSize
	}
	for i := 0; i < 100000 && offset+7 <= maxEnd; i++ {
		bh, err := ReadExactAt(ctx, offset, 7)
		if err != nil {
			return offset - base, true
		}
		headType := bh[2]
		flags := binary.LittleEndian.Uint16(bh[3:5])
		headSize := uint64(binary.LittleEndian.Uint16(bh[5:7]))
		if headSize < 7 {
			return offset - base, true
		}
		blockLen := headSize
		if flags&0x8000 != 0 {
			addBuf, err := ReadExactAt(ctx, offset+7, 4)
			if err != nil {
				return offset - base, true
			}
			blockLen += uint64(binary.LittleEndian.Uint32(addBuf))
		}
		offset += blockLen
		if headType == rarEndArchiveBlock {
			return offset - base, false
		}
	}
	return offset - base, true
}

func (c *RARCarver) walkRAR5(ctx *ExtractionContext, base uint64) (uint64, bool) {
	offset := base + 8
	maxEnd := ctx.Evidence.Len()
	if c.MaxSize > 0 && base+c.MaxSize < maxEnd {
		maxEnd = base + c.MaxSize
	}
	for i := 0; i < 100000 && offset < maxEnd; i++ {
		// Each block opens with a 4-byte header CRC32, then the
		// header-size vint.
		vintBuf := ReadPrefix(ctx, offset+4, 8)
		headerSize, hsLen, ok := readRARVint(vintBuf)
		if !ok {
			return offset - base, true
		}
		typeAndRestBuf := ReadPrefix(ctx, offset+4+uint64(hsLen), 16)
		headerType, tLen, ok := readRARVint(typeAndRestBuf)
		if !ok {
			return offset - base, true
		}
		headerFlags, fLen, ok := readRARVint(typeAndRestBuf[tLen:])
		if !ok {
			return offset - base, true
		}
		extraAreaSize, eLen, hasExtra := uint64(0), 0, headerFlags&0x01 != 0
		dataSize, dLen, hasData := uint64(0), 0, headerFlags&0x02 != 0
		rest := typeAndRestBuf[tLen+fLen:]
		if hasExtra {
			extraAreaSize, eLen, ok = readRARVint(rest)
			if !ok {
				return offset - base, true
			}
			rest = rest[eLen:]
		}
		if hasData {
			dataSize, dLen, ok = readRARVint(rest)
			if !ok {
				return offset - base, true
			}
		}
		_ = extraAreaSize
		_ = dLen
		blockLen := 4 + uint64(hsLen) + headerSize + dataSize
		offset += blockLen
		if headerType == 5 { // endarc header
			return offset - base, false
		}
	}
	return offset - base, true
}

// readRARVint decodes RAR5's little-endian, 7-bits-per-byte variable
// length integer: the high bit of each byte signals "more bytes follow".
func readRARVint(b []byte) (value uint64, length int, ok bool) {
	for i := 0; i < len(b) && i < 10; i++ {
		value |= uint64(b[i]&0x7F) << uint(7*i)
		if b[i]&0x80 == 0 {
			return value, i + 1, true
		}
	}
	return 0, 0, false
}
