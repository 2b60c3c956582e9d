package carve

import (
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
var matroskaSegmentID = []byte{0x18, 0x53, 0x80, 0x67}

// WEBMCarver verifies the EBML header magic, locates the top-level
// Segment element, and trusts its declared size when the element uses a
// known (non-"all ones") length. When the Segment declares an unknown
// size, as many real-time-muxed streams do, it falls back to scanning for
// the next EBML header magic or EOF.
type WEBMCarver struct {
	MinSize, MaxSize uint64
}

func (c *WEBMCarver) FileType() string  { return "webm" }
func (c *WEBMCarver) Extension() string { return "webm" }

func (c *WEBMCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header, err := ReadExactAt(ctx, hit.GlobalOffset, 4)
	if err != nil || !bytesEqual(header, ebmlMagic) {
		return nil, nil
	}
	// Skip over EBML header element (size-prefixed) to find the Segment ID.
	sizeByte := ReadPrefix(ctx, hit.GlobalOffset+4, 1)
	if len(sizeByte) < 1 {
		return nil, nil
	}
	ebmlHeaderSizeBuf := ReadPrefix(ctx, hit.GlobalOffset+4, 8)
	ebmlHeaderSize, sizeLen, unknown := readEBMLVint(ebmlHeaderSizeBuf)
	if sizeLen == 0 || unknown {
		return nil, nil
	}
	segmentIDOffset := hit.GlobalOffset + 4 + uint64(sizeLen) + ebmlHeaderSize

	segHeader, err := ReadExactAt(ctx, segmentIDOffset, 4)
	if err != nil || !bytesEqual(segHeader, matroskaSegmentID) {
		return nil, nil
	}
	segSizeBuf := ReadPrefix(ctx, segmentIDOffset+4, 8)
	segSize, segSizeLen, segUnknown := readEBMLVint(segSizeBuf)
	if segSizeLen == 0 {
		return nil, nil
	}

	truncated := false
	var total uint64
	if !segUnknown {
		total = (segmentIDOffset + 4 + uint64(segSizeLen) + segSize) - hit.GlobalOffset
	} else {
		total = scanForNextEBMLOrEOF(ctx, segmentIDOffset+4+uint64(segSizeLen)) - hit.GlobalOffset
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
		errs = append(errs, "segment size unknown or bounded by max_size/EOF")
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

// readEBMLVint decodes an EBML variable-length size field: the number of
// leading zero bits in the first byte gives the encoded length (1-8
// bytes), and the marker bit is masked out of the value. unknown is true
// when every remaining value bit is set to 1, the EBML "size unknown"
// convention.
func readEBMLVint(b []byte) (value uint64, length int, unknown bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	first := b[0]
	length = 0
	for i := 0; i < 8; i++ {
		if first&(0x80>>uint(i)) != 0 {
			length = i + 1
			break
		}
	}
	if length == 0 || length > len(b) {
		return 0, 0, false
	}
	value = uint64(first) & (0xFF >> uint(length))
	allOnes := value == uint64(0xFF>>uint(length))
	for i := 1; i < length; i++ {
		value = value<<8 | uint64(b[i])
		allOnes = allOnes && b[i] == 0xFF
	}
	return value, length, allOnes
}

func scanForNextEBMLOrEOF(ctx *ExtractionContext, from uint64) uint64 {
	const bufSize = 64 * 1024
	offset := from
	total := ctx.Evidence.Len()
	var carry []byte
	for offset < total {
		want := total - offset
		if want > bufSize {
			want = bufSize
		}
		buf := make([]byte, want)
		n, err := ctx.Evidence.ReadAt(offset, buf)
		if err != nil || n == 0 {
			break
		}
		buf = buf[:n]
		search := append(append([]byte{}, carry...), buf...)
		if pos := FindPattern(search, ebmlMagic); pos >= 0 {
			return offset - uint64(len(carry)) + uint64(pos)
		}
		offset += uint64(len(buf))
		tail := len(ebmlMagic) - 1
		if len(buf) >= tail {
			carry = append([]byte{}, buf[len(buf)-tail:]...)
		} else {
			carry = append([]byte{}, buf...)
		}
	}
	return total
}
