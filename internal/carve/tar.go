package carve

import (
	"os"
	"strconv"
	"strings"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

const tarBlockSize = 512

// tarMagicOffset is where the "ustar" magic sits inside a 512-byte
// header block; the scanner's hit lands on the magic, so the carver
// rewinds to the block start before validating the checksum.
const tarMagicOffset = 257

// TARCarver walks successive 512-byte USTAR header blocks, each followed
// by its file data padded to a block boundary, until it reaches the two
// consecutive all-zero blocks that terminate an archive or it runs out of
// readable data.
type TARCarver struct {
	MinSize, MaxSize uint64
}

func (c *TARCarver) FileType() string  { return "tar" }
func (c *TARCarver) Extension() string { return "tar" }

func (c *TARCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	if hit.GlobalOffset < tarMagicOffset {
		return nil, nil
	}
	start := hit.GlobalOffset - tarMagicOffset
	first, err := ReadExactAt(ctx, start, tarBlockSize)
	if err != nil || !validTarHeader(first) {
		return nil, nil
	}

	offset := start
	maxEnd := ctx.Evidence.Len()
	if c.MaxSize > 0 && start+c.MaxSize < maxEnd {
		maxEnd = start + c.MaxSize
	}

	zeroRun := 0
	truncated := false
	for offset+tarBlockSize <= maxEnd {
		block, err := ReadExactAt(ctx, offset, tarBlockSize)
		if err != nil {
			truncated = true
			break
		}
		if isZeroBlock(block) {
			zeroRun++
			offset += tarBlockSize
			if zeroRun >= 2 {
				break
			}
			continue
		}
		zeroRun = 0
		if !validTarHeader(block) {
			break
		}
		size := tarOctalField(block[124:136])
		entryBlocks := (size + tarBlockSize - 1) / tarBlockSize
		offset += tarBlockSize + entryBlocks*tarBlockSize
	}
	if zeroRun < 2 {
		truncated = true
	}

	total := offset - start
	if total > maxEnd-start {
		total = maxEnd - start
		truncated = true
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
		errs = append(errs, "archive did not terminate with two zero blocks before max_size/EOF")
	}
	globalEnd := start
	if written > 0 {
		globalEnd = start + written - 1
	}
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: c.FileType(), Extension: c.Extension(),
		RelativePath: relPath, GlobalStart: start, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: !truncated, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}

func isZeroBlock(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func validTarHeader(b []byte) bool {
	if len(b) < tarBlockSize {
		return false
	}
	recorded := tarOctalField(b[148:156])
	unsigned, signed := tarChecksums(b)
	return recorded == unsigned || recorded == signed
}

func tarChecksums(b []byte) (uint64, uint64) {
	var unsigned, signed uint64
	for i, v := range b {
		if i >= 148 && i < 156 {
			unsigned += uint64(' ')
			signed += uint64(' ')
			continue
		}
		unsigned += uint64(v)
		signed += uint64(int8(v))
	}
	return unsigned, signed
}

func tarOctalField(b []byte) uint64 {
	s := strings.TrimRight(strings.TrimLeft(string(b), "\x00 "), "\x00 ")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 8, 64)
	if err != nil {
		return 0
	}
	return v
}
