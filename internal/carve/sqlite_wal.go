package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

// SQLiteWALCarver parses the 32-byte WAL header, verifies its checksum
// under the byte order the magic number implies, then walks 24-byte frame
// headers plus page payloads verifying each frame's rolling checksum.
// Walking stops after a configurable number of consecutive checksum
// mismatches, treating the remainder as not part of this WAL file.
type SQLiteWALCarver struct {
	MinSize, MaxSize          uint64
	MaxConsecutiveMismatches  int
}

func (c *SQLiteWALCarver) FileType() string  { return "sqlite-wal" }
func (c *SQLiteWALCarver) Extension() string { return "wal" }

func (c *SQLiteWALCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header, err := ReadExactAt(ctx, hit.GlobalOffset, 32)
	if err != nil {
		return nil, nil
	}
	magic := binary.BigEndian.Uint32(header[0:4])
	var bigEndian bool
	switch magic {
	case 0x377f0682:
		bigEndian = false
	case 0x377f0683:
		bigEndian = true
	default:
		return nil, nil
	}

	pageSize := uint64(readU32(header[8:12], bigEndian))
	if !isValidPageSize(pageSize) {
		return nil, nil
	}
	salt1 := header[16:20]
	salt2 := header[20:24]

	var s0, s1 uint32
	for i := 0; i < 24; i += 8 {
		x0 := readU32(header[i:i+4], bigEndian)
		x1 := readU32(header[i+4:i+8], bigEndian)
		s0 += x0 + s1
		s1 += x1 + s0
	}
	wantC1 := readU32(header[24:28], bigEndian)
	wantC2 := readU32(header[28:32], bigEndian)
	if s0 != wantC1 || s1 != wantC2 {
		return nil, nil
	}

	limit := c.MaxConsecutiveMismatches
	if limit <= 0 {
		limit = 1
	}

	frameOffset := hit.GlobalOffset + 32
	lastGoodEnd := frameOffset
	mismatches := 0
	frameCount := 0

	for {
		maxEnd := ctx.Evidence.Len()
		if c.MaxSize > 0 && hit.GlobalOffset+c.MaxSize < maxEnd {
			maxEnd = hit.GlobalOffset + c.MaxSize
		}
		if frameOffset+24+pageSize > maxEnd {
			break
		}
		fh, err := ReadExactAt(ctx, frameOffset, 24)
		if err != nil {
			break
		}
		if !bytesEqual(fh[8:12], salt1) || !bytesEqual(fh[12:16], salt2) {
			mismatches++
			if mismatches >= limit {
				break
			}
			frameOffset += 24 + pageSize
			continue
		}
		page, err := ReadExactAt(ctx, frameOffset+24, int(pageSize))
		if err != nil {
			break
		}
		x0 := readU32(fh[0:4], bigEndian)
		x1 := readU32(fh[4:8], bigEndian)
		s0 += x0 + s1
		s1 += x1 + s0
		for i := 0; i+8 <= len(page); i += 8 {
			x0 := readU32(page[i:i+4], bigEndian)
			x1 := readU32(page[i+4:i+8], bigEndian)
			s0 += x0 + s1
			s1 += x1 + s0
		}
		gotC1 := readU32(fh[16:20], bigEndian)
		gotC2 := readU32(fh[20:24], bigEndian)
		if s0 != gotC1 || s1 != gotC2 {
			mismatches++
			if mismatches >= limit {
				break
			}
		} else {
			mismatches = 0
			frameCount++
			lastGoodEnd = frameOffset + 24 + pageSize
		}
		frameOffset += 24 + pageSize
	}

	total := lastGoodEnd - hit.GlobalOffset
	truncated := frameCount == 0

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
		errs = append(errs, "wal frame checksum chain ended before further frames")
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

func readU32(b []byte, bigEndian bool) uint32 {
	if bigEndian {
		return binary.BigEndian.Uint32(b)
	}
	return binary.LittleEndian.Uint32(b)
}
