package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

// mobiSignatureOffset is where the BOOKMOBI type/creator pair sits
// inside the 78-byte Palm Database header; the scanner's hit lands on
// the signature, not the container start, so the carver rewinds by this
// much before reading the header.
const mobiSignatureOffset = 60

// MOBICarver trusts the 78-byte Palm Database header's numRecords field
// to validate the record list is well-formed (record offsets strictly
// increasing and in-bounds), then, since PDB containers carry no
// in-band terminator for the final record's length, extends the output
// to max_size/EOF the way the header-length-field carvers extend to a
// trusted declared length.
type MOBICarver struct {
	MinSize, MaxSize uint64
}

func (c *MOBICarver) FileType() string  { return "mobi" }
func (c *MOBICarver) Extension() string { return "mobi" }

func (c *MOBICarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	if hit.GlobalOffset < mobiSignatureOffset {
		return nil, nil
	}
	start := hit.GlobalOffset - mobiSignatureOffset
	header, err := ReadExactAt(ctx, start, 78)
	if err != nil {
		return nil, nil
	}
	numRecords := binary.BigEndian.Uint16(header[76:78])
	if numRecords == 0 {
		return nil, nil
	}
	recordListLen := int(numRecords) * 8
	recordList, err := ReadExactAt(ctx, start+78, recordListLen)
	if err != nil {
		return nil, nil
	}
	lastOffset := uint32(0)
	for i := 0; i < int(numRecords); i++ {
		off := binary.BigEndian.Uint32(recordList[i*8 : i*8+4])
		if i > 0 && off <= lastOffset {
			return nil, nil
		}
		if uint64(off) >= ctx.Evidence.Len()-start {
			return nil, nil
		}
		lastOffset = off
	}

	maxEnd := ctx.Evidence.Len()
	truncated := false
	if c.MaxSize > 0 && start+c.MaxSize < maxEnd {
		maxEnd = start + c.MaxSize
		truncated = true
	}
	total := maxEnd - start

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
		truncated = false
	}
	if written < c.MinSize {
		os.Remove(fullPath)
		return nil, nil
	}
	var errs []string
	if truncated {
		errs = append(errs, "output bounded by max_size; PDB container has no in-band terminator")
	}
	globalEnd := start
	if written > 0 {
		globalEnd = start + written - 1
	}
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: c.FileType(), Extension: c.Extension(),
		RelativePath: relPath, GlobalStart: start, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: true, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}
