package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var zipLocalHeader = []byte{'P', 'K', 0x03, 0x04}
var zipEOCD = []byte{'P', 'K', 0x05, 0x06}
var zipCentralDirEntry = []byte{'P', 'K', 0x01, 0x02}

// ZIPCarver finds the end-of-central-directory record, then parses the
// central directory to reclassify Office Open XML containers (word/ ->
// docx, xl/ -> xlsx, ppt/ -> pptx) by renaming the already-written file.
type ZIPCarver struct {
	MinSize, MaxSize uint64
}

func (c *ZIPCarver) FileType() string  { return "zip" }
func (c *ZIPCarver) Extension() string { return "zip" }

func (c *ZIPCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header := ReadPrefix(ctx, hit.GlobalOffset, 4)
	if len(header) < 4 || !bytesEqual(header, zipLocalHeader) {
		return nil, nil
	}

	maxEnd := uint64(1<<63 - 1)
	if c.MaxSize > 0 {
		maxEnd = hit.GlobalOffset + c.MaxSize
	}
	if maxEnd > ctx.Evidence.Len() {
		maxEnd = ctx.Evidence.Len()
	}

	const bufSize = 64 * 1024
	var carry []byte
	offset := hit.GlobalOffset
	eocdGlobal := uint64(0)
	found := false

	for offset < maxEnd {
		want := maxEnd - offset
		if want > bufSize {
			want = bufSize
		}
		buf := make([]byte, want)
		n, err := ctx.Evidence.ReadAt(offset, buf)
		if err != nil {
			return nil, errEvidence(err)
		}
		if n == 0 {
			break
		}
		buf = buf[:n]
		search := append(append([]byte{}, carry...), buf...)
		if pos := FindPattern(search, zipEOCD); pos >= 0 {
			candidate := offset - uint64(len(carry)) + uint64(pos)
			if candidate >= hit.GlobalOffset {
				eocdGlobal = candidate
				found = true
				break
			}
		}
		offset += uint64(len(buf))
		tail := len(zipEOCD) - 1
		if len(buf) >= tail {
			carry = append([]byte{}, buf[len(buf)-tail:]...)
		} else {
			carry = append([]byte{}, buf...)
		}
	}

	if !found {
		return nil, nil
	}

	eocd, err := ReadExactAt(ctx, eocdGlobal, 22)
	if err != nil {
		return nil, nil
	}
	cdSize := binary.LittleEndian.Uint32(eocd[12:16])
	cdOffset := binary.LittleEndian.Uint32(eocd[16:20])
	commentLen := binary.LittleEndian.Uint16(eocd[20:22])
	totalEnd := eocdGlobal + 22 + uint64(commentLen)

	truncated := false
	if c.MaxSize > 0 && totalEnd > hit.GlobalOffset+c.MaxSize {
		totalEnd = hit.GlobalOffset + c.MaxSize
		truncated = true
	}
	if totalEnd > ctx.Evidence.Len() {
		totalEnd = ctx.Evidence.Len()
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

	md5h, sha256h := newHashers()
	written, eofTruncated, werr := WriteRange(ctx, hit.GlobalOffset, totalEnd, f, md5h, sha256h)
	f.Close()
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

	outType, outExt := c.FileType(), c.Extension()
	finalPath, finalRel := fullPath, relPath
	if cdAbsOffset := hit.GlobalOffset + uint64(cdOffset); !truncated {
		if classified, classifiedExt := classifyZip(ctx, cdAbsOffset, uint64(cdSize)); classified != "" {
			newFull, newRel, rerr := OutputPath(ctx.OutputRoot, classified, classifiedExt, hit.GlobalOffset)
			if rerr == nil {
				if err := os.Rename(fullPath, newFull); err == nil {
					outType, outExt = classified, classifiedExt
					finalPath, finalRel = newFull, newRel
				}
			}
		}
	}
	_ = finalPath

	var errs []string
	if truncated {
		errs = append(errs, "max_size reached before end-of-central-directory comment")
	}
	globalEnd := hit.GlobalOffset
	if written > 0 {
		globalEnd = hit.GlobalOffset + written - 1
	}
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: outType, Extension: outExt,
		RelativePath: finalRel, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: !truncated, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}

// classifyZip reads the already-written central directory entries and
// reclassifies by entry-name prefix, returning ("", "") if no Office
// prefix is found.
func classifyZip(ctx *ExtractionContext, cdGlobalOffset, cdSize uint64) (fileType, ext string) {
	if cdSize == 0 || cdSize > 16<<20 {
		return "", ""
	}
	data, err := ReadExactAt(ctx, cdGlobalOffset, int(cdSize))
	if err != nil {
		return "", ""
	}
	offset := 0
	for offset+46 <= len(data) {
		if !bytesEqual(data[offset:offset+4], zipCentralDirEntry) {
			break
		}
		nameLen := int(binary.LittleEndian.Uint16(data[offset+28 : offset+30]))
		extraLen := int(binary.LittleEndian.Uint16(data[offset+30 : offset+32]))
		commentLen := int(binary.LittleEndian.Uint16(data[offset+32 : offset+34]))
		nameStart := offset + 46
		if nameStart+nameLen > len(data) {
			break
		}
		name := string(data[nameStart : nameStart+nameLen])
		switch {
		case hasPrefix(name, "word/"):
			return "docx", "docx"
		case hasPrefix(name, "xl/"):
			return "xlsx", "xlsx"
		case hasPrefix(name, "ppt/"):
			return "pptx", "pptx"
		}
		offset = nameStart + nameLen + extraLen + commentLen
	}
	return "", ""
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
