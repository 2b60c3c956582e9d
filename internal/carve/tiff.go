package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var tiffElemSize = map[uint16]uint64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

// TIFFCarver walks the IFD (image file directory) chain starting at the
// header's declared offset, tracking the furthest byte referenced by any
// directory entry's external value/offset (and especially strip/tile
// offset and byte-count pairs, since pixel data is almost always the
// trailing material) to determine the file's true extent.
type TIFFCarver struct {
	MinSize, MaxSize uint64
}

func (c *TIFFCarver) FileType() string  { return "tiff" }
func (c *TIFFCarver) Extension() string { return "tiff" }

func (c *TIFFCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header, err := ReadExactAt(ctx, hit.GlobalOffset, 8)
	if err != nil {
		return nil, nil
	}
	var bo binary.ByteOrder
	switch {
	case bytesEqual(header[0:2], []byte("II")):
		bo = binary.LittleEndian
	case bytesEqual(header[0:2], []byte("MM")):
		bo = binary.BigEndian
	default:
		return nil, nil
	}
	if bo.Uint16(header[2:4]) != 42 {
		return nil, nil
	}
	ifdOffset := uint64(bo.Uint32(header[4:8]))

	maxSeen := uint64(8)
	visited := map[uint64]struct{}{}
	truncated := false
	for ifdOffset != 0 {
		if _, dup := visited[ifdOffset]; dup {
			truncated = true
			break
		}
		visited[ifdOffset] = struct{}{}

		countBuf, err := ReadExactAt(ctx, hit.GlobalOffset+ifdOffset, 2)
		if err != nil {
			truncated = true
			break
		}
		entryCount := int(bo.Uint16(countBuf))
		entriesStart := ifdOffset + 2
		entriesEnd := entriesStart + uint64(entryCount)*12
		if entriesEnd > maxSeen {
			maxSeen = entriesEnd
		}

		var stripOffsets, tileOffsets []uint64
		var stripCounts, tileCounts []uint64

		for i := 0; i < entryCount; i++ {
			entry, err := ReadExactAt(ctx, hit.GlobalOffset+entriesStart+uint64(i)*12, 12)
			if err != nil {
				truncated = true
				break
			}
			tag := bo.Uint16(entry[0:2])
			typ := bo.Uint16(entry[2:4])
			count := uint64(bo.Uint32(entry[4:8]))
			elemSize := tiffElemSize[typ]
			valLen := count * elemSize
			if valLen > 4 {
				valOffset := uint64(bo.Uint32(entry[8:12]))
				end := valOffset + valLen
				if end > maxSeen {
					maxSeen = end
				}
				if tag == 273 {
					stripOffsets = readUintArray(ctx, hit.GlobalOffset, bo, valOffset, count, typ)
				}
				if tag == 279 {
					stripCounts = readUintArray(ctx, hit.GlobalOffset, bo, valOffset, count, typ)
				}
				if tag == 324 {
					tileOffsets = readUintArray(ctx, hit.GlobalOffset, bo, valOffset, count, typ)
				}
				if tag == 325 {
					tileCounts = readUintArray(ctx, hit.GlobalOffset, bo, valOffset, count, typ)
				}
			}
		}
		for i, off := range stripOffsets {
			if i < len(stripCounts) {
				if end := off + stripCounts[i]; end > maxSeen {
					maxSeen = end
				}
			}
		}
		for i, off := range tileOffsets {
			if i < len(tileCounts) {
				if end := off + tileCounts[i]; end > maxSeen {
					maxSeen = end
				}
			}
		}

		nextBuf, err := ReadExactAt(ctx, hit.GlobalOffset+entriesEnd, 4)
		if err != nil {
			truncated = true
			break
		}
		ifdOffset = uint64(bo.Uint32(nextBuf))
	}

	total := maxSeen
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
		errs = append(errs, "IFD chain referenced data past max_size/EOF")
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

func readUintArray(ctx *ExtractionContext, base uint64, bo binary.ByteOrder, valOffset, count uint64, typ uint16) []uint64 {
	elemSize := tiffElemSize[typ]
	if elemSize == 0 || count == 0 || count > 100000 {
		return nil
	}
	data, err := ReadExactAt(ctx, base+valOffset, int(count*elemSize))
	if err != nil {
		return nil
	}
	out := make([]uint64, count)
	for i := uint64(0); i < count; i++ {
		switch typ {
		case 3: // SHORT
			out[i] = uint64(bo.Uint16(data[i*2 : i*2+2]))
		case 4: // LONG
			out[i] = uint64(bo.Uint32(data[i*4 : i*4+4]))
		default:
			out[i] = uint64(data[i*elemSize])
		}
	}
	return out
}
