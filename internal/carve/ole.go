package carve

import (
	"encoding/binary"
	"os"
	"unicode/utf16"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

const (
	oleFreesect   = 0xFFFFFFFF
	oleEndofchain = 0xFFFFFFFE
	oleFatsect    = 0xFFFFFFFD
	oleDifsect    = 0xFFFFFFFC
)

// OLECarver verifies the Compound File Binary signature, byte-order
// mark, version, and sector-size exponent, then walks the FAT to compute
// the highest-used sector (the open-question resolution: FAT-walk is
// authoritative, a directory-sector heuristic is only a fallback when FAT
// sectors can't be read). It optionally reclassifies the output into
// doc/xls/ppt by walking the root directory stream for well-known
// top-level stream names.
type OLECarver struct {
	MinSize, MaxSize uint64
}

func (c *OLECarver) FileType() string  { return "ole" }
func (c *OLECarver) Extension() string { return "ole" }

func (c *OLECarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	header, err := ReadExactAt(ctx, hit.GlobalOffset, 512)
	if err != nil {
		return nil, nil
	}
	if !bytesEqual(header[0:8], oleSignature) {
		return nil, nil
	}
	byteOrder := binary.LittleEndian.Uint16(header[28:30])
	if byteOrder != 0xFFFE {
		return nil, nil
	}
	majorVersion := binary.LittleEndian.Uint16(header[26:28])
	if majorVersion != 3 && majorVersion != 4 {
		return nil, nil
	}
	sectorShift := binary.LittleEndian.Uint16(header[30:32])
	if sectorShift != 9 && sectorShift != 12 {
		return nil, nil
	}
	sectorSize := uint64(1) << sectorShift
	numFATSectors := binary.LittleEndian.Uint32(header[44:48])
	firstDirSector := binary.LittleEndian.Uint32(header[48:52])

	fatSectorLocs := make([]uint32, 0, 109)
	for i := 0; i < 109; i++ {
		loc := binary.LittleEndian.Uint32(header[76+i*4 : 80+i*4])
		if loc != oleFreesect {
			fatSectorLocs = append(fatSectorLocs, loc)
		}
	}
	// Header-declared count is authoritative over how many of the 109
	// DIFAT slots are actually populated when fewer FAT sectors exist.
	if int(numFATSectors) < len(fatSectorLocs) {
		fatSectorLocs = fatSectorLocs[:numFATSectors]
	}

	highestUsed, fatReadable := highestUsedSectorFromFAT(ctx, hit.GlobalOffset, fatSectorLocs, sectorSize)
	var total uint64
	if fatReadable {
		total = 512 + (uint64(highestUsed)+1)*sectorSize
	} else {
		// Fallback heuristic: assume the directory chain alone, padded
		// generously, when FAT sectors are unreadable.
		total = 512 + (uint64(firstDirSector)+16)*sectorSize
	}

	truncated := false
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

	md5h, sha256h := newHashers()
	written, eofTruncated, werr := WriteRange(ctx, hit.GlobalOffset, hit.GlobalOffset+total, f, md5h, sha256h)
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

	outType, outExt, outPath, outRel := c.FileType(), c.Extension(), fullPath, relPath
	if !truncated {
		if kind := classifyOLE(ctx, hit.GlobalOffset, firstDirSector, sectorSize, fatSectorLocs); kind != "" {
			newFull, newRel, rerr := OutputPath(ctx.OutputRoot, kind, kind, hit.GlobalOffset)
			if rerr == nil {
				if err := os.Rename(fullPath, newFull); err == nil {
					outType, outExt, outPath, outRel = kind, kind, newFull, newRel
				}
			}
		}
	}
	_ = outPath

	var errs []string
	if truncated {
		errs = append(errs, "max_size reached before highest-used FAT sector")
	}
	globalEnd := hit.GlobalOffset
	if written > 0 {
		globalEnd = hit.GlobalOffset + written - 1
	}
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: outType, Extension: outExt,
		RelativePath: outRel, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: !truncated, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}

// highestUsedSectorFromFAT walks every FAT sector and returns the
// greatest sector index whose entry is not the free-sector marker.
func highestUsedSectorFromFAT(ctx *ExtractionContext, base uint64, fatSectorLocs []uint32, sectorSize uint64) (uint32, bool) {
	var highest uint32
	any := false
	for k, loc := range fatSectorLocs {
		sectorOffset := base + 512 + uint64(loc)*sectorSize
		data, err := ReadExactAt(ctx, sectorOffset, int(sectorSize))
		if err != nil {
			return 0, false
		}
		entries := len(data) / 4
		for i := 0; i < entries; i++ {
			v := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
			if v == oleFreesect {
				continue
			}
			any = true
			idx := uint32(k*entries + i)
			if idx > highest {
				highest = idx
			}
		}
	}
	return highest, any
}

// classifyOLE walks the directory-entry chain starting at firstDirSector
// looking for well-known top-level stream names.
func classifyOLE(ctx *ExtractionContext, base uint64, firstDirSector uint32, sectorSize uint64, fatSectorLocs []uint32) string {
	sector := firstDirSector
	visited := map[uint32]struct{}{}
	for i := 0; i < 64 && sector != oleEndofchain && sector != oleFreesect; i++ {
		if _, dup := visited[sector]; dup {
			break
		}
		visited[sector] = struct{}{}

		data, err := ReadExactAt(ctx, base+512+uint64(sector)*sectorSize, int(sectorSize))
		if err != nil {
			break
		}
		entries := len(data) / 128
		for e := 0; e < entries; e++ {
			entry := data[e*128 : e*128+128]
			nameLenBytes := binary.LittleEndian.Uint16(entry[64:66])
			if nameLenBytes < 2 || nameLenBytes > 64 {
				continue
			}
			nameUTF16 := entry[0 : nameLenBytes-2]
			name := decodeUTF16Name(nameUTF16)
			switch name {
			case "WordDocument":
				return "doc"
			case "Workbook", "Book":
				return "xls"
			case "PowerPoint Document":
				return "ppt"
			}
		}
		sector = nextFATEntry(ctx, base, fatSectorLocs, sectorSize, sector)
	}
	return ""
}

func nextFATEntry(ctx *ExtractionContext, base uint64, fatSectorLocs []uint32, sectorSize uint64, sector uint32) uint32 {
	perSector := uint32(sectorSize / 4)
	fatSectorIdx := sector / perSector
	if int(fatSectorIdx) >= len(fatSectorLocs) {
		return oleEndofchain
	}
	sectorOffset := base + 512 + uint64(fatSectorLocs[fatSectorIdx])*sectorSize
	entryOffset := sectorOffset + uint64(sector%perSector)*4
	data, err := ReadExactAt(ctx, entryOffset, 4)
	if err != nil {
		return oleEndofchain
	}
	return binary.LittleEndian.Uint32(data)
}

func decodeUTF16Name(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	return string(utf16.Decode(units))
}
