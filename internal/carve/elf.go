package carve

import (
	"encoding/binary"
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var elfMagic = []byte{0x7F, 'E', 'L', 'F'}

// ELFCarver parses the ELF identification bytes to determine word size
// and endianness, then walks the program header and section header
// tables, taking the furthest (offset+size) among the header tables
// themselves and every section as the file's true extent.
type ELFCarver struct {
	MinSize, MaxSize uint64
}

func (c *ELFCarver) FileType() string  { return "elf" }
func (c *ELFCarver) Extension() string { return "elf" }

func (c *ELFCarver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	ident, err := ReadExactAt(ctx, hit.GlobalOffset, 16)
	if err != nil || !bytesEqual(ident[0:4], elfMagic) {
		return nil, nil
	}
	is64 := ident[4] == 2
	if !is64 && ident[4] != 1 {
		return nil, nil
	}
	var bo binary.ByteOrder = binary.LittleEndian
	if ident[5] == 2 {
		bo = binary.BigEndian
	} else if ident[5] != 1 {
		return nil, nil
	}

	var ehsize int
	if is64 {
		ehsize = 64
	} else {
		ehsize = 52
	}
	eh, err := ReadExactAt(ctx, hit.GlobalOffset, ehsize)
	if err != nil {
		return nil, nil
	}

	var phoff, shoff uint64
	var phentsize, phnum, shentsize, shnum uint16
	if is64 {
		phoff = bo.Uint64(eh[32:40])
		shoff = bo.Uint64(eh[40:48])
		phentsize = bo.Uint16(eh[54:56])
		phnum = bo.Uint16(eh[56:58])
		shentsize = bo.Uint16(eh[58:60])
		shnum = bo.Uint16(eh[60:62])
	} else {
		phoff = uint64(bo.Uint32(eh[28:32]))
		shoff = uint64(bo.Uint32(eh[32:36]))
		phentsize = bo.Uint16(eh[42:44])
		phnum = bo.Uint16(eh[44:46])
		shentsize = bo.Uint16(eh[46:48])
		shnum = bo.Uint16(eh[48:50])
	}

	maxSeen := uint64(ehsize)
	if end := phoff + uint64(phentsize)*uint64(phnum); end > maxSeen {
		maxSeen = end
	}
	if end := shoff + uint64(shentsize)*uint64(shnum); end > maxSeen {
		maxSeen = end
	}

	truncated := false
	for i := uint16(0); i < shnum; i++ {
		sh, err := ReadExactAt(ctx, hit.GlobalOffset+shoff+uint64(i)*uint64(shentsize), int(shentsize))
		if err != nil {
			truncated = true
			break
		}
		var shType uint32
		var shOffset, shSize uint64
		if is64 {
			shType = bo.Uint32(sh[4:8])
			shOffset = bo.Uint64(sh[24:32])
			shSize = bo.Uint64(sh[32:40])
		} else {
			shType = bo.Uint32(sh[4:8])
			shOffset = uint64(bo.Uint32(sh[16:20]))
			shSize = uint64(bo.Uint32(sh[20:24]))
		}
		if shType == 8 { // SHT_NOBITS occupies no file space
			continue
		}
		if end := shOffset + shSize; end > maxSeen {
			maxSeen = end
		}
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
		errs = append(errs, "section header table referenced data past max_size/EOF")
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
