package carve

import (
	"os"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

var mpegVersionTable = [4]float64{2.5, 0, 2, 1} // index by the 2-bit version ID (1 reserved)

var bitrateTableV1L3 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
var bitrateTableV1L2 = [16]int{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0}
var bitrateTableV1L1 = [16]int{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0}
var bitrateTableV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

var sampleRateTable = map[float64][3]int{
	1:   {44100, 48000, 32000},
	2:   {22050, 24000, 16000},
	2.5: {11025, 12000, 8000},
}

// MP3Carver walks consecutive MPEG audio frames: each 4-byte frame header
// encodes version, layer, bitrate, and sample rate indices that, combined
// with the padding bit, determine the exact frame length in bytes. The
// walk continues while each computed next-frame offset itself begins with
// a valid frame sync. When the hit lands on an ID3v2 tag, the tag (its
// 10-byte header, syncsafe-encoded body size, and optional 10-byte
// footer) is included in the output and the walk starts right after it.
type MP3Carver struct {
	MinSize, MaxSize uint64
}

func (c *MP3Carver) FileType() string  { return "mp3" }
func (c *MP3Carver) Extension() string { return "mp3" }

func (c *MP3Carver) ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error) {
	maxEnd := ctx.Evidence.Len()
	if c.MaxSize > 0 && hit.GlobalOffset+c.MaxSize < maxEnd {
		maxEnd = hit.GlobalOffset + c.MaxSize
	}

	offset := hit.GlobalOffset
	if id3 := ReadPrefix(ctx, offset, 10); len(id3) == 10 && string(id3[:3]) == "ID3" {
		tagSize := uint64(id3[6]&0x7F)<<21 | uint64(id3[7]&0x7F)<<14 | uint64(id3[8]&0x7F)<<7 | uint64(id3[9]&0x7F)
		offset += 10 + tagSize
		if id3[5]&0x10 != 0 {
			offset += 10
		}
	}
	frames := 0
	truncated := false
	for offset+4 <= maxEnd {
		header, err := ReadExactAt(ctx, offset, 4)
		if err != nil {
			truncated = true
			break
		}
		frameLen, ok := mp3FrameLength(header)
		if !ok {
			if frames == 0 {
				return nil, nil
			}
			break
		}
		if offset+frameLen > maxEnd {
			truncated = true
			break
		}
		offset += frameLen
		frames++
	}
	if frames == 0 {
		return nil, nil
	}

	total := offset - hit.GlobalOffset
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
		errs = append(errs, "frame walk ended before max_size/EOF")
	}
	globalEnd := hit.GlobalOffset
	if written > 0 {
		globalEnd = hit.GlobalOffset + written - 1
	}
	return &model.CarvedFile{
		RunID: ctx.RunID, FileType: c.FileType(), Extension: c.Extension(),
		RelativePath: relPath, GlobalStart: hit.GlobalOffset, GlobalEnd: globalEnd,
		Size: written, MD5: hexSum(md5h), SHA256: hexSum(sha256h),
		Validated: frames >= 2, Truncated: truncated, Errors: errs, PatternID: hit.PatternID,
	}, nil
}

// mp3FrameLength validates an MPEG audio frame header's sync word and
// reserved-value constraints and returns the frame's total length in
// bytes (header included).
func mp3FrameLength(h []byte) (uint64, bool) {
	if h[0] != 0xFF || h[1]&0xE0 != 0xE0 {
		return 0, false
	}
	versionID := (h[1] >> 3) & 0x03
	if versionID == 1 {
		return 0, false
	}
	version := mpegVersionTable[versionID]
	layerID := (h[1] >> 1) & 0x03
	if layerID == 0 {
		return 0, false
	}
	layer := 4 - int(layerID) // 1,2,3
	bitrateIdx := (h[2] >> 4) & 0x0F
	if bitrateIdx == 0 || bitrateIdx == 0x0F {
		return 0, false
	}
	sampleRateIdx := (h[2] >> 2) & 0x03
	if sampleRateIdx == 0x03 {
		return 0, false
	}
	padding := (h[2] >> 1) & 0x01

	rates, ok := sampleRateTable[version]
	if !ok {
		return 0, false
	}
	sampleRate := rates[sampleRateIdx]

	var bitrateKbps int
	switch {
	case version == 1 && layer == 1:
		bitrateKbps = bitrateTableV1L1[bitrateIdx]
	case version == 1 && layer == 2:
		bitrateKbps = bitrateTableV1L2[bitrateIdx]
	case version == 1 && layer == 3:
		bitrateKbps = bitrateTableV1L3[bitrateIdx]
	default:
		bitrateKbps = bitrateTableV2[bitrateIdx]
	}
	if bitrateKbps == 0 {
		return 0, false
	}
	bitrate := bitrateKbps * 1000

	var frameLen uint64
	if layer == 1 {
		frameLen = uint64((12*bitrate/sampleRate + int(padding)) * 4)
	} else {
		samplesPerFrame := 144
		if version != 1 && layer == 3 {
			samplesPerFrame = 72
		}
		frameLen = uint64(samplesPerFrame*bitrate/sampleRate + int(padding))
	}
	if frameLen < 4 {
		return 0, false
	}
	return frameLen, true
}
