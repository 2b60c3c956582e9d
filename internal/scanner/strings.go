package scanner

import (
	"regexp"
	"unicode/utf8"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

// MinStringLen is the shortest printable run worth reporting.
const MinStringLen = 6

var (
	urlPattern   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"'<>]{4,}`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9().\-\s]{7,}[0-9]`)
)

// FindStringSpans scans data for ASCII and UTF-16 printable runs of at
// least MinStringLen characters, returning spans with classification
// flags for URL/email/phone-like content.
func FindStringSpans(chunkID uint64, data []byte) []model.StringSpan {
	var spans []model.StringSpan
	spans = append(spans, findASCIIRuns(chunkID, data)...)
	spans = append(spans, findUTF16Runs(chunkID, data, true)...)
	spans = append(spans, findUTF16Runs(chunkID, data, false)...)
	return spans
}

func isPrintable(b byte) bool {
	return (b >= 0x20 && b < 0x7f) || b == '\t'
}

func findASCIIRuns(chunkID uint64, data []byte) []model.StringSpan {
	var spans []model.StringSpan
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if end-start >= MinStringLen {
			spans = append(spans, classify(chunkID, uint64(start), data[start:end], 0))
		}
		start = -1
	}
	for i, b := range data {
		if isPrintable(b) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(data))
	return spans
}

func findUTF16Runs(chunkID uint64, data []byte, little bool) []model.StringSpan {
	var spans []model.StringSpan
	start := -1
	flag := model.FlagUTF16BE
	if little {
		flag = model.FlagUTF16LE
	}

	flush := func(end int) {
		if start < 0 {
			return
		}
		if end-start >= MinStringLen*2 {
			spans = append(spans, classify(chunkID, uint64(start), decodeUTF16Slice(data[start:end], little), flag))
		}
		start = -1
	}

	for i := 0; i+1 < len(data); i += 2 {
		lo, hi := data[i], data[i+1]
		var codeUnit uint16
		if little {
			codeUnit = uint16(hi)<<8 | uint16(lo)
		} else {
			codeUnit = uint16(lo)<<8 | uint16(hi)
		}
		if codeUnit < 0x20 || codeUnit > 0x7e {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(data))
	return spans
}

func decodeUTF16Slice(data []byte, little bool) []byte {
	out := make([]byte, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		var c byte
		if little {
			c = data[i]
		} else {
			c = data[i+1]
		}
		out = append(out, c)
	}
	return out
}

func classify(chunkID uint64, localStart uint64, text []byte, baseFlags uint32) model.StringSpan {
	flags := baseFlags
	if utf8.Valid(text) {
		s := string(text)
		if urlPattern.Match(text) {
			flags |= model.FlagURLLike
		}
		if emailPattern.MatchString(s) {
			flags |= model.FlagEmailLike
		}
		if phonePattern.Match(text) {
			flags |= model.FlagPhoneLike
		}
	}
	return model.StringSpan{
		ChunkID:    chunkID,
		LocalStart: localStart,
		Length:     uint64(len(text)),
		Flags:      flags,
	}
}
