package carve

import (
	"encoding/hex"
	"fmt"

	glob "github.com/ryanuber/go-glob"

	"github.com/kenchrcum/forensic-carver/internal/config"
	"github.com/kenchrcum/forensic-carver/internal/scanner"
)

// matchesAllow reports whether id matches any entry in allow, treating
// each entry as a glob pattern (e.g. "sqlite*" covers sqlite,
// sqlite-wal, sqlite-page) so --types can select a whole family of
// related carvers without spelling each one out.
func matchesAllow(id string, allow []string) bool {
	for _, pattern := range allow {
		if glob.Glob(pattern, id) {
			return true
		}
	}
	return false
}

// DefaultCarvers returns one instance of every built-in carver, with
// min/max sizes pulled from matching file_type entries in cfg (falling
// back to permissive defaults when a format has no corresponding entry).
func DefaultCarvers(cfg *config.Config) []Carver {
	bounds := make(map[string]config.FileTypeConfig, len(cfg.FileTypes))
	for _, ft := range cfg.FileTypes {
		bounds[ft.ID] = ft
	}
	size := func(id string, defaultMin, defaultMax uint64) (uint64, uint64) {
		if ft, ok := bounds[id]; ok {
			min, max := ft.MinSize, ft.MaxSize
			if min == 0 {
				min = defaultMin
			}
			if max == 0 {
				max = defaultMax
			}
			return min, max
		}
		return defaultMin, defaultMax
	}

	const gib = 1 << 30
	jpegMin, jpegMax := size("jpeg", 128, 512*(1<<20))
	pngMin, pngMax := size("png", 64, 512*(1<<20))
	gifMin, gifMax := size("gif", 32, 512*(1<<20))
	wavMin, wavMax := size("wav", 44, 4*gib)
	aviMin, aviMax := size("avi", 56, 4*gib)
	webpMin, webpMax := size("webp", 20, 512*(1<<20))
	bmpMin, bmpMax := size("bmp", 54, 512*(1<<20))
	icoMin, icoMax := size("ico", 22, 32*(1<<20))
	emlMin, emlMax := size("eml", 32, 256*(1<<20))
	pdfMin, pdfMax := size("pdf", 128, 1<<30)
	xzMin, xzMax := size("xz", 32, 1<<30)
	bzip2Min, bzip2Max := size("bzip2", 14, 1<<30)
	zipMin, zipMax := size("zip", 22, 1<<30)
	sqliteMin, sqliteMax := size("sqlite", 512, 1<<30)
	walMin, walMax := size("sqlite-wal", 32, 1<<30)
	pageMin, pageMax := size("sqlite-page", 512, 65536)
	oleMin, oleMax := size("ole", 512, 1<<30)
	tarMin, tarMax := size("tar", 512, 1<<30)
	oggMin, oggMax := size("ogg", 27, 1<<30)
	webmMin, webmMax := size("webm", 40, 4*gib)
	rarMin, rarMax := size("rar", 20, 4*gib)
	tiffMin, tiffMax := size("tiff", 8, 512*(1<<20))
	elfMin, elfMax := size("elf", 52, 1<<30)
	mobiMin, mobiMax := size("mobi", 78, 256*(1<<20))
	sevenzMin, sevenzMax := size("7z", 32, 1<<30)
	lrfMin, lrfMax := size("lrf", 32, 256*(1<<20))
	wmvMin, wmvMax := size("wmv", 30, 4*gib)
	rtfMin, rtfMax := size("rtf", 16, 256*(1<<20))
	fb2Min, fb2Max := size("fb2", 64, 128*(1<<20))
	gzipMin, gzipMax := size("gzip", 18, 1<<30)
	movMin, movMax := size("mov", 16, 4*gib)
	mp3Min, mp3Max := size("mp3", 32, 512*(1<<20))

	waveCarver := NewWAVCarver(wavMin, wavMax)
	aviCarver := NewAVICarver(aviMin, aviMax)
	webpCarver := NewWEBPCarver(webpMin, webpMax)

	return []Carver{
		&JPEGCarver{MinSize: jpegMin, MaxSize: jpegMax},
		&PNGCarver{MinSize: pngMin, MaxSize: pngMax},
		&GIFCarver{MinSize: gifMin, MaxSize: gifMax},
		waveCarver,
		aviCarver,
		webpCarver,
		&BMPCarver{MinSize: bmpMin, MaxSize: bmpMax},
		&ICOCarver{MinSize: icoMin, MaxSize: icoMax},
		&EMLCarver{MinSize: emlMin, MaxSize: emlMax},
		NewPDFCarver(pdfMin, pdfMax),
		NewXZCarver(xzMin, xzMax),
		NewBZIP2Carver(bzip2Min, bzip2Max),
		&ZIPCarver{MinSize: zipMin, MaxSize: zipMax},
		&SQLiteCarver{MinSize: sqliteMin, MaxSize: sqliteMax},
		&SQLiteWALCarver{MinSize: walMin, MaxSize: walMax, MaxConsecutiveMismatches: 1},
		&SQLiteOrphanPageCarver{MinSize: pageMin, MaxSize: pageMax},
		&OLECarver{MinSize: oleMin, MaxSize: oleMax},
		&TARCarver{MinSize: tarMin, MaxSize: tarMax},
		&OGGCarver{MinSize: oggMin, MaxSize: oggMax},
		&WEBMCarver{MinSize: webmMin, MaxSize: webmMax},
		&RARCarver{MinSize: rarMin, MaxSize: rarMax},
		&TIFFCarver{MinSize: tiffMin, MaxSize: tiffMax},
		&ELFCarver{MinSize: elfMin, MaxSize: elfMax},
		&MOBICarver{MinSize: mobiMin, MaxSize: mobiMax},
		&SevenZCarver{MinSize: sevenzMin, MaxSize: sevenzMax},
		&LRFCarver{MinSize: lrfMin, MaxSize: lrfMax},
		&WMVCarver{MinSize: wmvMin, MaxSize: wmvMax},
		&RTFCarver{MinSize: rtfMin, MaxSize: rtfMax},
		&FB2Carver{MinSize: fb2Min, MaxSize: fb2Max},
		&GZIPCarver{MinSize: gzipMin, MaxSize: gzipMax},
		&MOVCarver{MinSize: movMin, MaxSize: movMax},
		&MP3Carver{MinSize: mp3Min, MaxSize: mp3Max},
	}
}

// FilterByTypes restricts carvers to the file-type IDs matching any glob
// in allow (the CLI's --types flag, e.g. "jpeg,sqlite*"). An empty allow
// list is treated as "allow everything."
func FilterByTypes(carvers []Carver, allow []string) []Carver {
	if len(allow) == 0 {
		return carvers
	}
	out := make([]Carver, 0, len(carvers))
	for _, c := range carvers {
		if matchesAllow(c.FileType(), allow) {
			out = append(out, c)
		}
	}
	return out
}

// FilterPatternsByTypes applies the same allow-list globs to a pattern
// table, so the scanner never reports hits for a file type the registry
// no longer carves.
func FilterPatternsByTypes(patterns []scanner.Pattern, allow []string) []scanner.Pattern {
	if len(allow) == 0 {
		return patterns
	}
	out := make([]scanner.Pattern, 0, len(patterns))
	for _, p := range patterns {
		if matchesAllow(p.FileTypeID, allow) {
			out = append(out, p)
		}
	}
	return out
}

// DefaultPatterns returns the header-signature table for the built-in
// carvers, keyed to each carver's FileType() so the scanner's hit stream
// lines up 1:1 with Registry.Get.
func DefaultPatterns() []scanner.Pattern {
	return []scanner.Pattern{
		{ID: "jpeg", FileTypeID: "jpeg", Bytes: []byte{0xFF, 0xD8, 0xFF}},
		{ID: "png", FileTypeID: "png", Bytes: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}},
		{ID: "gif87a", FileTypeID: "gif", Bytes: []byte("GIF87a")},
		{ID: "gif89a", FileTypeID: "gif", Bytes: []byte("GIF89a")},
		{ID: "wav", FileTypeID: "wav", Bytes: []byte("RIFF")},
		{ID: "avi", FileTypeID: "avi", Bytes: []byte("RIFF")},
		{ID: "webp", FileTypeID: "webp", Bytes: []byte("RIFF")},
		{ID: "bmp", FileTypeID: "bmp", Bytes: []byte("BM")},
		{ID: "ico", FileTypeID: "ico", Bytes: []byte{0x00, 0x00, 0x01, 0x00}},
		{ID: "eml_from", FileTypeID: "eml", Bytes: []byte("From:")},
		{ID: "eml_received", FileTypeID: "eml", Bytes: []byte("Received:")},
		{ID: "pdf", FileTypeID: "pdf", Bytes: []byte("%PDF-")},
		{ID: "xz", FileTypeID: "xz", Bytes: []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}},
		{ID: "bzip2", FileTypeID: "bzip2", Bytes: []byte("BZh")},
		{ID: "zip", FileTypeID: "zip", Bytes: []byte{'P', 'K', 0x03, 0x04}},
		{ID: "sqlite", FileTypeID: "sqlite", Bytes: []byte("SQLite format 3\x00")},
		{ID: "sqlite-wal-le", FileTypeID: "sqlite-wal", Bytes: []byte{0x37, 0x7F, 0x06, 0x82}},
		{ID: "sqlite-wal-be", FileTypeID: "sqlite-wal", Bytes: []byte{0x37, 0x7F, 0x06, 0x83}},
		{ID: "ole", FileTypeID: "ole", Bytes: []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}},
		{ID: "tar-ustar", FileTypeID: "tar", Bytes: []byte("ustar")},
		{ID: "ogg", FileTypeID: "ogg", Bytes: []byte("OggS")},
		{ID: "webm", FileTypeID: "webm", Bytes: []byte{0x1A, 0x45, 0xDF, 0xA3}},
		{ID: "rar4", FileTypeID: "rar", Bytes: []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}},
		{ID: "rar5", FileTypeID: "rar", Bytes: []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00}},
		{ID: "tiff-le", FileTypeID: "tiff", Bytes: []byte{'I', 'I', 42, 0}},
		{ID: "tiff-be", FileTypeID: "tiff", Bytes: []byte{'M', 'M', 0, 42}},
		{ID: "elf", FileTypeID: "elf", Bytes: []byte{0x7F, 'E', 'L', 'F'}},
		{ID: "mobi", FileTypeID: "mobi", Bytes: []byte("BOOKMOBI")},
		{ID: "7z", FileTypeID: "7z", Bytes: []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}},
		{ID: "lrf", FileTypeID: "lrf", Bytes: []byte{0x4C, 0x52, 0x46, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{ID: "wmv", FileTypeID: "wmv", Bytes: []byte{0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11, 0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C}},
		{ID: "rtf", FileTypeID: "rtf", Bytes: []byte(`{\rtf1`)},
		{ID: "fb2", FileTypeID: "fb2", Bytes: []byte("<FictionBook")},
		{ID: "gzip", FileTypeID: "gzip", Bytes: []byte{0x1F, 0x8B, 0x08}},
		{ID: "mov-ftyp", FileTypeID: "mov", Bytes: []byte("ftyp")},
		{ID: "mp3-id3", FileTypeID: "mp3", Bytes: []byte("ID3")},
	}
}

// BuildPatterns compiles the scanner's full pattern table: the built-in
// signatures, the orphan-page signatures when page recovery is enabled,
// and every header pattern declared in the configuration's file_types
// list. A config pattern whose ID matches a built-in pattern overrides
// the built-in's bytes (so a deployment can tighten, say, the generic
// RIFF needle); new IDs are appended and route to their entry's file
// type.
func BuildPatterns(cfg *config.Config) ([]scanner.Pattern, error) {
	patterns := DefaultPatterns()
	if cfg.EnableSQLitePageRecovery {
		patterns = append(patterns, PageRecoveryPatterns()...)
	}
	index := make(map[string]int, len(patterns))
	for i, p := range patterns {
		index[p.ID] = i
	}
	for _, ft := range cfg.FileTypes {
		for _, pc := range ft.HeaderPatterns {
			raw, err := hex.DecodeString(pc.Hex)
			if err != nil || len(raw) == 0 {
				return nil, fmt.Errorf("carve: file_types[%s]: header pattern %q: invalid hex %q", ft.ID, pc.ID, pc.Hex)
			}
			p := scanner.Pattern{ID: pc.ID, FileTypeID: ft.ID, Bytes: raw}
			if i, ok := index[pc.ID]; ok {
				patterns[i] = p
				continue
			}
			index[pc.ID] = len(patterns)
			patterns = append(patterns, p)
		}
	}
	return patterns, nil
}

// ConfigCarvers builds a footer-generic carver for every file_types
// entry whose id is not a built-in carver. Entries that name a built-in
// id contribute size bounds (applied in DefaultCarvers) and extra
// header patterns (applied in BuildPatterns) but no new carver. A
// custom entry must declare at least one footer pattern, since the
// generic strategy has no other way to find an end.
func ConfigCarvers(cfg *config.Config) ([]Carver, error) {
	builtin := make(map[string]bool)
	for _, c := range DefaultCarvers(cfg) {
		builtin[c.FileType()] = true
	}

	var out []Carver
	for _, ft := range cfg.FileTypes {
		if builtin[ft.ID] {
			continue
		}
		if len(ft.FooterPatterns) == 0 {
			return nil, fmt.Errorf("carve: file_types[%s]: custom type needs at least one footer pattern", ft.ID)
		}
		var headers, footers [][]byte
		for _, pc := range ft.HeaderPatterns {
			raw, err := hex.DecodeString(pc.Hex)
			if err != nil || len(raw) == 0 {
				return nil, fmt.Errorf("carve: file_types[%s]: header pattern %q: invalid hex %q", ft.ID, pc.ID, pc.Hex)
			}
			headers = append(headers, raw)
		}
		for _, pc := range ft.FooterPatterns {
			raw, err := hex.DecodeString(pc.Hex)
			if err != nil || len(raw) == 0 {
				return nil, fmt.Errorf("carve: file_types[%s]: footer pattern %q: invalid hex %q", ft.ID, pc.ID, pc.Hex)
			}
			footers = append(footers, raw)
		}
		ext := ft.ID
		if len(ft.Extensions) > 0 {
			ext = SanitizeExtension(ft.Extensions[0])
		}
		out = append(out, &FooterCarver{
			TypeID: ft.ID, Ext: ext,
			MinSize: ft.MinSize, MaxSize: ft.MaxSize,
			HeaderPatterns: headers,
			FooterPatterns: footers,
		})
	}
	return out, nil
}

// PageRecoveryPatterns returns the orphan-page signatures that route to
// the sqlite-page carver: the table-leaf (0x0D) and index-leaf (0x0A)
// page-type bytes, the first byte of a b-tree page. They are kept out of
// DefaultPatterns because a single-byte needle fires on every CR or LF
// in plain text; enable_sqlite_page_recovery opts into that scan cost,
// and the carver's structural validation then rejects the false
// positives before anything is written.
func PageRecoveryPatterns() []scanner.Pattern {
	return []scanner.Pattern{
		{ID: "sqlite-leaf-table", FileTypeID: "sqlite-page", Bytes: []byte{0x0D}},
		{ID: "sqlite-leaf-index", FileTypeID: "sqlite-page", Bytes: []byte{0x0A}},
	}
}
