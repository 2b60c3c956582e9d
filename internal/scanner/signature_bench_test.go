package scanner

import (
	"math/rand"
	"testing"
)

// Output of these benchmarks is the input `benchstat` compares across
// commits to catch scan-throughput regressions.

func randomChunk(n int) []byte {
	src := rand.New(rand.NewSource(1))
	buf := make([]byte, n)
	src.Read(buf)
	return buf
}

func BenchmarkScanChunk_NoMatches(b *testing.B) {
	patterns := []Pattern{
		{ID: "jpeg", FileTypeID: "jpeg", Bytes: []byte{0xFF, 0xD8, 0xFF}},
		{ID: "png", FileTypeID: "png", Bytes: []byte{0x89, 'P', 'N', 'G'}},
	}
	s := New(patterns, false)
	data := randomChunk(1 << 20)

	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.ScanChunk(0, data)
	}
}

func BenchmarkScanChunk_ManyPatterns(b *testing.B) {
	patterns := DefaultPatternsForBench()
	s := New(patterns, false)
	data := randomChunk(1 << 20)

	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.ScanChunk(0, data)
	}
}

// DefaultPatternsForBench holds 17 common header signatures of the kind
// carve.DefaultPatterns uses (a smaller table than that one), built here
// without importing internal/carve (which would import internal/scanner
// back).
func DefaultPatternsForBench() []Pattern {
	raw := [][]byte{
		{0xFF, 0xD8, 0xFF},
		{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A},
		[]byte("GIF87a"),
		[]byte("GIF89a"),
		[]byte("RIFF"),
		[]byte("BM"),
		{0x00, 0x00, 0x01, 0x00},
		[]byte("%PDF-"),
		{0xFD, '7', 'z', 'X', 'Z', 0x00},
		[]byte("BZh"),
		{'P', 'K', 0x03, 0x04},
		[]byte("SQLite format 3\x00"),
		{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1},
		[]byte("ustar"),
		[]byte("OggS"),
		{0x1A, 0x45, 0xDF, 0xA3},
		{0x7F, 'E', 'L', 'F'},
	}
	out := make([]Pattern, len(raw))
	for i, b := range raw {
		out[i] = Pattern{ID: "bench", FileTypeID: "bench", Bytes: b}
	}
	return out
}
