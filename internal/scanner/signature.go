// Package scanner finds header signatures, printable-string artefacts,
// and high-entropy regions inside a chunk buffer. The default signature
// scan is a plain CPU byte search; an optional accelerated backend
// (gated by hardware detection, see accel.go) implements the same
// contract and falls back transparently on any failure.
package scanner

import (
	"fmt"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

// Pattern is a compiled header or footer byte pattern.
type Pattern struct {
	ID         string
	FileTypeID string
	Bytes      []byte
}

// CompilePatterns validates and returns the set of scannable patterns.
// An empty byte sequence is rejected at build time.
func CompilePatterns(raw []struct {
	ID, FileTypeID string
	Bytes          []byte
}) ([]Pattern, error) {
	out := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		if len(r.Bytes) == 0 {
			return nil, fmt.Errorf("scanner: pattern %s/%s has empty byte sequence", r.FileTypeID, r.ID)
		}
		out = append(out, Pattern{ID: r.ID, FileTypeID: r.FileTypeID, Bytes: r.Bytes})
	}
	return out, nil
}

// Scanner finds configured byte patterns inside a chunk buffer.
type Scanner struct {
	patterns []Pattern
	accel    *accelBackend // nil if hardware acceleration unavailable/disabled
}

// New builds a Scanner over the given patterns. useAccel requests the
// hardware-accelerated backend; it is silently ignored if the current
// CPU doesn't support it (see ProbeHardware).
func New(patterns []Pattern, useAccel bool) *Scanner {
	s := &Scanner{patterns: patterns}
	if useAccel {
		s.accel = newAccelBackend(patterns)
	}
	return s
}

// ScanChunk finds every pattern match inside data, returning Hits with
// LocalOffset relative to the start of data. Overlapping matches at
// different offsets are all reported; ChunkID must be filled in by the
// caller if not already zero-valued appropriately.
func (s *Scanner) ScanChunk(chunkID uint64, data []byte) []model.Hit {
	if s.accel != nil {
		if hits, ok := s.accel.scan(chunkID, data); ok {
			return hits
		}
		// Accelerated backend failed (e.g. device error): fall through to
		// the portable CPU path below rather than losing the chunk.
	}
	return s.scanCPU(chunkID, data)
}

// scanCPU is the default implementation: a fast first-byte search to
// skip ahead, followed by a byte-wise comparison of the full pattern.
// This is the baseline every backend must match in results, not just in
// throughput.
func (s *Scanner) scanCPU(chunkID uint64, data []byte) []model.Hit {
	var hits []model.Hit
	for _, p := range s.patterns {
		first := p.Bytes[0]
		plen := len(p.Bytes)
		if plen > len(data) {
			continue
		}
		limit := len(data) - plen
		for i := 0; i <= limit; i++ {
			if data[i] != first {
				continue
			}
			if matchesAt(data, i, p.Bytes) {
				hits = append(hits, model.Hit{
					ChunkID:     chunkID,
					LocalOffset: uint64(i),
					PatternID:   p.ID,
					FileTypeID:  p.FileTypeID,
				})
			}
		}
	}
	return hits
}

func matchesAt(data []byte, at int, pattern []byte) bool {
	if at+len(pattern) > len(data) {
		return false
	}
	for j := 1; j < len(pattern); j++ {
		if data[at+j] != pattern[j] {
			return false
		}
	}
	return true
}
