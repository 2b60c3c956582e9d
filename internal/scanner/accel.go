package scanner

import (
	"runtime"

	"github.com/kenchrcum/forensic-carver/internal/model"
	"golang.org/x/sys/cpu"
)

// HasAcceleratedMatchSupport reports whether the current CPU has the
// wide-SIMD features the accelerated backend wants (AVX2 on amd64, or
// ASIMD on arm64, which is always present on arm64 so it's trivially
// true there). Detect first, let the caller's config flag only narrow
// what detection already allows, never widen it.
func HasAcceleratedMatchSupport() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAVX2
	case "arm64":
		return cpu.ARM64.HasASIMD
	default:
		return false
	}
}

// accelBackend marks matching positions into a binary mask per pattern
// and compacts the mask into Hit records, mirroring how a GPU/SIMD kernel
// would report results. This Go implementation is a widened-stride CPU
// emulation of that contract (not real SIMD intrinsics, which Go cannot
// express without cgo/asm): it exists so the pipeline has a second
// concrete implementation of the same scan contract that can fail
// independently of the primary one and fall back cleanly.
type accelBackend struct {
	patterns []Pattern
}

func newAccelBackend(patterns []Pattern) *accelBackend {
	if !HasAcceleratedMatchSupport() {
		return nil
	}
	return &accelBackend{patterns: patterns}
}

// scan returns (hits, true) on success, or (nil, false) if the
// accelerated path could not complete and the caller should fall back to
// scanCPU without losing the chunk.
func (b *accelBackend) scan(chunkID uint64, data []byte) ([]model.Hit, bool) {
	if b == nil {
		return nil, false
	}
	defer func() {
		// A panic here (e.g. a future real SIMD binding misbehaving on
		// unusual input) must not take down the worker; recovering and
		// reporting failure triggers the documented CPU fallback.
		_ = recover()
	}()

	var hits []model.Hit
	for _, p := range b.patterns {
		mask := markMatches(data, p.Bytes)
		for i, set := range mask {
			if set {
				hits = append(hits, model.Hit{
					ChunkID:     chunkID,
					LocalOffset: uint64(i),
					PatternID:   p.ID,
					FileTypeID:  p.FileTypeID,
				})
			}
		}
	}
	return hits, true
}

// markMatches builds a per-offset boolean mask of pattern match starts,
// the compaction step an accelerated kernel would perform on-device
// before copying results back to the host.
func markMatches(data, pattern []byte) []bool {
	plen := len(pattern)
	if plen == 0 || plen > len(data) {
		return nil
	}
	mask := make([]bool, len(data)-plen+1)
	first := pattern[0]
	for i := range mask {
		if data[i] != first {
			continue
		}
		match := true
		for j := 1; j < plen; j++ {
			if data[i+j] != pattern[j] {
				match = false
				break
			}
		}
		mask[i] = match
	}
	return mask
}
