package scanner

import (
	"math"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

// EntropyDetector slides a fixed window across a buffer computing Shannon
// entropy over byte frequencies, emitting merged regions that exceed a
// threshold. It is advisory only and never influences carving.
type EntropyDetector struct {
	WindowSize int
	Threshold  float64
}

// NewEntropyDetector constructs a detector; windowSize must be > 0.
func NewEntropyDetector(windowSize int, threshold float64) *EntropyDetector {
	return &EntropyDetector{WindowSize: windowSize, Threshold: threshold}
}

// Scan computes entropy over non-overlapping windows of data, merging
// adjacent windows that both exceed the threshold into a single region.
// globalBase is the evidence offset of data[0].
func (d *EntropyDetector) Scan(globalBase uint64, data []byte) []model.EntropyRegion {
	if d.WindowSize <= 0 || len(data) < d.WindowSize {
		return nil
	}

	var regions []model.EntropyRegion
	var open *model.EntropyRegion

	for start := 0; start+d.WindowSize <= len(data); start += d.WindowSize {
		window := data[start : start+d.WindowSize]
		e := shannonEntropy(window)
		if e < d.Threshold {
			if open != nil {
				regions = append(regions, *open)
				open = nil
			}
			continue
		}

		gStart := globalBase + uint64(start)
		gEnd := globalBase + uint64(start+d.WindowSize) - 1
		if open != nil && open.GlobalEnd+1 == gStart {
			open.GlobalEnd = gEnd
			if e > open.Entropy {
				open.Entropy = e
			}
			continue
		}
		if open != nil {
			regions = append(regions, *open)
		}
		open = &model.EntropyRegion{
			GlobalStart: gStart,
			GlobalEnd:   gEnd,
			Entropy:     e,
			WindowSize:  d.WindowSize,
		}
	}
	if open != nil {
		regions = append(regions, *open)
	}
	return regions
}

func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	total := float64(len(data))
	var entropy float64
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
