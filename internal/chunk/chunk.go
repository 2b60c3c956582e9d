// Package chunk partitions an evidence stream into overlapping scan
// windows so that header signatures straddling a chunk boundary are
// always fully contained in some chunk's read window, while still being
// reported exactly once.
package chunk

import "github.com/kenchrcum/forensic-carver/internal/model"

// Plan produces the ordered sequence of chunks covering [0, totalLen)
// for the given chunkSize and overlap. chunkSize must be > 0; overlap may
// be 0 (no boundary protection).
//
// For every chunk: Start is a multiple of chunkSize, Length =
// min(totalLen-Start, chunkSize+overlap), and ValidLength =
// min(totalLen-Start, chunkSize). Consecutive chunks' read windows
// overlap by exactly `overlap` bytes whenever both are full-sized.
func Plan(totalLen, chunkSize, overlap uint64) []model.ScanChunk {
	if chunkSize == 0 || totalLen == 0 {
		return nil
	}

	var chunks []model.ScanChunk
	var id uint64
	for start := uint64(0); start < totalLen; start += chunkSize {
		remaining := totalLen - start
		length := chunkSize + overlap
		if length > remaining {
			length = remaining
		}
		validLength := chunkSize
		if validLength > remaining {
			validLength = remaining
		}
		chunks = append(chunks, model.ScanChunk{
			ID:          id,
			Start:       start,
			Length:      length,
			ValidLength: validLength,
		})
		id++
	}
	return chunks
}

// Count returns the number of chunks Plan would produce, without
// allocating the slice; used by the driver to size progress reporting.
func Count(totalLen, chunkSize uint64) uint64 {
	if chunkSize == 0 || totalLen == 0 {
		return 0
	}
	n := totalLen / chunkSize
	if totalLen%chunkSize != 0 {
		n++
	}
	return n
}
