package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_CoversWholeRangeWithOverlap(t *testing.T) {
	const (
		total     = 200
		chunkSize = 64
		overlap   = 8
	)
	chunks := Plan(total, chunkSize, overlap)
	require.NotEmpty(t, chunks)

	var coveredEnd uint64
	for i, c := range chunks {
		assert.Equal(t, uint64(i), c.ID)
		assert.Zero(t, c.Start%chunkSize, "chunk start must be a multiple of chunk_size")
		assert.LessOrEqual(t, c.ValidLength, c.Length)
		assert.Equal(t, coveredEnd, c.Start, "valid regions must tile [0, total) with no gap or overlap")
		coveredEnd = c.Start + c.ValidLength

		remaining := total - c.Start
		wantLength := uint64(chunkSize + overlap)
		if wantLength > remaining {
			wantLength = remaining
		}
		assert.Equal(t, wantLength, c.Length)

		wantValid := uint64(chunkSize)
		if wantValid > remaining {
			wantValid = remaining
		}
		assert.Equal(t, wantValid, c.ValidLength)

		if i+1 < len(chunks) {
			next := chunks[i+1]
			// Both full-sized chunks: tail of this chunk's read window
			// overlaps the head of the next by exactly `overlap` bytes.
			if c.Length == chunkSize+overlap {
				thisEnd := c.Start + c.Length
				assert.Equal(t, uint64(overlap), thisEnd-next.Start)
			}
		}
	}
	assert.Equal(t, uint64(total), coveredEnd)
}

func TestPlan_EmptyEvidence(t *testing.T) {
	assert.Empty(t, Plan(0, 64, 8))
}

func TestPlan_ZeroChunkSize(t *testing.T) {
	assert.Empty(t, Plan(100, 0, 8))
}

func TestPlan_ExactMultiple(t *testing.T) {
	chunks := Plan(128, 64, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, uint64(0), chunks[0].Start)
	assert.Equal(t, uint64(64), chunks[0].Length)
	assert.Equal(t, uint64(64), chunks[1].Start)
	assert.Equal(t, uint64(64), chunks[1].Length)
}

func TestPlan_SingleByteTail(t *testing.T) {
	chunks := Plan(65, 64, 8)
	require.Len(t, chunks, 2)
	assert.Equal(t, uint64(65), chunks[0].Length) // capped by remaining, not chunkSize+overlap
	assert.Equal(t, uint64(64), chunks[0].ValidLength)
	assert.Equal(t, uint64(1), chunks[1].Length)
	assert.Equal(t, uint64(1), chunks[1].ValidLength)
}

func TestCount_MatchesPlanLength(t *testing.T) {
	for _, total := range []uint64{0, 1, 63, 64, 65, 200, 4096} {
		assert.Equal(t, uint64(len(Plan(total, 64, 8))), Count(total, 64))
	}
}
