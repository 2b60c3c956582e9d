package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenchrcum/forensic-carver/internal/carve"
	"github.com/kenchrcum/forensic-carver/internal/checkpoint"
	"github.com/kenchrcum/forensic-carver/internal/config"
	"github.com/kenchrcum/forensic-carver/internal/evidence"
	"github.com/kenchrcum/forensic-carver/internal/metadata"
	"github.com/kenchrcum/forensic-carver/internal/model"
)

// captureSink is an in-memory metadata.Sink test double, collecting every
// event published during a run for inspection.
type captureSink struct {
	mu     sync.Mutex
	events []*metadata.Event
}

func (s *captureSink) WriteEvent(e *metadata.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) carvedFiles() []*model.CarvedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CarvedFile
	for _, e := range s.events {
		if e.Kind == metadata.KindCarvedFile {
			out = append(out, e.CarvedFile)
		}
	}
	return out
}

func (s *captureSink) summary() *model.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Summary != nil {
			return s.events[i].Summary
		}
	}
	return nil
}

func minimalJPEGBytes(size int) []byte {
	buf := make([]byte, size)
	copy(buf, []byte{0xFF, 0xD8, 0xFF, 0xE0, 'J', 'F', 'I', 'F', 0x00})
	buf[size-2] = 0xFF
	buf[size-1] = 0xD9
	return buf
}

func jpegOnlyDriver(cfg *config.Config, sink metadata.Sink, cp checkpoint.Store) *Driver {
	patterns := carve.FilterPatternsByTypes(carve.DefaultPatterns(), []string{"jpeg"})
	registry := carve.NewRegistry(&carve.JPEGCarver{})
	bus := metadata.NewBus(sink, 16)
	return NewDriver(cfg, registry, patterns, bus, cp, nil, nil, nil, nil, nil)
}

func TestDriver_Run_CarvesAllHits(t *testing.T) {
	data := make([]byte, 256)
	copy(data[10:], minimalJPEGBytes(32))
	copy(data[150:], minimalJPEGBytes(32))
	src := evidence.NewMemorySource(data)

	cfg := config.Default()
	cfg.ChunkSizeMiB = 1
	cfg.Workers = 2

	sink := &captureSink{}
	d := jpegOnlyDriver(cfg, sink, nil)

	summary, err := d.Run(src, "run-a", t.TempDir(), nil)
	require.NoError(t, err)
	require.NotNil(t, summary)

	require.NoError(t, d.bus.Close())

	files := sink.carvedFiles()
	require.Len(t, files, 2)

	starts := map[uint64]bool{}
	for _, f := range files {
		starts[f.GlobalStart] = true
		assert.Equal(t, "jpeg", f.FileType)
		assert.True(t, f.Validated)
	}
	assert.True(t, starts[10])
	assert.True(t, starts[150])
	assert.Equal(t, uint64(2), summary.FilesCarved)
	assert.False(t, summary.Cancelled)
}

func TestDriver_Run_EmptyEvidenceProducesNoWork(t *testing.T) {
	src := evidence.NewMemorySource(nil)
	cfg := config.Default()
	cfg.ChunkSizeMiB = 1

	sink := &captureSink{}
	d := jpegOnlyDriver(cfg, sink, nil)

	summary, err := d.Run(src, "run-empty", t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, d.bus.Close())

	assert.Empty(t, sink.carvedFiles())
	assert.Equal(t, uint64(0), summary.HitsFound)
	assert.Equal(t, uint64(0), summary.FilesCarved)
}

func TestDriver_Run_CancelledBeforeFirstChunkYieldsNoWork(t *testing.T) {
	data := make([]byte, 256)
	copy(data[10:], minimalJPEGBytes(32))
	src := evidence.NewMemorySource(data)

	cfg := config.Default()
	cfg.ChunkSizeMiB = 1

	sink := &captureSink{}
	d := jpegOnlyDriver(cfg, sink, nil)
	d.Cancel()

	summary, err := d.Run(src, "run-cancel", t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, d.bus.Close())

	assert.Empty(t, sink.carvedFiles())
	assert.True(t, summary.Cancelled)
}

// TestDriver_Run_ResumeSkipsAlreadyCoveredChunks: two images, one per
// 1 MiB chunk; a first run bounded to one chunk
// carves only the first image and checkpoints past it, and a second run
// resuming from that checkpoint carves only the second.
func TestDriver_Run_ResumeSkipsAlreadyCoveredChunks(t *testing.T) {
	const chunkBytes = 1 << 20
	data := make([]byte, 2*chunkBytes)
	copy(data[0:], minimalJPEGBytes(32))
	copy(data[chunkBytes:], minimalJPEGBytes(32))
	src := evidence.NewMemorySource(data)

	cfg := config.Default()
	cfg.ChunkSizeMiB = 1
	cfg.Workers = 1
	outputRoot := t.TempDir()
	cpPath := outputRoot + "/checkpoint.json"
	cp := checkpoint.NewFileStore(cpPath)

	oneChunk := uint64(1)
	cfg.MaxChunks = &oneChunk

	sink1 := &captureSink{}
	d1 := jpegOnlyDriver(cfg, sink1, cp)
	_, err := d1.Run(src, "run-1", outputRoot, nil)
	require.NoError(t, err)
	require.NoError(t, d1.bus.Close())

	files1 := sink1.carvedFiles()
	require.Len(t, files1, 1)
	assert.Equal(t, uint64(0), files1[0].GlobalStart)

	state, err := cp.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(chunkBytes), state.NextOffset)

	cfg.MaxChunks = nil
	sink2 := &captureSink{}
	d2 := jpegOnlyDriver(cfg, sink2, cp)
	_, err = d2.Run(src, "run-2", outputRoot, state)
	require.NoError(t, err)
	require.NoError(t, d2.bus.Close())

	files2 := sink2.carvedFiles()
	require.Len(t, files2, 1)
	assert.Equal(t, uint64(chunkBytes), files2[0].GlobalStart)
}

// TestDriver_Run_MaxFilesCheckpointDoesNotSkipUncarvedChunks covers the
// race where the driver outruns the carve workers: with max_files=1 the
// driver may have sent every chunk before the first file finishes
// carving, but the checkpoint must still land on the boundary after the
// file that hit the limit, so a resumed run re-covers the dropped hits.
func TestDriver_Run_MaxFilesCheckpointDoesNotSkipUncarvedChunks(t *testing.T) {
	const chunkBytes = 1 << 20
	data := make([]byte, 2*chunkBytes)
	copy(data[0:], minimalJPEGBytes(32))
	copy(data[chunkBytes+100:], minimalJPEGBytes(32))
	src := evidence.NewMemorySource(data)

	cfg := config.Default()
	cfg.ChunkSizeMiB = 1
	cfg.Workers = 1
	outputRoot := t.TempDir()
	cp := checkpoint.NewFileStore(outputRoot + "/checkpoint.json")

	oneFile := uint64(1)
	cfg.MaxFiles = &oneFile

	sink1 := &captureSink{}
	d1 := jpegOnlyDriver(cfg, sink1, cp)
	_, err := d1.Run(src, "run-1", outputRoot, nil)
	require.NoError(t, err)
	require.NoError(t, d1.bus.Close())

	files1 := sink1.carvedFiles()
	require.Len(t, files1, 1)
	assert.Equal(t, uint64(0), files1[0].GlobalStart)

	state, err := cp.Load()
	require.NoError(t, err)
	assert.LessOrEqual(t, state.NextOffset, uint64(chunkBytes))

	cfg.MaxFiles = nil
	sink2 := &captureSink{}
	d2 := jpegOnlyDriver(cfg, sink2, cp)
	_, err = d2.Run(src, "run-2", outputRoot, state)
	require.NoError(t, err)
	require.NoError(t, d2.bus.Close())

	starts := map[uint64]bool{}
	for _, f := range sink2.carvedFiles() {
		starts[f.GlobalStart] = true
	}
	assert.True(t, starts[chunkBytes+100])
}
