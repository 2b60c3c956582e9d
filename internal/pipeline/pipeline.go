// Package pipeline wires the chunk planner, signature scanner, carve
// registry, and metadata bus into the driver/worker topology the engine
// runs as: one driver goroutine feeding N scan workers, whose hits feed N
// carve workers, whose string spans (when enabled) feed N string
// workers, all publishing to the single metadata thread. The driver is
// the only goroutine that polls for cancellation. Scan and string workers
// drain until their input channel closes; a carve worker does the same
// except that it exits as soon as max_files files have been carved.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"github.com/kenchrcum/forensic-carver/internal/audit"
	"github.com/kenchrcum/forensic-carver/internal/carve"
	"github.com/kenchrcum/forensic-carver/internal/checkpoint"
	"github.com/kenchrcum/forensic-carver/internal/chunk"
	"github.com/kenchrcum/forensic-carver/internal/config"
	"github.com/kenchrcum/forensic-carver/internal/evidence"
	"github.com/kenchrcum/forensic-carver/internal/metadata"
	"github.com/kenchrcum/forensic-carver/internal/metrics"
	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/kenchrcum/forensic-carver/internal/scanner"
)

const mib = 1 << 20

// Analyzer is implemented by the post-carve analysis package. It is
// invoked by a carve worker immediately after a database-like file is
// carved, and may itself publish additional metadata events (it is
// given the same bus the driver uses).
type Analyzer interface {
	Analyze(ctx *carve.ExtractionContext, file *model.CarvedFile, bus *metadata.Bus)
}

// ProgressSnapshot is handed to an optional ProgressReporter on the
// configured interval.
type ProgressSnapshot struct {
	RunID           string
	ChunksProcessed uint64
	TotalChunks     uint64
	BytesScanned    uint64
	EvidenceLen     uint64
	HitsFound       uint64
	FilesCarved     uint64
	Elapsed         time.Duration
}

// ProgressReporter receives periodic snapshots from the driver loop.
type ProgressReporter func(ProgressSnapshot)

// scanJob is what the driver sends on scan_queue: the chunk descriptor
// plus the bytes the driver already read for it.
type scanJob struct {
	chunk model.ScanChunk
	data  []byte
}

// stringJob is what a scan worker sends on string_queue: the span plus
// the chunk's buffer, so the string worker can slice without a second
// evidence read.
type stringJob struct {
	chunk model.ScanChunk
	data  []byte
	span  model.StringSpan
}

// Driver owns the channel topology and worker pool for a single run. It
// is not reusable across runs; build a fresh Driver per invocation.
type Driver struct {
	cfg      *config.Config
	registry *carve.Registry
	scan     *scanner.Scanner
	entropy  *scanner.EntropyDetector
	bus      *metadata.Bus
	cp       checkpoint.Store
	analyzer Analyzer
	logger   *logrus.Logger
	progress ProgressReporter
	metrics  *metrics.Metrics
	audit    audit.Logger

	cancel       *atomic.Bool
	currentRunID string
	chunkBytes   uint64
	runCtx       context.Context

	hitsFound       atomic.Uint64
	filesCarved     atomic.Uint64
	bytesScanned    atomic.Uint64
	chunksProcessed atomic.Uint64

	// limitNextOffset is set (once) by the carve worker that crosses the
	// max_files threshold: the chunk boundary just past the file that hit
	// the limit. The final checkpoint never records an offset beyond it,
	// so a resume re-covers any chunks the driver had raced ahead to send
	// but whose hits were dropped once the limit was reached.
	limitNextOffset atomic.Uint64

	errMu     sync.Mutex
	errByType map[string]uint64
}

// NewDriver builds a Driver. bus may not be nil; cp, analyzer, progress,
// m (the Prometheus metrics sink), and auditLog may be nil to disable
// those features.
func NewDriver(cfg *config.Config, registry *carve.Registry, patterns []scanner.Pattern, bus *metadata.Bus, cp checkpoint.Store, analyzer Analyzer, progress ProgressReporter, m *metrics.Metrics, auditLog audit.Logger, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Driver{
		cfg:       cfg,
		registry:  registry,
		scan:      scanner.New(patterns, cfg.Hardware.EnableGPUScan),
		entropy:   buildEntropyDetector(cfg),
		bus:       bus,
		cp:        cp,
		analyzer:  analyzer,
		progress:  progress,
		metrics:   m,
		audit:     auditLog,
		logger:    logger,
		cancel:    atomic.NewBool(false),
		errByType: make(map[string]uint64),
	}
}

func buildEntropyDetector(cfg *config.Config) *scanner.EntropyDetector {
	if !cfg.EnableEntropyDetection {
		return nil
	}
	return scanner.NewEntropyDetector(cfg.EntropyWindowSize, cfg.EntropyThreshold)
}

// Cancel sets the shared flag the driver polls at the top of every chunk
// iteration. It is safe to call from a signal handler.
func (d *Driver) Cancel() {
	d.cancel.Store(true)
}

func (d *Driver) workerCount() int {
	if d.cfg.Workers > 0 {
		return d.cfg.Workers
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

// Run drives a full scan/carve pass over src, publishing metadata events
// to the bus this Driver was built with. The caller owns the bus's
// lifecycle (construct before, Close after) since it may outlive this
// single Run on a multi-run process.
func (d *Driver) Run(src evidence.Source, runID, outputRoot string, resume *model.CheckpointState) (*model.RunSummary, error) {
	d.currentRunID = runID
	runCtx, runSpan := otel.Tracer("forensic-carver/pipeline").Start(context.Background(), "carve_run",
		trace.WithAttributes(attribute.String("run_id", runID)))
	defer runSpan.End()
	d.runCtx = runCtx
	if d.metrics != nil {
		d.metrics.IncrementActiveRuns()
		defer d.metrics.DecrementActiveRuns()
	}
	started := time.Now()
	evidenceLen := src.Len()
	chunkSize := d.cfg.ChunkSizeMiB * mib
	d.chunkBytes = chunkSize
	d.limitNextOffset.Store(0)
	chunks := chunk.Plan(evidenceLen, chunkSize, d.cfg.OverlapBytes)
	totalChunks := uint64(len(chunks))

	resumeFrom := uint64(0)
	if resume != nil {
		resumeFrom = resume.NextOffset
	}

	extractionCtx := &carve.ExtractionContext{RunID: runID, OutputRoot: outputRoot, Evidence: src}

	numWorkers := d.workerCount()
	scanQueue := make(chan scanJob, numWorkers*2)
	hitQueue := make(chan model.NormalizedHit, numWorkers*4)
	var stringQueue chan stringJob
	if d.cfg.EnableStringScan {
		stringQueue = make(chan stringJob, numWorkers*4)
	}

	var scanWG, carveWG, stringWG sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		scanWG.Add(1)
		go d.scanWorker(scanQueue, hitQueue, stringQueue, &scanWG)
	}
	for i := 0; i < numWorkers; i++ {
		carveWG.Add(1)
		go d.carveWorker(hitQueue, extractionCtx, &carveWG)
	}
	if stringQueue != nil {
		for i := 0; i < numWorkers; i++ {
			stringWG.Add(1)
			go d.stringWorker(stringQueue, &stringWG)
		}
	}

	d.bus.Publish(metadata.NewLifecycleEvent(metadata.KindRunStarted, runID, started, map[string]interface{}{
		"evidence_len": evidenceLen,
		"total_chunks": totalChunks,
	}))
	if d.audit != nil {
		d.audit.LogRunStarted(runID, outputRoot, map[string]interface{}{
			"evidence_len": evidenceLen,
			"total_chunks": totalChunks,
		})
	}

	cancelled := false
	nextOffset := resumeFrom
	lastProgress := started
	progressInterval := time.Duration(d.cfg.ProgressIntervalSecs) * time.Second
	if progressInterval <= 0 {
		progressInterval = 5 * time.Second
	}

driverLoop:
	for _, ck := range chunks {
		if ck.Start < resumeFrom {
			continue
		}
		if d.cancel.Load() {
			cancelled = true
			break
		}
		if d.cfg.MaxChunks != nil && d.chunksProcessed.Load() >= *d.cfg.MaxChunks {
			break
		}

		readLen := ck.Length
		if d.cfg.MaxBytes != nil {
			remaining := int64(*d.cfg.MaxBytes) - int64(d.bytesScanned.Load())
			if remaining <= 0 {
				break
			}
			if uint64(remaining) < readLen {
				readLen = uint64(remaining)
			}
		}
		if d.cfg.MaxFiles != nil && d.filesCarved.Load() >= *d.cfg.MaxFiles {
			break
		}

		buf := make([]byte, readLen)
		n, err := readFull(src, ck.Start, buf)
		if err != nil {
			d.logger.WithError(err).WithField("chunk_start", ck.Start).Error("pipeline: evidence read failed")
			break
		}
		if n == 0 {
			break
		}

		d.bytesScanned.Add(uint64(n))
		d.chunksProcessed.Add(1)
		nextOffset = ck.Start + chunkSize
		if d.metrics != nil {
			d.metrics.RecordChunkProcessed(d.runCtx, int64(n))
		}

		// Blocks when downstream saturates; this is the pipeline's only
		// backpressure mechanism.
		scanQueue <- scanJob{chunk: ck, data: buf[:n]}

		if time.Since(lastProgress) >= progressInterval {
			lastProgress = time.Now()
			if d.progress != nil {
				d.progress(d.snapshot(runID, totalChunks, evidenceLen, lastProgress.Sub(started)))
			}
			if d.metrics != nil {
				d.metrics.SetQueueDepth("scan_queue", len(scanQueue))
				d.metrics.SetQueueDepth("hit_queue", len(hitQueue))
				if stringQueue != nil {
					d.metrics.SetQueueDepth("string_queue", len(stringQueue))
				}
			}
			d.bus.Publish(metadata.NewFlushEvent(runID, lastProgress))
			if d.cp != nil {
				d.saveCheckpoint(runID, chunkSize, nextOffset, evidenceLen)
			}
		}

		if d.cancel.Load() {
			cancelled = true
			break driverLoop
		}
	}

	close(scanQueue)
	scanWG.Wait()
	close(hitQueue)
	carveWG.Wait()
	if stringQueue != nil {
		close(stringQueue)
		stringWG.Wait()
	}

	finished := time.Now()
	summary := &model.RunSummary{
		RunID:           runID,
		StartedAt:       started,
		FinishedAt:      finished,
		EvidenceLen:     evidenceLen,
		BytesScanned:    d.bytesScanned.Load(),
		ChunksProcessed: d.chunksProcessed.Load(),
		HitsFound:       d.hitsFound.Load(),
		FilesCarved:     d.filesCarved.Load(),
		ErrorsByType:    d.errorSnapshot(),
		Cancelled:       cancelled,
	}

	if d.cp != nil {
		d.saveCheckpoint(runID, chunkSize, nextOffset, evidenceLen)
	}

	kind := metadata.KindRunFinished
	if cancelled {
		kind = metadata.KindRunCancelled
	}
	d.bus.Publish(&metadata.Event{Kind: kind, Timestamp: finished, RunID: runID, Summary: summary})
	if d.audit != nil {
		d.audit.LogRunFinished(runID, cancelled, finished.Sub(started), map[string]interface{}{
			"files_carved": summary.FilesCarved,
			"hits_found":   summary.HitsFound,
		})
	}

	return summary, nil
}

// readFull keeps calling ReadAt until buf is full or the source reports
// end-of-stream, since Source.ReadAt is allowed to return short counts.
func readFull(src evidence.Source, offset uint64, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := src.ReadAt(offset+uint64(read), buf[read:])
		if err != nil {
			return read, err
		}
		if n == 0 {
			break
		}
		read += n
	}
	return read, nil
}

func (d *Driver) snapshot(runID string, totalChunks, evidenceLen uint64, elapsed time.Duration) ProgressSnapshot {
	return ProgressSnapshot{
		RunID:           runID,
		ChunksProcessed: d.chunksProcessed.Load(),
		TotalChunks:     totalChunks,
		BytesScanned:    d.bytesScanned.Load(),
		EvidenceLen:     evidenceLen,
		HitsFound:       d.hitsFound.Load(),
		FilesCarved:     d.filesCarved.Load(),
		Elapsed:         elapsed,
	}
}

func (d *Driver) saveCheckpoint(runID string, chunkSize, nextOffset, evidenceLen uint64) {
	if limit := d.limitNextOffset.Load(); limit > 0 && limit < nextOffset {
		nextOffset = limit
	}
	if nextOffset > evidenceLen {
		nextOffset = evidenceLen
	}
	state := model.CheckpointState{
		RunID:       runID,
		ChunkSize:   chunkSize,
		Overlap:     d.cfg.OverlapBytes,
		NextOffset:  nextOffset,
		EvidenceLen: evidenceLen,
		CreatedAt:   time.Now(),
	}
	if err := d.cp.Save(state); err != nil {
		d.logger.WithError(err).Warn("pipeline: checkpoint save failed")
		if d.audit != nil {
			d.audit.LogCheckpoint(runID, d.chunksProcessed.Load(), false, err)
		}
		return
	}
	if d.metrics != nil {
		d.metrics.RecordCheckpointWrite()
	}
	if d.audit != nil {
		d.audit.LogCheckpoint(runID, d.chunksProcessed.Load(), true, nil)
	}
	d.bus.Publish(metadata.NewLifecycleEvent(metadata.KindCheckpoint, runID, time.Now(), map[string]interface{}{
		"next_offset": nextOffset,
	}))
}

func (d *Driver) recordError(err error) {
	kind := "unknown"
	if ce, ok := err.(*carve.CarveError); ok {
		kind = ce.Kind.String()
	}
	d.errMu.Lock()
	d.errByType[kind]++
	d.errMu.Unlock()
	if d.metrics != nil {
		d.metrics.RecordCarveError(d.runCtx, kind)
	}
}

func (d *Driver) errorSnapshot() map[string]uint64 {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if len(d.errByType) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(d.errByType))
	for k, v := range d.errByType {
		out[k] = v
	}
	return out
}

// databaseLikeTypes names carver FileType() values the post-carve
// analyzer is invoked for.
var databaseLikeTypes = map[string]bool{
	"sqlite":      true,
	"sqlite-wal":  true,
	"sqlite-page": true,
}

func isDatabaseLike(fileType string) bool {
	return databaseLikeTypes[fileType]
}
