package pipeline

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kenchrcum/forensic-carver/internal/carve"
	"github.com/kenchrcum/forensic-carver/internal/metadata"
	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/kenchrcum/forensic-carver/internal/scanner"
)

// scanWorker pulls ScanJobs, finds signature hits and (optionally)
// string spans and entropy regions, and forwards normalized hits and
// string jobs downstream. Entropy regions are advisory and go straight
// to the metadata bus rather than through a queue, since nothing
// downstream needs to act on them.
func (d *Driver) scanWorker(jobs <-chan scanJob, hits chan<- model.NormalizedHit, strings chan<- stringJob, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		effectiveValid := job.chunk.ValidLength
		if uint64(len(job.data)) < effectiveValid {
			effectiveValid = uint64(len(job.data))
		}

		for _, h := range d.scan.ScanChunk(job.chunk.ID, job.data) {
			if h.LocalOffset >= effectiveValid {
				continue
			}
			d.hitsFound.Add(1)
			if d.metrics != nil {
				d.metrics.RecordHit(d.runCtx, h.FileTypeID)
			}
			hits <- model.NormalizedHit{
				GlobalOffset: job.chunk.Start + h.LocalOffset,
				PatternID:    h.PatternID,
				FileTypeID:   h.FileTypeID,
			}
		}

		if strings != nil {
			for _, span := range scanner.FindStringSpans(job.chunk.ID, job.data) {
				if span.LocalStart >= effectiveValid {
					continue
				}
				strings <- stringJob{chunk: job.chunk, data: job.data, span: span}
			}
		}

		if d.entropy != nil && uint64(len(job.data)) >= uint64(d.entropy.WindowSize) {
			for _, region := range d.entropy.Scan(job.chunk.Start, job.data) {
				r := region
				d.bus.Publish(metadata.NewEntropyEvent(d.currentRunID, time.Now(), &r))
			}
		}
	}
}

// carveWorker pulls NormalizedHits, dispatches to the registered carver,
// and publishes a carved_file event on success. A database-like result
// is handed to the configured Analyzer for secondary record recovery.
func (d *Driver) carveWorker(hits <-chan model.NormalizedHit, ctx *carve.ExtractionContext, wg *sync.WaitGroup) {
	defer wg.Done()
	for hit := range hits {
		if d.cfg.MaxFiles != nil && d.filesCarved.Load() >= *d.cfg.MaxFiles {
			return
		}

		carver, ok := d.registry.Get(hit.FileTypeID)
		if !ok {
			d.logger.WithField("file_type_id", hit.FileTypeID).Debug("pipeline: no carver registered for hit")
			continue
		}

		carveStart := time.Now()
		carveCtx, span := otel.Tracer("forensic-carver/pipeline").Start(d.runCtx, "carve",
			trace.WithAttributes(
				attribute.String("file_type", hit.FileTypeID),
				attribute.Int64("global_offset", int64(hit.GlobalOffset)),
			))
		file, err := carver.ProcessHit(hit, ctx)
		span.End()
		if err != nil {
			d.recordError(err)
			continue
		}
		if file == nil {
			continue
		}

		carved := d.filesCarved.Add(1)
		if d.cfg.MaxFiles != nil && carved == *d.cfg.MaxFiles && d.chunkBytes > 0 {
			boundary := (hit.GlobalOffset/d.chunkBytes + 1) * d.chunkBytes
			d.limitNextOffset.CompareAndSwap(0, boundary)
		}
		file.RunID = d.currentRunID
		if d.metrics != nil {
			d.metrics.RecordFileCarved(carveCtx, file.FileType, time.Since(carveStart))
		}
		d.bus.Publish(metadata.NewCarvedFileEvent(d.currentRunID, time.Now(), file))

		if d.analyzer != nil && isDatabaseLike(file.FileType) {
			d.analyzer.Analyze(ctx, file, d.bus)
		}
	}
}

// stringWorker pulls StringJobs, masks artefact flags by configuration,
// and emits an extracted_string metadata event per span.
func (d *Driver) stringWorker(jobs <-chan stringJob, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		value, ok := decodeSpanValue(job.data, job.span)
		if !ok {
			continue
		}

		flags := job.span.Flags
		if !d.cfg.EnableURLScan {
			flags &^= model.FlagURLLike
		}
		if !d.cfg.EnableEmailScan {
			flags &^= model.FlagEmailLike
		}
		if !d.cfg.EnablePhoneScan {
			flags &^= model.FlagPhoneLike
		}

		es := &model.ExtractedString{
			GlobalStart: job.chunk.Start + job.span.LocalStart,
			Length:      job.span.Length,
			Flags:       flags,
			Value:       value,
		}
		d.bus.Publish(metadata.NewStringEvent(d.currentRunID, time.Now(), es))
	}
}

// decodeSpanValue recovers the printable text a StringSpan refers to.
// ASCII spans store their length directly; UTF-16 spans store the
// decoded character count, so the raw byte span is twice as long.
func decodeSpanValue(data []byte, span model.StringSpan) (string, bool) {
	if span.Flags&(model.FlagUTF16LE|model.FlagUTF16BE) != 0 {
		little := span.Flags&model.FlagUTF16LE != 0
		rawEnd := span.LocalStart + span.Length*2
		if rawEnd > uint64(len(data)) {
			return "", false
		}
		raw := data[span.LocalStart:rawEnd]
		out := make([]byte, 0, len(raw)/2)
		for i := 0; i+1 < len(raw); i += 2 {
			if little {
				out = append(out, raw[i])
			} else {
				out = append(out, raw[i+1])
			}
		}
		return string(out), true
	}

	end := span.LocalStart + span.Length
	if end > uint64(len(data)) {
		return "", false
	}
	return string(data[span.LocalStart:end]), true
}
