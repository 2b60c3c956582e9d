// Package metadata implements the single-consumer metadata bus: every
// carved file, entropy region, and extracted string artefact the pipeline
// produces is wrapped in an Event and handed to exactly one goroutine,
// which fans it out to a configured Sink. Centralizing the write side
// here means sinks (a JSONL file, an HTTP collector, stdout) never need
// their own synchronization.
package metadata

import (
	"encoding/json"
	"time"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

// Kind discriminates the payload carried by an Event.
type Kind string

const (
	KindCarvedFile     Kind = "carved_file"
	KindEntropyRegion  Kind = "entropy_region"
	KindExtractedString Kind = "extracted_string"
	KindRunStarted     Kind = "run_started"
	KindRunFinished    Kind = "run_finished"
	KindRunCancelled   Kind = "run_cancelled"
	KindCheckpoint     Kind = "checkpoint_written"
	KindFlush          Kind = "flush"
	KindDatabaseRecord Kind = "database_record"
)

// Event is the envelope every metadata record is wrapped in before it
// reaches a Sink, matching the external metadata-event contract: a kind
// discriminator, a timestamp, and the run this event belongs to.
type Event struct {
	Kind      Kind        `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	RunID     string      `json:"run_id"`
	CarvedFile *model.CarvedFile     `json:"carved_file,omitempty"`
	Entropy    *model.EntropyRegion  `json:"entropy_region,omitempty"`
	String     *model.ExtractedString `json:"extracted_string,omitempty"`
	Summary    *model.RunSummary      `json:"run_summary,omitempty"`
	Record     *model.DatabaseRecord  `json:"database_record,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
}

func (e *Event) MarshalForSink() ([]byte, error) {
	return json.Marshal(e)
}

// NewCarvedFileEvent wraps a carved-file record.
func NewCarvedFileEvent(runID string, now time.Time, f *model.CarvedFile) *Event {
	return &Event{Kind: KindCarvedFile, Timestamp: now, RunID: runID, CarvedFile: f}
}

// NewEntropyEvent wraps an entropy-region record.
func NewEntropyEvent(runID string, now time.Time, r *model.EntropyRegion) *Event {
	return &Event{Kind: KindEntropyRegion, Timestamp: now, RunID: runID, Entropy: r}
}

// NewStringEvent wraps an extracted-string record.
func NewStringEvent(runID string, now time.Time, s *model.ExtractedString) *Event {
	return &Event{Kind: KindExtractedString, Timestamp: now, RunID: runID, String: s}
}

// NewLifecycleEvent wraps a run-lifecycle marker (started/finished/cancelled/checkpoint).
func NewLifecycleEvent(kind Kind, runID string, now time.Time, detail map[string]interface{}) *Event {
	return &Event{Kind: kind, Timestamp: now, RunID: runID, Detail: detail}
}

// NewRunSummaryEvent wraps the final RunSummary, always the last event a
// Bus delivers to its sink.
func NewRunSummaryEvent(runID string, now time.Time, summary *model.RunSummary) *Event {
	return &Event{Kind: KindRunFinished, Timestamp: now, RunID: runID, Summary: summary}
}

// NewFlushEvent builds a marker that asks the metadata thread to flush
// the sink's buffered output to disk without closing it.
func NewFlushEvent(runID string, now time.Time) *Event {
	return &Event{Kind: KindFlush, Timestamp: now, RunID: runID}
}

// NewDatabaseRecordEvent wraps a record recovered by a post-carve
// analyzer.
func NewDatabaseRecordEvent(runID string, now time.Time, r *model.DatabaseRecord) *Event {
	return &Event{Kind: KindDatabaseRecord, Timestamp: now, RunID: runID, Record: r}
}

// Bus is the single consumer of metadata events: it owns the one
// goroutine permitted to call a Sink's WriteEvent, draining a channel fed
// by every scan/carve/string worker.
type Bus struct {
	events chan *Event
	sink   Sink
	done   chan struct{}
}

// NewBus starts the consumer goroutine over sink, reading from a channel
// of the given capacity (the meta_queue bound from the concurrency model).
func NewBus(sink Sink, capacity int) *Bus {
	b := &Bus{
		events: make(chan *Event, capacity),
		sink:   sink,
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	defer close(b.done)
	for ev := range b.events {
		if ev.Kind == KindFlush {
			if f, ok := b.sink.(Flusher); ok {
				_ = f.Flush()
			}
			continue
		}
		// A single misbehaving sink must never stall or crash the
		// pipeline; errors are swallowed here and surfaced only via the
		// sink's own error counters if it keeps one.
		_ = b.sink.WriteEvent(ev)
	}
}

// Publish enqueues ev. It blocks if the channel is full, providing the
// backpressure the concurrency model requires of meta_queue.
func (b *Bus) Publish(ev *Event) {
	b.events <- ev
}

// Close stops accepting new events, drains the backlog, and closes the
// underlying sink.
func (b *Bus) Close() error {
	close(b.events)
	<-b.done
	return b.sink.Close()
}
