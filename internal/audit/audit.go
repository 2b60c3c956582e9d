// Package audit implements the operational audit trail: run lifecycle
// events (started, checkpoint written, cancelled, finished) and
// post-carve analyzer invocations, kept distinct from the per-carved-file
// metadata stream in internal/metadata. Where that stream is a record of
// what was found, this one is a record of what the engine itself did.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kenchrcum/forensic-carver/internal/config"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeRunStarted marks the beginning of a run.
	EventTypeRunStarted EventType = "run_started"
	// EventTypeCheckpoint marks a checkpoint having been written.
	EventTypeCheckpoint EventType = "checkpoint_written"
	// EventTypeRunCancelled marks a run stopping early on cancellation.
	EventTypeRunCancelled EventType = "run_cancelled"
	// EventTypeRunFinished marks a run completing without cancellation;
	// a cancelled run is logged as EventTypeRunCancelled instead.
	EventTypeRunFinished EventType = "run_finished"
	// EventTypeAnalyzer marks a post-carve analyzer invocation.
	EventTypeAnalyzer EventType = "analyzer_invoked"
	// EventTypeAccess represents a generic operational event not covered
	// by the typed helpers above.
	EventTypeAccess EventType = "access"
)

// AuditEvent represents a single audit log event.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   EventType              `json:"event_type"`
	Operation   string                 `json:"operation"`
	RunID       string                 `json:"run_id,omitempty"`
	EvidencePath string                `json:"evidence_path,omitempty"`
	FileType    string                 `json:"file_type,omitempty"`
	ChunkID     uint64                 `json:"chunk_id,omitempty"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	Duration    time.Duration          `json:"duration_ms"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *AuditEvent) error

	// LogRunStarted logs the start of a run over evidencePath.
	LogRunStarted(runID, evidencePath string, metadata map[string]interface{})

	// LogCheckpoint logs a checkpoint write.
	LogCheckpoint(runID string, chunkID uint64, success bool, err error)

	// LogRunFinished logs a run ending, cancelled or not.
	LogRunFinished(runID string, cancelled bool, duration time.Duration, metadata map[string]interface{})

	// LogAnalyzer logs a post-carve analyzer invocation against a carved
	// file of the given file type.
	LogAnalyzer(runID, fileType string, success bool, err error, duration time.Duration)

	// LogAccess logs a general operational event.
	LogAccess(eventType, runID, evidencePath string, success bool, err error, duration time.Duration)

	// GetEvents returns all audit events (for testing/querying).
	GetEvents() []*AuditEvent

	// Close closes the logger and its underlying writer.
	Close() error
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu         sync.Mutex
	events     []*AuditEvent
	maxEvents  int
	writer     EventWriter
	redactKeys []string
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// NewLogger creates a new audit logger.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return NewLoggerWithRedaction(maxEvents, writer, nil)
}

// NewLoggerWithRedaction creates a new audit logger with redaction keys.
func NewLoggerWithRedaction(maxEvents int, writer EventWriter, redactKeys []string) Logger {
	if writer == nil {
		writer = &defaultWriter{}
	}

	return &auditLogger{
		events:     make([]*AuditEvent, 0, maxEvents),
		maxEvents:  maxEvents,
		writer:     writer,
		redactKeys: redactKeys,
	}
}

// NewLoggerFromConfig creates a new audit logger from configuration.
func NewLoggerFromConfig(cfg config.AuditConfig) (Logger, error) {
	var writer EventWriter

	switch cfg.Sink.Type {
	case "http":
		writer = NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		writer = NewFileSink(cfg.Sink.FilePath)
	case "stdout", "":
		writer = &defaultWriter{}
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Sink.Type)
	}

	if cfg.Sink.BatchSize > 0 || cfg.Sink.FlushInterval > 0 {
		writer = NewBatchSink(writer, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, cfg.Sink.RetryCount, cfg.Sink.RetryBackoff)
	}

	return NewLoggerWithRedaction(cfg.MaxEvents, writer, cfg.RedactMetadataKeys), nil
}

// Log logs an audit event.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}

	return nil
}

// Close closes the logger and its underlying writer.
func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// redactMetadata removes sensitive keys from metadata.
func (l *auditLogger) redactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if len(l.redactKeys) == 0 || len(metadata) == 0 {
		return metadata
	}

	needsRedaction := false
	for _, k := range l.redactKeys {
		if _, ok := metadata[k]; ok {
			needsRedaction = true
			break
		}
	}
	if !needsRedaction {
		return metadata
	}

	clone := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	for _, key := range l.redactKeys {
		if _, ok := clone[key]; ok {
			clone[key] = "[REDACTED]"
		}
	}
	return clone
}

// LogRunStarted logs the start of a run over evidencePath.
func (l *auditLogger) LogRunStarted(runID, evidencePath string, metadata map[string]interface{}) {
	l.Log(&AuditEvent{
		Timestamp:    time.Now(),
		EventType:    EventTypeRunStarted,
		Operation:    "run_started",
		RunID:        runID,
		EvidencePath: evidencePath,
		Success:      true,
		Metadata:     l.redactMetadata(metadata),
	})
}

// LogCheckpoint logs a checkpoint write.
func (l *auditLogger) LogCheckpoint(runID string, chunkID uint64, success bool, err error) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeCheckpoint,
		Operation: "checkpoint_written",
		RunID:     runID,
		ChunkID:   chunkID,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogRunFinished logs a run ending, cancelled or not.
func (l *auditLogger) LogRunFinished(runID string, cancelled bool, duration time.Duration, metadata map[string]interface{}) {
	eventType := EventTypeRunFinished
	op := "run_finished"
	if cancelled {
		eventType = EventTypeRunCancelled
		op = "run_cancelled"
	}
	l.Log(&AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		Operation: op,
		RunID:     runID,
		Success:   true,
		Duration:  duration,
		Metadata:  l.redactMetadata(metadata),
	})
}

// LogAnalyzer logs a post-carve analyzer invocation.
func (l *auditLogger) LogAnalyzer(runID, fileType string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeAnalyzer,
		Operation: "analyzer_invoked",
		RunID:     runID,
		FileType:  fileType,
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogAccess logs a general operational event.
func (l *auditLogger) LogAccess(eventType, runID, evidencePath string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp:    time.Now(),
		EventType:    EventType(eventType),
		Operation:    eventType,
		RunID:        runID,
		EvidencePath: evidencePath,
		Success:      success,
		Duration:     duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// GetEvents returns all audit events (for testing/querying).
func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// defaultWriter is a default implementation that writes to stdout as JSON.
type defaultWriter struct{}

func (w *defaultWriter) WriteEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	fmt.Printf("%s\n", string(data))
	return nil
}
