// Package model holds the data types shared across the scanning and
// carving pipeline: chunks, hits, carved-file records, and the run
// summary and checkpoint state that bound a single invocation.
package model

import "time"

// ScanChunk describes one window of the evidence stream handed to a scan
// worker. Length covers the full read extent including the overlap tail;
// ValidLength is the non-overlap prefix that hits must fall within to be
// reported, avoiding double-carving across chunk boundaries.
type ScanChunk struct {
	ID          uint64
	Start       uint64
	Length      uint64
	ValidLength uint64
}

// Hit is a raw signature match local to the chunk that produced it.
type Hit struct {
	ChunkID    uint64
	LocalOffset uint64
	PatternID  string
	FileTypeID string
}

// NormalizedHit is a Hit resolved to a global evidence offset, ready for
// dispatch to a carver.
type NormalizedHit struct {
	GlobalOffset uint64
	PatternID    string
	FileTypeID   string
}

// StringSpan flags bits.
const (
	FlagURLLike   uint32 = 1 << iota
	FlagEmailLike
	FlagPhoneLike
	FlagUTF16LE
	FlagUTF16BE
)

// StringSpan is a printable run found by the optional string scanner.
type StringSpan struct {
	ChunkID    uint64
	LocalStart uint64
	Length     uint64
	Flags      uint32
}

// CarvedFile is the primary output record produced by a carver.
type CarvedFile struct {
	RunID        string   `json:"run_id"`
	FileType     string   `json:"file_type"`
	Extension    string   `json:"extension"`
	RelativePath string   `json:"relative_path"`
	GlobalStart  uint64   `json:"global_start"`
	GlobalEnd    uint64   `json:"global_end"`
	Size         uint64   `json:"size"`
	MD5          string   `json:"md5,omitempty"`
	SHA256       string   `json:"sha256,omitempty"`
	Validated    bool     `json:"validated"`
	Truncated    bool     `json:"truncated"`
	Errors       []string `json:"errors,omitempty"`
	PatternID    string   `json:"pattern_id,omitempty"`
}

// EntropyRegion is advisory metadata emitted by the entropy detector.
type EntropyRegion struct {
	GlobalStart uint64  `json:"global_start"`
	GlobalEnd   uint64  `json:"global_end"`
	Entropy     float64 `json:"entropy"`
	WindowSize  int     `json:"window_size"`
}

// ExtractedString is a classified printable run with any extracted
// artefact (URL, email, phone) pulled out of it.
type ExtractedString struct {
	GlobalStart uint64 `json:"global_start"`
	Length      uint64 `json:"length"`
	Flags       uint32 `json:"flags"`
	Value       string `json:"value"`
}

// DatabaseRecord is a secondary record recovered by a post-carve analyzer
// (e.g. a browser history row pulled out of a carved SQLite file).
type DatabaseRecord struct {
	SourceFile string                 `json:"source_file"`
	Kind       string                 `json:"kind"`
	Fields     map[string]interface{} `json:"fields"`
	Recovered  bool                   `json:"recovered"`
}

// RunSummary aggregates the counters for a completed or cancelled run.
type RunSummary struct {
	RunID          string            `json:"run_id"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	EvidenceLen    uint64            `json:"evidence_len"`
	BytesScanned   uint64            `json:"bytes_scanned"`
	ChunksProcessed uint64           `json:"chunks_processed"`
	HitsFound      uint64            `json:"hits_found"`
	FilesCarved    uint64            `json:"files_carved"`
	ErrorsByType   map[string]uint64 `json:"errors_by_type,omitempty"`
	Cancelled      bool              `json:"cancelled"`
	EvidenceSHA256 string            `json:"evidence_sha256,omitempty"`
}

// CheckpointState is the persisted scan position between runs.
type CheckpointState struct {
	RunID       string    `json:"run_id"`
	ChunkSize   uint64    `json:"chunk_size"`
	Overlap     uint64    `json:"overlap"`
	NextOffset  uint64    `json:"next_offset"`
	EvidenceLen uint64    `json:"evidence_len"`
	CreatedAt   time.Time `json:"created_at"`
}
