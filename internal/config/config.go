// Package config loads the carving engine's configuration from a YAML
// file (or the embedded defaults) into a plain struct tree. Loading and
// validation happen once at startup; downstream packages treat the
// resulting value as read-only for the lifetime of a run.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object: the engine's run
// parameters plus the ambient groups (hardware, audit, backend,
// tracing) the supporting components consume.
type Config struct {
	RunID string `yaml:"run_id"`

	OverlapBytes uint64 `yaml:"overlap_bytes"`
	ChunkSizeMiB uint64 `yaml:"chunk_size_mib"`
	Workers      int    `yaml:"workers"`

	EnableStringScan bool `yaml:"enable_string_scan"`
	EnableURLScan    bool `yaml:"enable_url_scan"`
	EnableEmailScan  bool `yaml:"enable_email_scan"`
	EnablePhoneScan  bool `yaml:"enable_phone_scan"`

	EnableEntropyDetection bool    `yaml:"enable_entropy_detection"`
	EntropyWindowSize      int     `yaml:"entropy_window_size"`
	EntropyThreshold       float64 `yaml:"entropy_threshold"`

	EnableSQLitePageRecovery bool `yaml:"enable_sqlite_page_recovery"`

	MaxFiles  *uint64 `yaml:"max_files,omitempty"`
	MaxBytes  *uint64 `yaml:"max_bytes,omitempty"`
	MaxChunks *uint64 `yaml:"max_chunks,omitempty"`

	ProgressIntervalSecs int `yaml:"progress_interval_secs"`

	FileTypes []FileTypeConfig `yaml:"file_types"`

	// Types restricts carving to file-type IDs matching any of these
	// globs (e.g. "jpeg", "sqlite*"). Empty means carve everything.
	Types []string `yaml:"types,omitempty"`

	Hardware HardwareConfig `yaml:"hardware"`
	Audit    AuditConfig    `yaml:"audit"`
	Backend  BackendConfig  `yaml:"backend"`
	Metadata MetadataConfig `yaml:"metadata"`
	Tracing  TracingConfig  `yaml:"tracing"`

	InputPath  string `yaml:"input_path"`
	OutputDir  string `yaml:"output_dir"`
	CheckpointPath string `yaml:"checkpoint_path,omitempty"`
	ResumeFromPath string `yaml:"resume_from,omitempty"`
}

// MetadataConfig selects where per-carved-file and run-lifecycle events
// go, independent of the AuditConfig's operational trail.
type MetadataConfig struct {
	Backend string     `yaml:"backend"` // "jsonl" | "csv" | "parquet" | "stdout" | "http"
	Sink    SinkConfig `yaml:"sink"`
}

// FileTypeConfig describes one carver's pattern table and size bounds,
// one entry per `file_types` list item.
type FileTypeConfig struct {
	ID             string          `yaml:"id"`
	Extensions     []string        `yaml:"extensions"`
	HeaderPatterns []PatternConfig `yaml:"header_patterns"`
	FooterPatterns []PatternConfig `yaml:"footer_patterns"`
	MinSize        uint64          `yaml:"min_size"`
	MaxSize        uint64          `yaml:"max_size"`
	Validator      string          `yaml:"validator,omitempty"`
}

// PatternConfig is a single named byte pattern, given as a hex string.
type PatternConfig struct {
	ID  string `yaml:"id"`
	Hex string `yaml:"hex"`
}

// TracingConfig selects the OpenTelemetry span exporter. Disabled by
// default; a long carving run over a large image is where per-carve
// timing becomes worth the overhead.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "stdout" | "otlp" | "jaeger"
	Endpoint    string  `yaml:"endpoint,omitempty"`
	SampleRatio float64 `yaml:"sample_ratio,omitempty"`
}

// HardwareConfig gates accelerated code paths. Detection always
// happens first; these flags only ever narrow what detection already
// allows, never widen it.
type HardwareConfig struct {
	EnableGPUScan bool `yaml:"enable_gpu_scan"`
}

// AuditConfig configures the operational audit trail (run lifecycle
// events: started, cancelled, checkpoint written), kept distinct from the
// per-carved-file metadata stream.
type AuditConfig struct {
	Enabled            bool       `yaml:"enabled"`
	MaxEvents          int        `yaml:"max_events"`
	RedactMetadataKeys []string   `yaml:"redact_metadata_keys,omitempty"`
	Sink               SinkConfig `yaml:"sink"`
}

// SinkConfig configures where audit events are written.
type SinkConfig struct {
	Type          string            `yaml:"type"` // "stdout" | "file" | "http"
	FilePath      string            `yaml:"file_path,omitempty"`
	Endpoint      string            `yaml:"endpoint,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty"`
	BatchSize     int               `yaml:"batch_size,omitempty"`
	FlushInterval time.Duration     `yaml:"flush_interval,omitempty"`
	RetryCount    int               `yaml:"retry_count,omitempty"`
	RetryBackoff  time.Duration     `yaml:"retry_backoff,omitempty"`
}

// BackendConfig configures the optional S3-backed evidence source, for
// acquired images stored in object storage rather than on local disk.
type BackendConfig struct {
	Provider  string `yaml:"provider"` // "aws" | "minio" | other S3-compatible
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
}

// Default returns the built-in configuration used when no config file is
// given. File-type pattern definitions come from carve.DefaultPatterns
// (internal/carve), not here, to keep this package free of a dependency
// on the carver implementations.
func Default() *Config {
	return &Config{
		OverlapBytes:             4096,
		ChunkSizeMiB:             16,
		Workers:                  0, // 0 => runtime.NumCPU()
		EnableStringScan:         false,
		EnableEntropyDetection:   false,
		EntropyWindowSize:        256,
		EntropyThreshold:         7.0,
		EnableSQLitePageRecovery: false,
		ProgressIntervalSecs:     5,
		Audit: AuditConfig{
			Enabled:   true,
			MaxEvents: 1000,
			Sink:      SinkConfig{Type: "stdout"},
		},
		Metadata: MetadataConfig{
			Backend: "jsonl",
		},
	}
}

// Load reads and parses a YAML configuration file on top of Default(), so
// any field the file leaves out keeps its default; a field the file sets
// explicitly, even to zero, takes the file's value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configuration that would otherwise fail deep inside the
// pipeline with a less useful error. All validation happens before any
// work begins; a bad pattern table is fatal at startup, never mid-run.
func (c *Config) Validate() error {
	if c.ChunkSizeMiB == 0 {
		return fmt.Errorf("chunk_size_mib must be > 0")
	}
	seen := make(map[string]struct{}, len(c.FileTypes))
	for _, ft := range c.FileTypes {
		if ft.ID == "" {
			return fmt.Errorf("file_types: entry missing id")
		}
		if _, dup := seen[ft.ID]; dup {
			return fmt.Errorf("file_types: duplicate id %q", ft.ID)
		}
		seen[ft.ID] = struct{}{}
		for _, p := range ft.HeaderPatterns {
			if err := validPatternHex(p.Hex); err != nil {
				return fmt.Errorf("file_types[%s]: header pattern %q: %w", ft.ID, p.ID, err)
			}
		}
		for _, p := range ft.FooterPatterns {
			if err := validPatternHex(p.Hex); err != nil {
				return fmt.Errorf("file_types[%s]: footer pattern %q: %w", ft.ID, p.ID, err)
			}
		}
	}
	return nil
}

func validPatternHex(s string) error {
	if len(s) == 0 {
		return fmt.Errorf("empty hex")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return nil
}
