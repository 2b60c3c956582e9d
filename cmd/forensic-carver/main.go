// Command forensic-carver runs the carving engine end to end: it loads
// configuration, opens an evidence source (a flat file or an S3 object),
// wires the scan/carve/string pipeline, and serves health and metrics
// endpoints for the duration of the run.
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenchrcum/forensic-carver/internal/analyzers"
	"github.com/kenchrcum/forensic-carver/internal/audit"
	"github.com/kenchrcum/forensic-carver/internal/carve"
	"github.com/kenchrcum/forensic-carver/internal/checkpoint"
	"github.com/kenchrcum/forensic-carver/internal/config"
	"github.com/kenchrcum/forensic-carver/internal/evidence"
	"github.com/kenchrcum/forensic-carver/internal/metadata"
	"github.com/kenchrcum/forensic-carver/internal/metrics"
	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/kenchrcum/forensic-carver/internal/pipeline"
	s3client "github.com/kenchrcum/forensic-carver/internal/s3"
	"github.com/kenchrcum/forensic-carver/internal/statusapi"
	"github.com/kenchrcum/forensic-carver/internal/tracing"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML configuration file")
		input      = flag.String("input", "", "Evidence path (flat file or s3://bucket/key), overrides config input_path")
		output     = flag.String("output", "", "Output directory, overrides config output_dir")
		runID      = flag.String("run-id", "", "Run identifier, overrides config run_id")
		statusAddr = flag.String("status-addr", "", "Optional address (e.g. :9090) to serve /healthz, /readyz and /metrics on")
		types      = flag.String("types", "", "Comma-separated file-type globs to carve (e.g. jpeg,sqlite*); empty carves everything")
		watchCfg   = flag.Bool("watch-config", false, "Reload file-type patterns when --config changes on disk")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("forensic-carver: config")
	}
	if *input != "" {
		cfg.InputPath = *input
	}
	if *output != "" {
		cfg.OutputDir = *output
	}
	if *runID != "" {
		cfg.RunID = *runID
	}
	if *types != "" {
		cfg.Types = strings.Split(*types, ",")
	}
	if cfg.RunID == "" {
		cfg.RunID = generateRunID()
	}
	if cfg.InputPath == "" || cfg.OutputDir == "" {
		logger.Fatal("forensic-carver: --input and --output (or their config equivalents) are required")
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logger.WithError(err).Fatal("forensic-carver: create output dir")
	}

	m := metrics.NewMetrics()
	metrics.SetVersion("forensic-carver")

	status := statusapi.NewHandler(m, "dev")
	if *statusAddr != "" {
		srv := statusapi.Serve(*statusAddr, status)
		defer srv.Close()
		logger.WithField("addr", *statusAddr).Info("forensic-carver: status server listening")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *watchCfg && *configPath != "" {
		w, err := config.WatchFile(*configPath, func(reloaded *config.Config) {
			logger.WithField("chunk_size_mib", reloaded.ChunkSizeMiB).Info("forensic-carver: config changed on disk; takes effect on next run")
		}, func(err error) {
			logger.WithError(err).Warn("forensic-carver: config reload failed, keeping previous configuration")
		})
		if err != nil {
			logger.WithError(err).Warn("forensic-carver: could not watch config file")
		} else {
			defer w.Close()
		}
	}

	if err := run(ctx, cfg, m, status, logger); err != nil {
		logger.WithError(err).Fatal("forensic-carver: run failed")
	}
}

// generateRunID builds a YYYYMMDDThhmmssZ_<randhex> identifier, unique
// enough that two runs started in the same second don't share an output
// directory.
func generateRunID() string {
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		binary.LittleEndian.PutUint32(suffix[:], uint32(os.Getpid()))
	}
	return fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102T150405Z"), hex.EncodeToString(suffix[:]))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg *config.Config, m *metrics.Metrics, status *statusapi.Handler, logger *logrus.Logger) error {
	src, err := openEvidence(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open evidence: %w", err)
	}
	defer src.Close()

	status.SetReadinessCheck(func(context.Context) error {
		_, err := src.ReadAt(0, make([]byte, 1))
		return err
	})

	auditLog, err := audit.NewLoggerFromConfig(cfg.Audit)
	if err != nil {
		return fmt.Errorf("build audit logger: %w", err)
	}
	defer auditLog.Close()

	traceShutdown, err := tracing.Setup(cfg.Tracing, "forensic-carver", cfg.RunID)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		if err := traceShutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("forensic-carver: trace exporter shutdown failed")
		}
	}()

	metadataDir := filepath.Join(cfg.OutputDir, cfg.RunID, "metadata")
	if err := os.MkdirAll(metadataDir, 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	sink, err := metadata.NewSinkFromConfig(cfg.Metadata, metadataDir)
	if err != nil {
		return fmt.Errorf("build metadata sink: %w", err)
	}
	bus := metadata.NewBus(sink, 256)
	defer bus.Close()

	configCarvers, err := carve.ConfigCarvers(cfg)
	if err != nil {
		return fmt.Errorf("build carvers: %w", err)
	}
	carvers := append(carve.DefaultCarvers(cfg), configCarvers...)
	registry := carve.NewRegistry(carve.FilterByTypes(carvers, cfg.Types)...)

	patterns, err := carve.BuildPatterns(cfg)
	if err != nil {
		return fmt.Errorf("build patterns: %w", err)
	}
	patterns = carve.FilterPatternsByTypes(patterns, cfg.Types)

	cp := checkpoint.NewFileStore(checkpointPath(cfg))

	var resume *model.CheckpointState
	if state, loadErr := cp.Load(); loadErr == nil {
		resume = validateResumeState(cfg, state, src.Len(), logger)
	}

	analyzer := analyzers.NewSQLiteAnalyzer(cfg.EnableSQLitePageRecovery, auditLog, logger)

	progress := func(snap pipeline.ProgressSnapshot) {
		status.Report(snap)
		logger.WithFields(logrus.Fields{
			"chunks_processed": snap.ChunksProcessed,
			"hits_found":       snap.HitsFound,
			"files_carved":     snap.FilesCarved,
		}).Info("forensic-carver: progress")
	}

	driver := pipeline.NewDriver(cfg, registry, patterns, bus, cp, analyzer, progress, m, auditLog, logger)

	go func() {
		<-ctx.Done()
		logger.Warn("forensic-carver: signal received, cancelling run")
		driver.Cancel()
	}()

	carveRoot := filepath.Join(cfg.OutputDir, cfg.RunID, "carved")
	summary, err := driver.Run(src, cfg.RunID, carveRoot, resume)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"files_carved": summary.FilesCarved,
		"hits_found":   summary.HitsFound,
		"cancelled":    summary.Cancelled,
	}).Info("forensic-carver: run finished")
	return nil
}

// validateResumeState checks a loaded checkpoint against the current
// run's parameters. Chunk size, overlap, and evidence length must all
// agree or the chunk grid (and therefore every already-covered offset)
// would shift under the resumed run; a run_id mismatch is only worth a
// warning, since resuming someone else's checkpoint over the same
// evidence is still sound.
func validateResumeState(cfg *config.Config, state *model.CheckpointState, evidenceLen uint64, logger *logrus.Logger) *model.CheckpointState {
	const mib = 1 << 20
	if state.ChunkSize != cfg.ChunkSizeMiB*mib || state.Overlap != cfg.OverlapBytes || state.EvidenceLen != evidenceLen {
		logger.WithFields(logrus.Fields{
			"checkpoint_chunk_size":   state.ChunkSize,
			"checkpoint_overlap":      state.Overlap,
			"checkpoint_evidence_len": state.EvidenceLen,
		}).Warn("forensic-carver: checkpoint does not match run parameters, starting from offset 0")
		return nil
	}
	if state.RunID != cfg.RunID {
		logger.WithField("checkpoint_run_id", state.RunID).Warn("forensic-carver: checkpoint was written by a different run")
	}
	logger.WithField("next_offset", state.NextOffset).Info("forensic-carver: resuming from checkpoint")
	return state
}

func openEvidence(ctx context.Context, cfg *config.Config) (evidence.Source, error) {
	if cfg.Backend.Bucket != "" && cfg.Backend.Key != "" {
		client, err := s3client.NewClient(&cfg.Backend)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		return evidence.OpenS3(ctx, client, cfg.Backend.Bucket, cfg.Backend.Key)
	}
	return evidence.OpenFile(cfg.InputPath)
}

func checkpointPath(cfg *config.Config) string {
	if cfg.CheckpointPath != "" {
		return cfg.CheckpointPath
	}
	return filepath.Join(cfg.OutputDir, cfg.RunID+".checkpoint.json")
}
