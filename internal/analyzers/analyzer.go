// Package analyzers implements post-carve analysis of database-like
// carved files: normal SQLite access first, falling back to direct
// leaf-page recovery when the carved file is too damaged to open as a
// database. It satisfies the pipeline package's Analyzer interface
// structurally, so it imports nothing from pipeline.
package analyzers

import (
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenchrcum/forensic-carver/internal/audit"
	"github.com/kenchrcum/forensic-carver/internal/carve"
	"github.com/kenchrcum/forensic-carver/internal/metadata"
	"github.com/kenchrcum/forensic-carver/internal/model"
)

// SQLiteAnalyzer recovers browser-history-shaped records from carved
// SQLite files. If the file opens as a normal database and yields
// recognized browser tables, those rows are used; otherwise, when
// enabled, a direct page walk salvages plausible URL/title/timestamp
// tuples from leaf table b-tree pages. The pipeline also hands it carved
// SQLite-WAL and orphan-page files; both paths need the SQLite database
// header, so those files yield no records.
type SQLiteAnalyzer struct {
	EnablePageRecovery bool
	Logger             *logrus.Logger
	Audit              audit.Logger
}

// NewSQLiteAnalyzer builds an analyzer. logger and auditLog may be nil.
func NewSQLiteAnalyzer(enablePageRecovery bool, auditLog audit.Logger, logger *logrus.Logger) *SQLiteAnalyzer {
	if logger == nil {
		logger = logrus.New()
	}
	return &SQLiteAnalyzer{EnablePageRecovery: enablePageRecovery, Logger: logger, Audit: auditLog}
}

// Analyze opens the carved file, extracts browser history rows via
// ordinary SQL, and falls back to page-level recovery if that yields
// nothing and EnablePageRecovery is set. It never returns an error: a
// failed analysis is logged and simply produces no records, the way a
// carve worker must never stall on a post-carve extra.
func (a *SQLiteAnalyzer) Analyze(ctx *carve.ExtractionContext, file *model.CarvedFile, bus *metadata.Bus) {
	start := time.Now()
	path := filepath.Join(ctx.OutputRoot, file.RelativePath)

	records, err := extractBrowserHistory(path, ctx.RunID, file.RelativePath)
	if err != nil {
		a.Logger.WithError(err).WithField("file", file.RelativePath).Debug("analyzers: sqlite open failed")
	}

	if len(records) == 0 && a.EnablePageRecovery {
		recovered, perr := extractHistoryFromPages(path, ctx.RunID, file.RelativePath)
		if perr != nil {
			a.Logger.WithError(perr).WithField("file", file.RelativePath).Debug("analyzers: sqlite page recovery failed")
		}
		records = recovered
	}

	now := time.Now()
	for i := range records {
		bus.Publish(metadata.NewDatabaseRecordEvent(ctx.RunID, now, &records[i]))
	}

	if a.Audit != nil {
		a.Audit.LogAnalyzer(ctx.RunID, file.FileType, len(records) > 0, nil, time.Since(start))
	}
}

func browserHistoryRecord(runID, browser, profile, url string, title *string, visitTime *time.Time, visitSource *string, sourceFile string) model.DatabaseRecord {
	fields := map[string]interface{}{
		"browser": browser,
		"profile": profile,
		"url":     url,
	}
	if title != nil {
		fields["title"] = *title
	}
	if visitTime != nil {
		fields["visit_time"] = visitTime.UTC().Format(time.RFC3339)
	}
	if visitSource != nil {
		fields["visit_source"] = *visitSource
	}
	return model.DatabaseRecord{
		SourceFile: sourceFile,
		Kind:       "browser_history",
		Fields:     fields,
		Recovered:  browser == "sqlite_page",
	}
}
