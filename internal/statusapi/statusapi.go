// Package statusapi exposes a run's liveness, readiness and progress over
// HTTP, separate from the metadata and metrics streams: where those
// record what was found and measured, this is the surface an operator or
// dashboard polls to see a run moving.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/kenchrcum/forensic-carver/internal/metrics"
	"github.com/kenchrcum/forensic-carver/internal/pipeline"
)

// Handler serves health/readiness/liveness checks plus the most recent
// pipeline.ProgressSnapshot for the run it is attached to.
type Handler struct {
	mu       sync.RWMutex
	latest   pipeline.ProgressSnapshot
	have     bool
	ready    func(context.Context) error
	metrics  *metrics.Metrics
	version  string
}

// NewHandler builds a status handler. m may be nil if metrics are not
// wired for this run.
func NewHandler(m *metrics.Metrics, version string) *Handler {
	return &Handler{metrics: m, version: version}
}

// Report records the latest progress snapshot, intended to be passed
// directly as a pipeline.ProgressReporter.
func (h *Handler) Report(snap pipeline.ProgressSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = snap
	h.have = true
}

// SetReadinessCheck installs the probe /readyz runs, typically a
// one-byte read against the open evidence source. Until one is set the
// endpoint reports ready unconditionally.
func (h *Handler) SetReadinessCheck(check func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = check
}

func (h *Handler) readinessCheck(ctx context.Context) error {
	h.mu.RLock()
	check := h.ready
	h.mu.RUnlock()
	if check == nil {
		return nil
	}
	return check(ctx)
}

// RegisterRoutes wires the handler's endpoints onto r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", metrics.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", metrics.ReadinessHandler(h.readinessCheck)).Methods(http.MethodGet)
	r.HandleFunc("/livez", metrics.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/progress", h.handleProgress).Methods(http.MethodGet)
	r.HandleFunc("/version", h.handleVersion).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}
}

type progressResponse struct {
	RunID           string  `json:"run_id"`
	ChunksProcessed uint64  `json:"chunks_processed"`
	TotalChunks     uint64  `json:"total_chunks"`
	BytesScanned    uint64  `json:"bytes_scanned"`
	EvidenceLen     uint64  `json:"evidence_len"`
	HitsFound       uint64  `json:"hits_found"`
	FilesCarved     uint64  `json:"files_carved"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	Available       bool    `json:"available"`
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	snap, have := h.latest, h.have
	h.mu.RUnlock()

	resp := progressResponse{Available: have}
	if have {
		resp.RunID = snap.RunID
		resp.ChunksProcessed = snap.ChunksProcessed
		resp.TotalChunks = snap.TotalChunks
		resp.BytesScanned = snap.BytesScanned
		resp.EvidenceLen = snap.EvidenceLen
		resp.HitsFound = snap.HitsFound
		resp.FilesCarved = snap.FilesCarved
		resp.ElapsedSeconds = snap.Elapsed.Seconds()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"service": "forensic-carver",
		"version": h.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Serve starts an HTTP server on addr with the handler's routes mounted.
// It returns at once, with ListenAndServe running in a background
// goroutine; callers stop it via the returned *http.Server's Shutdown.
func Serve(addr string, h *Handler) *http.Server {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go srv.ListenAndServe()
	return srv
}
