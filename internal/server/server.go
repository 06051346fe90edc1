// Package server exposes the HTTP API the PitchCoach UI consumes: the live
// interview WebSocket bridge, the podcast endpoints, the CRM endpoints, and
// the operational surface (health probes, Prometheus metrics).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pitchcoach/pitchcoach/internal/config"
	"github.com/pitchcoach/pitchcoach/internal/crm"
	"github.com/pitchcoach/pitchcoach/internal/health"
	"github.com/pitchcoach/pitchcoach/internal/observe"
	"github.com/pitchcoach/pitchcoach/internal/podcast"
	"github.com/pitchcoach/pitchcoach/pkg/provider/live"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Deps are the subsystems the server serves. All fields are required except
// Metrics, which falls back to the default instance.
type Deps struct {
	Live      live.Provider
	Generator *podcast.Generator
	Podcasts  *podcast.Store
	CRM       *crm.Store
	Metrics   *observe.Metrics
}

// Server is the PitchCoach HTTP server.
type Server struct {
	cfg     *config.Config
	live    live.Provider
	gen     *podcast.Generator
	store   *podcast.Store
	crm     *crm.Store
	metrics *observe.Metrics

	interviewBusy atomic.Bool
}

// New wires a Server from config and dependencies.
func New(cfg *config.Config, deps Deps) *Server {
	m := deps.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{
		cfg:     cfg,
		live:    deps.Live,
		gen:     deps.Generator,
		store:   deps.Podcasts,
		crm:     deps.CRM,
		metrics: m,
	}
}

// Handler returns the full route tree, wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	h := health.New(
		health.Database("podcasts", s.store),
		health.Database("crm", s.crm),
	)
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/interview", s.handleInterview)

	mux.HandleFunc("POST /api/podcasts/{title}/generate", s.handleGeneratePodcast)
	mux.HandleFunc("GET /api/podcasts", s.handleListPodcasts)
	mux.HandleFunc("GET /api/podcasts/{title}", s.handleGetPodcast)
	mux.HandleFunc("GET /api/podcasts/{title}/audio.wav", s.handleDownloadWAV)
	mux.HandleFunc("DELETE /api/podcasts/{title}", s.handleDeletePodcast)
	mux.HandleFunc("DELETE /api/podcasts", s.handleClearPodcasts)

	mux.HandleFunc("POST /api/pipeline", s.handleAddVC)
	mux.HandleFunc("GET /api/pipeline", s.handleListVCs)
	mux.HandleFunc("GET /api/pipeline/stats", s.handlePipelineStats)
	mux.HandleFunc("GET /api/pipeline/followups", s.handleDueFollowUps)
	mux.HandleFunc("GET /api/pipeline/export.csv", s.handleExportCSV)
	mux.HandleFunc("PATCH /api/pipeline/{id}/status", s.handleUpdateVCStatus)
	mux.HandleFunc("PATCH /api/pipeline/{id}/notes", s.handleUpdateVCNotes)
	mux.HandleFunc("POST /api/pipeline/{id}/tags", s.handleAddVCTag)
	mux.HandleFunc("DELETE /api/pipeline/{id}/tags/{tag}", s.handleRemoveVCTag)
	mux.HandleFunc("PUT /api/pipeline/{id}/followup", s.handleSetFollowUp)
	mux.HandleFunc("POST /api/pipeline/{id}/followup/record", s.handleRecordFollowUp)
	mux.HandleFunc("DELETE /api/pipeline/{id}", s.handleDeleteVC)

	mux.HandleFunc("GET /api/progress", s.handleAllProgress)
	mux.HandleFunc("GET /api/progress/stats", s.handleLearningStats)
	mux.HandleFunc("POST /api/progress/{module}/complete", s.handleCompleteModule)
	mux.HandleFunc("POST /api/progress/{module}/quiz", s.handleRecordQuiz)
	mux.HandleFunc("POST /api/progress/{module}/time", s.handleAddTime)

	return observe.Middleware(s.metrics)(mux)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, podcast.ErrNotFound), errors.Is(err, crm.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, crm.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, podcast.ErrQuotaExceeded):
		status = http.StatusInsufficientStorage
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
