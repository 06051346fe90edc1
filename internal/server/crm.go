package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pitchcoach/pitchcoach/internal/crm"
)

// handleAddVC inserts a new investor into the pipeline. A duplicate name
// returns 409 together with the existing record.
func (s *Server) handleAddVC(w http.ResponseWriter, r *http.Request) {
	var in crm.VCInput
	if err := decodeBody(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	vc, err := s.crm.AddVC(r.Context(), in)
	if errors.Is(err, crm.ErrDuplicate) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "existing": vc})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vc)
}

// handleListVCs lists the pipeline, optionally filtered by ?status=.
func (s *Server) handleListVCs(w http.ResponseWriter, r *http.Request) {
	var (
		vcs []crm.VC
		err error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := crm.Status(raw)
		if !status.IsValid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + raw})
			return
		}
		vcs, err = s.crm.ListVCsByStatus(r.Context(), status)
	} else {
		vcs, err = s.crm.ListVCs(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if vcs == nil {
		vcs = []crm.VC{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"vcs": vcs})
}

func (s *Server) handlePipelineStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.crm.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDueFollowUps(w http.ResponseWriter, r *http.Request) {
	vcs, err := s.crm.DueFollowUps(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if vcs == nil {
		vcs = []crm.VC{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"vcs": vcs})
}

// handleExportCSV streams the pipeline as a CSV download.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="vc-pipeline.csv"`)
	if err := s.crm.ExportCSV(r.Context(), w); err != nil {
		// Headers are gone; all we can do is log.
		slog.Warn("pipeline export failed mid-stream", "err", err)
	}
}

func (s *Server) handleUpdateVCStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status crm.Status `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if !req.Status.IsValid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + string(req.Status)})
		return
	}

	vc, err := s.crm.UpdateVCStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vc)
}

func (s *Server) handleUpdateVCNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	vc, err := s.crm.UpdateVCNotes(r.Context(), r.PathValue("id"), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vc)
}

func (s *Server) handleAddVCTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Tag == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tag is required"})
		return
	}

	vc, err := s.crm.AddVCTag(r.Context(), r.PathValue("id"), req.Tag)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vc)
}

func (s *Server) handleRemoveVCTag(w http.ResponseWriter, r *http.Request) {
	vc, err := s.crm.RemoveVCTag(r.Context(), r.PathValue("id"), r.PathValue("tag"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vc)
}

// handleSetFollowUp schedules the next follow-up. The body carries the due
// time as unix milliseconds.
func (s *Server) handleSetFollowUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		At int64 `json:"at"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.At <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at must be a unix-millisecond timestamp"})
		return
	}

	vc, err := s.crm.SetVCFollowUp(r.Context(), r.PathValue("id"), time.UnixMilli(req.At))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vc)
}

func (s *Server) handleRecordFollowUp(w http.ResponseWriter, r *http.Request) {
	vc, err := s.crm.RecordVCFollowUp(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vc)
}

func (s *Server) handleDeleteVC(w http.ResponseWriter, r *http.Request) {
	if err := s.crm.DeleteVC(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── learning progress ─────────────────────────────────────────────────────────

func (s *Server) handleAllProgress(w http.ResponseWriter, r *http.Request) {
	modules, err := s.crm.AllProgress(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if modules == nil {
		modules = []crm.ModuleProgress{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": modules})
}

func (s *Server) handleLearningStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.crm.LearningStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCompleteModule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	p, err := s.crm.CompleteModule(r.Context(), r.PathValue("module"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRecordQuiz(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Score int    `json:"score"`
		Total int    `json:"total"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Total <= 0 || req.Score < 0 || req.Score > req.Total {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "score must be within 0..total and total positive"})
		return
	}

	p, err := s.crm.RecordQuizScore(r.Context(), r.PathValue("module"), req.Name, req.Score, req.Total)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAddTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Seconds int64  `json:"seconds"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Seconds <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "seconds must be positive"})
		return
	}

	p, err := s.crm.AddTimeSpent(r.Context(), r.PathValue("module"), req.Name, req.Seconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
