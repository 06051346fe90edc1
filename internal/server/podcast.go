package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pitchcoach/pitchcoach/pkg/audio"
)

type generateRequest struct {
	Content string `json:"content"`
}

type podcastResponse struct {
	Meta   any  `json:"meta"`
	Cached bool `json:"cached"`
}

// handleGeneratePodcast returns the podcast for a module, generating it on a
// cache miss.
func (s *Server) handleGeneratePodcast(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")

	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}

	res, err := s.gen.Podcast(r.Context(), title, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.RecordCacheLookup(r.Context(), res.Cached)
	writeJSON(w, http.StatusOK, podcastResponse{Meta: res.Meta, Cached: res.Cached})
}

// handleListPodcasts lists the metadata of every cached podcast.
func (s *Server) handleListPodcasts(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"podcasts": metas})
}

// handleGetPodcast returns the metadata (including the script) of one cached
// podcast.
func (s *Server) handleGetPodcast(w http.ResponseWriter, r *http.Request) {
	meta, _, err := s.store.Load(r.Context(), r.PathValue("title"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleDownloadWAV streams a cached podcast as a WAV download.
func (s *Server) handleDownloadWAV(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")
	_, buf, err := s.store.Load(r.Context(), title)
	if err != nil {
		writeError(w, err)
		return
	}

	data := audio.EncodeWAV(buf)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", audio.WAVFileName(title)))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.Write(data)
}

// handleDeletePodcast evicts one cached podcast. Deleting an absent entry
// succeeds.
func (s *Server) handleDeletePodcast(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("title")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearPodcasts evicts the whole cache.
func (s *Server) handleClearPodcasts(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
