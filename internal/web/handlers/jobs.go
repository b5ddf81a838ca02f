package handlers

import (
	"log"
	"net/http"

	"github.com/kozaktomas/album-curator/internal/pipeline"
)

// AlbumsHandler serves the album curation API on top of the orchestrator.
type AlbumsHandler struct {
	orch *pipeline.Orchestrator
}

// NewAlbumsHandler creates a new albums handler.
func NewAlbumsHandler(orch *pipeline.Orchestrator) *AlbumsHandler {
	return &AlbumsHandler{orch: orch}
}

// StartJobRequest lists the uploaded objects of an album.
type StartJobRequest struct {
	Files []pipeline.UploadedFile `json:"files" validate:"required,min=1,dive"`
	Force bool                    `json:"force"`
}

// PreferencesRequest carries the mood selection.
type PreferencesRequest struct {
	Moods []string `json:"moods" validate:"required,min=1,max=2,dive,required"`
	Force bool     `json:"force"`
}

// MoodResponse is one selectable mood.
type MoodResponse struct {
	Name  string `json:"name"`
	Short string `json:"short"`
}

// Moods lists the mood catalog.
func (h *AlbumsHandler) Moods(w http.ResponseWriter, r *http.Request) {
	catalog := h.orch.Catalog()
	out := make([]MoodResponse, 0, len(catalog.Moods))
	for _, m := range catalog.Moods {
		out = append(out, MoodResponse{Name: m.Name, Short: m.Short})
	}
	respondJSON(w, http.StatusOK, out)
}

// StartJob starts (or returns) the job of an album.
func (h *AlbumsHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	var req StartJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := albumID(r)
	state, err := h.orch.Start(r.Context(), id, req.Files, req.Force)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	log.Printf("Album %s: start requested with %d files (force=%v)", sanitizeForLog(id), len(req.Files), req.Force)
	respondJSON(w, http.StatusAccepted, state)
}

// Status returns the durable job state.
func (h *AlbumsHandler) Status(w http.ResponseWriter, r *http.Request) {
	state, err := h.orch.Status(albumID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// SubmitPreferences stores the mood selection and runs phase 2.
func (h *AlbumsHandler) SubmitPreferences(w http.ResponseWriter, r *http.Request) {
	var req PreferencesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := h.orch.SubmitPreferences(r.Context(), albumID(r), req.Moods, req.Force)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, state)
}
