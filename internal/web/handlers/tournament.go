package handlers

import (
	"errors"
	"net/http"

	"github.com/kozaktomas/album-curator/internal/pipeline"
	"github.com/kozaktomas/album-curator/internal/tournament"
)

// MatchRequest is one human choice between two clusters.
type MatchRequest struct {
	Left   *int `json:"left_cluster_id" validate:"required,gte=0"`
	Right  *int `json:"right_cluster_id" validate:"required,gte=0"`
	Winner *int `json:"winner_cluster_id" validate:"required,gte=0"`
}

// NextPairResponse is the next comparison, or done once the tournament
// has stopped.
type NextPairResponse struct {
	Done  bool                     `json:"done"`
	Left  *tournament.ClusterState `json:"left,omitempty"`
	Right *tournament.ClusterState `json:"right,omitempty"`
	Pair  *tournament.Pair         `json:"pair,omitempty"`
}

// ExportRequest selects where a curated export goes.
type ExportRequest struct {
	Upload  bool   `json:"upload"`
	Publish bool   `json:"publish"`
	Title   string `json:"title" validate:"max=200"`
}

// Tournament returns the tournament state.
func (h *AlbumsHandler) Tournament(w http.ResponseWriter, r *http.Request) {
	state, err := h.orch.Tournament(albumID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// NextPair suggests the next two clusters to compare.
func (h *AlbumsHandler) NextPair(w http.ResponseWriter, r *http.Request) {
	state, pair, ok, err := h.orch.NextPair(albumID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if !ok {
		respondJSON(w, http.StatusOK, NextPairResponse{Done: true})
		return
	}
	left, _ := state.Cluster(pair.Left)
	right, _ := state.Cluster(pair.Right)
	respondJSON(w, http.StatusOK, NextPairResponse{Left: &left, Right: &right, Pair: &pair})
}

// SubmitMatch records a choice and returns the updated state.
func (h *AlbumsHandler) SubmitMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := h.orch.SubmitChoice(r.Context(), albumID(r), *req.Left, *req.Right, *req.Winner)
	if errors.Is(err, tournament.ErrUnknownCluster) {
		// Unknown ids in a choice are a bad request.
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// Export writes the curated selection and optionally uploads and publishes it.
func (h *AlbumsHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.orch.Export(r.Context(), albumID(r), pipeline.ExportOptions{
		Upload:  req.Upload,
		Publish: req.Publish,
		Title:   req.Title,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
