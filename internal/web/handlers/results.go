package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ReducedPool lists the deduplicated images of an album.
func (h *AlbumsHandler) ReducedPool(w http.ResponseWriter, r *http.Request) {
	paths, err := h.orch.ReducedPool(albumID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(paths),
		"images": paths,
	})
}

// Clusters lists the style clusters of an album.
func (h *AlbumsHandler) Clusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.orch.Clusters(albumID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, clusters)
}

// ClusterImages lists the images of one cluster, best first.
func (h *AlbumsHandler) ClusterImages(w http.ResponseWriter, r *http.Request) {
	clusterID, err := strconv.Atoi(chi.URLParam(r, "clusterId"))
	if err != nil || clusterID < 0 {
		respondError(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	images, err := h.orch.ClusterImages(albumID(r), clusterID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, images)
}

// Similar finds images that look like the one given in ?path=.
func (h *AlbumsHandler) Similar(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "missing path")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	results, err := h.orch.Similar(r.Context(), albumID(r), path, limit)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"results": results,
	})
}

// Asset serves a workspace file. Paths are resolved inside the album
// workspace only.
func (h *AlbumsHandler) Asset(w http.ResponseWriter, r *http.Request) {
	p, err := h.orch.Asset(albumID(r), chi.URLParam(r, "*"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	http.ServeFile(w, r, p)
}
