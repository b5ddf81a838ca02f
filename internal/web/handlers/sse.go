package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/kozaktomas/album-curator/internal/pipeline"
)

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// isTerminal reports whether no further events will follow without a new
// request from the client.
func isTerminal(s pipeline.Status) bool {
	return s == pipeline.StatusDone || s == pipeline.StatusError || s == pipeline.StatusWaitingForMoods
}

// Events streams job state transitions of an album as server-sent events.
// The current state is sent first; the stream ends once the job is done,
// failed or waiting for the mood selection.
func (h *AlbumsHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := albumID(r)
	state, err := h.orch.Status(id)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := h.orch.Events()
	eventCh := events.AddListener(id)
	defer events.RemoveListener(id, eventCh)

	sendSSEEvent(w, flusher, pipeline.EventStatus, state)
	if isTerminal(state.Status) && !h.orch.Running(id) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if event.Data != nil && isTerminal(event.Data.Status) {
				return
			}
		}
	}
}
