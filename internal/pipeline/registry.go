package pipeline

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/gofrs/flock"

	"github.com/kozaktomas/album-curator/internal/workspace"
)

// Registry tracks the albums that currently have a worker. The lock is held
// only while inserting, checking or removing entries.
type Registry struct {
	active map[string]*worker // album id -> worker
	mu     sync.Mutex
}

type worker struct {
	runID   string
	pending bool          // a mood selection arrived while running
	closing bool          // the worker has seen its last selection
	done    chan struct{} // closed on release
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*worker)}
}

// TryAcquire registers a worker for albumID. It returns false when one is
// already running.
func (r *Registry) TryAcquire(albumID, runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[albumID]; ok {
		return false
	}
	r.active[albumID] = &worker{runID: runID, done: make(chan struct{})}
	return true
}

// Release removes the worker of albumID if it is runID.
func (r *Registry) Release(albumID, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.active[albumID]; ok && w.runID == runID {
		delete(r.active, albumID)
		close(w.done)
	}
}

// Active reports whether albumID has a worker.
func (r *Registry) Active(albumID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[albumID]
	return ok
}

// Handoff passes a new mood selection to the worker of albumID. It returns
// true when the worker will read it. Otherwise wait is nil when no worker is
// registered, or closes once a worker that is shutting down has released.
func (r *Registry) Handoff(albumID string) (accepted bool, wait <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.active[albumID]
	switch {
	case !ok:
		return false, nil
	case w.closing:
		return false, w.done
	}
	w.pending = true
	return true, nil
}

// Drain forgets handoffs made before the worker reads the selection.
func (r *Registry) Drain(albumID, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.active[albumID]; ok && w.runID == runID {
		w.pending = false
	}
}

// Settle is called by a worker that is about to stop. It returns true when a
// selection was handed off since the last call; the worker must then keep
// going. Otherwise no further handoffs are accepted.
func (r *Registry) Settle(albumID, runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.active[albumID]
	if !ok || w.runID != runID {
		return false
	}
	if w.pending {
		w.pending = false
		return true
	}
	w.closing = true
	return false
}

// Len returns the number of running workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// workspaceLock guards a workspace against a second process, such as a CLI
// run next to the server.
type workspaceLock struct {
	fl *flock.Flock
}

func lockWorkspace(l workspace.Layout) (*workspaceLock, error) {
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	fl := flock.New(l.LockFile())
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock workspace: %w", err)
	}
	if !ok {
		return nil, ErrWorkspaceLocked
	}
	return &workspaceLock{fl: fl}, nil
}

func (w *workspaceLock) Unlock() {
	if err := w.fl.Unlock(); err != nil {
		log.Printf("Warning: failed to unlock workspace: %v", err)
	}
}
