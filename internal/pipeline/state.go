// Package pipeline drives an album from uploaded files to a ranked,
// exportable selection: staging, dedupe, clustering, the mood pause,
// style scoring and the tournament.
package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/kozaktomas/album-curator/internal/workspace"
)

// Status is one state of the album state machine.
type Status string

// Status constants, in the order a run moves through them.
const (
	StatusQueued          Status = "queued"
	StatusStaging         Status = "staging_inputs"
	StatusRunningA        Status = "running_a"
	StatusDoneA           Status = "done_a"
	StatusRunningPhase1   Status = "running_b_phase1"
	StatusWaitingForMoods Status = "waiting_user_input"
	StatusRunningPhase2   Status = "running_b_phase2"
	StatusDone            Status = "done"
	StatusError           Status = "error"
)

// Progress values reported for each state.
const (
	progressQueued  = 0.0
	progressStaging = 0.05
	progressStaged  = 0.2
	progressRunA    = 0.6
	progressDoneA   = 0.65
	progressPhase1  = 0.75
	progressWaiting = 0.85
	progressPhase2  = 0.9
	progressDone    = 1.0
)

// InFlight reports whether a worker is expected to move the job further.
func (s Status) InFlight() bool {
	switch s {
	case StatusQueued, StatusStaging, StatusRunningA, StatusDoneA, StatusRunningPhase1, StatusRunningPhase2:
		return true
	}
	return false
}

// Count keys of JobState.Counts.
const (
	CountUploaded      = "uploaded_count"
	CountStaged        = "staged_count"
	CountReducedPool   = "step_a_reduced_pool_count"
	CountGroups        = "step_a_groups_count"
	CountClusters      = "step_b_cluster_count"
	CountClusterImages = "step_b_image_count"
)

// JobState is the durable status document of one album.
type JobState struct {
	AlbumID           string            `json:"albumId" validate:"required"`
	RunID             string            `json:"runId"`
	Status            Status            `json:"status" validate:"required"`
	Progress          float64           `json:"progress" validate:"gte=0,lte=1"`
	Error             string            `json:"error,omitempty"`
	ErrorLogExcerpt   string            `json:"error_log_excerpt,omitempty"`
	Workspace         string            `json:"workspace"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	Counts            map[string]int    `json:"counts"`
	WorkspaceRelPaths map[string]string `json:"workspace_rel_paths"`
}

func newJobState(albumID string, l workspace.Layout) JobState {
	return JobState{
		AlbumID:           albumID,
		Status:            StatusQueued,
		Progress:          progressQueued,
		Workspace:         filepath.ToSlash(l.Root),
		Counts:            zeroCounts(),
		WorkspaceRelPaths: l.RelPaths(),
	}
}

func zeroCounts() map[string]int {
	return map[string]int{
		CountUploaded:      0,
		CountStaged:        0,
		CountReducedPool:   0,
		CountGroups:        0,
		CountClusters:      0,
		CountClusterImages: 0,
	}
}

// readState loads the stored status document. ok is false when none exists.
func readState(l workspace.Layout) (JobState, bool, error) {
	var s JobState
	err := workspace.ReadJSON(l.Status(), &s)
	if errors.Is(err, fs.ErrNotExist) {
		return JobState{}, false, nil
	}
	if err != nil {
		return JobState{}, false, err
	}
	if err := workspace.Validate(&s); err != nil {
		return JobState{}, false, fmt.Errorf("%s: %w", l.Status(), err)
	}
	return s, true, nil
}

// writeState completes and atomically persists s.
func writeState(l workspace.Layout, s *JobState) error {
	counts := zeroCounts()
	maps.Copy(counts, s.Counts)
	s.Counts = counts
	s.WorkspaceRelPaths = l.RelPaths()
	s.Workspace = filepath.ToSlash(l.Root)
	s.UpdatedAt = time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return workspace.WriteJSON(l.Status(), s)
}

// stepACounts counts the reduced pool and the duplicate groups.
func stepACounts(l workspace.Layout) map[string]int {
	pool, _ := workspace.ListImages(l.ReducedPool())
	return map[string]int{
		CountReducedPool: len(pool),
		CountGroups:      workspace.CountLines(l.StepAManifest()),
	}
}

func stepBCounts(l workspace.Layout) map[string]int {
	return map[string]int{
		CountClusters:      workspace.CountLines(l.Clusters()),
		CountClusterImages: workspace.CountLines(l.Images()),
	}
}

func stepAOutputsExist(l workspace.Layout) bool {
	return workspace.Exists(l.Dedup(), l.StepAManifest(), l.ReducedPool(), l.Quality())
}

func phaseOneOutputsExist(l workspace.Layout) bool {
	return stepAOutputsExist(l) && workspace.Exists(l.KMeans(), l.KMeansClusters())
}

func phaseTwoOutputsExist(l workspace.Layout) bool {
	return workspace.Exists(l.Images(), l.Clusters())
}
