package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"regexp"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/objectstore"
	"github.com/kozaktomas/album-curator/internal/stages"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

var (
	ErrInvalidAlbumID  = errors.New("album id must be 1-128 letters, digits, dots, dashes or underscores")
	ErrNoFiles         = errors.New("at least one uploaded file is required")
	ErrJobNotFound     = errors.New("no job found for album")
	ErrWorkspaceLocked = errors.New("album workspace is locked by another process")
	ErrNotReady        = errors.New("album output not available yet")
	ErrJobRunning      = errors.New("a job is running for this album")
	ErrNotConfigured   = errors.New("not configured")
)

var albumIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Publisher publishes curated files into an external photo library and
// returns the library's album id.
type Publisher interface {
	Publish(ctx context.Context, title, description string, files []string) (string, error)
}

// Options configures an Orchestrator.
type Options struct {
	DataDir      string
	Catalog      *config.CurationConfig
	Store        objectstore.Store
	Runner       StageRunner
	Retry        objectstore.RetryPolicy
	Events       *Broadcaster
	Registry     *Registry
	Publisher    Publisher // optional
	ExportPrefix string    // object key prefix for curated uploads
}

// Orchestrator runs album jobs in the background. At most one worker runs
// per album; status is always read back from the workspace.
type Orchestrator struct {
	opts     Options
	events   *Broadcaster
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	albumMu  sync.Mutex
	albumMus map[string]*sync.Mutex

	similar *similarCache
}

// New creates an orchestrator. Missing collaborators get defaults.
func New(opts Options) *Orchestrator {
	if opts.Catalog == nil {
		c := config.DefaultCuration()
		opts.Catalog = &c
	}
	if opts.Events == nil {
		opts.Events = NewBroadcaster()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = objectstore.DefaultRetryPolicy()
	}
	if opts.ExportPrefix == "" {
		opts.ExportPrefix = "albums"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:     opts,
		events:   opts.Events,
		registry: opts.Registry,
		ctx:      ctx,
		cancel:   cancel,
		albumMus: make(map[string]*sync.Mutex),
		similar:  newSimilarCache(),
	}
}

// Events returns the broadcaster job transitions are sent to.
func (o *Orchestrator) Events() *Broadcaster { return o.events }

// Catalog returns the mood catalog.
func (o *Orchestrator) Catalog() *config.CurationConfig { return o.opts.Catalog }

// Running reports whether a worker is active for albumID.
func (o *Orchestrator) Running(albumID string) bool { return o.registry.Active(albumID) }

// Wait blocks until every background worker has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Shutdown cancels running workers and waits for them.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}

// ValidateAlbumID checks that an album id is safe to use as a directory name.
func ValidateAlbumID(albumID string) error {
	if !albumIDPattern.MatchString(albumID) {
		return fmt.Errorf("%w: %q", ErrInvalidAlbumID, albumID)
	}
	return nil
}

// Layout returns the workspace of an album after validating its id.
func (o *Orchestrator) Layout(albumID string) (workspace.Layout, error) {
	if err := ValidateAlbumID(albumID); err != nil {
		return workspace.Layout{}, err
	}
	return workspace.New(o.opts.DataDir, albumID), nil
}

// albumLock serializes tournament updates and exports of one album.
func (o *Orchestrator) albumLock(albumID string) *sync.Mutex {
	o.albumMu.Lock()
	defer o.albumMu.Unlock()
	mu, ok := o.albumMus[albumID]
	if !ok {
		mu = &sync.Mutex{}
		o.albumMus[albumID] = mu
	}
	return mu
}

// Status returns the last durable state of an album. Unknown albums get a
// queued skeleton with zero counts.
func (o *Orchestrator) Status(albumID string) (JobState, error) {
	l, err := o.Layout(albumID)
	if err != nil {
		return JobState{}, err
	}
	s, ok, err := readState(l)
	if err != nil {
		return JobState{}, err
	}
	if !ok {
		return newJobState(albumID, l), nil
	}
	return s, nil
}

// transition persists a new status and notifies listeners.
func (o *Orchestrator) transition(l workspace.Layout, s *JobState, status Status, progress float64, counts map[string]int) error {
	s.Status = status
	s.Progress = progress
	if status != StatusError {
		s.Error = ""
		s.ErrorLogExcerpt = ""
	}
	if s.Counts == nil {
		s.Counts = map[string]int{}
	}
	maps.Copy(s.Counts, counts)
	if err := writeState(l, s); err != nil {
		return err
	}
	log.Printf("Album %s: %s (%.0f%%)", s.AlbumID, status, progress*100)
	o.events.Send(s.AlbumID, eventFor(*s))
	return nil
}

// fail records err as the terminal state of a run.
func (o *Orchestrator) fail(l workspace.Layout, s *JobState, err error) {
	s.Error = err.Error()
	var se *StageError
	if errors.As(err, &se) {
		s.ErrorLogExcerpt = se.LogTail
	} else {
		for _, stage := range []string{stages.Tournament, stages.Style, stages.Cluster, stages.Dedupe} {
			if excerpt := readLogTail(l, stage); excerpt != "" {
				s.ErrorLogExcerpt = excerpt
				break
			}
		}
	}
	log.Printf("Album %s: job failed: %v", s.AlbumID, err)
	if werr := o.transition(l, s, StatusError, progressDone, nil); werr != nil {
		log.Printf("Album %s: could not persist failure: %v", s.AlbumID, werr)
	}
}

// begin registers a worker for albumID and takes the workspace lock. The
// returned release undoes both.
func (o *Orchestrator) begin(l workspace.Layout, albumID, runID string) (release func(), err error) {
	if !o.registry.TryAcquire(albumID, runID) {
		return nil, ErrJobRunning
	}
	lock, err := lockWorkspace(l)
	if err != nil {
		o.registry.Release(albumID, runID)
		return nil, err
	}
	return func() {
		lock.Unlock()
		o.registry.Release(albumID, runID)
	}, nil
}

// launch runs fn in the background and calls release when it returns.
func (o *Orchestrator) launch(release func(), fn func(ctx context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer release()
		fn(o.ctx)
	}()
}

// Start stages files and runs dedupe and phase 1 in the background, stopping
// at the mood selection. Repeated calls return the current state while a
// run is in flight or its outputs are complete; force reruns everything.
func (o *Orchestrator) Start(ctx context.Context, albumID string, files []UploadedFile, force bool) (JobState, error) {
	l, err := o.Layout(albumID)
	if err != nil {
		return JobState{}, err
	}
	if len(files) == 0 {
		return JobState{}, ErrNoFiles
	}
	for i := range files {
		if err := workspace.Validate(&files[i]); err != nil {
			return JobState{}, fmt.Errorf("file %d: %w", i+1, err)
		}
	}

	if o.registry.Active(albumID) {
		return o.Status(albumID)
	}
	existing, ok, err := readState(l)
	if err != nil {
		return JobState{}, err
	}
	if ok && !force {
		switch {
		case existing.Status == StatusWaitingForMoods && phaseOneOutputsExist(l):
			return existing, nil
		case existing.Status == StatusDoneA && stepAOutputsExist(l):
			return existing, nil
		case existing.Status == StatusDone && phaseOneOutputsExist(l) && phaseTwoOutputsExist(l):
			return existing, nil
		}
	}

	s := newJobState(albumID, l)
	s.RunID = uuid.NewString()
	release, err := o.begin(l, albumID, s.RunID)
	switch {
	case errors.Is(err, ErrJobRunning):
		return o.Status(albumID)
	case errors.Is(err, ErrWorkspaceLocked) && ok:
		// Another process is driving this workspace.
		return existing, nil
	case err != nil:
		return JobState{}, err
	}
	if ok {
		s.CreatedAt = existing.CreatedAt
		if existing.Status.InFlight() && !force {
			log.Printf("Album %s: restarting interrupted run in state %s", albumID, existing.Status)
		}
	}
	s.Counts[CountUploaded] = len(files)
	if err := o.transition(l, &s, StatusQueued, progressQueued, nil); err != nil {
		release()
		return JobState{}, err
	}

	files = orderFiles(files)
	job := s
	o.launch(release, func(ctx context.Context) {
		o.runJob(ctx, l, job, files, force)
	})
	return s, nil
}

func (o *Orchestrator) runJob(ctx context.Context, l workspace.Layout, s JobState, files []UploadedFile, force bool) {
	if err := o.runStepsA(ctx, l, &s, files, force); err != nil {
		o.fail(l, &s, err)
		return
	}
	if err := o.runPhaseOne(ctx, l, &s, force); err != nil {
		o.fail(l, &s, err)
		return
	}

	o.registry.Drain(s.AlbumID, s.RunID)
	sel, err := stages.ReadSelection(l)
	if err != nil {
		o.fail(l, &s, err)
		return
	}
	if len(sel.Moods) == 0 {
		if err := o.transition(l, &s, StatusWaitingForMoods, progressWaiting, nil); err != nil {
			log.Printf("Album %s: %v", s.AlbumID, err)
		}
		if !o.registry.Settle(s.AlbumID, s.RunID) {
			return
		}
		// Moods were submitted while phase 1 was finishing.
		force = true
	}
	o.phaseTwoLoop(ctx, l, &s, force)
}

// phaseTwoLoop runs phase 2 and repeats it for every selection handed off
// while it ran.
func (o *Orchestrator) phaseTwoLoop(ctx context.Context, l workspace.Layout, s *JobState, force bool) {
	for {
		if err := o.runPhaseTwo(ctx, l, s, force); err != nil {
			o.fail(l, s, err)
		}
		if ctx.Err() != nil || !o.registry.Settle(s.AlbumID, s.RunID) {
			return
		}
		force = true
	}
}

func (o *Orchestrator) runStepsA(ctx context.Context, l workspace.Layout, s *JobState, files []UploadedFile, force bool) error {
	if err := o.transition(l, s, StatusStaging, progressStaging, nil); err != nil {
		return err
	}
	if o.opts.Store == nil {
		return fmt.Errorf("%w: object store", ErrNotConfigured)
	}
	rows, err := StageInputs(ctx, o.opts.Store, l, files, o.opts.Retry, force)
	if err != nil {
		return err
	}
	if err := o.transition(l, s, StatusStaging, progressStaged, map[string]int{CountStaged: len(rows)}); err != nil {
		return err
	}

	if err := o.transition(l, s, StatusRunningA, progressRunA, nil); err != nil {
		return err
	}
	if err := o.opts.Runner.RunStage(ctx, l, stages.Dedupe, force); err != nil {
		return err
	}
	return o.transition(l, s, StatusDoneA, progressDoneA, stepACounts(l))
}

func (o *Orchestrator) runPhaseOne(ctx context.Context, l workspace.Layout, s *JobState, force bool) error {
	if err := o.transition(l, s, StatusRunningPhase1, progressPhase1, nil); err != nil {
		return err
	}
	return o.opts.Runner.RunStage(ctx, l, stages.Cluster, force)
}

func (o *Orchestrator) runPhaseTwo(ctx context.Context, l workspace.Layout, s *JobState, force bool) error {
	if err := o.transition(l, s, StatusRunningPhase2, progressPhase2, nil); err != nil {
		return err
	}
	if err := o.opts.Runner.RunStage(ctx, l, stages.Style, force); err != nil {
		return err
	}
	if err := o.opts.Runner.RunStage(ctx, l, stages.Tournament, force); err != nil {
		return err
	}
	o.similar.forget(s.AlbumID)
	return o.transition(l, s, StatusDone, progressDone, stepBCounts(l))
}

// SubmitPreferences stores the mood selection and runs phase 2 when it is
// new or forced. The same selection with phase 2 outputs present only marks
// the job done.
func (o *Orchestrator) SubmitPreferences(ctx context.Context, albumID string, moods []string, force bool) (JobState, error) {
	l, err := o.Layout(albumID)
	if err != nil {
		return JobState{}, err
	}
	canon, err := stages.CanonicalMoods(o.opts.Catalog, moods)
	if err != nil {
		return JobState{}, err
	}
	current, ok, err := readState(l)
	if err != nil {
		return JobState{}, err
	}
	if !ok {
		return JobState{}, ErrJobNotFound
	}

	prev, err := stages.ReadSelection(l)
	if err != nil {
		return JobState{}, err
	}
	if err := stages.WriteSelection(l, stages.Selection{AlbumID: albumID, Moods: canon}); err != nil {
		return JobState{}, err
	}
	accepted, wait := o.registry.Handoff(albumID)
	if accepted {
		// The running worker picks the selection up after phase 1.
		return o.Status(albumID)
	}
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return JobState{}, ctx.Err()
		}
		if current, _, err = readState(l); err != nil {
			return JobState{}, err
		}
	}

	unchanged := slices.Equal(prev.Moods, canon)
	if unchanged && !force && phaseTwoOutputsExist(l) {
		if current.Status == StatusDone {
			return current, nil
		}
		if err := o.transition(l, &current, StatusDone, progressDone, stepBCounts(l)); err != nil {
			return JobState{}, err
		}
		return current, nil
	}

	switch current.Status {
	case StatusWaitingForMoods, StatusDoneA, StatusRunningPhase1, StatusDone, StatusError:
	default:
		return current, nil
	}
	if !phaseOneOutputsExist(l) {
		if current.Status == StatusError {
			return current, nil
		}
		return JobState{}, fmt.Errorf("%w: phase 1 has not finished", ErrNotReady)
	}

	s := current
	s.RunID = uuid.NewString()
	release, err := o.begin(l, albumID, s.RunID)
	switch {
	case errors.Is(err, ErrJobRunning), errors.Is(err, ErrWorkspaceLocked):
		return o.Status(albumID)
	case err != nil:
		return JobState{}, err
	}
	if err := o.transition(l, &s, StatusRunningPhase2, progressPhase2, nil); err != nil {
		release()
		return JobState{}, err
	}

	rerun := force || !unchanged
	job := s
	o.launch(release, func(ctx context.Context) {
		o.phaseTwoLoop(ctx, l, &job, rerun)
	})
	return s, nil
}
