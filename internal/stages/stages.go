// Package stages runs the heavy per-album units of work: dedupe and
// quality, phase 1 clustering, phase 2 style scoring and the tournament
// bootstrap. Each stage skips itself when its outputs are current.
package stages

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/dedup"
	"github.com/kozaktomas/album-curator/internal/embedding"
	"github.com/kozaktomas/album-curator/internal/quality"
	"github.com/kozaktomas/album-curator/internal/styles"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// Stage names, also used for log files and stage manifests.
const (
	Dedupe     = "dedupe"
	Cluster    = "cluster"
	Style      = "style"
	Tournament = "tournament"
)

var (
	ErrUnknownStage = errors.New("unknown stage")
	ErrNoInputs     = errors.New("no staged images")
	ErrNoSelection  = errors.New("no moods selected")
	ErrNoProvider   = errors.New("embedding provider not configured")
)

// Names lists the stages in execution order.
func Names() []string {
	return []string{Dedupe, Cluster, Style, Tournament}
}

// Valid reports whether name is a known stage.
func Valid(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Executor runs stages against one album workspace.
type Executor struct {
	Layout  workspace.Layout
	Catalog *config.CurationConfig
	Workers int
	K       int // phase 1 cluster count, 0 picks one from the pool size

	ClusterProvider embedding.Provider
	StyleProvider   embedding.Provider
	Namer           styles.Namer

	// OnProgress is called after each photo of the dedupe stage, possibly
	// from several goroutines at once.
	OnProgress func(done, total int)
}

// Run executes one stage. force recomputes it even when cached.
func (e *Executor) Run(ctx context.Context, stage string, force bool) error {
	switch stage {
	case Dedupe:
		_, err := e.RunDedupe(ctx, force)
		return err
	case Cluster:
		return e.RunCluster(ctx, force)
	case Style:
		return e.RunStyle(ctx, force)
	case Tournament:
		_, err := e.RunTournament(force)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
}

// DedupConfig converts catalog defaults into a dedup config.
func DedupConfig(c *config.CurationConfig, workers int) dedup.Config {
	cfg := dedup.DefaultConfig()
	if c != nil {
		d := c.Dedup
		if d.PHashThreshold > 0 {
			cfg.PHashThreshold = d.PHashThreshold
		}
		cfg.DHashThreshold = d.DHashThreshold
		cfg.WHashThreshold = d.WHashThreshold
		cfg.SSIMThreshold = d.SSIMThreshold
		if d.HistThreshold > 0 {
			cfg.HistThreshold = d.HistThreshold
		}
		cfg.UseHistogram = d.UseHistogram
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	return cfg
}

// QualityThresholds converts catalog defaults into quality flag thresholds.
func QualityThresholds(c *config.CurationConfig) quality.Thresholds {
	th := quality.DefaultThresholds()
	if c == nil {
		return th
	}
	if c.Quality.BlurThreshold > 0 {
		th.Blur = c.Quality.BlurThreshold
	}
	if c.Quality.UnderexposedThreshold > 0 {
		th.Under = c.Quality.UnderexposedThreshold
	}
	if c.Quality.OverexposedThreshold > 0 {
		th.Over = c.Quality.OverexposedThreshold
	}
	return th
}

// DedupeSummary describes a finished dedupe stage.
type DedupeSummary struct {
	Cached   bool        `json:"cached"`
	Stats    dedup.Stats `json:"stats"`
	Rejected int         `json:"rejected"`
	Groups   int         `json:"groups"`
}

// RunDedupe hashes and assesses every staged image, groups duplicates and
// exports the reduced pool.
func (e *Executor) RunDedupe(ctx context.Context, force bool) (*DedupeSummary, error) {
	l := e.Layout
	files, err := workspace.ListImages(l.Inputs())
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoInputs
	}

	cfg := DedupConfig(e.Catalog, e.Workers)
	th := QualityThresholds(e.Catalog)
	inputsHash, err := workspace.FileIdentity(files)
	if err != nil {
		return nil, err
	}
	paramsHash := workspace.HashParams(struct {
		Dedup   dedup.Config       `json:"dedup"`
		Quality quality.Thresholds `json:"quality"`
	}{cfg, th})

	outputs := []string{l.Dedup(), l.StepAManifest(), l.ReducedPool(), l.Quality()}
	if !force && l.StageValid(Dedupe, inputsHash, paramsHash, outputs...) {
		log.Printf("Stage %s: outputs are current, skipping", Dedupe)
		return &DedupeSummary{Cached: true, Groups: workspace.CountLines(l.StepAManifest())}, nil
	}

	inputs := make([]dedup.Input, len(files))
	for i, f := range files {
		inputs[i] = dedup.Input{Path: l.Rel(f), File: f}
	}

	var done atomic.Int64
	var onDone func()
	if e.OnProgress != nil {
		onDone = func() { e.OnProgress(int(done.Add(1)), len(inputs)) }
	}

	analysis, err := dedup.Analyze(ctx, inputs, cfg.Workers, th, onDone)
	if err != nil {
		return nil, err
	}
	for _, f := range analysis.Failures {
		log.Printf("Warning: skipping unreadable image %v", f)
	}
	if len(analysis.Assets) == 0 {
		return nil, fmt.Errorf("%w: none of %d images could be read", ErrNoInputs, len(files))
	}

	byPath := make(map[string]quality.Record, len(analysis.Quality))
	rejected := 0
	for _, r := range analysis.Quality {
		byPath[r.Path] = r
		if r.Rejected {
			rejected++
		}
	}

	var verifier dedup.Verifier
	if v := dedup.NewImageVerifier(cfg); v != nil {
		verifier = v
	}
	res, err := dedup.Run(ctx, analysis.Assets, byPath, cfg, verifier)
	if err != nil {
		return nil, err
	}
	res.Stats.LoadErrors += len(analysis.Failures)

	rows, err := dedup.ExportReducedPool(res, analysis.Assets, byPath, dedup.ExportDirsFor(l))
	if err != nil {
		return nil, err
	}
	if err := quality.WriteRecords(l.Quality(), analysis.Quality); err != nil {
		return nil, err
	}
	if err := dedup.WriteRecords(l.Dedup(), res.Records); err != nil {
		return nil, err
	}
	if err := dedup.WriteManifest(l.StepAManifest(), rows); err != nil {
		return nil, err
	}
	if err := l.MarkStage(Dedupe, inputsHash, paramsHash, outputs...); err != nil {
		return nil, err
	}

	log.Printf("Stage %s: %d images, %d groups, %d duplicate sets, %d rejected",
		Dedupe, res.Stats.Assets, res.Stats.Groups, res.Stats.DuplicateSets, rejected)
	return &DedupeSummary{Stats: res.Stats, Rejected: rejected, Groups: len(rows)}, nil
}

// RunCluster runs phase 1 over the reduced pool.
func (e *Executor) RunCluster(ctx context.Context, force bool) error {
	if e.ClusterProvider == nil {
		return fmt.Errorf("%w: cluster model", ErrNoProvider)
	}
	l := e.Layout
	pool, err := workspace.ListImages(l.ReducedPool())
	if err != nil {
		return fmt.Errorf("list reduced pool: %w", err)
	}
	inputsHash, err := workspace.FileIdentity(pool)
	if err != nil {
		return err
	}
	paramsHash := workspace.HashParams(map[string]any{"model": e.ClusterProvider.Model(), "k": e.K})
	outputs := []string{l.KMeans(), l.KMeansClusters()}
	if !force && l.StageValid(Cluster, inputsHash, paramsHash, outputs...) {
		log.Printf("Stage %s: outputs are current, skipping", Cluster)
		return nil
	}

	if _, err := styles.RunPhaseOne(ctx, l, e.ClusterProvider, e.K, force); err != nil {
		return err
	}
	return l.MarkStage(Cluster, inputsHash, paramsHash, outputs...)
}

// RunStyle runs phase 2 for the persisted mood selection.
func (e *Executor) RunStyle(ctx context.Context, force bool) error {
	if e.StyleProvider == nil {
		return fmt.Errorf("%w: style model", ErrNoProvider)
	}
	l := e.Layout
	sel, err := ReadSelection(l)
	if err != nil {
		return err
	}
	if len(sel.Moods) == 0 {
		return ErrNoSelection
	}

	inputs := []string{l.KMeans()}
	if workspace.Exists(l.StepAManifest()) {
		inputs = append(inputs, l.StepAManifest())
	}
	inputsHash, err := workspace.FileIdentity(inputs)
	if err != nil {
		return err
	}
	paramsHash := workspace.HashParams(map[string]any{
		"model": e.StyleProvider.Model(),
		"moods": sel.Moods,
		"named": e.Namer != nil,
	})
	outputs := []string{l.Images(), l.Clusters()}
	if !force && l.StageValid(Style, inputsHash, paramsHash, outputs...) {
		log.Printf("Stage %s: outputs are current, skipping", Style)
		return nil
	}

	if _, err := styles.RunPhaseTwo(ctx, l, e.StyleProvider, e.Catalog, sel.Moods, e.Namer, force); err != nil {
		return err
	}
	return l.MarkStage(Style, inputsHash, paramsHash, outputs...)
}
