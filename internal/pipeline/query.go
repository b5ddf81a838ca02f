package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"time"

	"github.com/kozaktomas/album-curator/internal/stages"
	"github.com/kozaktomas/album-curator/internal/styles"
	"github.com/kozaktomas/album-curator/internal/tournament"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// loadTournament reads the tournament of l, seeding it from the phase 2
// outputs on first use. The caller holds the album lock.
func (o *Orchestrator) loadTournament(l workspace.Layout) (*tournament.State, error) {
	s, err := tournament.Load(l.TournamentState())
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	s, err = stages.Bootstrap(l, o.opts.Catalog, time.Now())
	if err != nil {
		if errors.Is(err, stages.ErrNoStyleOutput) {
			return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		return nil, err
	}
	if err := tournament.Save(l.TournamentState(), s); err != nil {
		return nil, err
	}
	return s, nil
}

// Tournament returns the tournament state of an album.
func (o *Orchestrator) Tournament(albumID string) (*tournament.State, error) {
	l, err := o.Layout(albumID)
	if err != nil {
		return nil, err
	}
	mu := o.albumLock(albumID)
	mu.Lock()
	defer mu.Unlock()
	return o.loadTournament(l)
}

// NextPair suggests the next two clusters to compare along with the state
// they come from. ok is false once the tournament is done.
func (o *Orchestrator) NextPair(albumID string) (s *tournament.State, pair tournament.Pair, ok bool, err error) {
	s, err = o.Tournament(albumID)
	if err != nil {
		return nil, tournament.Pair{}, false, err
	}
	pair, ok = tournament.Suggest(s)
	return s, pair, ok, nil
}

// SubmitChoice records one human choice and persists the updated state.
func (o *Orchestrator) SubmitChoice(ctx context.Context, albumID string, left, right, winner int) (*tournament.State, error) {
	l, err := o.Layout(albumID)
	if err != nil {
		return nil, err
	}
	mu := o.albumLock(albumID)
	mu.Lock()
	defer mu.Unlock()
	// A running phase 2 rewrites the state file.
	if o.registry.Active(albumID) {
		return nil, ErrJobRunning
	}

	s, err := o.loadTournament(l)
	if err != nil {
		return nil, err
	}
	if err := s.RecordMatch(left, right, winner, time.Now()); err != nil {
		return nil, err
	}
	if err := tournament.Save(l.TournamentState(), s); err != nil {
		return nil, err
	}
	return s, nil
}

// ReducedPool lists the deduplicated images of an album relative to the
// workspace root.
func (o *Orchestrator) ReducedPool(albumID string) ([]string, error) {
	l, err := o.Layout(albumID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.ReducedPool())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: reduced pool", ErrNotReady)
	}
	if err != nil {
		return nil, err
	}
	base := l.Rel(l.ReducedPool())
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && workspace.IsImage(e.Name()) {
			out = append(out, path.Join(base, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Clusters returns the named style clusters of an album.
func (o *Orchestrator) Clusters(albumID string) ([]styles.ClusterRow, error) {
	l, err := o.Layout(albumID)
	if err != nil {
		return nil, err
	}
	rows, err := styles.ReadClusters(l.Clusters())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: style clusters", ErrNotReady)
	}
	return rows, err
}

// ClusterImages returns the images of one cluster, best rank first.
func (o *Orchestrator) ClusterImages(albumID string, clusterID int) ([]styles.ImageRow, error) {
	l, err := o.Layout(albumID)
	if err != nil {
		return nil, err
	}
	rows, err := styles.ReadImages(l.Images())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: style images", ErrNotReady)
	}
	if err != nil {
		return nil, err
	}

	var out []styles.ImageRow
	for _, r := range rows {
		if r.ClusterID == clusterID {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %d", tournament.ErrUnknownCluster, clusterID)
	}
	sortByRank(out)
	return out, nil
}

func sortByRank(rows []styles.ImageRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RankInCluster != rows[j].RankInCluster {
			return rows[i].RankInCluster < rows[j].RankInCluster
		}
		return rows[i].Path < rows[j].Path
	})
}

// Asset resolves a workspace-relative file for download. Paths escaping the
// workspace and anything that is not a regular file are reported as missing.
func (o *Orchestrator) Asset(albumID, rel string) (string, error) {
	l, err := o.Layout(albumID)
	if err != nil {
		return "", err
	}
	p, ok := l.Resolve(rel)
	if !ok {
		return "", fmt.Errorf("%w: %s", fs.ErrNotExist, rel)
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", fs.ErrNotExist, rel)
	}
	return p, nil
}
