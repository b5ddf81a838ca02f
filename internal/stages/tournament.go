package stages

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path"
	"sort"
	"time"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/styles"
	"github.com/kozaktomas/album-curator/internal/tournament"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// ErrNoStyleOutput is returned when the tournament is requested before
// phase 2 has produced clusters.
var ErrNoStyleOutput = errors.New("style clusters not found, run phase 2 first")

// TournamentOptions converts catalog defaults into tournament options.
func TournamentOptions(c *config.CurationConfig) tournament.Options {
	opts := tournament.DefaultOptions()
	if c == nil {
		return opts
	}
	if c.Tournament.MaxMatches > 0 {
		opts.MaxMatches = c.Tournament.MaxMatches
	}
	if c.Tournament.MaxWarmupMatches > 0 {
		opts.MaxWarmupMatches = c.Tournament.MaxWarmupMatches
	}
	return opts
}

func maxRepresentatives(c *config.CurationConfig) int {
	if c != nil && c.Tournament.MaxRepresentatives > 0 {
		return c.Tournament.MaxRepresentatives
	}
	return 4
}

// Seeds builds tournament seeds from the phase 2 rows. Clusters without a
// row still enter with their image count; images are listed best rank
// first and addressed relative to the workspace root.
func Seeds(clusters []styles.ClusterRow, images []styles.ImageRow, maxReps int) []tournament.Seed {
	byCluster := make(map[int][]styles.ImageRow)
	for _, img := range images {
		byCluster[img.ClusterID] = append(byCluster[img.ClusterID], img)
	}
	meta := make(map[int]styles.ClusterRow, len(clusters))
	ids := make([]int, 0, len(clusters))
	for _, c := range clusters {
		meta[c.ClusterID] = c
		ids = append(ids, c.ClusterID)
	}
	for id := range byCluster {
		if _, ok := meta[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	seeds := make([]tournament.Seed, 0, len(ids))
	for _, id := range ids {
		imgs := byCluster[id]
		sort.Slice(imgs, func(i, j int) bool {
			if imgs[i].RankInCluster != imgs[j].RankInCluster {
				return imgs[i].RankInCluster < imgs[j].RankInCluster
			}
			return imgs[i].Path < imgs[j].Path
		})

		sd := tournament.Seed{ID: id, Size: len(imgs)}
		if c, ok := meta[id]; ok {
			sd.Name = c.ClusterName
			if c.Size > 0 {
				sd.Size = c.Size
			}
			pref := c.ClusterPrefScore
			sd.PrefScore = &pref
		}
		for _, img := range imgs {
			if len(sd.Representatives) == maxReps {
				break
			}
			sd.Representatives = append(sd.Representatives, path.Join("step_a", img.Path))
		}
		seeds = append(seeds, sd)
	}
	return seeds
}

// Bootstrap initializes a tournament from the phase 2 outputs of l.
func Bootstrap(l workspace.Layout, c *config.CurationConfig, now time.Time) (*tournament.State, error) {
	clusters, err := styles.ReadClusters(l.Clusters())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoStyleOutput
	}
	if err != nil {
		return nil, err
	}
	images, err := styles.ReadImages(l.Images())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoStyleOutput
	}
	if err != nil {
		return nil, err
	}
	if len(clusters) == 0 || len(images) == 0 {
		return nil, ErrNoStyleOutput
	}

	return tournament.Initialize(Seeds(clusters, images, maxRepresentatives(c)), len(images), TournamentOptions(c), now)
}

// RunTournament writes a fresh tournament state when none exists for the
// current phase 2 outputs. An existing state keeps its match log unless
// force is set.
func (e *Executor) RunTournament(force bool) (*tournament.State, error) {
	l := e.Layout
	inputsHash, err := workspace.FileIdentity([]string{l.Clusters(), l.Images()})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoStyleOutput, err)
	}
	opts := TournamentOptions(e.Catalog)
	paramsHash := workspace.HashParams(map[string]any{"options": opts, "reps": maxRepresentatives(e.Catalog)})

	if !force && l.StageValid(Tournament, inputsHash, paramsHash, l.TournamentState()) {
		if s, err := tournament.Load(l.TournamentState()); err == nil {
			log.Printf("Stage %s: state is current with %d matches, skipping", Tournament, s.TotalMatches)
			return s, nil
		}
	}

	s, err := Bootstrap(l, e.Catalog, time.Now())
	if err != nil {
		return nil, err
	}
	if err := tournament.Save(l.TournamentState(), s); err != nil {
		return nil, err
	}
	if err := l.MarkStage(Tournament, inputsHash, paramsHash, l.TournamentState()); err != nil {
		return nil, err
	}
	log.Printf("Stage %s: seeded %d clusters over %d images", Tournament, len(s.Clusters), s.TotalImages)
	return s, nil
}
