// Package dedup groups near-duplicate photos by perceptual hash distance,
// optionally verifies candidate pairs visually, and elects one
// representative per group.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"

	"github.com/kozaktomas/album-curator/internal/fingerprint"
	"github.com/kozaktomas/album-curator/internal/quality"
)

// ErrInvalidConfig is returned for thresholds outside their valid range.
var ErrInvalidConfig = errors.New("invalid dedup config")

// Config holds the distance thresholds. Nil secondary thresholds are disabled.
type Config struct {
	PHashThreshold int      `json:"phash_threshold"`
	DHashThreshold *int     `json:"dhash_threshold,omitempty"`
	WHashThreshold *int     `json:"whash_threshold,omitempty"`
	SSIMThreshold  *float64 `json:"ssim_threshold,omitempty"`
	HistThreshold  float64  `json:"hist_threshold"`
	UseHistogram   bool     `json:"use_histogram"`
	Workers        int      `json:"-"`
}

// DefaultConfig returns pHash threshold 20 with SSIM verification at 0.3.
func DefaultConfig() Config {
	ssim := 0.3
	return Config{
		PHashThreshold: 20,
		SSIMThreshold:  &ssim,
		HistThreshold:  0.9,
		Workers:        min(4, runtime.NumCPU()),
	}
}

// Validate checks threshold ranges and option combinations.
func (c Config) Validate() error {
	inRange := func(name string, v int) error {
		if v < 0 || v > 64 {
			return fmt.Errorf("%w: %s threshold %d outside [0, 64]", ErrInvalidConfig, name, v)
		}
		return nil
	}
	if err := inRange("phash", c.PHashThreshold); err != nil {
		return err
	}
	if c.DHashThreshold != nil {
		if err := inRange("dhash", *c.DHashThreshold); err != nil {
			return err
		}
	}
	if c.WHashThreshold != nil {
		if err := inRange("whash", *c.WHashThreshold); err != nil {
			return err
		}
	}
	if c.UseHistogram && c.SSIMThreshold == nil {
		return fmt.Errorf("%w: histogram verification requires an SSIM threshold", ErrInvalidConfig)
	}
	return nil
}

func (c Config) hasSecondary() bool {
	return c.DHashThreshold != nil || c.WHashThreshold != nil
}

// Asset is one hashed photo. Path identifies it in records, File is where
// its bytes live on disk.
type Asset struct {
	Path string
	File string
	Size int64
	Sig  fingerprint.Signature
}

// Pair is an unordered candidate edge with I < J.
type Pair struct {
	I, J int
}

// Record is one row of dedupe.jsonl.
type Record struct {
	Path           string `json:"path" validate:"required"`
	PHash          string `json:"phash" validate:"len=16,hexadecimal"`
	DHash          string `json:"dhash,omitempty" validate:"omitempty,len=16,hexadecimal"`
	WHash          string `json:"whash,omitempty" validate:"omitempty,len=16,hexadecimal"`
	GroupID        int    `json:"group_id" validate:"gte=0"`
	Representative bool   `json:"representative"`
}

// Stats summarizes one run.
type Stats struct {
	Assets         int `json:"assets"`
	CandidatePairs int `json:"candidate_pairs"`
	VerifiedPairs  int `json:"verified_pairs"`
	RejectedPairs  int `json:"rejected_pairs"`
	LoadErrors     int `json:"load_errors"`
	Groups         int `json:"groups"`
	DuplicateSets  int `json:"duplicate_sets"`
}

// Result is the output of Run. Groups hold asset indices; Representatives[g]
// is the elected index of group g.
type Result struct {
	Groups          [][]int
	Representatives []int
	Records         []Record
	Stats           Stats
}

// CandidatePairs returns every pair within the primary threshold that also
// passes at least one configured secondary threshold.
func CandidatePairs(ctx context.Context, assets []Asset, cfg Config) ([]Pair, error) {
	var pairs []Pair
	for i := range assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(assets); j++ {
			a, b := assets[i].Sig, assets[j].Sig
			if fingerprint.HammingDistance(a.PHash, b.PHash) > cfg.PHashThreshold {
				continue
			}
			if cfg.hasSecondary() && !secondaryPasses(a, b, cfg) {
				continue
			}
			pairs = append(pairs, Pair{I: i, J: j})
		}
	}
	return pairs, nil
}

func secondaryPasses(a, b fingerprint.Signature, cfg Config) bool {
	if cfg.DHashThreshold != nil && fingerprint.HammingDistance(a.DHash, b.DHash) <= *cfg.DHashThreshold {
		return true
	}
	if cfg.WHashThreshold != nil && fingerprint.HammingDistance(a.WHash, b.WHash) <= *cfg.WHashThreshold {
		return true
	}
	return false
}

// Components returns the connected components of an undirected graph over
// n nodes. Components are discovered from the smallest unvisited index, so
// component order and member order are deterministic.
func Components(n int, edges []Pair) [][]int {
	adj := make([][]int, n)
	for _, e := range edges {
		adj[e.I] = append(adj[e.I], e.J)
		adj[e.J] = append(adj[e.J], e.I)
	}
	for i := range adj {
		sort.Ints(adj[i])
	}

	visited := make([]bool, n)
	var groups [][]int
	for seed := range n {
		if visited[seed] {
			continue
		}
		visited[seed] = true
		queue := []int{seed}
		var members []int
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			members = append(members, cur)
			for _, next := range adj[cur] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Ints(members)
		groups = append(groups, members)
	}
	return groups
}

// ElectRepresentative picks the sharpest member that has a quality record,
// falling back to the largest pixel area. Ties go to the smallest path.
func ElectRepresentative(members []int, assets []Asset, q map[string]quality.Record) int {
	best := -1
	var bestSharp float64
	for _, m := range members {
		rec, ok := q[assets[m].Path]
		if !ok {
			continue
		}
		if best < 0 || rec.Sharpness > bestSharp ||
			(rec.Sharpness == bestSharp && assets[m].Path < assets[best].Path) {
			best, bestSharp = m, rec.Sharpness
		}
	}
	if best >= 0 {
		return best
	}

	bestArea := -1
	for _, m := range members {
		area := assets[m].Sig.Width * assets[m].Sig.Height
		if area > bestArea || (area == bestArea && assets[m].Path < assets[best].Path) {
			best, bestArea = m, area
		}
	}
	return best
}

// Run groups assets into near-duplicate sets. A nil verifier skips visual
// verification. Verification failures drop the pair and never abort the run.
func Run(ctx context.Context, assets []Asset, q map[string]quality.Record, cfg Config, verifier Verifier) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pairs, err := CandidatePairs(ctx, assets, cfg)
	if err != nil {
		return nil, err
	}
	stats := Stats{Assets: len(assets), CandidatePairs: len(pairs)}

	edges := pairs
	if verifier != nil {
		edges = edges[:0:0]
		for _, p := range pairs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			ok, err := verifier.Verify(assets[p.I], assets[p.J])
			switch {
			case err != nil:
				stats.LoadErrors++
			case ok:
				stats.VerifiedPairs++
				edges = append(edges, p)
			default:
				stats.RejectedPairs++
			}
		}
	}

	groups := Components(len(assets), edges)
	reps := make([]int, len(groups))
	records := make([]Record, 0, len(assets))
	for gid, members := range groups {
		reps[gid] = ElectRepresentative(members, assets, q)
		if len(members) > 1 {
			stats.DuplicateSets++
		}
		for _, m := range members {
			records = append(records, newRecord(assets[m], gid, m == reps[gid], cfg))
		}
	}
	stats.Groups = len(groups)
	SortRecords(records)

	return &Result{Groups: groups, Representatives: reps, Records: records, Stats: stats}, nil
}

func newRecord(a Asset, gid int, rep bool, cfg Config) Record {
	r := Record{
		Path:           a.Path,
		PHash:          fingerprint.FormatHash(a.Sig.PHash),
		GroupID:        gid,
		Representative: rep,
	}
	if cfg.DHashThreshold != nil {
		r.DHash = fingerprint.FormatHash(a.Sig.DHash)
	}
	if cfg.WHashThreshold != nil {
		r.WHash = fingerprint.FormatHash(a.Sig.WHash)
	}
	return r
}

// SortRecords orders records by group, representative first, then path.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		if a.Representative != b.Representative {
			return a.Representative
		}
		return a.Path < b.Path
	})
}
