// Package tournament turns pairwise cluster choices into elo ratings and
// per-cluster keep quotas.
package tournament

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kozaktomas/album-curator/internal/constants"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

const stateVersion = 1

var (
	ErrNoClusters       = errors.New("tournament needs at least one cluster")
	ErrEmptyCluster     = errors.New("cluster has no images")
	ErrDuplicateCluster = errors.New("duplicate cluster id")
	ErrSameCluster      = errors.New("left and right must be different clusters")
	ErrUnknownCluster   = errors.New("unknown cluster id")
	ErrWinnerNotInMatch = errors.New("winner must be either left or right")
)

// Options bounds the length of a tournament.
type Options struct {
	MaxMatches       int
	MaxWarmupMatches int
}

func DefaultOptions() Options {
	return Options{MaxMatches: 12, MaxWarmupMatches: 6}
}

// Seed describes a cluster entering the tournament.
type Seed struct {
	ID              int
	Name            string
	Size            int
	PrefScore       *float64
	Representatives []string
}

// ClusterState is the rank state of one cluster. Everything below Elo is
// derived from the match log.
type ClusterState struct {
	ClusterID       int      `json:"cluster_id" validate:"gte=0"`
	Name            string   `json:"cluster_name"`
	Size            int      `json:"size" validate:"gte=1"`
	Representatives []string `json:"representatives"`
	PrefScore       *float64 `json:"cluster_pref_score"`
	PriorBoost      float64  `json:"prior_boost"`

	Elo                float64 `json:"elo"`
	Games              int     `json:"games" validate:"gte=0"`
	Wins               int     `json:"wins" validate:"gte=0"`
	Losses             int     `json:"losses" validate:"gte=0"`
	WinRate            float64 `json:"win_rate"`
	Momentum           string  `json:"momentum"`
	Ratio              float64 `json:"ratio"`
	KeepCountRequested int     `json:"keep_count_requested"`
	KeepCount          int     `json:"keep_count"`
	KeepCountCapped    bool    `json:"keep_count_capped"`
}

// Match is one recorded human choice.
type Match struct {
	Timestamp time.Time `json:"ts"`
	Left      int       `json:"left_cluster_id"`
	Right     int       `json:"right_cluster_id"`
	Winner    int       `json:"winner_cluster_id"`
}

// State is the persisted tournament document of one album.
type State struct {
	Version          int            `json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	MaxMatches       int            `json:"max_matches" validate:"gte=1"`
	MaxWarmupMatches int            `json:"max_warmup_matches" validate:"gte=0"`
	TotalImages      int            `json:"total_images"`
	TotalMatches     int            `json:"total_matches"`
	Clusters         []ClusterState `json:"clusters" validate:"min=1,dive"`
	Matches          []Match        `json:"matches"`
	Top3             []int          `json:"top3"`
	LastTop3         []int          `json:"last_top3"`
	Top3Streak       int            `json:"top3_streak"`
	Done             bool           `json:"done"`
	StopReason       string         `json:"stop_reason"`

	TotalKeepRequested int     `json:"total_keep_requested"`
	TotalKeepActual    int     `json:"total_keep_actual"`
	RatioTemperature   float64 `json:"ratio_temperature"`
	RatioBeta          float64 `json:"ratio_beta"`
}

// PriorBoost is the elo head start of a cluster: logarithmic in size plus a
// bounded preference term, capped to [0, 120]. A missing or non-finite
// preference counts as zero.
func PriorBoost(size int, pref *float64) float64 {
	boost := math.Log1p(float64(max(0, size))) * 20
	if pref != nil && !math.IsNaN(*pref) && !math.IsInf(*pref, 0) {
		boost += clamp(*pref*4, -1, 1) * 20
	}
	return clamp(boost, 0, constants.MaxPriorBoost)
}

// Initialize seeds a fresh tournament. totalImages is the number of images
// to keep across all clusters; a non-positive value means all of them.
func Initialize(seeds []Seed, totalImages int, opts Options, now time.Time) (*State, error) {
	if len(seeds) == 0 {
		return nil, ErrNoClusters
	}
	if opts.MaxMatches <= 0 {
		opts = DefaultOptions()
	}

	seen := make(map[int]bool, len(seeds))
	clusters := make([]ClusterState, 0, len(seeds))
	for _, sd := range seeds {
		if sd.Size <= 0 {
			return nil, fmt.Errorf("%w: cluster %d", ErrEmptyCluster, sd.ID)
		}
		if seen[sd.ID] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateCluster, sd.ID)
		}
		seen[sd.ID] = true

		name := sd.Name
		if name == "" {
			name = fmt.Sprintf("Cluster %d", sd.ID)
		}
		prior := PriorBoost(sd.Size, sd.PrefScore)
		clusters = append(clusters, ClusterState{
			ClusterID:       sd.ID,
			Name:            name,
			Size:            sd.Size,
			Representatives: append([]string{}, sd.Representatives...),
			PrefScore:       sd.PrefScore,
			PriorBoost:      prior,
			Elo:             constants.EloBase + prior,
		})
	}

	s := &State{
		Version:          stateVersion,
		CreatedAt:        now.UTC(),
		UpdatedAt:        now.UTC(),
		MaxMatches:       opts.MaxMatches,
		MaxWarmupMatches: opts.MaxWarmupMatches,
		TotalImages:      totalImages,
		Clusters:         clusters,
		Matches:          []Match{},
	}
	s.recompute()
	s.LastTop3 = append([]int{}, s.Top3...)
	return s, nil
}

func (s *State) index(id int) int {
	for i := range s.Clusters {
		if s.Clusters[i].ClusterID == id {
			return i
		}
	}
	return -1
}

// Cluster returns the state of one cluster.
func (s *State) Cluster(id int) (ClusterState, bool) {
	if i := s.index(id); i >= 0 {
		return s.Clusters[i], true
	}
	return ClusterState{}, false
}

// ValidateMatch checks a choice without touching the state.
func (s *State) ValidateMatch(left, right, winner int) error {
	if left == right {
		return ErrSameCluster
	}
	if s.index(left) < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownCluster, left)
	}
	if s.index(right) < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownCluster, right)
	}
	if winner != left && winner != right {
		return ErrWinnerNotInMatch
	}
	return nil
}

// RecordMatch applies one choice. Invalid choices are rejected even after
// the tournament is done; valid ones are ignored once it is done.
func (s *State) RecordMatch(left, right, winner int, now time.Time) error {
	if err := s.ValidateMatch(left, right, winner); err != nil {
		return err
	}
	if s.Done {
		return nil
	}

	li, ri := s.index(left), s.index(right)
	l, r := &s.Clusters[li], &s.Clusters[ri]

	expected := 1 / (1 + math.Pow(10, (r.Elo-l.Elo)/400))
	actual := 0.0
	if winner == left {
		actual = 1
	}
	delta := constants.EloK * (actual - expected)
	l.Elo += delta
	r.Elo -= delta

	l.Games++
	r.Games++
	if winner == left {
		l.Wins++
		r.Losses++
	} else {
		r.Wins++
		l.Losses++
	}

	s.Matches = append(s.Matches, Match{Timestamp: now.UTC(), Left: left, Right: right, Winner: winner})
	s.UpdatedAt = now.UTC()
	s.recompute()

	if equalIDs(s.Top3, s.LastTop3) {
		s.Top3Streak++
	} else {
		s.Top3Streak = 1
	}
	s.LastTop3 = append([]int{}, s.Top3...)

	s.evaluateStop()
	return nil
}

func (s *State) evaluateStop() {
	if s.TotalMatches >= s.MaxMatches {
		s.Done = true
		s.StopReason = fmt.Sprintf("Reached max matches (%d).", s.MaxMatches)
		return
	}
	for _, c := range s.Clusters {
		if c.Games < constants.MinGamesForStability {
			return
		}
	}
	if s.Top3Streak >= constants.StabilityStreak {
		s.Done = true
		s.StopReason = fmt.Sprintf("Top-3 ordering stabilized for %d consecutive matches.", constants.StabilityStreak)
	}
}

// recompute derives ratios, quotas, momentum and the top 3 from the current
// ratings and match log.
func (s *State) recompute() {
	sort.Slice(s.Clusters, func(i, j int) bool {
		return s.Clusters[i].ClusterID < s.Clusters[j].ClusterID
	})
	s.TotalMatches = len(s.Matches)

	total := s.TotalImages
	if total <= 0 {
		total = 0
		for _, c := range s.Clusters {
			total += c.Size
		}
	}

	n := len(s.Clusters)
	elos := make([]float64, n)
	ids := make([]int, n)
	sizes := make([]int, n)
	for i, c := range s.Clusters {
		elos[i] = c.Elo
		ids[i] = c.ClusterID
		sizes[i] = c.Size
	}

	ratios, beta := PreferenceRatios(elos, s.TotalMatches)
	alloc := Apportion(ratios, ids, sizes, total)

	outcomes := s.outcomes()
	keepActual := 0
	for i := range s.Clusters {
		c := &s.Clusters[i]
		c.WinRate = 0
		if c.Games > 0 {
			c.WinRate = float64(c.Wins) / float64(c.Games)
		}
		c.Momentum = outcomes[c.ClusterID]
		c.Ratio = ratios[i]
		c.KeepCountRequested = alloc[i].Requested
		c.KeepCount = alloc[i].Keep
		c.KeepCountCapped = alloc[i].Capped
		keepActual += c.KeepCount
	}

	s.TotalKeepRequested = total
	s.TotalKeepActual = keepActual
	s.RatioTemperature = constants.RatioTemperature
	s.RatioBeta = beta
	s.Top3 = s.top(3)
}

// outcomes returns the last few W/L results per cluster in match order.
func (s *State) outcomes() map[int]string {
	out := make(map[int]string, len(s.Clusters))
	for i := len(s.Matches) - 1; i >= 0; i-- {
		m := s.Matches[i]
		for _, id := range []int{m.Left, m.Right} {
			if len(out[id]) >= constants.MomentumLength {
				continue
			}
			mark := "L"
			if m.Winner == id {
				mark = "W"
			}
			out[id] = mark + out[id]
		}
	}
	return out
}

// Ranking returns cluster ids ordered by elo descending, ties by id.
func (s *State) Ranking() []int {
	order := make([]ClusterState, len(s.Clusters))
	copy(order, s.Clusters)
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Elo != order[j].Elo {
			return order[i].Elo > order[j].Elo
		}
		return order[i].ClusterID < order[j].ClusterID
	})
	ids := make([]int, len(order))
	for i, c := range order {
		ids[i] = c.ClusterID
	}
	return ids
}

func (s *State) top(n int) []int {
	ranking := s.Ranking()
	if len(ranking) > n {
		ranking = ranking[:n]
	}
	return ranking
}

// Seeds returns the static inputs the state was initialized from.
func (s *State) Seeds() []Seed {
	seeds := make([]Seed, len(s.Clusters))
	for i, c := range s.Clusters {
		seeds[i] = Seed{
			ID:              c.ClusterID,
			Name:            c.Name,
			Size:            c.Size,
			PrefScore:       c.PrefScore,
			Representatives: append([]string{}, c.Representatives...),
		}
	}
	return seeds
}

// Replay rebuilds a state from its seeds and match log.
func Replay(s *State) (*State, error) {
	fresh, err := Initialize(s.Seeds(), s.TotalImages, Options{
		MaxMatches:       s.MaxMatches,
		MaxWarmupMatches: s.MaxWarmupMatches,
	}, s.CreatedAt)
	if err != nil {
		return nil, err
	}
	for i, m := range s.Matches {
		if err := fresh.RecordMatch(m.Left, m.Right, m.Winner, m.Timestamp); err != nil {
			return nil, fmt.Errorf("replay match %d: %w", i, err)
		}
	}
	return fresh, nil
}

// Load reads and validates a persisted state.
func Load(path string) (*State, error) {
	var s State
	if err := workspace.ReadJSON(path, &s); err != nil {
		return nil, err
	}
	if err := workspace.Validate(&s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, c := range s.Clusters {
		if c.Games != c.Wins+c.Losses {
			return nil, fmt.Errorf("%w: cluster %d games %d != wins %d + losses %d",
				workspace.ErrMalformedRecord, c.ClusterID, c.Games, c.Wins, c.Losses)
		}
	}
	if s.Matches == nil {
		s.Matches = []Match{}
	}
	return &s, nil
}

// Save atomically replaces the state document.
func Save(path string, s *State) error {
	return workspace.WriteJSON(path, s)
}

func equalIDs(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
