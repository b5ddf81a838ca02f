package tournament

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kozaktomas/album-curator/internal/workspace"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func threeSeeds() []Seed {
	return []Seed{
		{ID: 1, Size: 5, Representatives: []string{"a.jpg"}},
		{ID: 2, Size: 3, Name: "Beach"},
		{ID: 3, Size: 2},
	}
}

func mustInit(t *testing.T, seeds []Seed, total int, opts Options) *State {
	t.Helper()
	s, err := Initialize(seeds, total, opts, t0)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

func ptr(v float64) *float64 { return &v }

func TestPriorBoost(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		pref     *float64
		expected float64
	}{
		{"empty no pref", 0, nil, 0},
		{"single image", 1, nil, math.Log(2) * 20},
		{"positive pref clamps to one", 1, ptr(3), math.Log(2)*20 + 20},
		{"negative pref floors at zero", 1, ptr(-1), 0},
		{"small pref scales", 1, ptr(0.1), math.Log(2)*20 + 8},
		{"huge cluster capped", 1_000_000, nil, 120},
		{"nan pref ignored", 1, ptr(math.NaN()), math.Log(2) * 20},
		{"negative size", -4, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriorBoost(tt.size, tt.pref)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestPriorBoost_Monotonic(t *testing.T) {
	prev := -1.0
	for size := 0; size < 2000; size += 7 {
		b := PriorBoost(size, nil)
		if b < prev {
			t.Fatalf("prior boost decreased at size %d: %f < %f", size, b, prev)
		}
		prev = b
	}
}

func TestInitialize(t *testing.T) {
	s := mustInit(t, threeSeeds(), 10, DefaultOptions())

	if s.MaxMatches != 12 || s.MaxWarmupMatches != 6 {
		t.Errorf("unexpected options: %d/%d", s.MaxMatches, s.MaxWarmupMatches)
	}
	if s.Done || s.StopReason != "" || s.Top3Streak != 0 {
		t.Error("fresh state should be running with zero streak")
	}
	if !reflect.DeepEqual(s.LastTop3, s.Top3) {
		t.Errorf("last_top3 %v should equal top3 %v", s.LastTop3, s.Top3)
	}

	c1, _ := s.Cluster(1)
	if c1.Elo != 1000+PriorBoost(5, nil) {
		t.Errorf("unexpected seed elo %f", c1.Elo)
	}
	if c1.Name != "Cluster 1" {
		t.Errorf("expected default name, got %q", c1.Name)
	}
	if c2, _ := s.Cluster(2); c2.Name != "Beach" {
		t.Errorf("expected Beach, got %q", c2.Name)
	}

	// Uniform split of 10 over 3 clusters: remainder to the smallest id,
	// then capped by size.
	wantReq := []int{4, 3, 3}
	wantKeep := []int{4, 3, 2}
	for i, c := range s.Clusters {
		if c.KeepCountRequested != wantReq[i] || c.KeepCount != wantKeep[i] {
			t.Errorf("cluster %d: expected %d/%d, got %d/%d",
				c.ClusterID, wantReq[i], wantKeep[i], c.KeepCountRequested, c.KeepCount)
		}
	}
	if c3, _ := s.Cluster(3); !c3.KeepCountCapped {
		t.Error("cluster 3 should be capped")
	}
	if s.TotalKeepRequested != 10 || s.TotalKeepActual != 9 {
		t.Errorf("expected totals 10/9, got %d/%d", s.TotalKeepRequested, s.TotalKeepActual)
	}
	if s.RatioBeta != 0 {
		t.Errorf("expected beta 0 before any match, got %f", s.RatioBeta)
	}
}

func TestInitialize_TotalDefaultsToSizes(t *testing.T) {
	s := mustInit(t, threeSeeds(), 0, DefaultOptions())
	if s.TotalKeepRequested != 10 {
		t.Errorf("expected total 10 from sizes, got %d", s.TotalKeepRequested)
	}
}

func TestInitialize_Errors(t *testing.T) {
	tests := []struct {
		name  string
		seeds []Seed
		err   error
	}{
		{"no clusters", nil, ErrNoClusters},
		{"empty cluster", []Seed{{ID: 1, Size: 0}}, ErrEmptyCluster},
		{"duplicate id", []Seed{{ID: 1, Size: 1}, {ID: 1, Size: 2}}, ErrDuplicateCluster},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Initialize(tt.seeds, 5, DefaultOptions(), t0)
			if !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, err)
			}
		})
	}
}

func TestRecordMatch_EqualRatings(t *testing.T) {
	seeds := []Seed{{ID: 1, Size: 4}, {ID: 2, Size: 4}}
	s := mustInit(t, seeds, 6, DefaultOptions())
	base, _ := s.Cluster(1)

	if err := s.RecordMatch(1, 2, 2, t0.Add(time.Minute)); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}

	l, _ := s.Cluster(1)
	r, _ := s.Cluster(2)
	if math.Abs((r.Elo-base.Elo)-12) > 1e-9 || math.Abs((base.Elo-l.Elo)-12) > 1e-9 {
		t.Errorf("expected symmetric 12 point move, got winner %f loser %f", r.Elo, l.Elo)
	}
	if l.Games != 1 || l.Losses != 1 || r.Wins != 1 {
		t.Errorf("unexpected counters: %+v %+v", l, r)
	}
	if l.Momentum != "L" || r.Momentum != "W" {
		t.Errorf("unexpected momentum %q %q", l.Momentum, r.Momentum)
	}
	if r.WinRate != 1 || l.WinRate != 0 {
		t.Errorf("unexpected win rates %f %f", r.WinRate, l.WinRate)
	}
	if s.TotalMatches != 1 || len(s.Matches) != 1 {
		t.Fatalf("expected one match, got %d", s.TotalMatches)
	}
	if m := s.Matches[0]; m.Left != 1 || m.Right != 2 || m.Winner != 2 {
		t.Errorf("unexpected match record %+v", m)
	}
	if s.RatioBeta != 0.25 {
		t.Errorf("expected beta 0.25, got %f", s.RatioBeta)
	}
	if r.KeepCountRequested < l.KeepCountRequested {
		t.Error("winner should not get a smaller quota than the loser")
	}
}

func TestRecordMatch_Validation(t *testing.T) {
	tests := []struct {
		name                string
		left, right, winner int
		err                 error
	}{
		{"same cluster", 1, 1, 1, ErrSameCluster},
		{"unknown left", 9, 2, 9, ErrUnknownCluster},
		{"unknown right", 1, 9, 1, ErrUnknownCluster},
		{"winner not playing", 1, 2, 3, ErrWinnerNotInMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustInit(t, threeSeeds(), 10, DefaultOptions())
			before := *s
			err := s.RecordMatch(tt.left, tt.right, tt.winner, t0)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if s.TotalMatches != before.TotalMatches || len(s.Matches) != 0 {
				t.Error("rejected match must not mutate state")
			}
		})
	}
}

func TestRecordMatch_MaxMatches(t *testing.T) {
	s := mustInit(t, threeSeeds(), 10, Options{MaxMatches: 3, MaxWarmupMatches: 1})
	plays := [][3]int{{1, 2, 1}, {2, 3, 3}, {1, 3, 3}}
	for i, p := range plays {
		if err := s.RecordMatch(p[0], p[1], p[2], t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("match %d: %v", i, err)
		}
	}
	if !s.Done || s.StopReason != "Reached max matches (3)." {
		t.Fatalf("expected max match stop, got done=%v reason=%q", s.Done, s.StopReason)
	}

	snapshot, _ := s.Cluster(1)
	if err := s.RecordMatch(1, 2, 1, t0.Add(time.Hour)); err != nil {
		t.Fatalf("done state should ignore valid matches, got %v", err)
	}
	after, _ := s.Cluster(1)
	if s.TotalMatches != 3 || after.Elo != snapshot.Elo {
		t.Error("done state must not change")
	}

	if err := s.RecordMatch(1, 1, 1, t0); !errors.Is(err, ErrSameCluster) {
		t.Errorf("validation must run before the done check, got %v", err)
	}
}

func playStableScenario(t *testing.T) *State {
	t.Helper()
	s := mustInit(t, threeSeeds(), 10, DefaultOptions())
	plays := [][3]int{{1, 2, 1}, {1, 3, 1}, {2, 3, 2}, {1, 2, 1}}
	for i, p := range plays {
		if err := s.RecordMatch(p[0], p[1], p[2], t0.Add(time.Duration(i+1)*time.Minute)); err != nil {
			t.Fatalf("match %d: %v", i, err)
		}
	}
	return s
}

func TestRecordMatch_StabilityStop(t *testing.T) {
	s := playStableScenario(t)

	if !s.Done {
		t.Fatalf("expected stability stop, streak=%d", s.Top3Streak)
	}
	if s.StopReason != "Top-3 ordering stabilized for 3 consecutive matches." {
		t.Errorf("unexpected reason %q", s.StopReason)
	}
	if s.TotalMatches != 4 {
		t.Errorf("expected 4 matches, got %d", s.TotalMatches)
	}
	if !reflect.DeepEqual(s.Top3, []int{1, 2, 3}) {
		t.Errorf("unexpected top3 %v", s.Top3)
	}

	want := map[int]string{1: "WWW", 2: "LWL", 3: "LL"}
	for _, c := range s.Clusters {
		if c.Momentum != want[c.ClusterID] {
			t.Errorf("cluster %d: expected momentum %q, got %q", c.ClusterID, want[c.ClusterID], c.Momentum)
		}
		if c.Games != c.Wins+c.Losses {
			t.Errorf("cluster %d: games %d != wins+losses", c.ClusterID, c.Games)
		}
	}
}

func TestRecordMatch_MomentumKeepsLastThree(t *testing.T) {
	s := mustInit(t, []Seed{{ID: 1, Size: 2}, {ID: 2, Size: 2}}, 4, Options{MaxMatches: 10})
	winners := []int{2, 1, 1, 2, 1}
	for i, w := range winners {
		if err := s.RecordMatch(1, 2, w, t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
		if s.Done {
			break
		}
	}
	c, _ := s.Cluster(1)
	if len(c.Momentum) > 3 {
		t.Errorf("momentum longer than 3: %q", c.Momentum)
	}
}

func TestReplay_Deterministic(t *testing.T) {
	s := playStableScenario(t)

	first, err := Replay(s)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	second, err := Replay(s)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("two replays differ")
	}
	if !reflect.DeepEqual(first.Clusters, s.Clusters) {
		t.Error("replay differs from the live state")
	}
	if first.Done != s.Done || first.StopReason != s.StopReason {
		t.Error("replay stop state differs")
	}
}

func TestSaveLoad(t *testing.T) {
	s := playStableScenario(t)
	path := filepath.Join(t.TempDir(), "step_c", "state.json")

	if err := Save(path, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.TotalMatches != 4 || !loaded.Done || len(loaded.Clusters) != 3 {
		t.Errorf("unexpected loaded state %+v", loaded)
	}

	replayed, err := Replay(loaded)
	if err != nil {
		t.Fatal(err)
	}
	for i := range replayed.Clusters {
		if math.Abs(replayed.Clusters[i].Elo-s.Clusters[i].Elo) > 1e-9 {
			t.Errorf("cluster %d elo drifted after round trip", i)
		}
	}
}

func TestLoad_RejectsInconsistentCounters(t *testing.T) {
	s := mustInit(t, threeSeeds(), 10, DefaultOptions())
	s.Clusters[0].Games = 2
	path := filepath.Join(t.TempDir(), "state.json")
	if err := Save(path, s); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, workspace.ErrMalformedRecord) {
		t.Errorf("expected malformed record error, got %v", err)
	}
}

func TestLargestRemainder(t *testing.T) {
	tests := []struct {
		name     string
		ratios   []float64
		ids      []int
		total    int
		expected []int
	}{
		{"exact split", []float64{0.5, 0.5}, []int{1, 2}, 4, []int{2, 2}},
		{"tie goes to smaller id", []float64{0.5, 0.5}, []int{7, 3}, 3, []int{1, 2}},
		{"largest fraction wins", []float64{0.5, 0.3, 0.2}, []int{1, 2, 3}, 7, []int{4, 2, 1}},
		{"unnormalized ratios", []float64{2, 1, 1}, []int{1, 2, 3}, 8, []int{4, 2, 2}},
		{"zero total", []float64{1, 1}, []int{1, 2}, 0, []int{0, 0}},
		{"all zero ratios fall back to uniform", []float64{0, 0}, []int{1, 2}, 3, []int{2, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LargestRemainder(tt.ratios, tt.ids, tt.total)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestApportion_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 500; trial++ {
		n := 1 + rng.Intn(12)
		ratios := make([]float64, n)
		ids := make([]int, n)
		sizes := make([]int, n)
		for i := range ratios {
			ratios[i] = rng.Float64()
			ids[i] = i * 3
			sizes[i] = 1 + rng.Intn(20)
		}
		total := rng.Intn(200)

		alloc := Apportion(ratios, ids, sizes, total)
		sum := 0
		for i, a := range alloc {
			sum += a.Requested
			if a.Keep > sizes[i] {
				t.Fatalf("trial %d: keep %d exceeds size %d", trial, a.Keep, sizes[i])
			}
			if a.Capped != (a.Keep < a.Requested) {
				t.Fatalf("trial %d: capped flag inconsistent", trial)
			}
		}
		if sum != total {
			t.Fatalf("trial %d: requested sum %d != total %d", trial, sum, total)
		}
	}
}

func TestPreferenceRatios(t *testing.T) {
	ratios, beta := PreferenceRatios([]float64{1100, 1000, 900}, 0)
	if beta != 0 {
		t.Errorf("expected beta 0, got %f", beta)
	}
	for _, r := range ratios {
		if math.Abs(r-1.0/3) > 1e-12 {
			t.Errorf("expected uniform ratios without matches, got %v", ratios)
		}
	}

	ratios, beta = PreferenceRatios([]float64{1100, 1000, 900}, 8)
	if beta != 1 {
		t.Errorf("expected beta clamped to 1, got %f", beta)
	}
	if !(ratios[0] > ratios[1] && ratios[1] > ratios[2]) {
		t.Errorf("ratios should follow elo order: %v", ratios)
	}
	sum := ratios[0] + ratios[1] + ratios[2]
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("ratios should sum to 1, got %f", sum)
	}
}

func TestSuggest(t *testing.T) {
	s := mustInit(t, threeSeeds(), 10, DefaultOptions())

	p, ok := Suggest(s)
	if !ok || p != (Pair{Left: 1, Right: 2}) {
		t.Fatalf("expected 1 vs 2, got %+v ok=%v", p, ok)
	}

	if err := s.RecordMatch(1, 2, 1, t0); err != nil {
		t.Fatal(err)
	}
	p, _ = Suggest(s)
	if p.Left != 3 {
		t.Errorf("unplayed cluster 3 should be offered next, got %+v", p)
	}

	done := playStableScenario(t)
	if _, ok := Suggest(done); ok {
		t.Error("finished tournament should not suggest a pair")
	}
}

func TestSuggest_AfterWarmupAvoidsRepeat(t *testing.T) {
	s := mustInit(t, []Seed{{ID: 1, Size: 3}, {ID: 2, Size: 3}, {ID: 3, Size: 3}}, 9,
		Options{MaxMatches: 12, MaxWarmupMatches: 0})

	if err := s.RecordMatch(1, 2, 1, t0); err != nil {
		t.Fatal(err)
	}
	p, ok := Suggest(s)
	if !ok {
		t.Fatal("expected a pair")
	}
	if samePair(p, 1, 2) {
		t.Errorf("should not repeat the previous pair, got %+v", p)
	}
}
