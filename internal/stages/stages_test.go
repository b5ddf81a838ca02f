package stages

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/dedup"
	"github.com/kozaktomas/album-curator/internal/styles"
	"github.com/kozaktomas/album-curator/internal/tournament"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

func gray(fill func(x, y int) uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			img.SetGray(x, y, color.Gray{Y: fill(x, y)})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// stageInputs writes five photos, two of them identical.
func stageInputs(t *testing.T, l workspace.Layout) {
	t.Helper()
	if err := os.MkdirAll(l.Inputs(), 0o755); err != nil {
		t.Fatal(err)
	}
	checker := gray(func(x, y int) uint8 {
		if (x/16+y/16)%2 == 0 {
			return 230
		}
		return 20
	})
	photos := map[string]image.Image{
		"000001__beach.png":      checker,
		"000002__beach_copy.png": checker,
		"000003__dunes.png":      gray(func(x, y int) uint8 { return uint8(x * 4) }),
		"000004__sky.png":        gray(func(x, y int) uint8 { return uint8(y * 4) }),
		"000005__night.png":      gray(func(x, y int) uint8 { return uint8(255 - x*4) }),
	}
	for name, img := range photos {
		writePNG(t, filepath.Join(l.Inputs(), name), img)
	}
}

func TestRunDedupe(t *testing.T) {
	l := workspace.New(t.TempDir(), "album-1")
	stageInputs(t, l)
	catalog := config.DefaultCuration()
	var calls atomic.Int32
	e := &Executor{Layout: l, Catalog: &catalog, Workers: 2, OnProgress: func(done, total int) {
		calls.Add(1)
		if total != 5 {
			t.Errorf("expected total 5, got %d", total)
		}
	}}

	sum, err := e.RunDedupe(context.Background(), false)
	if err != nil {
		t.Fatalf("RunDedupe failed: %v", err)
	}
	if sum.Cached {
		t.Error("first run should not be cached")
	}
	if n := calls.Load(); n != 5 {
		t.Errorf("expected 5 progress calls, got %d", n)
	}

	records, err := dedup.ReadRecords(l.Dedup())
	if err != nil {
		t.Fatalf("read dedupe records: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	groupOf := map[string]int{}
	for _, r := range records {
		groupOf[r.Path] = r.GroupID
	}
	if groupOf["inputs/000001__beach.png"] != groupOf["inputs/000002__beach_copy.png"] {
		t.Error("identical photos should share a group")
	}

	pool, err := workspace.ListImages(l.ReducedPool())
	if err != nil {
		t.Fatal(err)
	}
	if len(pool) != sum.Groups || sum.Groups > 4 {
		t.Errorf("expected one pooled image per group (at most 4), got %d for %d groups", len(pool), sum.Groups)
	}
	if n := workspace.CountLines(l.Quality()); n != 5 {
		t.Errorf("expected 5 quality rows, got %d", n)
	}

	again, err := e.RunDedupe(context.Background(), false)
	if err != nil {
		t.Fatalf("second RunDedupe failed: %v", err)
	}
	if !again.Cached || again.Groups != sum.Groups {
		t.Errorf("expected cached run with %d groups, got %+v", sum.Groups, again)
	}

	forced, err := e.RunDedupe(context.Background(), true)
	if err != nil {
		t.Fatalf("forced RunDedupe failed: %v", err)
	}
	if forced.Cached {
		t.Error("forced run should recompute")
	}
}

func TestRunDedupe_NoInputs(t *testing.T) {
	l := workspace.New(t.TempDir(), "empty")
	if err := os.MkdirAll(l.Inputs(), 0o755); err != nil {
		t.Fatal(err)
	}
	e := &Executor{Layout: l}
	if _, err := e.RunDedupe(context.Background(), false); !errors.Is(err, ErrNoInputs) {
		t.Errorf("expected ErrNoInputs, got %v", err)
	}
}

func TestRun_UnknownStage(t *testing.T) {
	e := &Executor{Layout: workspace.New(t.TempDir(), "a")}
	if err := e.Run(context.Background(), "publish", false); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
	if Valid("publish") || !Valid(Style) {
		t.Error("unexpected stage validity")
	}
}

func TestDedupConfig(t *testing.T) {
	catalog := config.DefaultCuration()
	d := 12
	catalog.Dedup.DHashThreshold = &d
	catalog.Dedup.PHashThreshold = 16

	cfg := DedupConfig(&catalog, 3)
	if cfg.PHashThreshold != 16 || cfg.DHashThreshold == nil || *cfg.DHashThreshold != 12 {
		t.Errorf("unexpected thresholds %+v", cfg)
	}
	if cfg.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Workers)
	}
	if cfg.SSIMThreshold == nil || *cfg.SSIMThreshold != 0.3 {
		t.Errorf("expected ssim 0.3, got %v", cfg.SSIMThreshold)
	}

	if got := DedupConfig(nil, 0); got.PHashThreshold != dedup.DefaultConfig().PHashThreshold {
		t.Errorf("nil catalog should keep defaults, got %+v", got)
	}
}

func TestCanonicalMoods(t *testing.T) {
	catalog := config.DefaultCuration()

	tests := []struct {
		name     string
		moods    []string
		expected []string
		wantErr  bool
	}{
		{"catalog order", []string{"Artistic Eye", "Classic & Timeless"}, []string{"Classic & Timeless", "Artistic Eye"}, false},
		{"duplicates collapse", []string{"Artistic Eye", "Artistic Eye"}, []string{"Artistic Eye"}, false},
		{"unknown", []string{"Moody"}, nil, true},
		{"empty", nil, nil, true},
		{"too many", []string{"Classic & Timeless", "Artistic Eye", "Elegant Portrait"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalMoods(&catalog, tt.moods)
			if tt.wantErr {
				if !errors.Is(err, styles.ErrInvalidMoods) {
					t.Errorf("expected ErrInvalidMoods, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestSelectionRoundTrip(t *testing.T) {
	l := workspace.New(t.TempDir(), "album-1")

	sel, err := ReadSelection(l)
	if err != nil || len(sel.Moods) != 0 {
		t.Fatalf("missing selection should be empty, got %+v (%v)", sel, err)
	}

	want := Selection{AlbumID: "album-1", Moods: []string{"Artistic Eye"}}
	if err := WriteSelection(l, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSelection(l)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestSeeds(t *testing.T) {
	clusters := []styles.ClusterRow{
		{ClusterID: 1, Size: 3, ClusterName: "Calm beach views", ClusterPrefScore: 0.2, Representatives: []string{"x"}},
		{ClusterID: 0, Size: 2, ClusterName: "Bold city shots", ClusterPrefScore: -0.1, Representatives: []string{"y"}},
	}
	images := []styles.ImageRow{
		{Path: "reduced_pool/b.jpg", ClusterID: 1, RankInCluster: 2},
		{Path: "reduced_pool/a.jpg", ClusterID: 1, RankInCluster: 1},
		{Path: "reduced_pool/c.jpg", ClusterID: 1, RankInCluster: 3},
		{Path: "reduced_pool/d.jpg", ClusterID: 0, RankInCluster: 1},
		{Path: "reduced_pool/e.jpg", ClusterID: 0, RankInCluster: 2},
		{Path: "reduced_pool/f.jpg", ClusterID: 7, RankInCluster: 1},
	}

	seeds := Seeds(clusters, images, 2)
	if len(seeds) != 3 {
		t.Fatalf("expected 3 seeds, got %d", len(seeds))
	}
	if seeds[0].ID != 0 || seeds[1].ID != 1 || seeds[2].ID != 7 {
		t.Errorf("expected seeds ordered by id, got %d %d %d", seeds[0].ID, seeds[1].ID, seeds[2].ID)
	}
	wantReps := []string{"step_a/reduced_pool/a.jpg", "step_a/reduced_pool/b.jpg"}
	if !reflect.DeepEqual(seeds[1].Representatives, wantReps) {
		t.Errorf("expected reps %v, got %v", wantReps, seeds[1].Representatives)
	}
	if seeds[1].PrefScore == nil || *seeds[1].PrefScore != 0.2 {
		t.Errorf("expected pref 0.2, got %v", seeds[1].PrefScore)
	}
	if seeds[2].Name != "" || seeds[2].PrefScore != nil || seeds[2].Size != 1 {
		t.Errorf("cluster without a row should only carry its image count, got %+v", seeds[2])
	}
}

func TestBootstrap_NoStyleOutput(t *testing.T) {
	l := workspace.New(t.TempDir(), "album-1")
	if _, err := Bootstrap(l, nil, time.Now()); !errors.Is(err, ErrNoStyleOutput) {
		t.Errorf("expected ErrNoStyleOutput, got %v", err)
	}
}

// fakeProvider embeds images by base name and prompts by text.
type fakeProvider struct {
	model  string
	images map[string][]float32
	texts  map[string][]float32
	calls  int
}

func (f *fakeProvider) Model() string { return f.model }

func (f *fakeProvider) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(paths))
	for i, p := range paths {
		v, ok := f.images[filepath.Base(p)]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.texts[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func writePool(t *testing.T, l workspace.Layout, p *fakeProvider) {
	t.Helper()
	if err := os.MkdirAll(l.ReducedPool(), 0o755); err != nil {
		t.Fatal(err)
	}
	for i, name := range []string{"g000000__a.jpg", "g000001__b.jpg", "g000002__c.jpg", "g000003__d.jpg"} {
		if err := os.WriteFile(filepath.Join(l.ReducedPool(), name), []byte(name), 0o600); err != nil {
			t.Fatal(err)
		}
		if i < 2 {
			p.images[name] = []float32{1, 0.05 * float32(i), 0}
		} else {
			p.images[name] = []float32{0.05 * float32(i), 1, 0}
		}
	}
}

func testCatalog() *config.CurationConfig {
	return &config.CurationConfig{
		Moods: []config.Mood{
			{Name: "Calm", Short: "Calm", Noun: "views"},
			{Name: "Bold", Short: "Bold", Noun: "shots"},
		},
		MoodTemplates: []string{"{tag}"},
		Descriptors: []config.Descriptor{
			{Label: "sea", Prompt: "p-sea", Group: "place"},
			{Label: "city", Prompt: "p-city", Group: "place"},
		},
	}
}

func TestStylePipeline(t *testing.T) {
	l := workspace.New(t.TempDir(), "album-1")
	p := &fakeProvider{
		model:  "fake",
		images: map[string][]float32{},
		texts:  map[string][]float32{"Calm": {1, 0, 0}, "Bold": {0, 1, 0}, "p-sea": {1, 0, 0}, "p-city": {0, 1, 0}},
	}
	writePool(t, l, p)
	e := &Executor{Layout: l, Catalog: testCatalog(), K: 2, ClusterProvider: p, StyleProvider: p}
	ctx := context.Background()

	if err := e.RunStyle(ctx, false); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection before moods are chosen, got %v", err)
	}

	if err := e.RunCluster(ctx, false); err != nil {
		t.Fatalf("RunCluster failed: %v", err)
	}
	calls := p.calls
	if err := e.RunCluster(ctx, false); err != nil {
		t.Fatalf("cached RunCluster failed: %v", err)
	}
	if p.calls != calls {
		t.Error("cached cluster stage should not embed again")
	}

	if err := WriteSelection(l, Selection{AlbumID: "album-1", Moods: []string{"Calm"}}); err != nil {
		t.Fatal(err)
	}
	if err := e.RunStyle(ctx, false); err != nil {
		t.Fatalf("RunStyle failed: %v", err)
	}

	s, err := e.RunTournament(false)
	if err != nil {
		t.Fatalf("RunTournament failed: %v", err)
	}
	if len(s.Clusters) != 2 || s.TotalImages != 4 {
		t.Fatalf("expected 2 clusters over 4 images, got %d over %d", len(s.Clusters), s.TotalImages)
	}
	for _, c := range s.Clusters {
		if len(c.Representatives) != 2 {
			t.Errorf("cluster %d: expected 2 representatives, got %v", c.ClusterID, c.Representatives)
		}
	}

	if err := s.RecordMatch(s.Clusters[0].ClusterID, s.Clusters[1].ClusterID, s.Clusters[0].ClusterID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := tournament.Save(l.TournamentState(), s); err != nil {
		t.Fatal(err)
	}
	kept, err := e.RunTournament(false)
	if err != nil {
		t.Fatalf("second RunTournament failed: %v", err)
	}
	if kept.TotalMatches != 1 {
		t.Errorf("cached tournament should keep its matches, got %d", kept.TotalMatches)
	}

	fresh, err := e.RunTournament(true)
	if err != nil {
		t.Fatalf("forced RunTournament failed: %v", err)
	}
	if fresh.TotalMatches != 0 {
		t.Errorf("forced tournament should start over, got %d matches", fresh.TotalMatches)
	}
}

func TestRunCluster_NoProvider(t *testing.T) {
	e := &Executor{Layout: workspace.New(t.TempDir(), "a")}
	if err := e.RunCluster(context.Background(), false); !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}
