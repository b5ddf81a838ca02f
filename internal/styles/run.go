package styles

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/dedup"
	"github.com/kozaktomas/album-curator/internal/embedding"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// Vector cache entries under step_b/cache.
const (
	cacheClusterImages = "cluster_images"
	cacheStyleImages   = "style_images"
	cacheMoods         = "style_moods"
	cacheDescriptors   = "style_descriptors"
)

// reducedPool lists the reduced pool as absolute paths and as paths
// relative to step_a, which is how every step_b row refers to images.
func reducedPool(l workspace.Layout) (abs, rel []string, err error) {
	abs, err = workspace.ListImages(l.ReducedPool())
	if err != nil {
		return nil, nil, fmt.Errorf("list reduced pool: %w", err)
	}
	if len(abs) == 0 {
		return nil, nil, ErrNoImages
	}
	rel = make([]string, len(abs))
	for i, p := range abs {
		rel[i] = "reduced_pool/" + filepath.Base(p)
	}
	return abs, rel, nil
}

// RunPhaseOne embeds the reduced pool with the cluster model, runs
// k-means and writes the phase 1 files.
func RunPhaseOne(ctx context.Context, l workspace.Layout, p embedding.Provider, k int, force bool) (*PhaseOne, error) {
	abs, rel, err := reducedPool(l)
	if err != nil {
		return nil, err
	}
	cache := embedding.Cache{Dir: l.VectorCache()}
	vectors, err := embedding.CachedImages(ctx, p, cache, cacheClusterImages, abs, force)
	if err != nil {
		return nil, fmt.Errorf("embed reduced pool: %w", err)
	}

	res, err := Cluster(rel, vectors, k)
	if err != nil {
		return nil, err
	}
	if err := WritePhaseOne(l.KMeans(), l.KMeansClusters(), res); err != nil {
		return nil, err
	}
	log.Printf("Clustered %d images into %d clusters", len(rel), res.K)
	return res, nil
}

// RunPhaseTwo scores the phase 1 clusters against the selected moods and
// writes the phase 2 files. namer may be nil.
func RunPhaseTwo(ctx context.Context, l workspace.Layout, p embedding.Provider, catalog *config.CurationConfig, selected []string, namer Namer, force bool) (*PhaseTwo, error) {
	if err := ValidateMoods(catalog, selected); err != nil {
		return nil, err
	}
	assignments, err := ReadKMeansRows(l.KMeans())
	if err != nil {
		return nil, fmt.Errorf("read phase 1 assignments: %w", err)
	}

	rel := make([]string, len(assignments))
	abs := make([]string, len(assignments))
	for i, a := range assignments {
		rel[i] = a.Path
		abs[i] = filepath.Join(l.StepA(), filepath.FromSlash(a.Path))
	}

	cache := embedding.Cache{Dir: l.VectorCache()}
	imgVecs, err := embedding.CachedImages(ctx, p, cache, cacheStyleImages, abs, force)
	if err != nil {
		return nil, fmt.Errorf("embed reduced pool: %w", err)
	}
	moodTexts, err := embedding.CachedTexts(ctx, p, cache, cacheMoods, MoodPrompts(catalog), force)
	if err != nil {
		return nil, fmt.Errorf("embed mood prompts: %w", err)
	}
	moodVecs, err := MoodVectors(catalog, moodTexts)
	if err != nil {
		return nil, err
	}
	descVecs, err := embedding.CachedTexts(ctx, p, cache, cacheDescriptors, DescriptorPrompts(catalog), force)
	if err != nil {
		return nil, fmt.Errorf("embed descriptor prompts: %w", err)
	}
	for i := range descVecs {
		descVecs[i] = embedding.Normalize(descVecs[i])
	}

	vectors := make(map[string][]float32, len(rel))
	for i, r := range rel {
		vectors[r] = embedding.Normalize(imgVecs[i])
	}

	var q map[string]*dedup.QualitySummary
	if rows, err := dedup.ReadManifest(l.StepAManifest()); err == nil {
		q = QualityByExportPath(rows)
	} else {
		log.Printf("Warning: no dedupe manifest for quality ranking: %v", err)
	}

	res, err := Score(Input{
		Catalog:           catalog,
		Selected:          selected,
		Assignments:       assignments,
		Vectors:           vectors,
		MoodVectors:       moodVecs,
		DescriptorVectors: descVecs,
		Quality:           q,
	})
	if err != nil {
		return nil, err
	}
	if namer != nil {
		ApplyNames(ctx, namer, res, l.StepA())
	}
	if err := WritePhaseTwo(l.Images(), l.Clusters(), res); err != nil {
		return nil, err
	}
	log.Printf("Scored %d clusters for moods %s", len(res.Clusters), strings.Join(selected, ", "))
	return res, nil
}

// NameHint is what a Namer sees of a cluster.
type NameHint struct {
	ClusterID   int
	Mood        string
	Descriptors []string
	Fallback    string
	Image       string // top representative on disk, may be empty
}

// Namer suggests a friendlier cluster name.
type Namer interface {
	NameCluster(ctx context.Context, hint NameHint) (string, error)
}

// ApplyNames asks namer for every cluster name. A failed, empty or
// duplicate suggestion keeps the computed name. Representatives are
// resolved against imageRoot.
func ApplyNames(ctx context.Context, namer Namer, p *PhaseTwo, imageRoot string) {
	used := make(map[string]bool, len(p.Clusters))
	for _, c := range p.Clusters {
		used[c.ClusterName] = true
	}
	for i := range p.Clusters {
		c := &p.Clusters[i]
		hint := NameHint{ClusterID: c.ClusterID, Mood: c.MoodLabel, Fallback: c.ClusterName}
		for _, d := range c.ClusterDescTopK {
			hint.Descriptors = append(hint.Descriptors, d.Label)
		}
		if len(c.Representatives) > 0 && imageRoot != "" {
			hint.Image = filepath.Join(imageRoot, filepath.FromSlash(c.Representatives[0]))
		}
		name, err := namer.NameCluster(ctx, hint)
		if err != nil {
			log.Printf("Cluster %d: keeping computed name: %v", c.ClusterID, err)
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || name == c.ClusterName || used[name] {
			continue
		}
		delete(used, c.ClusterName)
		used[name] = true
		c.ClusterName = name
	}
}

// StyleVectors returns the cached phase 2 image vectors keyed by their
// step_b path ("reduced_pool/<name>").
func StyleVectors(l workspace.Layout) ([]string, [][]float32, error) {
	cache := embedding.Cache{Dir: l.VectorCache()}
	_, keys, vectors, err := cache.Load(cacheStyleImages)
	if err != nil {
		return nil, nil, err
	}
	rel := make([]string, len(keys))
	for i, k := range keys {
		rel[i] = "reduced_pool/" + k
	}
	return rel, vectors, nil
}

// StyleVectorsHash identifies the cached phase 2 image vectors.
func StyleVectorsHash(l workspace.Layout) (string, error) {
	meta, err := embedding.Cache{Dir: l.VectorCache()}.Meta(cacheStyleImages)
	if err != nil {
		return "", err
	}
	return meta.Model + ":" + meta.InputsHash, nil
}
