package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/kozaktomas/album-curator/internal/constants"
	"github.com/kozaktomas/album-curator/internal/database"
	"github.com/kozaktomas/album-curator/internal/styles"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

var ErrUnknownImage = errors.New("image not found in album")

// SimilarImage is one neighbour of a query image.
type SimilarImage struct {
	Path     string  `json:"path"`
	Distance float64 `json:"distance"`
}

type albumIndex struct {
	hash  string
	index *database.VectorIndex
}

// similarCache keeps one HNSW index per album, rebuilt when the phase 2
// vectors change.
type similarCache struct {
	mu      sync.Mutex
	indexes map[string]albumIndex
}

func newSimilarCache() *similarCache {
	return &similarCache{indexes: make(map[string]albumIndex)}
}

func (c *similarCache) forget(albumID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.indexes, albumID)
}

func (c *similarCache) get(albumID string, l workspace.Layout) (*database.VectorIndex, error) {
	hash, err := styles.StyleVectorsHash(l)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: style vectors", ErrNotReady)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.indexes[albumID]; ok && cached.hash == hash {
		return cached.index, nil
	}

	keys, vectors, err := styles.StyleVectors(l)
	if err != nil {
		return nil, err
	}
	idx := database.NewVectorIndex()
	if err := idx.Build(keys, vectors); err != nil {
		return nil, err
	}
	c.indexes[albumID] = albumIndex{hash: hash, index: idx}
	return idx, nil
}

// Similar returns the images of an album that look most like the image at
// path. path may be given relative to step_a ("reduced_pool/x.jpg") or to
// the workspace root ("step_a/reduced_pool/x.jpg").
func (o *Orchestrator) Similar(ctx context.Context, albumID, path string, limit int) ([]SimilarImage, error) {
	l, err := o.Layout(albumID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = constants.DefaultSimilarLimit
	}
	idx, err := o.similar.get(albumID, l)
	if err != nil {
		return nil, err
	}

	key := strings.TrimPrefix(path, "step_a/")
	query, ok := idx.Vector(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImage, path)
	}
	neighbors, err := idx.Search(query, limit, key)
	if err != nil {
		return nil, err
	}

	out := make([]SimilarImage, 0, len(neighbors))
	for _, n := range neighbors {
		out = append(out, SimilarImage{Path: "step_a/" + n.Key, Distance: n.Distance})
	}
	return out, nil
}
