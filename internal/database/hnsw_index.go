package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/renameio"
)

var ErrIndexEmpty = errors.New("index not initialized")

// Neighbor is one search hit.
type Neighbor struct {
	Key      string  `json:"path"`
	Distance float64 `json:"distance"`
}

// VectorIndex is an in-memory HNSW graph over string keyed vectors.
type VectorIndex struct {
	graph      *hnsw.Graph[int64]
	savedGraph *hnsw.SavedGraph[int64]
	keys       []string
	ids        map[string]int64
	vectors    map[int64][]float32
	mu         sync.RWMutex
}

// NewVectorIndex creates an empty index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{
		ids:     make(map[string]int64),
		vectors: make(map[int64][]float32),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index content. keys and vectors are parallel slices;
// empty vectors are skipped.
func (x *VectorIndex) Build(keys []string, vectors [][]float32) error {
	if len(keys) != len(vectors) {
		return fmt.Errorf("index build: %d keys for %d vectors", len(keys), len(vectors))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.graph = nil
	x.savedGraph = nil
	x.keys = x.keys[:0]
	x.ids = make(map[string]int64, len(keys))
	x.vectors = make(map[int64][]float32, len(keys))

	g := newGraph()
	for i, key := range keys {
		if len(vectors[i]) == 0 {
			continue
		}
		if _, dup := x.ids[key]; dup {
			return fmt.Errorf("index build: duplicate key %q", key)
		}
		id := int64(len(x.keys))
		x.keys = append(x.keys, key)
		x.ids[key] = id
		x.vectors[id] = vectors[i]
		g.Add(hnsw.MakeNode(id, vectors[i]))
	}
	if len(x.keys) > 0 {
		x.graph = g
	}
	return nil
}

// Vector returns the stored vector of a key.
func (x *VectorIndex) Vector(key string) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.ids[key]
	if !ok {
		return nil, false
	}
	return x.vectors[id], true
}

// Search returns up to k nearest keys ordered by distance, ties by key.
// exclude drops one key from the results (usually the query item).
func (x *VectorIndex) Search(query []float32, k int, exclude string) ([]Neighbor, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil && x.savedGraph == nil {
		return nil, ErrIndexEmpty
	}

	var nodes []hnsw.Node[int64]
	want := k * HNSWSearchMultiplier
	if x.savedGraph != nil {
		nodes = x.savedGraph.Search(query, want)
	} else {
		nodes = x.graph.Search(query, want)
	}

	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		if n.Key < 0 || int(n.Key) >= len(x.keys) {
			continue
		}
		key := x.keys[n.Key]
		if key == exclude {
			continue
		}
		out = append(out, Neighbor{Key: key, Distance: CosineDistance(query, n.Value)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Count returns the number of indexed keys.
func (x *VectorIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.keys)
}

// Save persists the graph and its key table (path + ".keys").
func (x *VectorIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		return ErrIndexEmpty
	}

	pending, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer pending.Cleanup()

	if err := x.graph.Export(pending); err != nil {
		return fmt.Errorf("export HNSW graph: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}

	data, err := json.Marshal(x.keys)
	if err != nil {
		return fmt.Errorf("encode index keys: %w", err)
	}
	if err := renameio.WriteFile(path+".keys", data, 0o644); err != nil {
		return fmt.Errorf("write index keys: %w", err)
	}
	return nil
}

// Load replaces the index with a saved graph. Vectors are taken from the
// graph nodes on search, so Vector lookups need a Build.
func (x *VectorIndex) Load(path string) error {
	data, err := os.ReadFile(path + ".keys") //nolint:gosec // path is inside the workspace
	if err != nil {
		return fmt.Errorf("read index keys: %w", err)
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("decode index keys: %w", err)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("load HNSW index: %w", err)
	}
	if saved.Len() != len(keys) {
		return fmt.Errorf("index has %d nodes for %d keys", saved.Len(), len(keys))
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph = nil
	x.savedGraph = saved
	x.keys = keys
	x.ids = make(map[string]int64, len(keys))
	x.vectors = make(map[int64][]float32)
	for i, k := range keys {
		x.ids[k] = int64(i)
	}
	return nil
}
