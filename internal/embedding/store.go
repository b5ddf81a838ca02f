package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/kozaktomas/album-curator/internal/database"
)

// StoreProvider reuses image vectors across albums through an
// EmbeddingStore keyed by file content. Store failures fall back to the
// wrapped provider.
type StoreProvider struct {
	Provider
	store database.EmbeddingStore
}

// NewStoreProvider wraps p with a shared store.
func NewStoreProvider(p Provider, store database.EmbeddingStore) *StoreProvider {
	return &StoreProvider{Provider: p, store: store}
}

// EmbedImages returns stored vectors where known and computes the rest.
func (s *StoreProvider) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	hashes := make([]string, len(paths))
	for i, p := range paths {
		h, err := ContentHash(p)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}

	model := s.Model()
	known, err := s.store.GetMany(ctx, hashes, model)
	if err != nil {
		log.Printf("embedding store: lookup failed, computing all %d vectors: %v", len(paths), err)
		known = map[string][]float32{}
	}

	var missing []int
	for i, h := range hashes {
		if _, ok := known[h]; !ok {
			missing = append(missing, i)
		}
	}

	out := make([][]float32, len(paths))
	if len(missing) > 0 {
		missingPaths := make([]string, len(missing))
		for j, i := range missing {
			missingPaths[j] = paths[i]
		}
		vectors, err := s.Provider.EmbedImages(ctx, missingPaths)
		if err != nil {
			return nil, err
		}

		fresh := make([]database.StoredEmbedding, 0, len(missing))
		for j, i := range missing {
			known[hashes[i]] = vectors[j]
			fresh = append(fresh, database.StoredEmbedding{
				ContentHash: hashes[i],
				Model:       model,
				Embedding:   vectors[j],
				Dim:         len(vectors[j]),
			})
		}
		if err := s.store.SaveBatch(ctx, fresh); err != nil {
			log.Printf("embedding store: save of %d vectors failed: %v", len(fresh), err)
		}
	}

	for i, h := range hashes {
		out[i] = known[h]
	}
	return out, nil
}

// ContentHash is the hex SHA-256 of a file.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path is inside the workspace
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
