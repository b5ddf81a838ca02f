// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/album-curator/internal/database"
)

// MockEmbeddingStore is an in-memory database.EmbeddingStore
type MockEmbeddingStore struct {
	mu         sync.RWMutex
	embeddings map[string]database.StoredEmbedding

	// Error injection
	GetError   error
	SaveError  error
	CountError error

	// SaveCalls counts SaveBatch invocations
	SaveCalls int
}

var _ database.EmbeddingStore = (*MockEmbeddingStore)(nil)

// NewMockEmbeddingStore creates a new mock embedding store
func NewMockEmbeddingStore() *MockEmbeddingStore {
	return &MockEmbeddingStore{embeddings: make(map[string]database.StoredEmbedding)}
}

func storeKey(hash, model string) string {
	return model + "\x00" + hash
}

// Get retrieves one embedding
func (m *MockEmbeddingStore) Get(ctx context.Context, contentHash, model string) (*database.StoredEmbedding, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	emb, ok := m.embeddings[storeKey(contentHash, model)]
	if !ok {
		return nil, nil
	}
	return &emb, nil
}

// GetMany retrieves the known embeddings of the given hashes
func (m *MockEmbeddingStore) GetMany(ctx context.Context, contentHashes []string, model string) (map[string][]float32, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]float32)
	for _, h := range contentHashes {
		if emb, ok := m.embeddings[storeKey(h, model)]; ok {
			out[h] = emb.Embedding
		}
	}
	return out, nil
}

// Count returns the number of embeddings stored for a model
func (m *MockEmbeddingStore) Count(ctx context.Context, model string) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, emb := range m.embeddings {
		if emb.Model == model {
			n++
		}
	}
	return n, nil
}

// SaveBatch upserts embeddings
func (m *MockEmbeddingStore) SaveBatch(ctx context.Context, embeddings []database.StoredEmbedding) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	for _, emb := range embeddings {
		emb.Dim = len(emb.Embedding)
		emb.CreatedAt = time.Now()
		m.embeddings[storeKey(emb.ContentHash, emb.Model)] = emb
	}
	return nil
}
