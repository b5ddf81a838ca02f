package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/album-curator/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingRepository stores embeddings keyed by file content hash and model.
type EmbeddingRepository struct {
	pool *Pool
}

var _ database.EmbeddingStore = (*EmbeddingRepository)(nil)

// NewEmbeddingRepository creates a new PostgreSQL embedding repository
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

// Get retrieves one embedding, returns nil if not found
func (r *EmbeddingRepository) Get(ctx context.Context, contentHash, model string) (*database.StoredEmbedding, error) {
	var emb database.StoredEmbedding
	var vec pgvector.Vector

	err := r.pool.queryRow(ctx, `
		SELECT content_hash, model, embedding, dim, created_at
		FROM embeddings
		WHERE content_hash = $1 AND model = $2
	`, contentHash, model).Scan(&emb.ContentHash, &emb.Model, &vec, &emb.Dim, &emb.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	emb.Embedding = vec.Slice()
	return &emb, nil
}

// GetMany retrieves the known embeddings of the given hashes
func (r *EmbeddingRepository) GetMany(ctx context.Context, contentHashes []string, model string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(contentHashes))
	if len(contentHashes) == 0 {
		return out, nil
	}

	rows, err := r.pool.query(ctx, `
		SELECT content_hash, embedding
		FROM embeddings
		WHERE model = $1 AND content_hash = ANY($2)
	`, model, pq.Array(contentHashes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var vec pgvector.Vector
		if err := rows.Scan(&hash, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out[hash] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// Count returns the number of embeddings stored for a model
func (r *EmbeddingRepository) Count(ctx context.Context, model string) (int, error) {
	var count int
	err := r.pool.queryRow(ctx, "SELECT COUNT(*) FROM embeddings WHERE model = $1", model).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// SaveBatch upserts embeddings in a single transaction
func (r *EmbeddingRepository) SaveBatch(ctx context.Context, embeddings []database.StoredEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (content_hash, model, embedding, dim)
		VALUES ($1, $2, $3::vector, $4)
		ON CONFLICT (content_hash, model) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dim = EXCLUDED.dim,
			created_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, emb := range embeddings {
		vec := pgvector.NewVector(emb.Embedding)
		if _, err := stmt.ExecContext(ctx, emb.ContentHash, emb.Model, vec, len(emb.Embedding)); err != nil {
			return fmt.Errorf("save embedding %s: %w", emb.ContentHash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
