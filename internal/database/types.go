package database

import (
	"time"
)

// StoredEmbedding is a vector computed for one file content by one model.
type StoredEmbedding struct {
	ContentHash string
	Model       string
	Embedding   []float32
	Dim         int
	CreatedAt   time.Time
}
