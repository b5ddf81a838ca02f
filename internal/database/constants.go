package database

// HNSW index parameters for image embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// so the query item itself can be dropped from the results.
	HNSWSearchMultiplier = 3
)
