// Package styles groups the reduced pool into visual clusters and names
// and ranks them against the moods a user picked.
package styles

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kozaktomas/album-curator/internal/constants"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

var ErrNoImages = errors.New("reduced pool has no images")

// KMeansRow assigns one reduced pool image to a phase 1 cluster.
type KMeansRow struct {
	Path       string  `json:"path" validate:"required"`
	ClusterID  int     `json:"cluster_id" validate:"gte=0"`
	KMeansDist float64 `json:"kmeans_dist" validate:"gte=0"`
}

// KMeansCluster summarizes one phase 1 cluster.
type KMeansCluster struct {
	ClusterID       int      `json:"cluster_id" validate:"gte=0"`
	Size            int      `json:"size" validate:"gte=1"`
	Representatives []string `json:"representatives" validate:"min=1"`
}

// PhaseOne is the output of the cluster stage.
type PhaseOne struct {
	K        int
	Rows     []KMeansRow
	Clusters []KMeansCluster
}

// Cluster runs k-means over image vectors. paths and vectors are parallel;
// k <= 0 selects DefaultK.
func Cluster(paths []string, vectors [][]float32, k int) (*PhaseOne, error) {
	if len(paths) == 0 {
		return nil, ErrNoImages
	}
	if len(paths) != len(vectors) {
		return nil, fmt.Errorf("%d paths for %d vectors", len(paths), len(vectors))
	}

	// Sort by path so labels do not depend on directory listing order.
	order := make([]int, len(paths))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return paths[order[a]] < paths[order[b]] })
	sortedPaths := make([]string, len(paths))
	sortedVectors := make([][]float32, len(paths))
	for i, idx := range order {
		sortedPaths[i] = paths[idx]
		sortedVectors[i] = vectors[idx]
	}

	if k <= 0 {
		k = DefaultK(len(paths))
	}
	k = max(1, min(k, len(paths)))
	res := KMeans(sortedVectors, k, constants.KMeansSeed)

	out := &PhaseOne{K: k}
	for i, p := range sortedPaths {
		out.Rows = append(out.Rows, KMeansRow{Path: p, ClusterID: res.Labels[i], KMeansDist: res.Distances[i]})
	}
	sort.SliceStable(out.Rows, func(a, b int) bool {
		if out.Rows[a].ClusterID != out.Rows[b].ClusterID {
			return out.Rows[a].ClusterID < out.Rows[b].ClusterID
		}
		return out.Rows[a].Path < out.Rows[b].Path
	})

	members := make(map[int][]KMeansRow)
	for _, r := range out.Rows {
		members[r.ClusterID] = append(members[r.ClusterID], r)
	}
	ids := make([]int, 0, len(members))
	for cid := range members {
		ids = append(ids, cid)
	}
	sort.Ints(ids)
	for _, cid := range ids {
		m := members[cid]
		// Nearest the centroid first; rows are already in path order.
		sort.SliceStable(m, func(a, b int) bool { return m[a].KMeansDist < m[b].KMeansDist })
		reps := make([]string, 0, constants.PhaseOneRepresentatives)
		for _, r := range m[:min(len(m), constants.PhaseOneRepresentatives)] {
			reps = append(reps, r.Path)
		}
		out.Clusters = append(out.Clusters, KMeansCluster{
			ClusterID:       cid,
			Size:            len(m),
			Representatives: reps,
		})
	}
	return out, nil
}

// WritePhaseOne writes both phase 1 JSONL files.
func WritePhaseOne(rowsPath, clustersPath string, p *PhaseOne) error {
	if err := workspace.WriteJSONL(rowsPath, p.Rows); err != nil {
		return err
	}
	return workspace.WriteJSONL(clustersPath, p.Clusters)
}

// ReadKMeansRows loads the phase 1 assignments.
func ReadKMeansRows(path string) ([]KMeansRow, error) {
	return workspace.ReadJSONL[KMeansRow](path)
}

// ReadKMeansClusters loads the phase 1 cluster summaries.
func ReadKMeansClusters(path string) ([]KMeansCluster, error) {
	return workspace.ReadJSONL[KMeansCluster](path)
}
