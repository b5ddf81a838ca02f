package styles

import (
	"math"
	"math/rand"

	"github.com/kozaktomas/album-curator/internal/constants"
)

// DefaultK picks the number of clusters for n images: round(sqrt(n))
// bounded to [6, 24], and never more than n.
func DefaultK(n int) int {
	k := int(math.Round(math.Sqrt(float64(n))))
	k = min(constants.MaxKMeansClusters, max(constants.MinKMeansClusters, k))
	return max(1, min(k, n))
}

// KMeansResult holds cluster labels and the distance of every point to
// its centroid. Labels are numbered by first appearance in the input.
type KMeansResult struct {
	Labels    []int
	Distances []float64
	Inertia   float64
}

// KMeans clusters vectors with seeded k-means++ restarts and Lloyd
// iterations. The same input and seed always give the same labels.
func KMeans(vectors [][]float32, k int, seed int64) KMeansResult {
	n := len(vectors)
	if n == 0 {
		return KMeansResult{}
	}
	k = max(1, min(k, n))

	points := make([][]float64, n)
	for i, v := range vectors {
		points[i] = make([]float64, len(v))
		for j, x := range v {
			points[i][j] = float64(x)
		}
	}

	var best KMeansResult
	for r := 0; r < constants.KMeansRestarts; r++ {
		rng := rand.New(rand.NewSource(seed + int64(r)))
		res := lloyd(points, seedCentroids(points, k, rng))
		if r == 0 || res.Inertia < best.Inertia {
			best = res
		}
	}
	relabel(best.Labels)
	return best
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// seedCentroids is the k-means++ initialization.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.Intn(len(points))]))

	d2 := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			d2[i] = math.Inf(1)
			for _, c := range centroids {
				d2[i] = math.Min(d2[i], sqDist(p, c))
			}
			total += d2[i]
		}
		if total == 0 {
			// All remaining points coincide with a centroid.
			centroids = append(centroids, clone(points[rng.Intn(len(points))]))
			continue
		}
		target := rng.Float64() * total
		pick := len(points) - 1
		for i, d := range d2 {
			target -= d
			if target <= 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, clone(points[pick]))
	}
	return centroids
}

func lloyd(points [][]float64, centroids [][]float64) KMeansResult {
	n, k := len(points), len(centroids)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < constants.KMeansIterations; iter++ {
		changed := assign(points, centroids, labels)
		if !changed && iter > 0 {
			break
		}

		dim := len(points[0])
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := labels[i]
			counts[c]++
			for j, x := range p {
				sums[c][j] += x
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Empty cluster takes the point farthest from its centroid.
				far, farD := 0, -1.0
				for i, p := range points {
					if d := sqDist(p, centroids[labels[i]]); d > farD {
						far, farD = i, d
					}
				}
				centroids[c] = clone(points[far])
				labels[far] = c
				continue
			}
			for j := range sums[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}
	assign(points, centroids, labels)

	res := KMeansResult{Labels: labels, Distances: make([]float64, n)}
	for i, p := range points {
		d := sqDist(p, centroids[labels[i]])
		res.Distances[i] = math.Sqrt(d)
		res.Inertia += d
	}
	return res
}

// assign moves every point to its nearest centroid, ties to the lower index.
func assign(points, centroids [][]float64, labels []int) bool {
	changed := false
	for i, p := range points {
		bestC, bestD := 0, math.Inf(1)
		for c, cen := range centroids {
			if d := sqDist(p, cen); d < bestD {
				bestC, bestD = c, d
			}
		}
		if labels[i] != bestC {
			labels[i] = bestC
			changed = true
		}
	}
	return changed
}

func relabel(labels []int) {
	mapping := make(map[int]int)
	for i, l := range labels {
		if _, ok := mapping[l]; !ok {
			mapping[l] = len(mapping)
		}
		labels[i] = mapping[l]
	}
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
