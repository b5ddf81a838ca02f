package database

import "math"

// maxCosineDistance is reported for empty, mismatched or zero vectors.
const maxCosineDistance = 2.0

// CosineDistance returns 1 - cos(a, b), clamped to [0, 2].
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return maxCosineDistance
	}
	var dot, aa, bb float64
	for i, x := range a {
		y := float64(b[i])
		dot += float64(x) * y
		aa += float64(x) * float64(x)
		bb += y * y
	}
	if aa == 0 || bb == 0 {
		return maxCosineDistance
	}
	sim := dot / math.Sqrt(aa*bb)
	return 1 - min(1, max(-1, sim))
}
