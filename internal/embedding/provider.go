// Package embedding talks to the image/text embedding server and caches
// the vectors it returns.
package embedding

import (
	"context"
	"math"
)

// Provider turns images and prompts into L2-normalized vectors of one
// model. Image and text vectors share a dimension.
type Provider interface {
	EmbedImages(ctx context.Context, paths []string) ([][]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Normalize returns v scaled to unit length. Zero vectors are returned as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Dot is the inner product, which equals cosine similarity for unit vectors.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Mean averages vectors and renormalizes the result.
func Mean(vs [][]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	acc := make([]float64, len(vs[0]))
	for _, v := range vs {
		for i := range acc {
			if i < len(v) {
				acc[i] += float64(v[i])
			}
		}
	}
	out := make([]float32, len(acc))
	for i, x := range acc {
		out[i] = float32(x / float64(len(vs)))
	}
	return Normalize(out)
}
