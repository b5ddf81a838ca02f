package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/bits"
	"sort"
	"strconv"

	"golang.org/x/image/draw"
)

// Signature holds the perceptual hashes of one image plus its pixel size.
// The hashes are computed once per asset and never change.
type Signature struct {
	PHash  uint64
	DHash  uint64
	WHash  uint64
	Width  int
	Height int
}

// Compute computes pHash, dHash and wHash for an image.
func Compute(img image.Image) Signature {
	b := img.Bounds()
	return Signature{
		PHash:  computePHash(img),
		DHash:  computeDHash(img),
		WHash:  computeWHash(img),
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}

// ComputeBytes decodes image data and computes its signature.
func ComputeBytes(imageData []byte) (Signature, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return Signature{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return Compute(img), nil
}

// FormatHash renders a hash as 16 lowercase hex digits.
func FormatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// ParseHash parses a hash produced by FormatHash.
func ParseHash(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("hash %q: expected 16 hex digits", s)
	}
	h, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("hash %q: %w", s, err)
	}
	return h, nil
}

// HammingDistance computes the Hamming distance between two 64-bit hashes.
func HammingDistance(hash1, hash2 uint64) int {
	return bits.OnesCount64(hash1 ^ hash2)
}

// Similar returns true if two hashes are within the given threshold.
func Similar(hash1, hash2 uint64, threshold int) bool {
	return HammingDistance(hash1, hash2) <= threshold
}

// computePHash computes a 64-bit perceptual hash using DCT.
func computePHash(img image.Image) uint64 {
	// 1. Resize to 32x32 for DCT processing
	gray := toGrayscale(resizeImage(img, 32, 32))

	// 2. Compute 32x32 DCT (Discrete Cosine Transform)
	dct := computeDCT(gray)

	// 3. Take the top-left 8x8 block (low frequencies)
	lowFreq := make([]float64, 0, 64)
	for u := range 8 {
		for v := range 8 {
			lowFreq = append(lowFreq, dct[u][v])
		}
	}

	// 4. 1 if coefficient > median, 0 otherwise
	return thresholdBits(lowFreq, computeMedian(lowFreq))
}

// computeDHash computes a 64-bit difference hash.
func computeDHash(img image.Image) uint64 {
	// 9 columns give 8 horizontal differences per row
	gray := toGrayscale(resizeImage(img, 9, 8))

	var hash uint64
	bit := 63
	for y := range 8 {
		for x := range 8 {
			if gray[x][y] > gray[x+1][y] {
				hash |= 1 << bit
			}
			bit--
		}
	}

	return hash
}

// computeWHash computes a 64-bit wavelet hash: the 8x8 Haar approximation
// band of a 64x64 thumbnail with the DC level removed, thresholded at its median.
func computeWHash(img image.Image) uint64 {
	const size = 64
	gray := toGrayscale(resizeImage(img, size, size))

	var mean float64
	for x := range size {
		for y := range size {
			mean += gray[x][y]
		}
	}
	mean /= size * size

	band := make([][]float64, size)
	for x := range size {
		band[x] = make([]float64, size)
		for y := range size {
			band[x][y] = (gray[x][y] - mean) / 255
		}
	}

	// Three Haar levels: 64 -> 32 -> 16 -> 8.
	for n := size / 2; n >= 8; n /= 2 {
		band = haarApprox(band, n)
	}

	ll := make([]float64, 0, 64)
	for y := range 8 {
		for x := range 8 {
			ll = append(ll, band[x][y])
		}
	}
	return thresholdBits(ll, computeMedian(ll))
}

// haarApprox returns the n x n approximation band of one 2D Haar step.
func haarApprox(src [][]float64, n int) [][]float64 {
	dst := make([][]float64, n)
	for x := range n {
		dst[x] = make([]float64, n)
		for y := range n {
			dst[x][y] = (src[2*x][2*y] + src[2*x+1][2*y] + src[2*x][2*y+1] + src[2*x+1][2*y+1]) / 2
		}
	}
	return dst
}

func thresholdBits(values []float64, threshold float64) uint64 {
	var hash uint64
	for i, v := range values {
		if v > threshold {
			hash |= 1 << (63 - i)
		}
	}
	return hash
}

// resizeImage scales an image to the specified dimensions.
func resizeImage(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255), indexed [x][y].
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			i := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			// ITU-R BT.601 luma formula.
			gray[x][y] = 0.299*float64(img.Pix[i]) + 0.587*float64(img.Pix[i+1]) + 0.114*float64(img.Pix[i+2])
		}
	}

	return gray
}

// computeDCT computes the 2D DCT-II of a square grayscale block.
func computeDCT(gray [][]float64) [][]float64 {
	size := len(gray)

	cosTable := make([][]float64, size)
	for i := range cosTable {
		cosTable[i] = make([]float64, size)
		for j := range size {
			cosTable[i][j] = math.Cos(math.Pi * float64(i) * (2*float64(j) + 1) / (2 * float64(size)))
		}
	}

	// Separable: transform columns first, then rows.
	tmp := make([][]float64, size)
	for u := range size {
		tmp[u] = make([]float64, size)
		for y := range size {
			var sum float64
			for x := range size {
				sum += gray[x][y] * cosTable[u][x]
			}
			tmp[u][y] = sum
		}
	}

	dct := make([][]float64, size)
	for u := range size {
		dct[u] = make([]float64, size)
		for v := range size {
			var sum float64
			for y := range size {
				sum += tmp[u][y] * cosTable[v][y]
			}
			dct[u][v] = sum
		}
	}

	return dct
}

// computeMedian returns the median value from a slice.
func computeMedian(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
