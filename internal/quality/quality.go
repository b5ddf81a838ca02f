// Package quality scores sharpness and exposure of photos and decides
// whether a photo is bad enough to be rejected outright.
package quality

import (
	"github.com/kozaktomas/album-curator/internal/constants"
)

// Reject reasons, in the order the rules are evaluated.
const (
	ReasonSharpFloor   = "sharp_lt_6_5"
	ReasonMeanOutside  = "exp_mean_outside_29_210_unless_sharp_gt_400"
	ReasonTooManyDark  = "exp_pct_low_gt_0_5_unless_sharp_gt_200"
	ReasonTooManyLight = "exp_pct_high_gt_0_1_unless_sharp_gt_200"
)

// Gray is an 8-bit luminance buffer in row-major order.
type Gray struct {
	W, H int
	Pix  []uint8
}

func (g *Gray) at(x, y int) float64 {
	return float64(g.Pix[y*g.W+x])
}

// Thresholds controls the blurry/underexposed/overexposed flags.
// They do not influence the reject verdict.
type Thresholds struct {
	Blur  float64 // blurry if sharpness < Blur
	Under float64 // underexposed if low fraction > Under
	Over  float64 // overexposed if high fraction > Over
}

// DefaultThresholds returns the flag thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{Blur: 80.0, Under: 0.05, Over: 0.02}
}

// Record is the per-photo quality verdict persisted to quality.jsonl.
type Record struct {
	Path         string  `json:"path" validate:"required"`
	Sharpness    float64 `json:"sharp_vlap" validate:"gte=0"`
	Mean         float64 `json:"exp_mean" validate:"gte=0,lte=255"`
	PctLow       float64 `json:"exp_pct_low" validate:"gte=0,lte=1"`
	PctHigh      float64 `json:"exp_pct_high" validate:"gte=0,lte=1"`
	Blurry       bool    `json:"blurry"`
	Underexposed bool    `json:"underexposed"`
	Overexposed  bool    `json:"overexposed"`
	Rejected     bool    `json:"rejected"`
	RejectReason string  `json:"reject_reason" validate:"omitempty,oneof=sharp_lt_6_5 exp_mean_outside_29_210_unless_sharp_gt_400 exp_pct_low_gt_0_5_unless_sharp_gt_200 exp_pct_high_gt_0_1_unless_sharp_gt_200"`
}

// Sharpness returns the variance of the 4-neighbour Laplacian response.
// Borders are reflected without repeating the edge pixel.
func Sharpness(g *Gray) float64 {
	if g.W == 0 || g.H == 0 {
		return 0
	}

	n := float64(g.W * g.H)
	var sum, sumSq float64
	for y := range g.H {
		up := reflect101(y-1, g.H)
		down := reflect101(y+1, g.H)
		for x := range g.W {
			left := reflect101(x-1, g.W)
			right := reflect101(x+1, g.W)
			v := g.at(x, up) + g.at(x, down) + g.at(left, y) + g.at(right, y) - 4*g.at(x, y)
			sum += v
			sumSq += v * v
		}
	}

	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		return 0
	}
	return variance
}

// reflect101 maps an out-of-range index back into [0, n) mirroring around
// the edge pixel (…, 2, 1 | 0, 1, 2, … | n-2, n-3, …).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// Exposure returns mean brightness and the fractions of near-black and
// near-white pixels.
func Exposure(g *Gray) (mean, pctLow, pctHigh float64) {
	if len(g.Pix) == 0 {
		return 0, 0, 0
	}

	var sum float64
	var low, high int
	for _, p := range g.Pix {
		sum += float64(p)
		if p <= constants.ExposureLowCutoff {
			low++
		}
		if p >= constants.ExposureHighCutoff {
			high++
		}
	}

	n := float64(len(g.Pix))
	return sum / n, float64(low) / n, float64(high) / n
}

// ShouldReject applies the hard-reject rules. The first matching rule wins.
// High sharpness exempts a photo from the exposure rules but never from
// the absolute sharpness floor.
func ShouldReject(sharp, mean, pctLow, pctHigh float64) (bool, string) {
	switch {
	case sharp < 6.5:
		return true, ReasonSharpFloor
	case (mean < 29 || mean > 210) && sharp <= 400:
		return true, ReasonMeanOutside
	case pctLow > 0.5 && sharp <= 200:
		return true, ReasonTooManyDark
	case pctHigh > 0.1 && sharp <= 200:
		return true, ReasonTooManyLight
	}
	return false, ""
}

// Assess computes the full quality record for one decoded photo.
func Assess(path string, g *Gray, th Thresholds) Record {
	sharp := Sharpness(g)
	mean, low, high := Exposure(g)
	rejected, reason := ShouldReject(sharp, mean, low, high)

	return Record{
		Path:         path,
		Sharpness:    sharp,
		Mean:         mean,
		PctLow:       low,
		PctHigh:      high,
		Blurry:       sharp < th.Blur,
		Underexposed: low > th.Under,
		Overexposed:  high > th.Over,
		Rejected:     rejected,
		RejectReason: reason,
	}
}
