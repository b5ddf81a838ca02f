package fingerprint

import (
	"image"
	"math"

	"github.com/kozaktomas/album-curator/internal/constants"
)

const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)

	hueBins = 30
	satBins = 32
)

// SSIM returns the mean structural similarity of two images after both are
// resized to a common square thumbnail. 1 means identical structure.
func SSIM(a, b image.Image) float64 {
	n := constants.VerifySize
	ga := toGrayscale(resizeImage(a, n, n))
	gb := toGrayscale(resizeImage(b, n, n))

	w := constants.SSIMWindow
	area := float64(w * w)
	var total float64
	var windows int
	for x0 := 0; x0+w <= n; x0 += constants.SSIMStride {
		for y0 := 0; y0+w <= n; y0 += constants.SSIMStride {
			var sa, sb, saa, sbb, sab float64
			for x := x0; x < x0+w; x++ {
				for y := y0; y < y0+w; y++ {
					pa, pb := ga[x][y], gb[x][y]
					sa += pa
					sb += pb
					saa += pa * pa
					sbb += pb * pb
					sab += pa * pb
				}
			}
			muA, muB := sa/area, sb/area
			varA := saa/area - muA*muA
			varB := sbb/area - muB*muB
			cov := sab/area - muA*muB

			num := (2*muA*muB + ssimC1) * (2*cov + ssimC2)
			den := (muA*muA + muB*muB + ssimC1) * (varA + varB + ssimC2)
			total += num / den
			windows++
		}
	}
	if windows == 0 {
		return 0
	}
	return total / float64(windows)
}

// HistogramCorrelation returns the Pearson correlation of the hue/saturation
// histograms of two images, in [-1, 1].
func HistogramCorrelation(a, b image.Image) float64 {
	n := constants.VerifySize
	ha := hsHistogram(resizeImage(a, n, n))
	hb := hsHistogram(resizeImage(b, n, n))
	return pearson(ha, hb)
}

func hsHistogram(img *image.RGBA) []float64 {
	hist := make([]float64, hueBins*satBins)
	for i := 0; i+3 < len(img.Pix); i += 4 {
		h, s := hueSat(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
		hb := min(int(h/360*hueBins), hueBins-1)
		sb := min(int(s*satBins), satBins-1)
		hist[hb*satBins+sb]++
	}
	return hist
}

// hueSat returns hue in degrees [0, 360) and saturation in [0, 1].
func hueSat(r8, g8, b8 uint8) (float64, float64) {
	r, g, b := float64(r8)/255, float64(g8)/255, float64(b8)/255
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC

	if maxC == 0 || delta == 0 {
		return 0, 0
	}
	s := delta / maxC

	var h float64
	switch maxC {
	case r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s
}

func pearson(a, b []float64) float64 {
	n := float64(len(a))
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= n
	mb /= n

	var num, da, db float64
	for i := range a {
		x, y := a[i]-ma, b[i]-mb
		num += x * y
		da += x * x
		db += y * y
	}
	if da == 0 || db == 0 {
		if da == db {
			return 1
		}
		return 0
	}
	return num / math.Sqrt(da*db)
}

// Thumbnail returns the square verification thumbnail of an image. Passing
// thumbnails to SSIM and HistogramCorrelation avoids rescaling full images
// for every pair.
func Thumbnail(img image.Image) *image.RGBA {
	n := constants.VerifySize
	return resizeImage(img, n, n)
}
