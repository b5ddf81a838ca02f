package dedup

import (
	"image"
	"sync"

	"github.com/kozaktomas/album-curator/internal/fingerprint"
	"github.com/kozaktomas/album-curator/internal/quality"
)

// Verifier decides whether a candidate pair is a real duplicate. An error
// means one of the images could not be loaded.
type Verifier interface {
	Verify(a, b Asset) (bool, error)
}

// ImageVerifier compares decoded thumbnails with SSIM and, optionally,
// a hue/saturation histogram correlation. Thumbnails are memoized per run.
type ImageVerifier struct {
	SSIMThreshold float64
	HistThreshold float64
	UseHistogram  bool

	load   func(path string) (image.Image, error)
	mu     sync.Mutex
	thumbs map[string]image.Image
	failed map[string]error
}

// NewImageVerifier builds a verifier from a dedup config. It returns nil
// when SSIM verification is disabled.
func NewImageVerifier(cfg Config) *ImageVerifier {
	if cfg.SSIMThreshold == nil {
		return nil
	}
	return &ImageVerifier{
		SSIMThreshold: *cfg.SSIMThreshold,
		HistThreshold: cfg.HistThreshold,
		UseHistogram:  cfg.UseHistogram,
		load:          quality.DecodeFile,
		thumbs:        make(map[string]image.Image),
		failed:        make(map[string]error),
	}
}

func (v *ImageVerifier) thumbnail(file string) (image.Image, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if img, ok := v.thumbs[file]; ok {
		return img, nil
	}
	if err, ok := v.failed[file]; ok {
		return nil, err
	}

	img, err := v.load(file)
	if err != nil {
		v.failed[file] = err
		return nil, err
	}
	thumb := fingerprint.Thumbnail(img)
	v.thumbs[file] = thumb
	return thumb, nil
}

// Verify implements Verifier.
func (v *ImageVerifier) Verify(a, b Asset) (bool, error) {
	ia, err := v.thumbnail(a.File)
	if err != nil {
		return false, err
	}
	ib, err := v.thumbnail(b.File)
	if err != nil {
		return false, err
	}

	if fingerprint.SSIM(ia, ib) < v.SSIMThreshold {
		return false, nil
	}
	if v.UseHistogram && fingerprint.HistogramCorrelation(ia, ib) < v.HistThreshold {
		return false, nil
	}
	return true, nil
}
