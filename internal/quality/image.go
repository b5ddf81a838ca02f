package quality

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeFile decodes an image file with every registered codec.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// ToGray converts an image to an 8-bit luminance buffer using ITU-R BT.601 weights.
func ToGray(img image.Image) *Gray {
	b := img.Bounds()
	g := &Gray{W: b.Dx(), H: b.Dy(), Pix: make([]uint8, b.Dx()*b.Dy())}

	if src, ok := img.(*image.Gray); ok {
		for y := range g.H {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(g.Pix[y*g.W:(y+1)*g.W], src.Pix[off:off+g.W])
		}
		return g
	}

	for y := range g.H {
		for x := range g.W {
			r, gr, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			luma := 0.299*float64(r>>8) + 0.587*float64(gr>>8) + 0.114*float64(bl>>8)
			g.Pix[y*g.W+x] = uint8(luma + 0.5)
		}
	}
	return g
}

// LoadGray decodes a file straight into a luminance buffer.
func LoadGray(path string) (*Gray, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return ToGray(img), nil
}
