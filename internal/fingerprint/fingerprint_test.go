package fingerprint

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name     string
		hash1    uint64
		hash2    uint64
		expected int
	}{
		{"identical", 0x0, 0x0, 0},
		{"completely different", 0xFFFFFFFFFFFFFFFF, 0x0, 64},
		{"one bit different", 0x1, 0x0, 1},
		{"four bits different", 0xF, 0x0, 4},
		{"half different", 0xFFFFFFFF00000000, 0x0, 32},
		{"alternating", 0xAAAAAAAAAAAAAAAA, 0x5555555555555555, 64},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := HammingDistance(tc.hash1, tc.hash2)
			if result != tc.expected {
				t.Errorf("HammingDistance(%x, %x) = %d; want %d",
					tc.hash1, tc.hash2, result, tc.expected)
			}
		})
	}
}

func TestSimilar(t *testing.T) {
	tests := []struct {
		name      string
		hash1     uint64
		hash2     uint64
		threshold int
		expected  bool
	}{
		{"identical with threshold 0", 0x0, 0x0, 0, true},
		{"10 bits different, threshold 10", 0x0, 0x3FF, 10, true},
		{"11 bits different, threshold 10", 0x0, 0x7FF, 10, false},
		{"completely different, threshold 20", 0xFFFFFFFFFFFFFFFF, 0x0, 20, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := Similar(tc.hash1, tc.hash2, tc.threshold)
			if result != tc.expected {
				t.Errorf("Similar(%x, %x, %d) = %v; want %v",
					tc.hash1, tc.hash2, tc.threshold, result, tc.expected)
			}
		})
	}
}

func TestFormatParseHash(t *testing.T) {
	for _, h := range []uint64{0, 1, 0xdeadbeefcafef00d, 0xFFFFFFFFFFFFFFFF} {
		s := FormatHash(h)
		if len(s) != 16 {
			t.Errorf("FormatHash(%x) = %q; want 16 digits", h, s)
		}
		got, err := ParseHash(s)
		if err != nil {
			t.Fatalf("ParseHash(%q) failed: %v", s, err)
		}
		if got != h {
			t.Errorf("ParseHash(FormatHash(%x)) = %x", h, got)
		}
	}

	for _, bad := range []string{"", "abc", "zzzzzzzzzzzzzzzz", "00000000000000000"} {
		if _, err := ParseHash(bad); err == nil {
			t.Errorf("ParseHash(%q) should fail", bad)
		}
	}
}

func TestComputeConsistency(t *testing.T) {
	img := createGradientImage(100, 80)

	s1 := Compute(img)
	s2 := Compute(img)
	if s1 != s2 {
		t.Errorf("signature should be deterministic: %+v vs %+v", s1, s2)
	}
	if s1.Width != 100 || s1.Height != 80 {
		t.Errorf("unexpected dimensions %dx%d", s1.Width, s1.Height)
	}
	if s1.PHash == 0 && s1.DHash == 0 && s1.WHash == 0 {
		t.Error("gradient image should produce non-zero hashes")
	}
}

func TestComputeNearDuplicates(t *testing.T) {
	base := createPatternImage(128, 96, 0)
	shifted := createPatternImage(128, 96, 6)
	other := createCheckerImage(128, 96, 16)

	sBase := Compute(base)
	sShifted := Compute(shifted)
	sOther := Compute(other)

	near := HammingDistance(sBase.PHash, sShifted.PHash)
	far := HammingDistance(sBase.PHash, sOther.PHash)
	if near >= far {
		t.Errorf("brightness shift should stay closer than a different image: near=%d far=%d", near, far)
	}
	if near > 20 {
		t.Errorf("brightness shift should be within default threshold, got %d", near)
	}
}

func TestComputeBytes(t *testing.T) {
	data := encodeJPEG(createGradientImage(64, 64))
	sig, err := ComputeBytes(data)
	if err != nil {
		t.Fatalf("ComputeBytes failed: %v", err)
	}
	if sig.Width != 64 {
		t.Errorf("unexpected width %d", sig.Width)
	}

	if _, err := ComputeBytes([]byte("not an image")); err == nil {
		t.Error("ComputeBytes should fail for invalid image data")
	}
}

func TestResizeImage(t *testing.T) {
	resized := resizeImage(createTestImage(100, 100, color.White), 32, 32)

	bounds := resized.Bounds()
	if bounds.Dx() != 32 || bounds.Dy() != 32 {
		t.Errorf("Resized image should be 32x32, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestToGrayscale(t *testing.T) {
	img := createTestImage(10, 10, color.RGBA{255, 0, 0, 255})

	gray := toGrayscale(img)
	if len(gray) != 10 || len(gray[0]) != 10 {
		t.Fatalf("unexpected grayscale size %dx%d", len(gray), len(gray[0]))
	}

	// Red should convert to approximately 0.299 * 255 = 76.245
	expectedLuma := 0.299 * 255
	if gray[0][0] < expectedLuma-1 || gray[0][0] > expectedLuma+1 {
		t.Errorf("Red pixel luma should be ~%.2f, got %.2f", expectedLuma, gray[0][0])
	}
}

func TestComputeMedian(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{"odd count", []float64{1, 2, 3, 4, 5}, 3},
		{"even count", []float64{1, 2, 3, 4}, 2.5},
		{"single value", []float64{42}, 42},
		{"unsorted", []float64{5, 1, 3, 2, 4}, 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := computeMedian(tc.values)
			if result != tc.expected {
				t.Errorf("computeMedian(%v) = %f; want %f", tc.values, result, tc.expected)
			}
		})
	}
}

// Helper functions

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func createGradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			gray := uint8((x + y) * 255 / (width + height))
			img.Set(x, y, color.RGBA{gray, gray, gray, 255})
		}
	}
	return img
}

// createPatternImage draws large diagonal bands; shift brightens every pixel.
func createPatternImage(width, height int, shift uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			v := uint8(40)
			if (x/32+y/24)%2 == 0 {
				v = 200
			}
			if x < width/3 {
				v /= 2
			}
			img.Set(x, y, color.RGBA{v + shift, v + shift, v + shift, 255})
		}
	}
	return img
}

func createCheckerImage(width, height, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			v := uint8(230)
			if (x/cell+y/cell)%2 == 0 {
				v = 20
			}
			img.Set(x, y, color.RGBA{v, v / 2, 255 - v, 255})
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}
