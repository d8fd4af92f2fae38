package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func encodeNRGBA(t *testing.T, w, h int, fill func(x, y int) color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestNormalize_Dimensions(t *testing.T) {
	tests := []struct {
		name         string
		srcW, srcH   int
		w, h         int
		rot          Rotation
		wantW, wantH int
	}{
		{"downscale from dsf 2", 1600, 1200, 800, 600, RotateNone, 800, 600},
		{"landscape rotated for device", 1600, 1200, 800, 600, Rotate90, 600, 800},
		{"upscale viewport capture", 500, 375, 800, 600, RotateNone, 800, 600},
		{"already exact", 600, 800, 600, 800, RotateNone, 600, 800},
		{"aspect mismatch is stretched", 1067, 800, 800, 600, RotateNone, 800, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := encodeNRGBA(t, tt.srcW, tt.srcH, func(int, int) color.NRGBA {
				return color.NRGBA{R: 10, G: 200, B: 90, A: 255}
			})

			out, err := Normalize(raw, tt.w, tt.h, tt.rot)
			require.NoError(t, err)

			img := decode(t, out)
			assert.Equal(t, tt.wantW, img.Bounds().Dx())
			assert.Equal(t, tt.wantH, img.Bounds().Dy())
			_, isGray := img.(*image.Gray)
			assert.True(t, isGray, "expected 8-bit grayscale, got %T", img)
		})
	}
}

func TestNormalize_TransparencyBecomesWhite(t *testing.T) {
	raw := encodeNRGBA(t, 80, 60, func(x, _ int) color.NRGBA {
		if x < 40 {
			return color.NRGBA{}
		}
		return color.NRGBA{A: 255}
	})

	out, err := Normalize(raw, 80, 60, RotateNone)
	require.NoError(t, err)

	gray := decode(t, out).(*image.Gray)
	assert.Equal(t, uint8(255), gray.GrayAt(10, 30).Y)
	assert.Equal(t, uint8(0), gray.GrayAt(70, 30).Y)
}

func TestNormalize_RotationIsCounterClockwise(t *testing.T) {
	// Black left column; after a counter-clockwise turn it is the bottom row.
	raw := encodeNRGBA(t, 8, 4, func(x, _ int) color.NRGBA {
		if x == 0 {
			return color.NRGBA{A: 255}
		}
		return color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	})

	out, err := Normalize(raw, 8, 4, Rotate90)
	require.NoError(t, err)

	gray := decode(t, out).(*image.Gray)
	require.Equal(t, 4, gray.Bounds().Dx())
	require.Equal(t, 8, gray.Bounds().Dy())
	for x := 0; x < 4; x++ {
		assert.Equal(t, uint8(0), gray.GrayAt(x, 7).Y)
		assert.Equal(t, uint8(255), gray.GrayAt(x, 0).Y)
	}
}

func TestNormalize_Errors(t *testing.T) {
	_, err := Normalize([]byte("not a png"), 800, 600, RotateNone)
	assert.Error(t, err)

	_, err = Normalize(nil, 0, 600, RotateNone)
	assert.Error(t, err)
}

func TestApply_FallsBackToRaw(t *testing.T) {
	raw := []byte("definitely not an image")
	assert.Equal(t, raw, Apply(raw, 800, 600, RotateNone, zap.NewNop()))

	good := encodeNRGBA(t, 16, 12, func(int, int) color.NRGBA { return color.NRGBA{A: 255} })
	out := Apply(good, 8, 6, RotateNone, zap.NewNop())
	assert.NotEqual(t, good, out)
	assert.Equal(t, 8, decode(t, out).Bounds().Dx())
}
