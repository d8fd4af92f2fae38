// Package imageproc turns raw browser captures into bitmaps the e-ink
// display accepts: exact size, no alpha, 8-bit grayscale PNG.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

type Rotation int

const (
	RotateNone Rotation = 0
	// Rotate90 turns the image 90 degrees counter-clockwise; the frame
	// expands so width and height swap.
	Rotate90 Rotation = 90
)

// Normalize decodes raw, resizes it to width x height with Lanczos when the
// size differs, flattens it onto white, applies rot and encodes an 8-bit
// grayscale PNG.
func Normalize(raw []byte, width, height int, rot Rotation) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}

	src, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}

	var img image.Image = src
	if b := src.Bounds(); b.Dx() != width || b.Dy() != height {
		img = imaging.Resize(src, width, height, imaging.Lanczos)
	}

	paper := imaging.New(width, height, color.White)
	flat := imaging.Overlay(paper, img, image.Pt(0, 0), 1.0)

	var out image.Image = flat
	if rot == Rotate90 {
		out = imaging.Rotate90(flat)
	}

	gray := toGray(out)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// Apply is Normalize that never fails: on any error the raw capture is
// returned unchanged.
func Apply(raw []byte, width, height int, rot Rotation, logger *zap.Logger) []byte {
	out, err := Normalize(raw, width, height, rot)
	if err != nil {
		logger.Warn("Image post-processing failed, serving raw capture",
			zap.Int("raw_bytes", len(raw)),
			zap.Error(err))
		return raw
	}
	return out
}
