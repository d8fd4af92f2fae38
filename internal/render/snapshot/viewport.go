package snapshot

import (
	"fmt"
	"math"
)

const (
	MinExplicitScale = 0.4
	MaxExplicitScale = 1.6
)

// Viewport is the CSS viewport the page is laid out in and the device scale
// factor it is captured at.
type Viewport struct {
	Width             int
	Height            int
	DeviceScaleFactor int
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d@%d", v.Width, v.Height, v.DeviceScaleFactor)
}

// CapturedSize is the pixel size of a screenshot of this viewport.
func (v Viewport) CapturedSize() (int, int) {
	return v.Width * v.DeviceScaleFactor, v.Height * v.DeviceScaleFactor
}

// ComputeViewport returns the viewport for rendering width x height target
// pixels at scale. The device scale factor starts at defaultDSF and drops
// by one while the capture would exceed maxPixelArea.
func ComputeViewport(width, height int, scale float64, defaultDSF, maxPixelArea int) Viewport {
	if scale <= 0 {
		scale = 1
	}
	v := Viewport{
		Width:             int(math.Ceil(float64(width) / scale)),
		Height:            int(math.Ceil(float64(height) / scale)),
		DeviceScaleFactor: max(defaultDSF, 1),
	}
	for v.DeviceScaleFactor > 1 && maxPixelArea > 0 &&
		v.Width*v.Height*v.DeviceScaleFactor*v.DeviceScaleFactor > maxPixelArea {
		v.DeviceScaleFactor--
	}
	return v
}

// ClampScale limits an explicitly requested scale to the supported range.
func ClampScale(s float64) float64 {
	return math.Max(MinExplicitScale, math.Min(MaxExplicitScale, s))
}
