package types

import (
	"fmt"
	"strings"
)

// Orientation selects the output device profile for an image request.
type Orientation string

const (
	OrientationLandscape Orientation = "landscape"
	OrientationPortrait  Orientation = "portrait"
)

// Profile is a fixed output canvas. Rotate marks profiles that are rendered
// at their logical size and delivered rotated by 90 degrees.
type Profile struct {
	Orientation Orientation
	Width       int
	Height      int
	Rotate      bool
}

// DeliveredSize returns the pixel size of the bytes handed to the device.
func (p Profile) DeliveredSize() (int, int) {
	if p.Rotate {
		return p.Height, p.Width
	}
	return p.Width, p.Height
}

var profiles = map[Orientation]Profile{
	OrientationLandscape: {Orientation: OrientationLandscape, Width: 800, Height: 600, Rotate: true},
	OrientationPortrait:  {Orientation: OrientationPortrait, Width: 600, Height: 800},
}

// ParseOrientation maps a query value to an Orientation. Empty selects landscape.
func ParseOrientation(s string) (Orientation, error) {
	switch o := Orientation(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrientationLandscape, nil
	case OrientationLandscape, OrientationPortrait:
		return o, nil
	default:
		return "", fmt.Errorf("unknown orientation %q (must be landscape or portrait)", s)
	}
}

// ProfileFor returns the canvas for an orientation.
func ProfileFor(o Orientation) Profile {
	if p, ok := profiles[o]; ok {
		return p
	}
	return profiles[OrientationLandscape]
}

// RenderRequest describes one snapshot of the dashboard page.
type RenderRequest struct {
	RequestID     string   `json:"request_id"`
	TargetURL     string   `json:"target_url"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	ExplicitScale *float64 `json:"explicit_scale,omitempty"` // nil selects auto-fit
	BypassCache   bool     `json:"bypass_cache"`
}

// ScaleSpec is the scale component of cache keys: "auto" or the explicit value.
func (r RenderRequest) ScaleSpec() string {
	if r.ExplicitScale == nil {
		return "auto"
	}
	return fmt.Sprintf("%.3f", *r.ExplicitScale)
}
