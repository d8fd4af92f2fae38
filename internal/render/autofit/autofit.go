// Package autofit finds the scale at which variable-height page content fills
// a fixed canvas.
//
// Scale s means the page is laid out in a viewport of W/s by H/s CSS pixels
// and captured into W by H target pixels, so the predicted height grows with s.
package autofit

import (
	"context"
	"fmt"
	"math"
)

// Measurer reports the predicted rendered height in target pixels.
type Measurer interface {
	// MeasureAtScale lays the page out for viewport scale s and measures it.
	MeasureAtScale(ctx context.Context, scale float64) (float64, error)
	// MeasureAtZoom applies a style zoom on top of the current viewport and
	// measures again.
	MeasureAtZoom(ctx context.Context, zoom float64) (float64, error)
}

type Options struct {
	MinScale      float64
	MaxScale      float64
	MinZoom       float64
	MaxZoom       float64
	MaxIterations int
	Tolerance     float64
}

func DefaultOptions() Options {
	return Options{
		MinScale:      0.5,
		MaxScale:      1.5,
		MinZoom:       0.4,
		MaxZoom:       1.6,
		MaxIterations: 8,
		Tolerance:     1,
	}
}

type Result struct {
	// Scale is the viewport scale chosen by the search.
	Scale float64
	// Zoom is the style zoom applied on top of Scale by the fine pass.
	Zoom float64
	// Iterations counts search probes, excluding the fine pass.
	Iterations int
	// Predicted is the last measured height in target pixels.
	Predicted float64
	// Degraded is set when the page could not be measured and the
	// unscaled layout is used.
	Degraded bool
}

// Effective is the overall magnification of the captured content.
func (r Result) Effective() float64 {
	return r.Scale * r.Zoom
}

type sample struct {
	scale     float64
	predicted float64
}

// Fit searches [MinScale, MaxScale] for a scale whose predicted height is
// within Tolerance of height, starting at the midpoint. Once both ends of the
// bracket have been measured the next probe is interpolated between them.
// The best candidate is then refined once with a style zoom.
func Fit(ctx context.Context, m Measurer, width, height int, opts Options) (Result, error) {
	if width <= 0 || height <= 0 {
		return Result{}, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	target := float64(height)

	lo, hi := opts.MinScale, opts.MaxScale
	var loSample, hiSample *sample
	best := sample{scale: 1}
	bestErr := math.Inf(1)
	lastScale := 0.0

	res := Result{Zoom: 1}
	s := (lo + hi) / 2
	for i := 0; i < opts.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		predicted, err := m.MeasureAtScale(ctx, s)
		if err != nil {
			return res, fmt.Errorf("measure at scale %.3f: %w", s, err)
		}
		res.Iterations++
		lastScale = s

		if i == 0 && predicted <= 0 {
			res.Scale = 1
			res.Degraded = true
			return res, nil
		}

		diff := predicted - target
		if math.Abs(diff) < bestErr {
			bestErr = math.Abs(diff)
			best = sample{scale: s, predicted: predicted}
		}
		if math.Abs(diff) <= opts.Tolerance {
			break
		}

		if diff > 0 {
			hi, hiSample = s, &sample{scale: s, predicted: predicted}
		} else {
			lo, loSample = s, &sample{scale: s, predicted: predicted}
		}
		s = nextProbe(lo, hi, loSample, hiSample, target)
	}

	res.Scale = best.scale
	res.Predicted = best.predicted
	if lastScale != best.scale {
		predicted, err := m.MeasureAtScale(ctx, best.scale)
		if err != nil {
			return res, fmt.Errorf("measure at scale %.3f: %w", best.scale, err)
		}
		res.Predicted = predicted
	}

	return refine(ctx, m, target, res, opts)
}

func nextProbe(lo, hi float64, loSample, hiSample *sample, target float64) float64 {
	mid := (lo + hi) / 2
	if loSample == nil || hiSample == nil {
		return mid
	}
	span := hiSample.predicted - loSample.predicted
	if span <= 0 {
		return mid
	}
	t := (target - loSample.predicted) / span
	t = clamp(t, 0.1, 0.9)
	return lo + t*(hi-lo)
}

// refine applies zoom 1 to pin the layout box, then one proportional
// correction when the result is still out of tolerance. The zoom is bounded
// so that Scale*Zoom stays within [MinZoom, MaxZoom].
func refine(ctx context.Context, m Measurer, target float64, res Result, opts Options) (Result, error) {
	predicted, err := m.MeasureAtZoom(ctx, 1)
	if err != nil {
		return res, fmt.Errorf("measure at zoom 1: %w", err)
	}
	res.Predicted = predicted
	if predicted <= 0 || math.Abs(predicted-target) <= opts.Tolerance {
		return res, nil
	}

	zoom := clamp(target/predicted, opts.MinZoom/res.Scale, opts.MaxZoom/res.Scale)
	predicted, err = m.MeasureAtZoom(ctx, zoom)
	if err != nil {
		return res, fmt.Errorf("measure at zoom %.3f: %w", zoom, err)
	}
	res.Zoom = zoom
	res.Predicted = predicted
	return res, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
