package autofit

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcMeasurer predicts heights from closed-form functions and records calls.
type funcMeasurer struct {
	atScale func(s float64) float64
	atZoom  func(s, z float64) float64
	err     error

	scale  float64
	scales []float64
	zooms  []float64
}

func (m *funcMeasurer) MeasureAtScale(_ context.Context, s float64) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.scale = s
	m.scales = append(m.scales, s)
	return m.atScale(s), nil
}

func (m *funcMeasurer) MeasureAtZoom(_ context.Context, z float64) (float64, error) {
	m.zooms = append(m.zooms, z)
	if m.atZoom == nil {
		return m.atScale(m.scale) * z, nil
	}
	return m.atZoom(m.scale, z), nil
}

func TestFit_Converges(t *testing.T) {
	tests := []struct {
		name      string
		predicted func(s float64) float64
		wantScale float64
	}{
		{"fits at midpoint", func(s float64) float64 { return 600 * s }, 1.0},
		{"linear overflow", func(s float64) float64 { return 900 * s }, 600.0 / 900.0},
		{"linear underflow", func(s float64) float64 { return 480 * s }, 1.25},
		{"quadratic", func(s float64) float64 { return 300 + 500*s*s }, math.Sqrt(0.6)},
		{"steep reflow", func(s float64) float64 { return 200 + 350*math.Pow(s, 3) }, math.Cbrt(400.0 / 350.0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &funcMeasurer{atScale: tt.predicted}
			res, err := Fit(context.Background(), m, 800, 600, DefaultOptions())
			require.NoError(t, err)

			assert.False(t, res.Degraded)
			assert.LessOrEqual(t, res.Iterations, 8)
			assert.InDelta(t, 600, tt.predicted(res.Scale), 1.0)
			assert.InDelta(t, tt.wantScale, res.Scale, 0.01)
			assert.Equal(t, 1.0, res.Zoom)
			assert.Equal(t, 1.0, m.scales[0], "first probe is the midpoint")
		})
	}
}

func TestFit_StaysInRange(t *testing.T) {
	tests := []struct {
		name      string
		predicted func(s float64) float64
		bound     float64
	}{
		{"content far too tall", func(s float64) float64 { return 3000 * s }, 0.5},
		{"content far too short", func(s float64) float64 { return 100 * s }, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &funcMeasurer{atScale: tt.predicted}
			res, err := Fit(context.Background(), m, 800, 600, DefaultOptions())
			require.NoError(t, err)

			assert.Equal(t, 8, res.Iterations)
			for _, s := range m.scales {
				assert.GreaterOrEqual(t, s, 0.5)
				assert.LessOrEqual(t, s, 1.5)
			}
			assert.InDelta(t, tt.bound, res.Scale, 0.01)
			assert.GreaterOrEqual(t, res.Zoom, 0.4)
			assert.LessOrEqual(t, res.Zoom, 1.6)
		})
	}
}

func TestFit_ZeroFirstMeasurementDegrades(t *testing.T) {
	m := &funcMeasurer{atScale: func(float64) float64 { return 0 }}
	res, err := Fit(context.Background(), m, 800, 600, DefaultOptions())
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, 1.0, res.Scale)
	assert.Equal(t, 1.0, res.Zoom)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, m.zooms)
}

func TestFit_FinePassCorrects(t *testing.T) {
	// Viewport changes do not move the height, only zoom does.
	m := &funcMeasurer{atScale: func(float64) float64 { return 620 }}
	res, err := Fit(context.Background(), m, 800, 600, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 8, res.Iterations)
	assert.Equal(t, 1.0, res.Scale, "first probe had the best error")
	assert.Equal(t, 1.0, m.scale, "viewport restored to best scale")
	require.Len(t, m.zooms, 2)
	assert.Equal(t, 1.0, m.zooms[0])
	assert.InDelta(t, 600.0/620.0, res.Zoom, 1e-9)
	assert.InDelta(t, 600, res.Predicted, 1e-6)
	assert.InDelta(t, 600.0/620.0, res.Effective(), 1e-9)
}

func TestFit_ZoomCorrectionIsClamped(t *testing.T) {
	m := &funcMeasurer{
		atScale: func(float64) float64 { return 5000 },
		atZoom:  func(_, z float64) float64 { return 5000 * z },
	}
	res, err := Fit(context.Background(), m, 800, 600, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0.4, res.Zoom)
}

func TestFit_EffectiveScaleStaysInFineRange(t *testing.T) {
	tests := []struct {
		name      string
		predicted func(s float64) float64
		want      float64
	}{
		{"far too tall", func(s float64) float64 { return 3000 * s }, 0.4},
		{"far too short", func(s float64) float64 { return 100 * s }, 1.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &funcMeasurer{atScale: tt.predicted}
			res, err := Fit(context.Background(), m, 800, 600, DefaultOptions())
			require.NoError(t, err)

			assert.GreaterOrEqual(t, res.Effective(), 0.4-1e-9)
			assert.LessOrEqual(t, res.Effective(), 1.6+1e-9)
			assert.InDelta(t, tt.want, res.Effective(), 1e-9)
			assert.InDelta(t, tt.want, res.Scale*m.zooms[len(m.zooms)-1], 1e-9)
		})
	}
}

func TestFit_Errors(t *testing.T) {
	t.Run("measurement error", func(t *testing.T) {
		m := &funcMeasurer{err: errors.New("target closed")}
		_, err := Fit(context.Background(), m, 800, 600, DefaultOptions())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "target closed")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		m := &funcMeasurer{atScale: func(s float64) float64 { return 600 * s }}
		_, err := Fit(ctx, m, 800, 600, DefaultOptions())
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid target", func(t *testing.T) {
		_, err := Fit(context.Background(), &funcMeasurer{}, 0, 600, DefaultOptions())
		assert.Error(t, err)
	})
}
