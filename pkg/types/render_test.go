package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrientation(t *testing.T) {
	tests := []struct {
		in      string
		want    Orientation
		wantErr bool
	}{
		{in: "", want: OrientationLandscape},
		{in: "landscape", want: OrientationLandscape},
		{in: " Portrait ", want: OrientationPortrait},
		{in: "sideways", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOrientation(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProfileFor_DeliveredSize(t *testing.T) {
	landscape := ProfileFor(OrientationLandscape)
	assert.Equal(t, 800, landscape.Width)
	assert.Equal(t, 600, landscape.Height)
	w, h := landscape.DeliveredSize()
	assert.Equal(t, []int{600, 800}, []int{w, h})

	portrait := ProfileFor(OrientationPortrait)
	w, h = portrait.DeliveredSize()
	assert.Equal(t, []int{600, 800}, []int{w, h})
	assert.False(t, portrait.Rotate)
}

func TestRenderRequest_ScaleSpec(t *testing.T) {
	assert.Equal(t, "auto", RenderRequest{}.ScaleSpec())
	s := 0.8
	assert.Equal(t, "0.800", RenderRequest{ExplicitScale: &s}.ScaleSpec())
}
