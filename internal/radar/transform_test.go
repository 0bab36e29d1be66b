package radar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolarToCartesian(t *testing.T) {
	tests := []struct {
		name          string
		r, az, el     float64
		wantX, wantY  float64
		wantZ         float64
	}{
		{"boresight", 10, 0, 0, 10, 0, 0},
		{"left", 5, 90, 0, 0, 5, 0},
		{"right", 5, -90, 0, 0, -5, 0},
		{"elevated", 2, 0, 90, 0, 0, 2},
		{"zero range", 0, 45, 45, 0, 0, 0},
		{"oblique", 4, 60, 30, 4 * 0.5 * math.Sqrt(3) / 2, 4 * math.Sqrt(3) / 2 * math.Sqrt(3) / 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, z := PolarToCartesian(tt.r, tt.az, tt.el)
			assert.InDelta(t, tt.wantX, x, 1e-9)
			assert.InDelta(t, tt.wantY, y, 1e-9)
			assert.InDelta(t, tt.wantZ, z, 1e-9)
		})
	}
}

func TestLineOfSightIsUnit(t *testing.T) {
	for _, az := range []float64{-180, -75, 0, 33, 179} {
		for _, el := range []float64{-60, 0, 12, 89} {
			n := LineOfSight(az, el)
			assert.InDelta(t, 1.0, math.Sqrt(n.Dot(n)), 1e-12, "az=%v el=%v", az, el)
		}
	}
}

func TestToCloud_CarriesFields(t *testing.T) {
	b := Batch{
		FrameID:   "radar_front",
		Timestamp: stamp,
		Targets: []Target{
			{TargetID: 4, SNR: 22, Range: 250, Speed: -1.5, Azimuth: 10, Elevation: -2},
			{TargetID: 9, SNR: 8, Range: 3, Speed: 0.25, Azimuth: -20, Elevation: 4},
		},
	}
	c := ToCloud(b)

	assert.Equal(t, "radar_front", c.FrameID)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, c.Stats.Included)
	for i, tgt := range b.Targets {
		pt := c.Points[i]
		assert.Equal(t, tgt.TargetID, pt.TargetID)
		assert.Equal(t, tgt.SNR, pt.SNR)
		assert.Equal(t, tgt.Range, pt.Range)
		assert.Equal(t, tgt.Speed, pt.Speed)
		assert.Equal(t, tgt.Azimuth, pt.Azimuth)
		assert.Equal(t, tgt.Elevation, pt.Elevation)
		assert.InDelta(t, tgt.Range, math.Sqrt(pt.X*pt.X+pt.Y*pt.Y+pt.Z*pt.Z), 1e-9)
	}
}
