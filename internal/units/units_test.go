package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		mps  float64
		unit string
		want float64
	}{
		{1, MPH, 2.23694},
		{-4, MPH, -8.94776},
		{1, KMPH, 3.6},
		{-2.5, KPH, -9},
		{0.3, MPS, 0.3},
		{7, "furlongs", 7},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ConvertSpeed(tt.mps, tt.unit), 1e-9, "%v m/s in %s", tt.mps, tt.unit)
	}
}

func TestConvertToMPS_RoundTrip(t *testing.T) {
	for _, u := range ValidUnits {
		for _, v := range []float64{-12.5, 0, 0.3, 27.8} {
			assert.InDelta(t, v, ConvertToMPS(ConvertSpeed(v, u), u), 1e-9, "%s round trip of %v", u, v)
		}
	}
}

func TestIsValid(t *testing.T) {
	for _, u := range ValidUnits {
		assert.True(t, IsValid(u), u)
	}
	for _, u := range []string{"", "MPH", "knots", "m/s"} {
		assert.False(t, IsValid(u), u)
	}
}

func TestParse(t *testing.T) {
	u, err := Parse("")
	assert.NoError(t, err)
	assert.Equal(t, MPS, u)

	u, err = Parse(KPH)
	assert.NoError(t, err)
	assert.Equal(t, KPH, u)

	_, err = Parse("knots")
	assert.ErrorContains(t, err, "mps, mph, kmph, kph")
}

func TestLabel(t *testing.T) {
	tests := map[string]string{MPS: "m/s", MPH: "mph", KMPH: "km/h", KPH: "km/h", "": "m/s"}
	for in, want := range tests {
		assert.Equal(t, want, Label(in), in)
	}
}
