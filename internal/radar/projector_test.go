package radar

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func floatPtr(v float64) *float64 { return &v }

var stamp = time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)

func testBatch(targets ...Target) Batch {
	for i := range targets {
		targets[i].TargetID = i
	}
	return Batch{FrameID: "radar", Timestamp: stamp, Targets: targets}
}

// staticSpeed returns the radial speed a static target at (az, el) reports
// when the sensor moves with egoSensor (sensor frame).
func staticSpeed(az, el float64, egoSensor Vec3) float64 {
	return -LineOfSight(az, el).Dot(egoSensor)
}

func TestProject_RangeWindowInclusive(t *testing.T) {
	p := NewProjector(Options{Range: RangeWindow{Min: 1.0, Max: 10.0}})

	b := testBatch(
		Target{Range: 0.5},
		Target{Range: 1.0},
		Target{Range: 5.0},
		Target{Range: 10.0},
		Target{Range: 10.5},
	)
	cloud, err := p.Project(b, IdentityPose())
	require.NoError(t, err)

	ranges := make([]float64, 0, cloud.Len())
	for _, pt := range cloud.Points {
		ranges = append(ranges, pt.Range)
	}
	assert.Equal(t, []float64{1.0, 5.0, 10.0}, ranges)
	assert.Equal(t, 2, cloud.Stats.OutOfRange)
	assert.Equal(t, 3, cloud.Stats.Included)
	assert.False(t, cloud.Stats.Compensated)
}

func TestProject_RangeWindowAppliesWithVelocity(t *testing.T) {
	p := NewProjector(Options{
		Range: RangeWindow{Min: 0, Max: 20},
		Speed: SpeedPolicy{MaxSpeed: floatPtr(100)},
	})
	p.UpdateEgoVelocity(EgoVelocity{Linear: Vec3{X: 1}})

	cloud, err := p.Project(testBatch(Target{Range: 25}, Target{Range: 15}), IdentityPose())
	require.NoError(t, err)
	require.Equal(t, 1, cloud.Len())
	assert.Equal(t, 15.0, cloud.Points[0].Range)
}

func TestProject_NoVelocityPassThrough(t *testing.T) {
	// Speed thresholds that would reject everything are ignored until an
	// ego velocity has been received.
	p := NewProjector(Options{
		Range: DefaultRangeWindow(),
		Speed: SpeedPolicy{MinSpeed: floatPtr(1000), MaxSpeed: floatPtr(0)},
	})

	b := testBatch(
		Target{Range: 10, Azimuth: 30, Elevation: 10, Speed: 5, SNR: 20},
		Target{Range: 20, Azimuth: -45, Elevation: -5, Speed: -3, SNR: 12},
	)
	cloud, err := p.Project(b, IdentityPose())
	require.NoError(t, err)
	require.Equal(t, 2, cloud.Len())

	for i, tgt := range b.Targets {
		a := tgt.Azimuth * math.Pi / 180
		e := tgt.Elevation * math.Pi / 180
		want := OutputPoint{
			TargetID:  i,
			X:         tgt.Range * math.Cos(a) * math.Cos(e),
			Y:         tgt.Range * math.Sin(a) * math.Cos(e),
			Z:         tgt.Range * math.Sin(e),
			SNR:       tgt.SNR,
			Range:     tgt.Range,
			Speed:     tgt.Speed,
			Azimuth:   tgt.Azimuth,
			Elevation: tgt.Elevation,
		}
		if diff := cmp.Diff(want, cloud.Points[i], cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("point %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestProject_CompensatesEgoMotion(t *testing.T) {
	p := NewProjector(Options{
		Range: DefaultRangeWindow(),
		Speed: SpeedPolicy{MaxSpeed: floatPtr(0.5)},
	})
	ego := Vec3{X: 2}
	p.UpdateEgoVelocity(EgoVelocity{Linear: ego})

	b := testBatch(
		Target{Range: 10, Azimuth: 30, Speed: staticSpeed(30, 0, ego)},
		Target{Range: 12, Azimuth: -10, Speed: staticSpeed(-10, 0, ego) + 3},
		Target{Range: 8, Azimuth: 0, Speed: staticSpeed(0, 0, ego)},
	)
	cloud, err := p.Project(b, IdentityPose())
	require.NoError(t, err)

	require.Equal(t, 2, cloud.Len())
	assert.Equal(t, 10.0, cloud.Points[0].Range)
	assert.Equal(t, 8.0, cloud.Points[1].Range)
	assert.Equal(t, 1, cloud.Stats.SpeedRejected)
	assert.True(t, cloud.Stats.Compensated)
}

func TestProject_RotatesEgoIntoSensorFrame(t *testing.T) {
	// Sensor yawed 90 degrees: its boresight points along world +Y.
	pose := YawPose(90, Vec3{X: 1, Y: 2, Z: 0.5})
	p := NewProjector(Options{
		Range: DefaultRangeWindow(),
		Speed: SpeedPolicy{MaxSpeed: floatPtr(0.1)},
	})
	p.UpdateEgoVelocity(EgoVelocity{Linear: Vec3{Y: 2}})

	// Sensor frame ego velocity is +2 along boresight, so a static target
	// dead ahead closes at 2 m/s.
	b := testBatch(
		Target{Range: 10, Azimuth: 0, Speed: -2},
		Target{Range: 10, Azimuth: 0, Speed: 0},
	)
	cloud, err := p.Project(b, pose)
	require.NoError(t, err)
	require.Equal(t, 1, cloud.Len())
	assert.Equal(t, -2.0, cloud.Points[0].Speed)
}

func TestProject_IndependentSpeedGates(t *testing.T) {
	// R = I and ego velocity along +X; a target at azimuth 90 degrees has a
	// line of sight orthogonal to the motion, so proj_speed == speed.
	ego := EgoVelocity{Linear: Vec3{X: 1}}
	both := SpeedPolicy{MinSpeed: floatPtr(2.0), MaxSpeed: floatPtr(5.0)}

	tests := []struct {
		name   string
		policy SpeedPolicy
		speed  float64
		want   bool
	}{
		{"both, slow kept by moving gate", both, 1.0, true},
		{"both, fast kept by stationary gate", both, 10.0, true},
		{"both, negative slow kept", both, -1.0, true},
		{"moving only, fast rejected", SpeedPolicy{MaxSpeed: floatPtr(5.0)}, 10.0, false},
		{"moving only, at threshold rejected", SpeedPolicy{MaxSpeed: floatPtr(5.0)}, 5.0, false},
		{"stationary only, slow rejected", SpeedPolicy{MinSpeed: floatPtr(2.0)}, 1.0, false},
		{"stationary only, at threshold rejected", SpeedPolicy{MinSpeed: floatPtr(2.0)}, -2.0, false},
		{"stationary only, fast kept", SpeedPolicy{MinSpeed: floatPtr(2.0)}, -3.0, true},
		{"no gates drops", SpeedPolicy{}, 0.0, false},
		{"no gates with pass-through keeps", SpeedPolicy{PassThroughUnfiltered: true}, 7.0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProjector(Options{Range: DefaultRangeWindow(), Speed: tt.policy})
			p.UpdateEgoVelocity(ego)
			cloud, err := p.Project(testBatch(Target{Range: 5, Azimuth: 90, Speed: tt.speed}), IdentityPose())
			require.NoError(t, err)
			assert.Equal(t, tt.want, cloud.Len() == 1)
		})
	}
}

func TestProject_RotatedModeSwapsAngles(t *testing.T) {
	ego := Vec3{X: 1}
	speed := -0.5

	t.Run("without 3d", func(t *testing.T) {
		p := NewProjector(Options{
			Range:   DefaultRangeWindow(),
			Speed:   SpeedPolicy{PassThroughUnfiltered: true},
			Rotated: true,
		})
		p.UpdateEgoVelocity(EgoVelocity{Linear: ego})
		cloud, err := p.Project(testBatch(Target{Range: 10, Azimuth: 12, Speed: speed}), IdentityPose())
		require.NoError(t, err)
		require.Equal(t, 1, cloud.Len())
		assert.Equal(t, 0.0, cloud.Points[0].Azimuth)
		assert.Equal(t, 12.0, cloud.Points[0].Elevation)
	})

	t.Run("with 3d", func(t *testing.T) {
		p := NewProjector(Options{
			Range:     DefaultRangeWindow(),
			Speed:     SpeedPolicy{PassThroughUnfiltered: true},
			Compute3D: true,
			Rotated:   true,
		})
		p.UpdateEgoVelocity(EgoVelocity{Linear: ego})
		cloud, err := p.Project(testBatch(Target{Range: 10, Azimuth: 12, Speed: speed}), IdentityPose())
		require.NoError(t, err)
		require.Equal(t, 1, cloud.Len())

		// Elevation takes the reported azimuth; azimuth is solved with the
		// elevation known: vRadar = (-1, 0, 0).
		cosE := math.Cos(12 * math.Pi / 180)
		wantAz := SolveForAngle(-1*cosE, 0*cosE, speed-0)
		assert.Equal(t, 12.0, cloud.Points[0].Elevation)
		assert.InDelta(t, wantAz, cloud.Points[0].Azimuth, 1e-12)
		assert.NotEqual(t, 0.0, cloud.Points[0].Azimuth)
	})
}

func TestProject_Compute3DSolvesElevation(t *testing.T) {
	ego := Vec3{X: 1}
	p := NewProjector(Options{
		Range:     DefaultRangeWindow(),
		Speed:     SpeedPolicy{MaxSpeed: floatPtr(0.05)},
		Compute3D: true,
	})
	p.UpdateEgoVelocity(EgoVelocity{Linear: ego})

	// A static target at azimuth 20 and true elevation 25 degrees, reported
	// by a 2-D sensor with elevation 0.
	s := staticSpeed(20, 25, ego)
	cloud, err := p.Project(testBatch(Target{Range: 10, Azimuth: 20, Elevation: 0, Speed: s}), IdentityPose())
	require.NoError(t, err)
	require.Equal(t, 1, cloud.Len())

	pt := cloud.Points[0]
	// cos is even in elevation, so only the magnitude is recoverable.
	assert.InDelta(t, 25.0, math.Abs(pt.Elevation), 1e-9)
	assert.Equal(t, 20.0, pt.Azimuth)
	assert.InDelta(t, 10*math.Sin(pt.Elevation*math.Pi/180), pt.Z, 1e-12)
}

func TestProject_ReindexesSurvivors(t *testing.T) {
	p := NewProjector(Options{Range: RangeWindow{Min: 2, Max: 8}})
	b := testBatch(
		Target{Range: 1}, Target{Range: 3}, Target{Range: 9},
		Target{Range: 4}, Target{Range: 10}, Target{Range: 7},
	)
	cloud, err := p.Project(b, IdentityPose())
	require.NoError(t, err)

	var ids []int
	var ranges []float64
	for _, pt := range cloud.Points {
		ids = append(ids, pt.TargetID)
		ranges = append(ranges, pt.Range)
	}
	assert.Equal(t, []int{0, 1, 2}, ids)
	assert.Equal(t, []float64{3, 4, 7}, ranges)
}

func TestProject_BatchIsolation(t *testing.T) {
	p := NewProjector(DefaultOptions())

	first, err := p.Project(Batch{FrameID: "radar", Targets: []Target{{Range: 1}, {Range: 2}}}, IdentityPose())
	require.NoError(t, err)
	second, err := p.Project(Batch{FrameID: "radar", Targets: []Target{{Range: 3}}}, IdentityPose())
	require.NoError(t, err)
	empty, err := p.Project(Batch{FrameID: "radar"}, IdentityPose())
	require.NoError(t, err)

	assert.Equal(t, 2, first.Len())
	require.Equal(t, 1, second.Len())
	assert.Equal(t, 3.0, second.Points[0].Range)
	assert.Equal(t, 0, empty.Len())
}

func TestProject_CarriesFrameAndStamp(t *testing.T) {
	p := NewProjector(DefaultOptions())
	cloud, err := p.Project(testBatch(Target{Range: 1}), IdentityPose())
	require.NoError(t, err)
	assert.Equal(t, "radar", cloud.FrameID)
	assert.True(t, cloud.Timestamp.Equal(stamp))
}

func TestProject_SingularPose(t *testing.T) {
	p := NewProjector(DefaultOptions())
	p.UpdateEgoVelocity(EgoVelocity{Linear: Vec3{X: 1}})

	pose := SensorPose{Rotation: mat.NewDense(3, 3, make([]float64, 9))}
	cloud, err := p.Project(testBatch(Target{Range: 1}), pose)
	require.ErrorIs(t, err, ErrInvalidPose)
	assert.Equal(t, 0, cloud.Len())
}

func TestProject_InputNotMutated(t *testing.T) {
	p := NewProjector(Options{
		Range:     DefaultRangeWindow(),
		Speed:     SpeedPolicy{PassThroughUnfiltered: true},
		Compute3D: true,
		Rotated:   true,
	})
	p.UpdateEgoVelocity(EgoVelocity{Linear: Vec3{X: 1}})

	b := testBatch(Target{Range: 4, Azimuth: 15, Speed: -0.2})
	before := b.Targets[0]
	_, err := p.Project(b, IdentityPose())
	require.NoError(t, err)
	assert.Equal(t, before, b.Targets[0])
}

func TestEgoVelocityLatch(t *testing.T) {
	var l EgoVelocityLatch
	_, ok := l.Load()
	assert.False(t, ok)

	l.Store(EgoVelocity{Linear: Vec3{X: 1}})
	l.Store(EgoVelocity{Linear: Vec3{X: 2}})
	v, ok := l.Load()
	require.True(t, ok)
	assert.Equal(t, 2.0, v.Linear.X)

	// Zero velocity is still a received value.
	l.Store(EgoVelocity{})
	_, ok = l.Load()
	assert.True(t, ok)
}

func TestEgoVelocityLatch_Concurrent(t *testing.T) {
	p := NewProjector(Options{Range: DefaultRangeWindow(), Speed: SpeedPolicy{PassThroughUnfiltered: true}})
	b := testBatch(Target{Range: 5, Azimuth: 10, Speed: -1})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			p.UpdateEgoVelocity(EgoVelocity{Linear: Vec3{X: float64(i)}})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if _, err := p.Project(b, IdentityPose()); err != nil {
				t.Errorf("Project: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	v, ok := p.EgoVelocity()
	require.True(t, ok)
	assert.Equal(t, 499.0, v.Linear.X)
}
