package radar

import (
	"math"
)

// Options configures a Projector. It is read once at construction.
type Options struct {
	Range RangeWindow `json:"range"`
	Speed SpeedPolicy `json:"speed"`

	// Compute3D recovers the angle the sensor does not measure from the
	// radial speed and the ego velocity.
	Compute3D bool `json:"compute_3d"`

	// Rotated marks a sensor mounted rolled by 90 degrees, so that the
	// reported azimuth is really an elevation.
	Rotated bool `json:"is_rotated"`
}

// DefaultOptions returns the defaults: 0-100 m range window, no speed
// thresholds, 2-D output, upright mount.
func DefaultOptions() Options {
	return Options{Range: DefaultRangeWindow()}
}

// Projector converts batches of polar targets into filtered Cartesian
// clouds, compensating radial speeds for the sensor's own motion once an
// ego velocity is known.
type Projector struct {
	opts Options
	ego  EgoVelocityLatch
}

// NewProjector creates a Projector with the given options.
func NewProjector(opts Options) *Projector {
	return &Projector{opts: opts}
}

// Options returns the options the projector was built with.
func (p *Projector) Options() Options {
	return p.opts
}

// UpdateEgoVelocity records the latest world-frame ego velocity. It may be
// called concurrently with Project.
func (p *Projector) UpdateEgoVelocity(v EgoVelocity) {
	p.ego.Store(v)
}

// EgoVelocity returns the latest ego velocity and whether one was ever
// received.
func (p *Projector) EgoVelocity() (EgoVelocity, bool) {
	return p.ego.Load()
}

// Project builds the cloud for one batch using the pose resolved for the
// batch's frame and timestamp. The ego velocity is sampled once, so a
// concurrent update never splits a batch.
//
// An error is only returned when the pose cannot be inverted; in that case
// no points are produced for the batch.
func (p *Projector) Project(b Batch, pose SensorPose) (Cloud, error) {
	cloud := Cloud{
		FrameID:   b.FrameID,
		Timestamp: b.Timestamp,
		Points:    make([]OutputPoint, 0, len(b.Targets)),
		Stats:     ProjectionStats{Input: len(b.Targets)},
	}

	// R^-1 * v_world, shared by every target of the batch.
	var egoSensor *Vec3
	if ego, ok := p.ego.Load(); ok {
		v, err := pose.WorldToSensor(ego.Linear)
		if err != nil {
			return Cloud{FrameID: b.FrameID, Timestamp: b.Timestamp, Stats: ProjectionStats{Input: len(b.Targets)}}, err
		}
		egoSensor = &v
		cloud.Stats.Compensated = true
	}

	for _, t := range b.Targets {
		out, verdict := p.projectTarget(t, egoSensor)
		switch verdict {
		case verdictOutOfRange:
			cloud.Stats.OutOfRange++
		case verdictSpeedRejected:
			cloud.Stats.SpeedRejected++
		case verdictIncluded:
			out.TargetID = len(cloud.Points)
			cloud.Points = append(cloud.Points, ToPoint(out))
		}
	}
	cloud.Stats.Included = len(cloud.Points)
	return cloud, nil
}

type verdict int

const (
	verdictIncluded verdict = iota
	verdictOutOfRange
	verdictSpeedRejected
)

// projectTarget runs the per-target steps. egoSensor is the world ego
// velocity rotated into the sensor frame, or nil when none was received.
// The returned target carries any rewritten angles.
func (p *Projector) projectTarget(t Target, egoSensor *Vec3) (Target, verdict) {
	if !p.opts.Range.Contains(t.Range) {
		return t, verdictOutOfRange
	}
	if egoSensor == nil {
		return t, verdictIncluded
	}

	if p.opts.Rotated {
		t = alignRotated(t)
	}
	if p.opts.Compute3D {
		// Velocity of the world (static targets) as seen from the sensor.
		vRadar := egoSensor.Scale(-1)
		t = solveMissingAngle(t, vRadar, p.opts.Rotated)
	}

	if !p.opts.Speed.Admit(ProjectedSpeed(t, *egoSensor)) {
		return t, verdictSpeedRejected
	}
	return t, verdictIncluded
}

// alignRotated moves the azimuth of a sensor rolled by 90 degrees onto the
// elevation axis. A positive azimuth maps to a positive elevation.
func alignRotated(t Target) Target {
	t.Elevation = t.Azimuth
	t.Azimuth = 0.0
	return t
}

// solveMissingAngle recovers the angle the sensor does not measure from
//
//	s = vx*cos(a)*cos(e) + vy*sin(a)*cos(e) + vz*sin(e)
//
// where v is the world velocity seen from the sensor (static target
// assumption). When rotated, elevation is known and azimuth is solved;
// otherwise azimuth is known and elevation is solved.
func solveMissingAngle(t Target, vRadar Vec3, rotated bool) Target {
	if rotated {
		cosE := math.Cos(t.Elevation * degToRad)
		sinE := math.Sin(t.Elevation * degToRad)
		x := vRadar.X * cosE
		y := vRadar.Y * cosE
		z := t.Speed - vRadar.Z*sinE
		t.Azimuth = SolveForAngle(x, y, z)
		return t
	}

	cosA := math.Cos(t.Azimuth * degToRad)
	sinA := math.Sin(t.Azimuth * degToRad)
	x := vRadar.X*cosA + vRadar.Y*sinA
	y := vRadar.Z
	z := t.Speed
	t.Elevation = SolveForAngle(x, y, z)
	return t
}

// ProjectedSpeed removes the sensor's own motion from a target's radial
// speed: s + n . (R^-1 * v_world), with n the line of sight of t and
// egoSensor = R^-1 * v_world. For a static target the result is close to
// zero.
func ProjectedSpeed(t Target, egoSensor Vec3) float64 {
	return t.Speed + LineOfSight(t.Azimuth, t.Elevation).Dot(egoSensor)
}
