// Package sim generates a synthetic radar scene: a sensor driving through
// static and moving reflectors. It emits the same messages a real sensor
// stack would, so the rest of the service can run without hardware.
package sim

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/radarcloud/internal/frames"
	"github.com/banshee-data/radarcloud/internal/radar"
	"github.com/banshee-data/radarcloud/internal/timeutil"
	"github.com/banshee-data/radarcloud/internal/wire"
)

// Reflector is a point target in the world frame moving at constant
// velocity.
type Reflector struct {
	Position radar.Vec3 `json:"position" yaml:"position"`
	Velocity radar.Vec3 `json:"velocity" yaml:"velocity"`
	SNR      float64    `json:"snr" yaml:"snr"`
}

// Config describes the simulated sensor and scene.
type Config struct {
	WorldFrame  string
	SensorFrame string
	// Period between batches. Defaults to 50ms.
	Period time.Duration

	// The sensor starts at Start and drives along Heading (degrees,
	// counter-clockwise from world X) at Speed m/s. Its boresight points
	// along the heading.
	Start   radar.Vec3
	Heading float64
	Speed   float64

	// Field of view: targets outside |azimuth| <= FOV/2 or beyond MaxRange
	// are not reported.
	FOV      float64
	MaxRange float64

	// Gaussian measurement noise standard deviations. Zero disables noise.
	RangeNoise float64
	SpeedNoise float64
	Seed       uint64

	Reflectors []Reflector
}

// DefaultConfig is a road scene: a row of posts on each side and two
// vehicles, one oncoming and one pulling away.
func DefaultConfig() Config {
	cfg := Config{
		WorldFrame:  "map",
		SensorFrame: "radar",
		Period:      50 * time.Millisecond,
		Start:       radar.Vec3{Z: 0.8},
		Speed:       8,
		FOV:         120,
		MaxRange:    100,
		RangeNoise:  0.05,
		SpeedNoise:  0.05,
		Seed:        1,
	}
	for x := 10.0; x <= 200; x += 15 {
		cfg.Reflectors = append(cfg.Reflectors,
			Reflector{Position: radar.Vec3{X: x, Y: 4, Z: 1}, SNR: 18},
			Reflector{Position: radar.Vec3{X: x + 7, Y: -4, Z: 1}, SNR: 15},
		)
	}
	cfg.Reflectors = append(cfg.Reflectors,
		Reflector{Position: radar.Vec3{X: 90, Y: -1.8, Z: 0.7}, Velocity: radar.Vec3{X: -12}, SNR: 30},
		Reflector{Position: radar.Vec3{X: 25, Y: 1.8, Z: 0.7}, Velocity: radar.Vec3{X: 11}, SNR: 26},
	)
	return cfg
}

func (c *Config) fillDefaults() {
	if c.WorldFrame == "" {
		c.WorldFrame = "map"
	}
	if c.SensorFrame == "" {
		c.SensorFrame = "radar"
	}
	if c.Period <= 0 {
		c.Period = 50 * time.Millisecond
	}
	if c.FOV <= 0 {
		c.FOV = 120
	}
	if c.MaxRange <= 0 {
		c.MaxRange = 100
	}
}

// Frame is everything the sensor stack reports for one instant.
type Frame struct {
	Transform frames.Transform
	Ego       radar.EgoVelocity
	Batch     radar.Batch
}

// Messages returns the frame as wire messages in the order a consumer
// should apply them.
func (f Frame) Messages() []wire.Message {
	return []wire.Message{
		wire.NewTransformMessage(f.Transform),
		wire.NewEgoVelocityMessage(f.Ego),
		wire.NewBatchMessage(f.Batch),
	}
}

// Source produces frames for a scene.
type Source struct {
	cfg   Config
	clock timeutil.Clock
	start time.Time

	rangeNoise distuv.Normal
	speedNoise distuv.Normal
}

// NewSource starts the scene at the clock's current time.
func NewSource(cfg Config, clock timeutil.Clock) *Source {
	cfg.fillDefaults()
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	return &Source{
		cfg:        cfg,
		clock:      clock,
		start:      clock.Now(),
		rangeNoise: distuv.Normal{Mu: 0, Sigma: cfg.RangeNoise, Src: src},
		speedNoise: distuv.Normal{Mu: 0, Sigma: cfg.SpeedNoise, Src: src},
	}
}

func (s *Source) velocity() radar.Vec3 {
	h := s.cfg.Heading * math.Pi / 180
	return radar.Vec3{X: s.cfg.Speed * math.Cos(h), Y: s.cfg.Speed * math.Sin(h)}
}

func add(a, b radar.Vec3) radar.Vec3 { return radar.Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z} }
func sub(a, b radar.Vec3) radar.Vec3 { return radar.Vec3{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z} }

func (s *Source) noise(d distuv.Normal) float64 {
	if d.Sigma <= 0 {
		return 0
	}
	return d.Rand()
}

// FrameAt computes the frame at time at.
func (s *Source) FrameAt(at time.Time) Frame {
	dt := at.Sub(s.start).Seconds()
	v := s.velocity()
	pos := add(s.cfg.Start, v.Scale(dt))
	pose := radar.YawPose(s.cfg.Heading, pos)

	// Velocity of the sensor in its own frame.
	vSensor, _ := pose.WorldToSensor(v)

	batch := radar.Batch{FrameID: s.cfg.SensorFrame, Timestamp: at, Targets: []radar.Target{}}
	for _, r := range s.cfg.Reflectors {
		world := add(r.Position, r.Velocity.Scale(dt))
		rel, _ := pose.WorldToSensor(sub(world, pos))
		rng := math.Sqrt(rel.Dot(rel))
		if rng == 0 || rng > s.cfg.MaxRange {
			continue
		}
		az := math.Atan2(rel.Y, rel.X) * 180 / math.Pi
		if math.Abs(az) > s.cfg.FOV/2 {
			continue
		}
		el := math.Asin(rel.Z/rng) * 180 / math.Pi

		uSensor, _ := pose.WorldToSensor(r.Velocity)
		n := radar.LineOfSight(az, el)
		radial := n.Dot(sub(uSensor, vSensor))

		batch.Targets = append(batch.Targets, radar.Target{
			TargetID:  len(batch.Targets),
			SNR:       r.SNR,
			Range:     rng + s.noise(s.rangeNoise),
			Speed:     radial + s.noise(s.speedNoise),
			Azimuth:   az,
			Elevation: el,
		})
	}

	return Frame{
		Transform: frames.Transform{
			Parent:      s.cfg.WorldFrame,
			Child:       s.cfg.SensorFrame,
			Stamp:       at,
			Translation: pos,
			Rotation:    frames.YawQuaternion(s.cfg.Heading),
		},
		Ego:   radar.EgoVelocity{Linear: v, ReceivedAt: at},
		Batch: batch,
	}
}

// EmitFunc receives each generated message.
type EmitFunc func(ctx context.Context, m wire.Message) error

// Dispatcher returns an EmitFunc that feeds h directly.
func Dispatcher(h wire.Handler) EmitFunc {
	return func(ctx context.Context, m wire.Message) error {
		return wire.Dispatch(ctx, h, m)
	}
}

// Run emits a frame every period until ctx is done. Emit errors are
// returned to the caller's onError, if set, and do not stop the run.
func (s *Source) Run(ctx context.Context, emit EmitFunc, onError func(error)) error {
	ticker := s.clock.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			for _, m := range s.FrameAt(now).Messages() {
				if err := emit(ctx, m); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}
}
