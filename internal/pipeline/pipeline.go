// Package pipeline ties pose resolution, projection and output sinks
// together. Transports feed it decoded messages; sinks receive one cloud
// per accepted batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/radarcloud/internal/frames"
	"github.com/banshee-data/radarcloud/internal/monitoring"
	"github.com/banshee-data/radarcloud/internal/radar"
	"github.com/banshee-data/radarcloud/internal/timeutil"
)

// ErrNoTransformStore is returned by HandleTransform when the pipeline was
// built without a place to keep transforms.
var ErrNoTransformStore = errors.New("pipeline does not accept transforms")

const (
	OutputSensor = "sensor"
	OutputWorld  = "world"
)

// Sink receives every cloud the pipeline produces.
type Sink interface {
	Publish(ctx context.Context, c radar.Cloud) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c radar.Cloud) error

func (f SinkFunc) Publish(ctx context.Context, c radar.Cloud) error { return f(ctx, c) }

// TransformStore accepts transforms from the wire. frames.Buffer satisfies it.
type TransformStore interface {
	Set(tf frames.Transform) error
}

// Config configures a Pipeline.
type Config struct {
	Options radar.Options

	// WorldFrame is the frame every batch is resolved against.
	WorldFrame string
	// OutputFrame selects sensor-frame (default) or world-frame points.
	OutputFrame string
	// TransformTimeout bounds the wait for a pose per batch.
	TransformTimeout time.Duration

	// Transforms is optional; without it HandleTransform fails.
	Transforms TransformStore
	Clock      timeutil.Clock
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	RunID          string             `json:"run_id"`
	Batches        int64              `json:"batches"`
	DroppedBatches int64              `json:"dropped_batches"`
	TargetsIn      int64              `json:"targets_in"`
	PointsOut      int64              `json:"points_out"`
	OutOfRange     int64              `json:"out_of_range"`
	SpeedRejected  int64              `json:"speed_rejected"`
	EgoUpdates     int64              `json:"ego_updates"`
	Transforms     int64              `json:"transforms"`
	SinkErrors     int64              `json:"sink_errors"`
	LastBatchAt    time.Time          `json:"last_batch_at"`
	EgoVelocity    *radar.EgoVelocity `json:"ego_velocity,omitempty"`
}

// Pipeline projects batches one at a time. HandleEgoVelocity and
// HandleTransform may be called concurrently with HandleBatch.
type Pipeline struct {
	cfg       Config
	projector *radar.Projector
	resolver  frames.Resolver
	sinks     []Sink
	runID     string

	mu     sync.Mutex // serialises HandleBatch
	latest atomic.Pointer[radar.Cloud]
	raw    atomic.Pointer[radar.Batch]

	batches, dropped, targetsIn, pointsOut atomic.Int64
	outOfRange, speedRejected              atomic.Int64
	egoUpdates, transforms, sinkErrors     atomic.Int64
	lastBatchAt                            atomic.Int64 // unix nanos
}

// New builds a pipeline. Missing config values fall back to the "map" world
// frame, sensor-frame output and a one second transform timeout.
func New(cfg Config, resolver frames.Resolver, sinks ...Sink) *Pipeline {
	if cfg.WorldFrame == "" {
		cfg.WorldFrame = "map"
	}
	if cfg.OutputFrame == "" {
		cfg.OutputFrame = OutputSensor
	}
	if cfg.TransformTimeout <= 0 {
		cfg.TransformTimeout = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Pipeline{
		cfg:       cfg,
		projector: radar.NewProjector(cfg.Options),
		resolver:  resolver,
		sinks:     sinks,
		runID:     uuid.NewString(),
	}
}

// RunID identifies this pipeline instance in stored clouds and stats.
func (p *Pipeline) RunID() string { return p.runID }

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// HandleEgoVelocity latches the latest world-frame ego velocity. A zero
// ReceivedAt is replaced with the current time.
func (p *Pipeline) HandleEgoVelocity(v radar.EgoVelocity) {
	if v.ReceivedAt.IsZero() {
		v.ReceivedAt = p.cfg.Clock.Now()
	}
	p.projector.UpdateEgoVelocity(v)
	p.egoUpdates.Add(1)
}

// HandleTransform stores tf in the configured TransformStore.
func (p *Pipeline) HandleTransform(tf frames.Transform) error {
	if p.cfg.Transforms == nil {
		return ErrNoTransformStore
	}
	if err := p.cfg.Transforms.Set(tf); err != nil {
		return err
	}
	p.transforms.Add(1)
	return nil
}

// HandleBatch resolves the pose for b, projects it and publishes the cloud.
// When no pose is available the whole batch is dropped and the resolver
// error is returned. Sink failures are logged and counted, not returned.
func (p *Pipeline) HandleBatch(ctx context.Context, b radar.Batch) error {
	_, err := p.ProjectBatch(ctx, b)
	return err
}

// ProjectBatch is HandleBatch returning the cloud built from b. The cloud
// belongs to b even when other batches are projected concurrently.
func (p *Pipeline) ProjectBatch(ctx context.Context, b radar.Batch) (radar.Cloud, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batches.Add(1)
	p.targetsIn.Add(int64(len(b.Targets)))
	p.lastBatchAt.Store(p.cfg.Clock.Now().UnixNano())
	raw := radar.Batch{FrameID: b.FrameID, Timestamp: b.Timestamp, Targets: append([]radar.Target(nil), b.Targets...)}
	p.raw.Store(&raw)

	rctx, cancel := context.WithTimeout(ctx, p.cfg.TransformTimeout)
	pose, err := p.resolver.Resolve(rctx, b.FrameID, p.cfg.WorldFrame, b.Timestamp)
	cancel()
	if err != nil {
		p.dropped.Add(1)
		monitoring.Logf("pipeline: dropping batch of %d targets from %q: %v", len(b.Targets), b.FrameID, err)
		return radar.Cloud{}, fmt.Errorf("failed to resolve %s -> %s: %w", b.FrameID, p.cfg.WorldFrame, err)
	}

	cloud, err := p.projector.Project(b, pose)
	if err != nil {
		p.dropped.Add(1)
		monitoring.Logf("pipeline: dropping batch from %q: %v", b.FrameID, err)
		return radar.Cloud{}, fmt.Errorf("failed to project batch from %s: %w", b.FrameID, err)
	}

	if p.cfg.OutputFrame == OutputWorld {
		toWorld(&cloud, pose, p.cfg.WorldFrame)
	}

	p.pointsOut.Add(int64(cloud.Len()))
	p.outOfRange.Add(int64(cloud.Stats.OutOfRange))
	p.speedRejected.Add(int64(cloud.Stats.SpeedRejected))
	p.latest.Store(&cloud)
	monitoring.Debugf("pipeline: %s in=%d out=%d range=%d speed=%d compensated=%t",
		b.FrameID, cloud.Stats.Input, cloud.Len(), cloud.Stats.OutOfRange, cloud.Stats.SpeedRejected, cloud.Stats.Compensated)

	for _, s := range p.sinks {
		if err := s.Publish(ctx, cloud); err != nil {
			p.sinkErrors.Add(1)
			monitoring.Logf("pipeline: sink %T failed: %v", s, err)
		}
	}
	return cloud, nil
}

// toWorld moves the cloud's Cartesian coordinates into the world frame. The
// polar fields stay as measured by the sensor.
func toWorld(c *radar.Cloud, pose radar.SensorPose, worldFrame string) {
	for i := range c.Points {
		w := pose.Apply(radar.Vec3{X: c.Points[i].X, Y: c.Points[i].Y, Z: c.Points[i].Z})
		c.Points[i].X, c.Points[i].Y, c.Points[i].Z = w.X, w.Y, w.Z
	}
	c.FrameID = worldFrame
}

// Latest returns the most recent cloud, if any.
func (p *Pipeline) Latest() (radar.Cloud, bool) {
	c := p.latest.Load()
	if c == nil {
		return radar.Cloud{}, false
	}
	return *c, true
}

// LatestBatch returns the most recent input batch as received, including
// batches that were later dropped.
func (p *Pipeline) LatestBatch() (radar.Batch, bool) {
	b := p.raw.Load()
	if b == nil {
		return radar.Batch{}, false
	}
	return *b, true
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		RunID:          p.runID,
		Batches:        p.batches.Load(),
		DroppedBatches: p.dropped.Load(),
		TargetsIn:      p.targetsIn.Load(),
		PointsOut:      p.pointsOut.Load(),
		OutOfRange:     p.outOfRange.Load(),
		SpeedRejected:  p.speedRejected.Load(),
		EgoUpdates:     p.egoUpdates.Load(),
		Transforms:     p.transforms.Load(),
		SinkErrors:     p.sinkErrors.Load(),
	}
	if ns := p.lastBatchAt.Load(); ns != 0 {
		s.LastBatchAt = time.Unix(0, ns).UTC()
	}
	if v, ok := p.projector.EgoVelocity(); ok {
		s.EgoVelocity = &v
	}
	return s
}
