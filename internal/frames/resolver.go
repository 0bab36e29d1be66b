package frames

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/radarcloud/internal/radar"
)

var (
	// ErrNoTransform is returned when no transform between the two frames
	// was ever received.
	ErrNoTransform = errors.New("no transform between frames")

	// ErrTransformTimeout is returned when the frames are known but no sample
	// close enough to the requested time arrived before the context ended.
	ErrTransformTimeout = errors.New("timed out waiting for transform")
)

// Resolver returns the pose of frame source expressed in frame target at
// time at. The returned rotation maps source-frame vectors into the target
// frame. A zero at asks for the latest available transform.
type Resolver interface {
	Resolve(ctx context.Context, source, target string, at time.Time) (radar.SensorPose, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, source, target string, at time.Time) (radar.SensorPose, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, source, target string, at time.Time) (radar.SensorPose, error) {
	return f(ctx, source, target, at)
}

// StaticResolver returns the same pose for every query. It suits fixed
// mounts where the sensor never moves relative to the world frame.
type StaticResolver struct {
	Pose radar.SensorPose
}

// NewStaticResolver validates pose and wraps it in a StaticResolver.
func NewStaticResolver(pose radar.SensorPose) (*StaticResolver, error) {
	if err := pose.Validate(); err != nil {
		return nil, err
	}
	return &StaticResolver{Pose: pose}, nil
}

// Resolve returns the fixed pose. Identity is returned when the frames are
// the same.
func (s *StaticResolver) Resolve(ctx context.Context, source, target string, at time.Time) (radar.SensorPose, error) {
	if err := ctx.Err(); err != nil {
		return radar.SensorPose{}, err
	}
	if source == target {
		return radar.IdentityPose(), nil
	}
	return s.Pose, nil
}
