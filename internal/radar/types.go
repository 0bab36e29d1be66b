package radar

import (
	"fmt"
	"time"
)

// Target is a single radar detection in polar sensor coordinates.
type Target struct {
	// TargetID is re-assigned sequentially by filtering stages and is not
	// stable across batches.
	TargetID  int     `json:"target_id"`
	SNR       float64 `json:"snr"`
	Range     float64 `json:"range"`     // meters
	Speed     float64 `json:"speed"`     // radial m/s, positive = receding
	Azimuth   float64 `json:"azimuth"`   // degrees, positive = left
	Elevation float64 `json:"elevation"` // degrees, positive = down
}

// Batch is one sensor cycle worth of targets sharing a frame and a stamp.
type Batch struct {
	FrameID   string    `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
	Targets   []Target  `json:"targets"`
}

// Vec3 is a plain 3-vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Dot returns the scalar product of v and o.
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Scale returns v multiplied by f.
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z)
}

// EgoVelocity is the sensor's linear velocity expressed in the world frame.
type EgoVelocity struct {
	Linear     Vec3      `json:"linear"`
	ReceivedAt time.Time `json:"received_at"`
}

// OutputPoint is the Cartesian projection of an included target. The polar
// fields are carried through, including any angle recovered by the solver.
type OutputPoint struct {
	TargetID  int     `json:"target_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	SNR       float64 `json:"snr"`
	Range     float64 `json:"range"`
	Speed     float64 `json:"speed"`
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
}

// ProjectionStats counts how the targets of one batch were classified.
type ProjectionStats struct {
	Input         int `json:"input"`
	OutOfRange    int `json:"out_of_range"`
	SpeedRejected int `json:"speed_rejected"`
	Included      int `json:"included"`
	// Compensated is true when ego velocity was available for the batch.
	Compensated bool `json:"compensated"`
}

// Cloud is the output point set for one batch. It carries the frame and
// stamp of the batch it was built from and never holds points from any
// other batch.
type Cloud struct {
	FrameID   string          `json:"frame_id"`
	Timestamp time.Time       `json:"timestamp"`
	Points    []OutputPoint   `json:"points"`
	Stats     ProjectionStats `json:"stats"`
}

// Len returns the number of points in the cloud.
func (c Cloud) Len() int {
	return len(c.Points)
}
