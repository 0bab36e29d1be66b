package frames

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/radarcloud/internal/radar"
)

// ErrInvalidTransform is returned by Set for malformed transforms.
var ErrInvalidTransform = errors.New("invalid transform")

// Transform is the pose of Child expressed in Parent at Stamp. Rotation is a
// quaternion with Real as w; it does not need to be normalised.
type Transform struct {
	Parent      string
	Child       string
	Stamp       time.Time
	Translation radar.Vec3
	Rotation    quat.Number
	// Static transforms are valid at every time.
	Static bool
}

// Validate checks the frame names and the rotation.
func (t Transform) Validate() error {
	if t.Parent == "" || t.Child == "" {
		return fmt.Errorf("%w: empty frame name (parent %q, child %q)", ErrInvalidTransform, t.Parent, t.Child)
	}
	if t.Parent == t.Child {
		return fmt.Errorf("%w: parent and child are both %q", ErrInvalidTransform, t.Parent)
	}
	n := quat.Abs(t.Rotation)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Errorf("%w: rotation %v has no direction", ErrInvalidTransform, t.Rotation)
	}
	for _, v := range []float64{t.Translation.X, t.Translation.Y, t.Translation.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: translation %v is not finite", ErrInvalidTransform, t.Translation)
		}
	}
	return nil
}

// Pose converts the transform to a SensorPose mapping child-frame vectors
// into the parent frame.
func (t Transform) Pose() radar.SensorPose {
	q := quat.Scale(1/quat.Abs(t.Rotation), t.Rotation)
	qc := quat.Conj(q)

	// Column j of R is the rotated basis vector e_j.
	var r [9]float64
	for j, e := range []quat.Number{{Imag: 1}, {Jmag: 1}, {Kmag: 1}} {
		v := quat.Mul(quat.Mul(q, e), qc)
		r[0*3+j] = v.Imag
		r[1*3+j] = v.Jmag
		r[2*3+j] = v.Kmag
	}
	return radar.NewSensorPose(r, t.Translation)
}

// YawQuaternion returns the rotation of yawDeg degrees about Z.
func YawQuaternion(yawDeg float64) quat.Number {
	half := yawDeg * math.Pi / 360.0
	return quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}
}

// invert returns the pose of the parent frame expressed in the child frame.
func invert(p radar.SensorPose) radar.SensorPose {
	r := p.RowMajor()
	var rt [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt[i*3+j] = r[j*3+i]
		}
	}
	tr := p.Translation
	return radar.NewSensorPose(rt, radar.Vec3{
		X: -(rt[0]*tr.X + rt[1]*tr.Y + rt[2]*tr.Z),
		Y: -(rt[3]*tr.X + rt[4]*tr.Y + rt[5]*tr.Z),
		Z: -(rt[6]*tr.X + rt[7]*tr.Y + rt[8]*tr.Z),
	})
}
