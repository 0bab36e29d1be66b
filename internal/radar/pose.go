package radar

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// RotationTolerance is the tolerance used when checking that a rotation
// matrix is orthonormal with determinant 1.
const RotationTolerance = 0.01

// ErrInvalidPose is returned when a pose does not describe a rigid transform.
var ErrInvalidPose = errors.New("invalid sensor pose")

// SensorPose is the rigid transform from the sensor frame to the world frame
// at one instant. Rotation is a 3x3 matrix; a pose is only meaningful for the
// batch it was resolved for.
type SensorPose struct {
	Rotation    *mat.Dense
	Translation Vec3
}

// NewSensorPose builds a pose from a row-major 3x3 rotation and a translation.
func NewSensorPose(rotation [9]float64, translation Vec3) SensorPose {
	data := make([]float64, 9)
	copy(data, rotation[:])
	return SensorPose{
		Rotation:    mat.NewDense(3, 3, data),
		Translation: translation,
	}
}

// IdentityPose returns the pose of a sensor aligned with the world frame.
func IdentityPose() SensorPose {
	return NewSensorPose([9]float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}, Vec3{})
}

// YawPose returns a pose rotated by yawDeg about the Z axis.
func YawPose(yawDeg float64, translation Vec3) SensorPose {
	c := math.Cos(yawDeg * degToRad)
	s := math.Sin(yawDeg * degToRad)
	return NewSensorPose([9]float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	}, translation)
}

// Validate checks that the rotation is a proper rotation matrix
// (orthonormal, determinant 1) within RotationTolerance.
func (p SensorPose) Validate() error {
	if p.Rotation == nil {
		return fmt.Errorf("%w: rotation is nil", ErrInvalidPose)
	}
	if r, c := p.Rotation.Dims(); r != 3 || c != 3 {
		return fmt.Errorf("%w: rotation is %dx%d, want 3x3", ErrInvalidPose, r, c)
	}
	if det := mat.Det(p.Rotation); math.Abs(det-1.0) > RotationTolerance {
		return fmt.Errorf("%w: rotation determinant %.4f", ErrInvalidPose, det)
	}

	var rtr mat.Dense
	rtr.Mul(p.Rotation.T(), p.Rotation)
	identity := mat.NewDiagDense(3, []float64{1, 1, 1})
	if !mat.EqualApprox(&rtr, identity, RotationTolerance) {
		return fmt.Errorf("%w: rotation is not orthonormal", ErrInvalidPose)
	}

	for _, v := range []float64{p.Translation.X, p.Translation.Y, p.Translation.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: translation %v is not finite", ErrInvalidPose, p.Translation)
		}
	}
	return nil
}

// WorldToSensor rotates a world-frame vector into the sensor frame using the
// inverse of the pose rotation. Translation is not applied.
func (p SensorPose) WorldToSensor(v Vec3) (Vec3, error) {
	if p.Rotation == nil {
		return Vec3{}, fmt.Errorf("%w: rotation is nil", ErrInvalidPose)
	}
	var inv mat.Dense
	if err := inv.Inverse(p.Rotation); err != nil {
		return Vec3{}, fmt.Errorf("%w: %v", ErrInvalidPose, err)
	}
	return mulVec(&inv, v), nil
}

// Apply transforms a sensor-frame point into the world frame.
func (p SensorPose) Apply(point Vec3) Vec3 {
	r := mulVec(p.Rotation, point)
	return Vec3{
		X: r.X + p.Translation.X,
		Y: r.Y + p.Translation.Y,
		Z: r.Z + p.Translation.Z,
	}
}

// RowMajor returns the rotation as a row-major array.
func (p SensorPose) RowMajor() [9]float64 {
	var out [9]float64
	if p.Rotation == nil {
		return out
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = p.Rotation.At(i, j)
		}
	}
	return out
}

func mulVec(m mat.Matrix, v Vec3) Vec3 {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return Vec3{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}
