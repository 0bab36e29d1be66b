// Package radar owns the geometric core of the radar point pipeline.
//
// Responsibilities: polar-to-Cartesian projection of radar targets,
// ego-motion compensation of the measured radial speed, recovery of a
// missing angle from the radial speed measurement, and the range/speed
// inclusion policy.
// Key types: Target, Batch, SensorPose, EgoVelocity, Cloud, Projector.
//
// Angles are stored in degrees (azimuth positive to the left of
// boresight, elevation positive down) and converted to radians only for
// trigonometric evaluation. Radial speed is positive when the target
// recedes from the sensor.
//
// Dependency rule: no transport, storage or frame-lookup code is allowed
// in this package. Frame resolution is supplied by the caller as an
// already-resolved SensorPose.
package radar
