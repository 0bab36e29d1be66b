package radar

import "math"

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// PolarToCartesian converts range (meters), azimuth (degrees) and elevation
// (degrees) into sensor-frame Cartesian coordinates.
// Coordinate convention: X = boresight, Y = left, Z = sin(elevation) * range.
func PolarToCartesian(rangeM, azimuthDeg, elevationDeg float64) (x, y, z float64) {
	azimuthRad := azimuthDeg * degToRad
	elevationRad := elevationDeg * degToRad

	cosElevation := math.Cos(elevationRad)

	x = rangeM * math.Cos(azimuthRad) * cosElevation
	y = rangeM * math.Sin(azimuthRad) * cosElevation
	z = rangeM * math.Sin(elevationRad)
	return
}

// LineOfSight returns the unit vector from the sensor towards a target at
// the given azimuth and elevation (degrees):
// n = [cos(a)cos(e), sin(a)cos(e), sin(e)].
func LineOfSight(azimuthDeg, elevationDeg float64) Vec3 {
	x, y, z := PolarToCartesian(1.0, azimuthDeg, elevationDeg)
	return Vec3{X: x, Y: y, Z: z}
}

// ToPoint converts a target to an output point, carrying the polar fields
// through unchanged.
func ToPoint(t Target) OutputPoint {
	x, y, z := PolarToCartesian(t.Range, t.Azimuth, t.Elevation)
	return OutputPoint{
		TargetID:  t.TargetID,
		X:         x,
		Y:         y,
		Z:         z,
		SNR:       t.SNR,
		Range:     t.Range,
		Speed:     t.Speed,
		Azimuth:   t.Azimuth,
		Elevation: t.Elevation,
	}
}

// ToCloud converts every target of a batch without any filtering. Target IDs
// are kept as reported by the sensor.
func ToCloud(b Batch) Cloud {
	points := make([]OutputPoint, 0, len(b.Targets))
	for _, t := range b.Targets {
		points = append(points, ToPoint(t))
	}
	return Cloud{
		FrameID:   b.FrameID,
		Timestamp: b.Timestamp,
		Points:    points,
		Stats: ProjectionStats{
			Input:    len(b.Targets),
			Included: len(points),
		},
	}
}
