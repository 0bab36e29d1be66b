package radar

import "math"

// SolveForAngle solves x*cos(th) + y*sin(th) = z for th and returns it in
// degrees.
//
// The half-angle substitution gives the two solutions
//
//	th+ = 2*atan((y + sqrt(y^2+x^2-z^2)) / (x+z))
//	th- = 2*atan((y - sqrt(y^2+x^2-z^2)) / (x+z))
//
// and the one with the smaller magnitude is taken (th- on an exact tie).
// The result is negated before it is returned; the projector depends on
// that sign.
//
// When y^2+x^2 < z^2 there is no real solution and 0 is returned instead of
// NaN. A zero denominator (x+z == 0) also returns 0, even though a real root
// may exist there: (1, 0, -1) is solved by th = 180 degrees, and such +-180
// degree roots are masked as 0. Neither case is reported to the caller.
func SolveForAngle(x, y, z float64) float64 {
	if y*y+x*x < z*z {
		return 0.0
	}
	denom := x + z
	if denom == 0 {
		return 0.0
	}

	root := math.Sqrt(y*y + x*x - z*z)
	thPlus := 2.0 * math.Atan((y+root)/denom)
	thMinus := 2.0 * math.Atan((y-root)/denom)

	th := thMinus
	if math.Abs(thPlus) < math.Abs(thMinus) {
		th = thPlus
	}
	return -radToDeg * th
}
