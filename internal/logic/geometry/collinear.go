package geometry

import "math"

// DefaultCollinearTolerance is the sine of the smallest angle, at the first
// point, that still counts as a real triangle.
const DefaultCollinearTolerance = 1e-6

// Collinear reports whether a, b and c lie on one line. The test is
// scale-free: the cross product is compared against the product of the two
// edge lengths, so it behaves the same for pixels and millimetres. Coincident
// points count as collinear.
func Collinear(a, b, c Point2D, tol float64) bool {
	ab := b.Sub(a)
	ac := c.Sub(a)
	lab := math.Hypot(ab.X, ab.Y)
	lac := math.Hypot(ac.X, ac.Y)
	if lab == 0 || lac == 0 {
		return true
	}
	cross := ab.X*ac.Y - ab.Y*ac.X
	return math.Abs(cross) <= tol*lab*lac
}

// AnyThreeCollinear reports whether some triple of pts is collinear.
func AnyThreeCollinear(pts []Point2D, tol float64) bool {
	n := len(pts)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			for k := j + 1; k < n; k++ {
				if Collinear(pts[i], pts[j], pts[k], tol) {
					return true
				}
			}
		}
	}
	return false
}
