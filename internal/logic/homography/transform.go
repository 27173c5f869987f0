package homography

import (
	"fmt"
	"math"

	"github.com/cjeanneret/ArmCal/internal/logic/geometry"

	"gonum.org/v1/gonum/mat"
)

// singularTolerance is the relative size below which a value counts as zero.
const singularTolerance = 1e-12

// Transform is a planar projective transform stored as a row-major 3x3
// matrix whose bottom-right entry is 1. The zero value is not usable; build
// one with NewTransform, Identity, Fit or Estimate. A Transform is never
// modified after construction.
type Transform struct {
	h [9]float64
}

// NewTransform validates m and normalizes it so that m[8] == 1.
func NewTransform(m [9]float64) (Transform, error) {
	for i, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Transform{}, fmt.Errorf("%w: entry %d is %v", ErrInvalidMatrix, i, v)
		}
	}

	scale := 0.0
	for _, v := range m {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 {
		return Transform{}, fmt.Errorf("%w: all entries are zero", ErrInvalidMatrix)
	}
	if math.Abs(m[8]) <= singularTolerance*scale {
		return Transform{}, fmt.Errorf("%w: bottom-right entry is zero", ErrInvalidMatrix)
	}

	var h [9]float64
	for i, v := range m {
		h[i] = v / m[8]
	}

	det := mat.Det(mat.NewDense(3, 3, h[:]))
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Transform{}, fmt.Errorf("%w: matrix is singular (det=%g)", ErrInvalidMatrix, det)
	}

	return Transform{h: h}, nil
}

// Identity returns the transform that maps every point onto itself.
func Identity() Transform {
	return Transform{h: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// Matrix returns a copy of the row-major entries.
func (t Transform) Matrix() [9]float64 {
	return t.h
}

// IsZero reports whether t is the unusable zero value.
func (t Transform) IsZero() bool {
	return t.h == [9]float64{}
}

// Apply maps p through the transform, dividing by the homogeneous scale.
func (t Transform) Apply(p geometry.Point2D) (geometry.Point2D, error) {
	h := t.h
	xw := h[0]*p.X + h[1]*p.Y + h[2]
	yw := h[3]*p.X + h[4]*p.Y + h[5]
	w := h[6]*p.X + h[7]*p.Y + h[8]

	mag := math.Abs(h[6]*p.X) + math.Abs(h[7]*p.Y) + math.Abs(h[8])
	if w == 0 || math.Abs(w) <= singularTolerance*mag {
		return geometry.Point2D{}, fmt.Errorf("%w: (%g, %g)", ErrPointAtInfinity, p.X, p.Y)
	}
	return geometry.Point2D{X: xw / w, Y: yw / w}, nil
}

// Inverse returns the transform mapping the destination plane back onto the
// source plane.
func (t Transform) Inverse() (Transform, error) {
	var inv mat.Dense
	if err := inv.Inverse(t.dense()); err != nil {
		return Transform{}, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
	}
	return fromDense(&inv)
}

func (t Transform) dense() *mat.Dense {
	h := t.h
	return mat.NewDense(3, 3, h[:])
}

func fromDense(m mat.Matrix) (Transform, error) {
	var h [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r*3+c] = m.At(r, c)
		}
	}
	return NewTransform(h)
}

func (t Transform) String() string {
	h := t.h
	return fmt.Sprintf("[[%g %g %g] [%g %g %g] [%g %g %g]]",
		h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], h[8])
}
