package homography

import (
	"fmt"
	"math"

	"github.com/cjeanneret/ArmCal/internal/logic/geometry"

	"gonum.org/v1/gonum/mat"
)

const (
	// MinCorrespondences is the number of point pairs a homography needs.
	MinCorrespondences = 4

	// rankTolerance is the smallest ratio between the 8th and the 1st
	// singular value of the normalized design matrix for a full-rank fit.
	rankTolerance = 1e-10

	refineIterations = 20
	refineStepTol    = 1e-12
)

// Estimate fits the transform mapping each correspondence's image point onto
// its physical point. Exactly four correspondences are solved exactly; more
// are fitted by least squares on the physical-plane reprojection error.
func Estimate(corrs []geometry.Correspondence) (Transform, error) {
	src, dst := geometry.Split(corrs)
	return Fit(src, dst)
}

// Fit fits the transform mapping src[i] onto dst[i].
func Fit(src, dst []geometry.Point2D) (Transform, error) {
	if len(src) != len(dst) {
		return Transform{}, fmt.Errorf("%w: %d vs %d", ErrPointCountMismatch, len(src), len(dst))
	}
	if len(src) < MinCorrespondences {
		return Transform{}, fmt.Errorf("%w: need at least %d correspondences, got %d",
			ErrDegenerateConfiguration, MinCorrespondences, len(src))
	}
	for i := range src {
		if !src[i].IsFinite() || !dst[i].IsFinite() {
			return Transform{}, fmt.Errorf("%w: correspondence %d has a non-finite coordinate",
				ErrDegenerateConfiguration, i)
		}
	}

	if len(src) == MinCorrespondences {
		return fitExact(src, dst)
	}
	return fitLeastSquares(src, dst)
}

// fitExact solves the 8x8 system for h00..h21 with h22 = 1.
func fitExact(src, dst []geometry.Point2D) (Transform, error) {
	if geometry.AnyThreeCollinear(src, geometry.DefaultCollinearTolerance) {
		return Transform{}, fmt.Errorf("%w: three source points are collinear", ErrDegenerateConfiguration)
	}
	if geometry.AnyThreeCollinear(dst, geometry.DefaultCollinearTolerance) {
		return Transform{}, fmt.Errorf("%w: three destination points are collinear", ErrDegenerateConfiguration)
	}

	srcN, tSrc, err := normalize(src)
	if err != nil {
		return Transform{}, err
	}
	dstN, tDst, err := normalize(dst)
	if err != nil {
		return Transform{}, err
	}

	A := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		r := 2 * i

		// u = (h00 x + h01 y + h02) / (h20 x + h21 y + 1)
		A.Set(r, 0, x)
		A.Set(r, 1, y)
		A.Set(r, 2, 1)
		A.Set(r, 6, -x*u)
		A.Set(r, 7, -y*u)
		b.SetVec(r, u)

		// v = (h10 x + h11 y + h12) / (h20 x + h21 y + 1)
		A.Set(r+1, 3, x)
		A.Set(r+1, 4, y)
		A.Set(r+1, 5, 1)
		A.Set(r+1, 6, -x*v)
		A.Set(r+1, 7, -y*v)
		b.SetVec(r+1, v)
	}

	var params mat.VecDense
	if err := params.SolveVec(A, b); err != nil {
		return Transform{}, fmt.Errorf("%w: %v", ErrDegenerateConfiguration, err)
	}

	hn := mat.NewDense(3, 3, []float64{
		params.AtVec(0), params.AtVec(1), params.AtVec(2),
		params.AtVec(3), params.AtVec(4), params.AtVec(5),
		params.AtVec(6), params.AtVec(7), 1,
	})
	return denormalize(hn, tSrc, tDst)
}

// fitLeastSquares runs the normalized DLT (null vector of the 2n x 9 design
// matrix) and then refines the result on the reprojection error.
func fitLeastSquares(src, dst []geometry.Point2D) (Transform, error) {
	srcN, tSrc, err := normalize(src)
	if err != nil {
		return Transform{}, err
	}
	dstN, tDst, err := normalize(dst)
	if err != nil {
		return Transform{}, err
	}

	n := len(src)
	A := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		r := 2 * i

		A.SetRow(r, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y, -u})
		A.SetRow(r+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y, -v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFull); !ok {
		return Transform{}, fmt.Errorf("%w: SVD did not converge", ErrDegenerateConfiguration)
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[7]/values[0] < rankTolerance {
		return Transform{}, fmt.Errorf("%w: design matrix is rank deficient", ErrDegenerateConfiguration)
	}

	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, nil)
	for k := 0; k < 9; k++ {
		hn.Set(k/3, k%3, v.At(k, 8))
	}

	t, err := denormalize(hn, tSrc, tDst)
	if err != nil {
		return Transform{}, fmt.Errorf("%w: %v", ErrDegenerateConfiguration, err)
	}
	return refine(t, src, dst), nil
}

// normalize translates pts to their centroid and scales them so the mean
// distance from it is sqrt(2). It returns the normalized points and the
// similarity that produced them.
func normalize(pts []geometry.Point2D) ([]geometry.Point2D, *mat.Dense, error) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	var meanDist float64
	for _, p := range pts {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= float64(len(pts))
	if meanDist == 0 {
		return nil, nil, fmt.Errorf("%w: all points coincide", ErrDegenerateConfiguration)
	}

	s := math.Sqrt2 / meanDist
	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		out[i] = geometry.Point2D{X: s * (p.X - cx), Y: s * (p.Y - cy)}
	}
	T := mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
	return out, T, nil
}

// denormalize returns inv(tDst) * hn * tSrc as a Transform.
func denormalize(hn, tSrc, tDst *mat.Dense) (Transform, error) {
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return Transform{}, fmt.Errorf("%w: %v", ErrDegenerateConfiguration, err)
	}
	var tmp, h mat.Dense
	tmp.Mul(hn, tSrc)
	h.Mul(&tDstInv, &tmp)

	t, err := fromDense(&h)
	if err != nil {
		return Transform{}, fmt.Errorf("%w: %v", ErrDegenerateConfiguration, err)
	}
	return t, nil
}

// refine runs Gauss-Newton on the eight free entries of t, minimizing the
// squared distance between the projected src points and dst. A step is only
// kept when it lowers the cost, so the result is never worse than t.
func refine(t Transform, src, dst []geometry.Point2D) Transform {
	best := t
	bestCost, ok := cost(t, src, dst)
	if !ok {
		return t
	}

	n := len(src)
	for iter := 0; iter < refineIterations; iter++ {
		h := best.h
		J := mat.NewDense(2*n, 8, nil)
		r := mat.NewVecDense(2*n, nil)
		for i := 0; i < n; i++ {
			x, y := src[i].X, src[i].Y
			w := h[6]*x + h[7]*y + h[8]
			if w == 0 {
				return best
			}
			px := (h[0]*x + h[1]*y + h[2]) / w
			py := (h[3]*x + h[4]*y + h[5]) / w

			J.SetRow(2*i, []float64{x / w, y / w, 1 / w, 0, 0, 0, -x * px / w, -y * px / w})
			J.SetRow(2*i+1, []float64{0, 0, 0, x / w, y / w, 1 / w, -x * py / w, -y * py / w})
			r.SetVec(2*i, dst[i].X-px)
			r.SetVec(2*i+1, dst[i].Y-py)
		}

		var qr mat.QR
		qr.Factorize(J)
		var delta mat.VecDense
		if err := qr.SolveVecTo(&delta, false, r); err != nil {
			return best
		}

		var next [9]float64
		for k := 0; k < 8; k++ {
			next[k] = h[k] + delta.AtVec(k)
		}
		next[8] = 1
		candidate, err := NewTransform(next)
		if err != nil {
			return best
		}
		c, ok := cost(candidate, src, dst)
		if !ok || c >= bestCost {
			return best
		}
		best, bestCost = candidate, c
		if mat.Norm(&delta, 2) < refineStepTol {
			break
		}
	}
	return best
}

func cost(t Transform, src, dst []geometry.Point2D) (float64, bool) {
	var sum float64
	for i := range src {
		p, err := t.Apply(src[i])
		if err != nil {
			return 0, false
		}
		d := p.Distance(dst[i])
		sum += d * d
	}
	return sum, true
}

// ReprojectionError returns the mean and maximum distance, in the physical
// plane, between each mapped image point and its physical point.
func ReprojectionError(t Transform, corrs []geometry.Correspondence) (mean, worst float64, err error) {
	if len(corrs) == 0 {
		return 0, 0, nil
	}
	for _, c := range corrs {
		p, err := t.Apply(geometry.Point2D(c.Image))
		if err != nil {
			return 0, 0, err
		}
		d := p.Distance(geometry.Point2D(c.Physical))
		mean += d
		worst = math.Max(worst, d)
	}
	return mean / float64(len(corrs)), worst, nil
}
