package homography

import "errors"

var (
	// ErrDegenerateConfiguration indicates the correspondences cannot determine
	// a unique projective transform (fewer than 4, collinear, rank-deficient).
	ErrDegenerateConfiguration = errors.New("homography: degenerate point configuration")
	// ErrPointCountMismatch indicates source and destination slices differ in length.
	ErrPointCountMismatch = errors.New("homography: source and destination point counts differ")
	// ErrInvalidMatrix indicates a 3x3 matrix that is not a usable transform
	// (non-finite entries, zero bottom-right entry, or singular).
	ErrInvalidMatrix = errors.New("homography: invalid transform matrix")
	// ErrPointAtInfinity indicates the point maps onto the line at infinity.
	ErrPointAtInfinity = errors.New("homography: point maps to infinity")
)
