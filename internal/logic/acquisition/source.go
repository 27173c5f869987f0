// Package acquisition produces the four image/physical correspondences a
// calibration needs. Two strategies exist: Pattern reads the image side from
// a detected checkerboard, Manual takes operator-picked pixels. Both hand
// their result to the converter through the Source interface.
package acquisition

import (
	"errors"
	"image"

	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
)

// Required is the number of correspondences a strategy produces.
const Required = 4

var (
	// ErrSourceFull indicates a fifth point was offered to a strategy.
	ErrSourceFull = errors.New("acquisition: already holds 4 points")
	// ErrInvalidGridSize indicates a pattern smaller than 2x2 corners.
	ErrInvalidGridSize = errors.New("acquisition: grid must have at least 2x2 corners")
	// ErrCornerCount indicates a detection result whose length does not
	// match the expected grid size.
	ErrCornerCount = errors.New("acquisition: corner count does not match grid size")
	// ErrPointCount indicates the wrong number of physical points.
	ErrPointCount = errors.New("acquisition: exactly 4 physical points are required")
)

// Source is anything able to produce a full set of correspondences.
// ok is false while the set is incomplete; that is a normal waiting state,
// not an error.
type Source interface {
	Correspondences() (corrs []geometry.Correspondence, ok bool)
}

// Detector finds the interior corners of a checkerboard in a frame. The
// corners come back row by row, each row holding size.Columns points, in
// image coordinates (X = column, Y = row).
type Detector interface {
	DetectGrid(frame image.Image, size geometry.GridSize) ([]geometry.ImagePoint, bool)
}

func pair(img []geometry.ImagePoint, phys []geometry.PhysicalPoint) []geometry.Correspondence {
	out := make([]geometry.Correspondence, len(img))
	for i := range img {
		out[i] = geometry.Correspondence{Image: img[i], Physical: phys[i]}
	}
	return out
}
