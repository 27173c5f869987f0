package acquisition

import (
	"github.com/cjeanneret/ArmCal/internal/debug"
	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
)

// Manual accumulates operator-picked image points and operator-entered
// physical points. The n-th image point pairs with the n-th physical point.
type Manual struct {
	image    []geometry.ImagePoint
	physical []geometry.PhysicalPoint
}

// NewManual returns an empty Manual source.
func NewManual() *Manual {
	return &Manual{}
}

// AddImagePoint records the next picked pixel.
func (m *Manual) AddImagePoint(p geometry.ImagePoint) error {
	if len(m.image) >= Required {
		return ErrSourceFull
	}
	m.image = append(m.image, p)
	debug.Live("Picked point %d: %v", len(m.image), p)
	return nil
}

// AddPhysicalPoint records the workspace position of the next point.
func (m *Manual) AddPhysicalPoint(p geometry.PhysicalPoint) error {
	if len(m.physical) >= Required {
		return ErrSourceFull
	}
	m.physical = append(m.physical, p)
	return nil
}

// ImagePoints returns the picked pixels so far.
func (m *Manual) ImagePoints() []geometry.ImagePoint {
	return append([]geometry.ImagePoint(nil), m.image...)
}

// Pending returns how many image and physical points are still missing.
func (m *Manual) Pending() (image, physical int) {
	return Required - len(m.image), Required - len(m.physical)
}

// Reset discards every point.
func (m *Manual) Reset() {
	m.image = nil
	m.physical = nil
}

// Correspondences implements Source.
func (m *Manual) Correspondences() ([]geometry.Correspondence, bool) {
	if len(m.image) != Required || len(m.physical) != Required {
		return nil, false
	}
	return pair(m.image, m.physical), true
}
