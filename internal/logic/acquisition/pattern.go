package acquisition

import (
	"fmt"
	"image"

	"github.com/cjeanneret/ArmCal/internal/debug"
	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
)

// ExtremeCorners reduces a row-major detection result to the four outer
// corners of the grid, in this order:
//
//	0: first corner of the first row
//	1: last corner of the first row
//	2: last corner of the last row
//	3: first corner of the last row
//
// The physical points matched against them must follow the same order.
func ExtremeCorners(corners []geometry.ImagePoint, size geometry.GridSize) ([Required]geometry.ImagePoint, error) {
	var out [Required]geometry.ImagePoint
	if !size.Valid() {
		return out, fmt.Errorf("%w: got %v", ErrInvalidGridSize, size)
	}
	n := size.Count()
	if len(corners) != n {
		return out, fmt.Errorf("%w: got %d, want %d for %v", ErrCornerCount, len(corners), n, size)
	}
	out[0] = corners[0]
	out[1] = corners[size.Columns-1]
	out[2] = corners[n-1]
	out[3] = corners[n-size.Columns]
	return out, nil
}

// Pattern acquires the image side of the correspondences from a
// checkerboard detector. The first successful detection is latched; later
// frames are ignored until Reset.
type Pattern struct {
	detector Detector
	size     geometry.GridSize

	grid     []geometry.ImagePoint
	corners  [Required]geometry.ImagePoint
	detected bool
	physical []geometry.PhysicalPoint
}

// NewPattern returns a Pattern looking for a grid of the given size.
func NewPattern(d Detector, size geometry.GridSize) (*Pattern, error) {
	if !size.Valid() {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidGridSize, size)
	}
	return &Pattern{detector: d, size: size}, nil
}

// Size returns the expected grid size.
func (p *Pattern) Size() geometry.GridSize {
	return p.size
}

// Observe runs the detector on frame unless corners are already latched.
// It reports whether corners are available after the call.
func (p *Pattern) Observe(frame image.Image) bool {
	if p.detected {
		return true
	}
	grid, found := p.detector.DetectGrid(frame, p.size)
	if !found {
		return false
	}
	corners, err := ExtremeCorners(grid, p.size)
	if err != nil {
		debug.Error(err)
		return false
	}
	p.grid = grid
	p.corners = corners
	p.detected = true
	debug.Live("Pattern %v detected, corners %v %v %v %v", p.size, corners[0], corners[1], corners[2], corners[3])
	return true
}

// Detected returns the four latched image corners.
func (p *Pattern) Detected() ([Required]geometry.ImagePoint, bool) {
	return p.corners, p.detected
}

// Grid returns every corner of the latched detection, row by row.
func (p *Pattern) Grid() []geometry.ImagePoint {
	return append([]geometry.ImagePoint(nil), p.grid...)
}

// SetPhysical records the workspace positions of the four corners, in the
// order documented on ExtremeCorners.
func (p *Pattern) SetPhysical(pts []geometry.PhysicalPoint) error {
	if len(pts) != Required {
		return fmt.Errorf("%w: got %d", ErrPointCount, len(pts))
	}
	p.physical = append([]geometry.PhysicalPoint(nil), pts...)
	return nil
}

// Reset forgets the latched detection and the physical points.
func (p *Pattern) Reset() {
	p.grid = nil
	p.corners = [Required]geometry.ImagePoint{}
	p.detected = false
	p.physical = nil
}

// Correspondences implements Source.
func (p *Pattern) Correspondences() ([]geometry.Correspondence, bool) {
	if !p.detected || len(p.physical) != Required {
		return nil, false
	}
	return pair(p.corners[:], p.physical), true
}
