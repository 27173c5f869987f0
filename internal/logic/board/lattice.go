// Package board maps the intersections of a square playing board (a Gomoku
// grid of N x N lines) to pixels and, through a calibrated converter, to
// arm coordinates.
package board

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/ArmCal/internal/logic/converter"
	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
	"github.com/cjeanneret/ArmCal/internal/logic/homography"
)

var (
	// ErrTooFewLines indicates a board with fewer than 2 lines.
	ErrTooFewLines = errors.New("board: need at least 2 grid lines")
	// ErrOutOfBoard indicates an intersection outside the board.
	ErrOutOfBoard = errors.New("board: intersection out of range")
)

// OrderCorners sorts four board corners into top-left, top-right,
// bottom-right, bottom-left. Top-left has the smallest col+row, bottom-right
// the largest; top-right has the largest col-row, bottom-left the smallest.
func OrderCorners(pts [4]geometry.ImagePoint) [4]geometry.ImagePoint {
	sum := func(p geometry.ImagePoint) float64 { return p.X + p.Y }
	diff := func(p geometry.ImagePoint) float64 { return p.X - p.Y }

	var tl, tr, br, bl geometry.ImagePoint
	for i, p := range pts {
		if i == 0 || sum(p) < sum(tl) {
			tl = p
		}
		if i == 0 || sum(p) > sum(br) {
			br = p
		}
		if i == 0 || diff(p) > diff(tr) {
			tr = p
		}
		if i == 0 || diff(p) < diff(bl) {
			bl = p
		}
	}
	return [4]geometry.ImagePoint{tl, tr, br, bl}
}

// Lattice locates the intersections of a board with Lines x Lines lines.
// Intersection (0, 0) is the top-left corner as seen by the camera.
type Lattice struct {
	lines   int
	toImage homography.Transform
}

// NewLattice fits the board plane from its four outer corners, in any order.
func NewLattice(lines int, corners [4]geometry.ImagePoint) (*Lattice, error) {
	if lines < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewLines, lines)
	}
	ordered := OrderCorners(corners)
	last := float64(lines - 1)

	// Logical board coordinates, column first like image points.
	logical := []geometry.Point2D{{X: 0, Y: 0}, {X: last, Y: 0}, {X: last, Y: last}, {X: 0, Y: last}}
	pixels := make([]geometry.Point2D, 4)
	for i, p := range ordered {
		pixels[i] = geometry.Point2D(p)
	}

	t, err := homography.Fit(logical, pixels)
	if err != nil {
		return nil, fmt.Errorf("board corners: %w", err)
	}
	return &Lattice{lines: lines, toImage: t}, nil
}

// Lines returns the number of grid lines per side.
func (l *Lattice) Lines() int {
	return l.lines
}

// ImagePoint returns the pixel of intersection (row, col).
func (l *Lattice) ImagePoint(row, col int) (geometry.ImagePoint, error) {
	if row < 0 || col < 0 || row >= l.lines || col >= l.lines {
		return geometry.ImagePoint{}, fmt.Errorf("%w: (row=%d, col=%d) on a %d-line board", ErrOutOfBoard, row, col, l.lines)
	}
	p, err := l.toImage.Apply(geometry.Point2D{X: float64(col), Y: float64(row)})
	if err != nil {
		return geometry.ImagePoint{}, err
	}
	return geometry.ImagePoint(p), nil
}

// PhysicalPoint returns the arm coordinates of intersection (row, col).
func (l *Lattice) PhysicalPoint(conv *converter.Converter, row, col int) (geometry.PhysicalPoint, error) {
	px, err := l.ImagePoint(row, col)
	if err != nil {
		return geometry.PhysicalPoint{}, err
	}
	return conv.Convert(px)
}
