// Package geometry provides the point types shared by the calibration code.
//
// Two coordinate spaces exist and have distinct Go types so they cannot be
// mixed up by accident:
//
//   - ImagePoint: pixel position, X = column (horizontal), Y = row (vertical).
//   - PhysicalPoint: workspace position, X then Y in physical units (mm).
//
// Callers holding row-major data (detection grids, matrix indices) must go
// through FromRowCol, which performs the swap explicitly.
package geometry

import (
	"fmt"
	"math"
)

// Point2D is an untyped point in some plane. The numeric code works on it;
// the rest of the application uses ImagePoint and PhysicalPoint.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Sub returns p - other.
func (p Point2D) Sub(other Point2D) Point2D {
	return Point2D{X: p.X - other.X, Y: p.Y - other.Y}
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point2D) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// ImagePoint is a pixel position: X is the column, Y is the row.
// Out-of-frame and fractional values are allowed.
type ImagePoint Point2D

// Pixel builds an ImagePoint from a column and a row, in that order.
func Pixel(col, row float64) ImagePoint {
	return ImagePoint{X: col, Y: row}
}

// FromRowCol builds an ImagePoint from row-major coordinates.
func FromRowCol(row, col float64) ImagePoint {
	return ImagePoint{X: col, Y: row}
}

// Col returns the horizontal pixel coordinate.
func (p ImagePoint) Col() float64 { return p.X }

// Row returns the vertical pixel coordinate.
func (p ImagePoint) Row() float64 { return p.Y }

func (p ImagePoint) String() string {
	return fmt.Sprintf("px(col=%.2f, row=%.2f)", p.X, p.Y)
}

// PhysicalPoint is a position in the workspace frame, in physical units.
type PhysicalPoint Point2D

func (p PhysicalPoint) String() string {
	return fmt.Sprintf("phys(X=%.3f, Y=%.3f)", p.X, p.Y)
}

// Correspondence pairs an image point with the physical point it depicts.
type Correspondence struct {
	Image    ImagePoint    `json:"image"`
	Physical PhysicalPoint `json:"physical"`
}

// Split returns the image and physical sides of corrs as untyped points,
// preserving order.
func Split(corrs []Correspondence) (src, dst []Point2D) {
	src = make([]Point2D, len(corrs))
	dst = make([]Point2D, len(corrs))
	for i, c := range corrs {
		src[i] = Point2D(c.Image)
		dst[i] = Point2D(c.Physical)
	}
	return src, dst
}

// GridSize is the number of interior corners of a checkerboard target.
type GridSize struct {
	Columns int `json:"columns"` // corners per row
	Rows    int `json:"rows"`    // corners per column
}

// Count returns the number of corners in the grid.
func (g GridSize) Count() int {
	return g.Columns * g.Rows
}

// Valid reports whether the grid has at least two corners in each direction.
func (g GridSize) Valid() bool {
	return g.Columns >= 2 && g.Rows >= 2
}

func (g GridSize) String() string {
	return fmt.Sprintf("%dx%d", g.Columns, g.Rows)
}
