// Package converter holds the active image-to-workspace calibration and
// answers conversion queries against it.
package converter

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/ArmCal/internal/debug"
	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
	"github.com/cjeanneret/ArmCal/internal/logic/homography"
)

// ErrNotCalibrated is returned by Convert before any successful
// Calibrate or Restore.
var ErrNotCalibrated = errors.New("converter: not calibrated")

// State is the calibration lifecycle of a Converter.
type State int

const (
	Uncalibrated State = iota
	Calibrated
)

func (s State) String() string {
	switch s {
	case Uncalibrated:
		return "uncalibrated"
	case Calibrated:
		return "calibrated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Converter owns at most one Transform. Re-calibration replaces it
// wholesale; a failed attempt leaves the previous one in place.
//
// A Converter is not safe for concurrent use.
type Converter struct {
	state     State
	transform homography.Transform
}

// New returns an uncalibrated Converter.
func New() *Converter {
	return &Converter{state: Uncalibrated}
}

// Calibrate fits a transform from corrs and makes it the active one.
// On failure (homography.ErrDegenerateConfiguration) nothing changes.
func (c *Converter) Calibrate(corrs []geometry.Correspondence) error {
	t, err := homography.Estimate(corrs)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}

	if mean, worst, err := homography.ReprojectionError(t, corrs); err == nil {
		debug.Residual(mean, worst)
	}
	debug.Matrix("Calibration matrix", t.Matrix())

	c.transform = t
	c.state = Calibrated
	return nil
}

// Restore installs a previously fitted transform, e.g. one loaded from disk.
func (c *Converter) Restore(t homography.Transform) error {
	if t.IsZero() {
		return fmt.Errorf("restore: %w", homography.ErrInvalidMatrix)
	}
	c.transform = t
	c.state = Calibrated
	debug.Matrix("Installed calibration matrix", t.Matrix())
	return nil
}

// Convert maps an image point to the physical frame.
//
// The input axis order is fixed: p.X is the pixel column and p.Y the pixel
// row. Row-major callers use ConvertRowCol or geometry.FromRowCol.
func (c *Converter) Convert(p geometry.ImagePoint) (geometry.PhysicalPoint, error) {
	if c.state != Calibrated {
		return geometry.PhysicalPoint{}, ErrNotCalibrated
	}
	q, err := c.transform.Apply(geometry.Point2D(p))
	if err != nil {
		return geometry.PhysicalPoint{}, fmt.Errorf("convert %v: %w", p, err)
	}
	debug.Conversion(p.X, p.Y, q.X, q.Y)
	return geometry.PhysicalPoint(q), nil
}

// ConvertRowCol is Convert for callers holding (row, column) coordinates.
func (c *Converter) ConvertRowCol(row, col float64) (geometry.PhysicalPoint, error) {
	return c.Convert(geometry.FromRowCol(row, col))
}

// IsCalibrated reports whether a transform is held.
func (c *Converter) IsCalibrated() bool {
	return c.state == Calibrated
}

// State returns the current lifecycle state.
func (c *Converter) State() State {
	return c.state
}

// Transform returns the active transform, if any.
func (c *Converter) Transform() (homography.Transform, bool) {
	if c.state != Calibrated {
		return homography.Transform{}, false
	}
	return c.transform, true
}
