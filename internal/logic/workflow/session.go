// Package workflow drives a calibration from start to finish: restore the
// saved transform if there is one, otherwise acquire four correspondences,
// calibrate, and persist the result.
package workflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/ArmCal/internal/debug"
	"github.com/cjeanneret/ArmCal/internal/logic/acquisition"
	"github.com/cjeanneret/ArmCal/internal/logic/converter"
	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
	"github.com/cjeanneret/ArmCal/internal/logic/homography"
	"github.com/cjeanneret/ArmCal/internal/metrics"
	"github.com/cjeanneret/ArmCal/internal/store"
)

// ErrIncomplete is returned by Commit when the source does not yet hold
// four correspondences.
var ErrIncomplete = errors.New("workflow: correspondences incomplete")

// Indicator shows whether a calibration is active (e.g. an LED).
type Indicator interface {
	Set(on bool) error
}

// Session owns the converter and its persisted copy. All methods are safe
// for concurrent use; the detection loop and the web server share one
// Session.
type Session struct {
	mu        sync.Mutex
	conv      *converter.Converter
	path      string
	indicator Indicator
	version   uint64 // bumped on every installed calibration
}

// NewSession wraps conv. A calibration committed through the session is
// saved to path; an empty path disables persistence.
func NewSession(conv *converter.Converter, path string) *Session {
	return &Session{conv: conv, path: path}
}

// SetIndicator attaches an indicator and syncs it with the current state.
func (s *Session) SetIndicator(ind Indicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicator = ind
	return s.syncIndicator()
}

// Restore loads the saved transform. A missing or corrupt file leaves the
// converter uncalibrated and returns false; only a corrupt file is logged
// as an error.
func (s *Session) Restore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return false
	}
	t, err := store.Load(s.path)
	switch {
	case errors.Is(err, store.ErrNotFound):
		debug.Info("No saved calibration at %s", s.path)
		return false
	case err != nil:
		debug.Error(err)
		return false
	}
	if err := s.conv.Restore(t); err != nil {
		debug.Error(err)
		return false
	}
	s.version++
	if err := s.syncIndicator(); err != nil {
		debug.Error(err)
	}
	return true
}

// Commit calibrates from src and saves the result. The new transform is
// installed only once it is on disk: a degenerate set or a failed save
// leaves the previous calibration and the file untouched.
func (s *Session) Commit(src acquisition.Source) error {
	corrs, ok := src.Correspondences()
	if !ok {
		return ErrIncomplete
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := converter.New()
	err := next.Calibrate(corrs)
	t, _ := next.Transform()
	if err == nil && s.path != "" {
		if serr := store.Save(t, s.path); serr != nil {
			err = fmt.Errorf("persist calibration: %w", serr)
		}
	}
	metrics.ObserveCalibration(err)
	if err != nil {
		return err
	}
	if err := s.conv.Restore(t); err != nil {
		return err
	}
	s.version++
	debug.Summary("Calibration complete")

	if err := s.syncIndicator(); err != nil {
		debug.Error(err)
	}
	return nil
}

// Version counts the calibrations installed so far, restored or committed.
// Loops compare it with the value they started from to notice a calibration
// made elsewhere.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Convert maps an image point through the active calibration.
func (s *Session) Convert(p geometry.ImagePoint) (geometry.PhysicalPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.conv.Convert(p)
	metrics.ObserveConversion(err)
	return q, err
}

// Project maps a physical point back into the image, e.g. to show where
// the arm would land.
func (s *Session) Project(p geometry.PhysicalPoint) (geometry.ImagePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.conv.Transform()
	if !ok {
		return geometry.ImagePoint{}, converter.ErrNotCalibrated
	}
	inv, err := t.Inverse()
	if err != nil {
		return geometry.ImagePoint{}, err
	}
	q, err := inv.Apply(geometry.Point2D(p))
	if err != nil {
		return geometry.ImagePoint{}, fmt.Errorf("project %v: %w", p, err)
	}
	return geometry.ImagePoint(q), nil
}

// Transform returns the active transform, if any.
func (s *Session) Transform() (homography.Transform, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Transform()
}

// State returns the converter state.
func (s *Session) State() converter.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.State()
}

// Path returns where calibrations are saved.
func (s *Session) Path() string {
	return s.path
}

func (s *Session) syncIndicator() error {
	if s.indicator == nil {
		return nil
	}
	return s.indicator.Set(s.conv.IsCalibrated())
}
