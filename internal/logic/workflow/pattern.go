package workflow

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cjeanneret/ArmCal/internal/debug"
	"github.com/cjeanneret/ArmCal/internal/logic/acquisition"
	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
	"github.com/cjeanneret/ArmCal/internal/logic/homography"
)

const (
	// maxFrameFailures is how many consecutive frame errors RunPattern tolerates.
	maxFrameFailures = 10

	defaultPollInterval = 100 * time.Millisecond
)

// cornerLabels name the pattern corners in ExtremeCorners order.
var cornerLabels = [acquisition.Required]string{
	"first corner of the first row",
	"last corner of the first row",
	"last corner of the last row",
	"first corner of the last row",
}

// FrameSource yields camera frames.
type FrameSource interface {
	Frame() (image.Image, error)
}

// Trigger reports a one-shot operator request (e.g. a push button).
type Trigger interface {
	Pressed() (bool, error)
}

// PatternParams configures RunPattern.
type PatternParams struct {
	Camera   FrameSource
	Pattern  *acquisition.Pattern
	Prompter Prompter

	// Trigger gates calibration once the pattern is seen. Nil calibrates
	// as soon as the first detection is latched.
	Trigger Trigger

	PollInterval time.Duration // delay between frames, <= 0 means 100ms
}

// RunPattern polls frames until the pattern is detected and the trigger
// fires, asks for the physical position of the four extreme corners, then
// commits. A degenerate set drops the detection and starts over. If another
// caller calibrates the session meanwhile, RunPattern returns nil without
// committing.
func (s *Session) RunPattern(ctx context.Context, p PatternParams) error {
	debug.Section("Pattern calibration")
	debug.Info("Waiting for a %s pattern", p.Pattern.Size())

	interval := p.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	since := s.Version()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if s.superseded(since) {
			return nil
		}

		frame, err := p.Camera.Frame()
		if err != nil {
			failures++
			debug.Error(err)
			if failures >= maxFrameFailures {
				return fmt.Errorf("camera: %d consecutive failures: %w", failures, err)
			}
			continue
		}
		failures = 0

		if !p.Pattern.Observe(frame) {
			continue
		}
		if p.Trigger != nil {
			pressed, err := p.Trigger.Pressed()
			if err != nil {
				return err
			}
			if !pressed {
				continue
			}
		}

		physical, err := promptPhysical(ctx, p.Prompter)
		if err != nil {
			return err
		}
		if err := p.Pattern.SetPhysical(physical); err != nil {
			return err
		}

		if s.superseded(since) {
			return nil
		}
		err = s.Commit(p.Pattern)
		if errors.Is(err, homography.ErrDegenerateConfiguration) {
			debug.Error(err)
			debug.Info("Degenerate correspondences, waiting for a new detection")
			p.Pattern.Reset()
			continue
		}
		return err
	}
}

func promptPhysical(ctx context.Context, pr Prompter) ([]geometry.PhysicalPoint, error) {
	out := make([]geometry.PhysicalPoint, 0, acquisition.Required)
	for i, label := range cornerLabels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pt, err := pr.Point(fmt.Sprintf("Physical X Y of %s (%d/%d)", label, i+1, acquisition.Required))
		if err != nil {
			return nil, fmt.Errorf("read physical point %d: %w", i+1, err)
		}
		out = append(out, geometry.PhysicalPoint(pt))
	}
	return out, nil
}

// superseded reports whether a calibration was installed after since.
func (s *Session) superseded(since uint64) bool {
	if s.Version() == since {
		return false
	}
	debug.Info("Calibrated elsewhere, dropping this calibration run")
	return true
}
