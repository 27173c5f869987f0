package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/cjeanneret/ArmCal/internal/debug"
	"github.com/cjeanneret/ArmCal/internal/logic/acquisition"
	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
	"github.com/cjeanneret/ArmCal/internal/logic/homography"
)

// RunManual asks for four pixels (column, row) and the four matching
// physical points, then commits. On a degenerate set it asks again. Like
// RunPattern, it gives up silently once the session is calibrated elsewhere.
func (s *Session) RunManual(ctx context.Context, pr Prompter) error {
	debug.Section("Manual calibration")
	m := acquisition.NewManual()
	since := s.Version()

	for {
		for i := 0; i < acquisition.Required; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			pt, err := pr.Point(fmt.Sprintf("Image column row of point %d/%d", i+1, acquisition.Required))
			if err != nil {
				return fmt.Errorf("read image point %d: %w", i+1, err)
			}
			if err := m.AddImagePoint(geometry.ImagePoint(pt)); err != nil {
				return err
			}
		}
		for i := 0; i < acquisition.Required; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			pt, err := pr.Point(fmt.Sprintf("Physical X Y of point %d/%d", i+1, acquisition.Required))
			if err != nil {
				return fmt.Errorf("read physical point %d: %w", i+1, err)
			}
			if err := m.AddPhysicalPoint(geometry.PhysicalPoint(pt)); err != nil {
				return err
			}
		}

		if s.superseded(since) {
			return nil
		}
		err := s.Commit(m)
		if errors.Is(err, homography.ErrDegenerateConfiguration) {
			debug.Error(err)
			debug.Info("Degenerate points (three on a line?), starting over")
			m.Reset()
			continue
		}
		return err
	}
}
