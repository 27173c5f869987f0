package workflow

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/ArmCal/internal/config"
	"github.com/cjeanneret/ArmCal/internal/hw/gpio"
	"github.com/cjeanneret/ArmCal/internal/logic/acquisition"
	"github.com/cjeanneret/ArmCal/internal/logic/converter"
	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
	"github.com/cjeanneret/ArmCal/internal/logic/homography"
	"github.com/cjeanneret/ArmCal/internal/store"
)

var grid2x2 = geometry.GridSize{Columns: 2, Rows: 2}

// Row-major 2x2 detection; extreme corners come out as
// (100,100) (500,100) (500,400) (100,400).
var detected = []geometry.ImagePoint{
	geometry.Pixel(100, 100), geometry.Pixel(500, 100),
	geometry.Pixel(100, 400), geometry.Pixel(500, 400),
}

// Physical positions of the corners: 1 pixel = 1 unit, shifted by (-100, -100).
const physicalInput = "0 0\n400 0\n400 300\n0 300\n"

type fakeCamera struct {
	err    error
	frames int
}

func (c *fakeCamera) Frame() (image.Image, error) {
	c.frames++
	if c.err != nil {
		return nil, c.err
	}
	return image.NewGray(image.Rect(0, 0, 640, 480)), nil
}

type fakeDetector struct {
	found bool
	calls int
}

func (d *fakeDetector) DetectGrid(image.Image, geometry.GridSize) ([]geometry.ImagePoint, bool) {
	d.calls++
	if !d.found {
		return nil, false
	}
	return append([]geometry.ImagePoint(nil), detected...), true
}

type scriptedTrigger struct {
	presses []bool
	reads   int
}

func (t *scriptedTrigger) Pressed() (bool, error) {
	t.reads++
	if len(t.presses) == 0 {
		return false, nil
	}
	p := t.presses[0]
	t.presses = t.presses[1:]
	return p, nil
}

type recordingIndicator struct {
	states []bool
}

func (r *recordingIndicator) Set(on bool) error {
	r.states = append(r.states, on)
	return nil
}

func newPatternParams(t *testing.T, det *fakeDetector, input string) PatternParams {
	t.Helper()
	pat, err := acquisition.NewPattern(det, grid2x2)
	require.NoError(t, err)
	return PatternParams{
		Camera:       &fakeCamera{},
		Pattern:      pat,
		Prompter:     NewConsolePrompter(strings.NewReader(input), io.Discard),
		PollInterval: time.Millisecond,
	}
}

func assertCalibrated(t *testing.T, s *Session) {
	t.Helper()
	require.Equal(t, converter.Calibrated, s.State())
	got, err := s.Convert(geometry.Pixel(300, 250))
	require.NoError(t, err)
	assert.InDelta(t, 200, got.X, 1e-6)
	assert.InDelta(t, 150, got.Y, 1e-6)
}

func TestRunPattern_CalibratesAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homography.txt")
	s := NewSession(converter.New(), path)
	ind := &recordingIndicator{}
	require.NoError(t, s.SetIndicator(ind))

	err := s.RunPattern(context.Background(), newPatternParams(t, &fakeDetector{found: true}, physicalInput))
	require.NoError(t, err)

	assertCalibrated(t, s)
	assert.Equal(t, []bool{false, true}, ind.states)

	saved, err := store.Load(path)
	require.NoError(t, err)
	active, _ := s.Transform()
	assert.Equal(t, active.Matrix(), saved.Matrix())
}

func TestRunPattern_WaitsForTrigger(t *testing.T) {
	s := NewSession(converter.New(), "")
	det := &fakeDetector{found: true}
	p := newPatternParams(t, det, physicalInput)
	trig := &scriptedTrigger{presses: []bool{false, false, true}}
	p.Trigger = trig

	require.NoError(t, s.RunPattern(context.Background(), p))
	assertCalibrated(t, s)
	assert.Equal(t, 3, trig.reads)
	assert.Equal(t, 1, det.calls, "detection is latched after the first hit")
}

func TestRunPattern_RetriesAfterDegenerateInput(t *testing.T) {
	s := NewSession(converter.New(), "")
	det := &fakeDetector{found: true}
	collinear := "0 0\n1 1\n2 2\n5 0\n"

	require.NoError(t, s.RunPattern(context.Background(), newPatternParams(t, det, collinear+physicalInput)))
	assertCalibrated(t, s)
	assert.Equal(t, 2, det.calls, "a rejected set must drop the latched detection")
}

func TestRunPattern_ContextCancellation(t *testing.T) {
	s := NewSession(converter.New(), "")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.RunPattern(ctx, newPatternParams(t, &fakeDetector{}, ""))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, converter.Uncalibrated, s.State())
}

func TestRunPattern_CameraFailure(t *testing.T) {
	s := NewSession(converter.New(), "")
	boom := errors.New("usb unplugged")
	p := newPatternParams(t, &fakeDetector{found: true}, physicalInput)
	cam := &fakeCamera{err: boom}
	p.Camera = cam

	err := s.RunPattern(context.Background(), p)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, maxFrameFailures, cam.frames)
}

func TestRunPattern_InputEndsEarly(t *testing.T) {
	s := NewSession(converter.New(), "")
	err := s.RunPattern(context.Background(), newPatternParams(t, &fakeDetector{found: true}, "0 0\n400 0\n"))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, converter.Uncalibrated, s.State())
}

func TestRunManual(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homography.txt")
	s := NewSession(converter.New(), path)
	input := "100 100\n500,100\nnot a point\n500 400\n100 400\n" + physicalInput

	require.NoError(t, s.RunManual(context.Background(), NewConsolePrompter(strings.NewReader(input), io.Discard)))
	assertCalibrated(t, s)
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestRunManual_RetriesAfterDegenerateInput(t *testing.T) {
	s := NewSession(converter.New(), "")
	bad := "0 0\n10 10\n20 20\n0 30\n" + physicalInput
	good := "100 100\n500 100\n500 400\n100 400\n" + physicalInput

	require.NoError(t, s.RunManual(context.Background(), NewConsolePrompter(strings.NewReader(bad+good), io.Discard)))
	assertCalibrated(t, s)
}

func TestRunManual_Cancelled(t *testing.T) {
	s := NewSession(converter.New(), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.RunManual(ctx, NewConsolePrompter(strings.NewReader(""), io.Discard))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSession_Restore(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		s := NewSession(converter.New(), filepath.Join(dir, "none.txt"))
		assert.False(t, s.Restore())
		assert.Equal(t, converter.Uncalibrated, s.State())
	})

	t.Run("corrupt", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.txt")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
		s := NewSession(converter.New(), path)
		assert.False(t, s.Restore())
		assert.Equal(t, converter.Uncalibrated, s.State())
	})

	t.Run("saved_by_previous_session", func(t *testing.T) {
		path := filepath.Join(dir, "good.txt")
		first := NewSession(converter.New(), path)
		require.NoError(t, first.RunPattern(context.Background(), newPatternParams(t, &fakeDetector{found: true}, physicalInput)))

		second := NewSession(converter.New(), path)
		ind := &recordingIndicator{}
		require.NoError(t, second.SetIndicator(ind))
		require.True(t, second.Restore())
		assertCalibrated(t, second)
		assert.Equal(t, []bool{false, true}, ind.states)
	})
}

func TestSession_CommitIncomplete(t *testing.T) {
	s := NewSession(converter.New(), "")
	m := acquisition.NewManual()
	require.NoError(t, m.AddImagePoint(geometry.Pixel(1, 1)))
	require.ErrorIs(t, s.Commit(m), ErrIncomplete)
}

func TestSession_FailedCommitKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homography.txt")
	s := NewSession(converter.New(), path)
	require.NoError(t, s.RunPattern(context.Background(), newPatternParams(t, &fakeDetector{found: true}, physicalInput)))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	m := acquisition.NewManual()
	for _, p := range []geometry.ImagePoint{geometry.Pixel(0, 0), geometry.Pixel(1, 1), geometry.Pixel(2, 2), geometry.Pixel(3, 0)} {
		require.NoError(t, m.AddImagePoint(p))
		require.NoError(t, m.AddPhysicalPoint(geometry.PhysicalPoint(p)))
	}
	require.ErrorIs(t, s.Commit(m), homography.ErrDegenerateConfiguration)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assertCalibrated(t, s)
}

func TestParsePoint(t *testing.T) {
	cases := []struct {
		in   string
		want geometry.Point2D
		ok   bool
	}{
		{"12 34", geometry.Point2D{X: 12, Y: 34}, true},
		{"12,34", geometry.Point2D{X: 12, Y: 34}, true},
		{"  -1.5 ,  2e2 ", geometry.Point2D{X: -1.5, Y: 200}, true},
		{"12", geometry.Point2D{}, false},
		{"1 2 3", geometry.Point2D{}, false},
		{"a b", geometry.Point2D{}, false},
		{"NaN 1", geometry.Point2D{}, false},
		{"1 Inf", geometry.Point2D{}, false},
		{"", geometry.Point2D{}, false},
	}
	for _, tc := range cases {
		got, err := ParsePoint(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrBadPoint, "%q", tc.in)
			continue
		}
		require.NoError(t, err, "%q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestConsolePrompter_RepromptsOnBadLine(t *testing.T) {
	var out strings.Builder
	p := NewConsolePrompter(strings.NewReader("oops\n3 4\n"), &out)
	got, err := p.Point("Corner")
	require.NoError(t, err)
	assert.Equal(t, geometry.Point2D{X: 3, Y: 4}, got)
	assert.Equal(t, 2, strings.Count(out.String(), "Corner: "))
}

func TestSession_Project(t *testing.T) {
	s := NewSession(converter.New(), "")
	_, err := s.Project(geometry.PhysicalPoint{X: 1, Y: 1})
	require.ErrorIs(t, err, converter.ErrNotCalibrated)

	require.NoError(t, s.RunPattern(context.Background(), newPatternParams(t, &fakeDetector{found: true}, physicalInput)))
	px, err := s.Project(geometry.PhysicalPoint{X: 200, Y: 150})
	require.NoError(t, err)
	assert.InDelta(t, 300, px.X, 1e-6)
	assert.InDelta(t, 250, px.Y, 1e-6)
}

// scaledManual maps the detected corners to twice their pixel offset, so
// pixel (300, 250) converts to (400, 300).
func scaledManual(t *testing.T) *acquisition.Manual {
	t.Helper()
	m := acquisition.NewManual()
	for _, p := range []geometry.ImagePoint{geometry.Pixel(100, 100), geometry.Pixel(500, 100), geometry.Pixel(500, 400), geometry.Pixel(100, 400)} {
		require.NoError(t, m.AddImagePoint(p))
		require.NoError(t, m.AddPhysicalPoint(geometry.PhysicalPoint{X: 2 * (p.X - 100), Y: 2 * (p.Y - 100)}))
	}
	return m
}

// blindDetector never finds the grid and closes polled on its first call.
type blindDetector struct {
	once   sync.Once
	polled chan struct{}
}

func (d *blindDetector) DetectGrid(image.Image, geometry.GridSize) ([]geometry.ImagePoint, bool) {
	d.once.Do(func() { close(d.polled) })
	return nil, false
}

// committingPrompter calibrates the session from src the first time it is
// asked, as a web client would while the operator is still typing.
type committingPrompter struct {
	Prompter
	s    *Session
	src  acquisition.Source
	done bool
}

func (p *committingPrompter) Point(label string) (geometry.Point2D, error) {
	if !p.done {
		p.done = true
		if err := p.s.Commit(p.src); err != nil {
			return geometry.Point2D{}, err
		}
	}
	return p.Prompter.Point(label)
}

func TestRunPattern_ShippedConfigCalibrates(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "..", "configs", "default.yaml"))
	require.NoError(t, err)
	drv, err := gpio.NewDriver(cfg.GPIO.Mock)
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })

	p := newPatternParams(t, &fakeDetector{found: true}, physicalInput)
	if cfg.UseTrigger() {
		btn, err := gpio.NewButton(drv, cfg.GPIO.TriggerPin)
		require.NoError(t, err)
		p.Trigger = btn
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s := NewSession(converter.New(), "")
	require.NoError(t, s.RunPattern(ctx, p))
	assertCalibrated(t, s)
}

func TestRunPattern_ZeroPollIntervalUsesDefault(t *testing.T) {
	s := NewSession(converter.New(), "")
	p := newPatternParams(t, &fakeDetector{found: true}, physicalInput)
	p.PollInterval = 0
	require.NoError(t, s.RunPattern(context.Background(), p))
	assertCalibrated(t, s)
}

func TestRunPattern_StopsWhenCalibratedElsewhere(t *testing.T) {
	s := NewSession(converter.New(), "")
	det := &blindDetector{polled: make(chan struct{})}
	pat, err := acquisition.NewPattern(det, grid2x2)
	require.NoError(t, err)
	p := PatternParams{Camera: &fakeCamera{}, Pattern: pat, PollInterval: time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- s.RunPattern(context.Background(), p) }()

	<-det.polled
	require.NoError(t, s.Commit(scaledManual(t)))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunPattern kept polling after the session was calibrated")
	}
	got, err := s.Convert(geometry.Pixel(300, 250))
	require.NoError(t, err)
	assert.InDelta(t, 400, got.X, 1e-6)
	assert.InDelta(t, 300, got.Y, 1e-6)
}

func TestRunPattern_DoesNotOverwriteConcurrentCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homography.txt")
	s := NewSession(converter.New(), path)
	p := newPatternParams(t, &fakeDetector{found: true}, physicalInput)
	p.Prompter = &committingPrompter{Prompter: p.Prompter, s: s, src: scaledManual(t)}

	require.NoError(t, s.RunPattern(context.Background(), p))
	assert.Equal(t, uint64(1), s.Version())

	got, err := s.Convert(geometry.Pixel(300, 250))
	require.NoError(t, err)
	assert.InDelta(t, 400, got.X, 1e-6, "the concurrent calibration must win")

	saved, err := store.Load(path)
	require.NoError(t, err)
	live, _ := s.Transform()
	assert.Equal(t, live.Matrix(), saved.Matrix())
}

func TestRunManual_StopsWhenCalibratedElsewhere(t *testing.T) {
	s := NewSession(converter.New(), "")
	pr := &committingPrompter{
		Prompter: NewConsolePrompter(strings.NewReader("100 100\n500 100\n500 400\n100 400\n"+physicalInput), io.Discard),
		s:        s,
		src:      scaledManual(t),
	}
	require.NoError(t, s.RunManual(context.Background(), pr))
	got, err := s.Convert(geometry.Pixel(300, 250))
	require.NoError(t, err)
	assert.InDelta(t, 400, got.X, 1e-6)
}

func TestSession_FailedSaveInstallsNothing(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	s := NewSession(converter.New(), filepath.Join(blocker, "homography.txt"))
	ind := &recordingIndicator{}
	require.NoError(t, s.SetIndicator(ind))

	err := s.Commit(scaledManual(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, homography.ErrDegenerateConfiguration)
	assert.Equal(t, converter.Uncalibrated, s.State())
	assert.Equal(t, uint64(0), s.Version())
	assert.Equal(t, []bool{false}, ind.states)

	_, err = s.Convert(geometry.Pixel(300, 250))
	require.ErrorIs(t, err, converter.ErrNotCalibrated)
}
