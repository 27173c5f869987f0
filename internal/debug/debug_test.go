package debug

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T, level int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(level)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		Init(LevelOff)
	})
	return &buf
}

func TestInit_OffIsSilent(t *testing.T) {
	buf := capture(t, LevelOff)
	Info("hidden")
	Error(errors.New("hidden"))
	Matrix("H", [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
	if Fmt("%d", 1) != "" {
		t.Error("Fmt should return empty string when disabled")
	}
}

func TestLevels_Filter(t *testing.T) {
	buf := capture(t, LevelLive)
	Info("info line")
	Live("live line")
	Verbose("verbose line")
	Trace("trace line")

	out := buf.String()
	for _, want := range []string{"[ArmCal] ", "[INFO] info line", "[LIVE] live line"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	for _, unwanted := range []string{"verbose line", "trace line"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("output should not contain %q:\n%s", unwanted, out)
		}
	}
}

func TestConversion_ColumnRowOrder(t *testing.T) {
	buf := capture(t, LevelLive)
	Conversion(320, 240, 12.5, -3)
	if !strings.Contains(buf.String(), "Pixel (col=320.0, row=240.0) -> physical (X=12.50, Y=-3.00)") {
		t.Errorf("unexpected conversion line: %q", buf.String())
	}
}

func TestMatrix_ThreeRows(t *testing.T) {
	buf := capture(t, LevelVerbose)
	Matrix("H", [9]float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	if n := strings.Count(buf.String(), "\n"); n != 4 {
		t.Errorf("expected a title and 3 rows, got %d lines:\n%s", n, buf.String())
	}
}

func TestSetOutput_AfterInit(t *testing.T) {
	capture(t, LevelInfo)
	var other bytes.Buffer
	SetOutput(&other)
	Info("redirected")
	if !strings.Contains(other.String(), "redirected") {
		t.Errorf("SetOutput after Init did not redirect: %q", other.String())
	}
}
