// Package store persists a calibration so it survives restarts.
//
// File layout (text, UTF-8):
//
//	# armcal homography v1
//	h00 h01 h02
//	h10 h11 h12
//	h20 h21 h22
//
// Each value is written in %e form with 16 fractional digits, which
// round-trips every float64 exactly, so save(load(save(t))) is byte-identical.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cjeanneret/ArmCal/internal/debug"
	"github.com/cjeanneret/ArmCal/internal/logic/homography"
)

// Header is the first line of every calibration file.
const Header = "# armcal homography v1"

var (
	// ErrNotFound indicates there is no calibration file at the path.
	ErrNotFound = errors.New("store: calibration not found")
	// ErrCorruptData indicates the file exists but does not hold a valid transform.
	ErrCorruptData = errors.New("store: corrupt calibration data")
)

// Encode writes t in the calibration file layout.
func Encode(w io.Writer, t homography.Transform) error {
	m := t.Matrix()
	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if c > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatFloat(m[r*3+c], 'e', 16, 64))
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Decode reads a transform written by Encode. Any deviation from the layout
// is reported as ErrCorruptData.
func Decode(r io.Reader) (homography.Transform, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return homography.Transform{}, fmt.Errorf("%w: %v", ErrCorruptData, err)
		}
		return homography.Transform{}, fmt.Errorf("%w: empty file", ErrCorruptData)
	}
	if strings.TrimSpace(sc.Text()) != Header {
		return homography.Transform{}, fmt.Errorf("%w: unexpected header %q", ErrCorruptData, sc.Text())
	}

	var values []float64
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return homography.Transform{}, fmt.Errorf("%w: row %d has %d values, want 3", ErrCorruptData, len(values)/3+1, len(fields))
		}
		if len(values) == 9 {
			return homography.Transform{}, fmt.Errorf("%w: more than 3 rows", ErrCorruptData)
		}
		for _, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return homography.Transform{}, fmt.Errorf("%w: %v", ErrCorruptData, err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return homography.Transform{}, fmt.Errorf("%w: non-finite value %q", ErrCorruptData, field)
			}
			values = append(values, v)
		}
	}
	if err := sc.Err(); err != nil {
		return homography.Transform{}, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if len(values) != 9 {
		return homography.Transform{}, fmt.Errorf("%w: got %d values, want 9", ErrCorruptData, len(values))
	}

	var m [9]float64
	copy(m[:], values)
	t, err := homography.NewTransform(m)
	if err != nil {
		return homography.Transform{}, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	return t, nil
}

// Save writes t to path, creating parent directories. The file is written
// next to path and renamed into place so a crash never leaves half a matrix.
func Save(t homography.Transform, path string) error {
	if t.IsZero() {
		return fmt.Errorf("save calibration: %w", homography.ErrInvalidMatrix)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".calibration-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, t); err != nil {
		tmp.Close()
		return fmt.Errorf("write calibration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close calibration: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename calibration: %w", err)
	}

	debug.Info("Calibration saved to %s", path)
	return nil
}

// Load reads the calibration at path. A missing file yields ErrNotFound,
// anything unreadable or malformed yields ErrCorruptData.
func Load(path string) (homography.Transform, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return homography.Transform{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return homography.Transform{}, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return homography.Transform{}, fmt.Errorf("load %s: %w", path, err)
	}
	debug.Info("Calibration loaded from %s", path)
	return t, nil
}
