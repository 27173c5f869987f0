package workflow

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
)

// ErrBadPoint indicates a line that is not two finite numbers.
var ErrBadPoint = errors.New("workflow: expected two numbers")

// Prompter asks the operator for one coordinate pair.
type Prompter interface {
	Point(label string) (geometry.Point2D, error)
}

// ParsePoint reads "x y" or "x,y".
func ParsePoint(line string) (geometry.Point2D, error) {
	fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
	if len(fields) != 2 {
		return geometry.Point2D{}, fmt.Errorf("%w: %q", ErrBadPoint, line)
	}
	var v [2]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return geometry.Point2D{}, fmt.Errorf("%w: %q", ErrBadPoint, line)
		}
		v[i] = n
	}
	return geometry.Point2D{X: v[0], Y: v[1]}, nil
}

// ConsolePrompter reads coordinate pairs line by line. A malformed line is
// reported on out and asked again.
type ConsolePrompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewConsolePrompter prompts on out and reads answers from in.
func NewConsolePrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{in: bufio.NewScanner(in), out: out}
}

// Point implements Prompter. It returns io.ErrUnexpectedEOF when input ends
// before a valid pair is read.
func (c *ConsolePrompter) Point(label string) (geometry.Point2D, error) {
	for {
		fmt.Fprintf(c.out, "%s: ", label)
		if !c.in.Scan() {
			if err := c.in.Err(); err != nil {
				return geometry.Point2D{}, err
			}
			return geometry.Point2D{}, io.ErrUnexpectedEOF
		}
		p, err := ParsePoint(c.in.Text())
		if err == nil {
			return p, nil
		}
		fmt.Fprintf(c.out, "  %v, try again\n", err)
	}
}
