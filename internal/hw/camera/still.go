package camera

import (
	"fmt"
	"image"
	"os"

	// Decoders for the still formats the rig has produced so far.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/cjeanneret/ArmCal/internal/debug"
)

// Still serves an image file as a camera. The file is decoded on every
// Frame, so replacing it on disk changes what the next frame shows.
type Still struct {
	path   string
	closed bool
}

// NewStill checks that path decodes as an image and returns a Still for it.
func NewStill(path string) (*Still, error) {
	s := &Still{path: path}
	img, err := s.decode()
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	debug.Info("Still camera on %s (%dx%d)", path, b.Dx(), b.Dy())
	return s, nil
}

// Frame decodes the file.
func (s *Still) Frame() (image.Image, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.decode()
}

// Close marks the camera closed.
func (s *Still) Close() error {
	s.closed = true
	return nil
}

func (s *Still) decode() (image.Image, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open still image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	debug.Trace("Decoded %s frame from %s", format, s.path)
	return img, nil
}
