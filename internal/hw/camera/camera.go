// Package camera provides frame sources for calibration.
package camera

import (
	"errors"
	"image"
)

// ErrClosed is returned by Frame after Close.
var ErrClosed = errors.New("camera: closed")

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract frame source, regardless of where the pixels
// come from (USB webcam, image file, network stream, etc.).
type Camera interface {
	// Frame returns the next image. Pixel (0, 0) is the top-left corner.
	Frame() (image.Image, error)
	Close() error
}
