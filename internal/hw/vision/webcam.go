// Package vision holds the OpenCV-backed pieces: live webcam capture and
// chessboard corner detection. Everything else in ArmCal works on
// image.Image and never touches gocv.
package vision

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/cjeanneret/ArmCal/internal/debug"
)

// ErrNoFrame indicates the capture device returned nothing.
var ErrNoFrame = errors.New("vision: no frame from capture device")

// Webcam reads frames from a video device through OpenCV.
type Webcam struct {
	device  int
	capture *gocv.VideoCapture
	frame   gocv.Mat
}

// OpenWebcam opens video device index device.
func OpenWebcam(device int) (*Webcam, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open video device %d: %w", device, err)
	}
	// Keep only the latest frame so detection never lags behind the board.
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	debug.Info("Webcam %d opened", device)
	return &Webcam{device: device, capture: capture, frame: gocv.NewMat()}, nil
}

// Frame grabs the next frame.
func (w *Webcam) Frame() (image.Image, error) {
	if ok := w.capture.Read(&w.frame); !ok || w.frame.Empty() {
		return nil, fmt.Errorf("%w (device %d)", ErrNoFrame, w.device)
	}
	img, err := w.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// Close releases the device.
func (w *Webcam) Close() error {
	debug.Trace("Webcam %d closed", w.device)
	if err := w.frame.Close(); err != nil {
		return err
	}
	return w.capture.Close()
}
