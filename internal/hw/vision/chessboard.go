package vision

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/cjeanneret/ArmCal/internal/debug"
	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
)

// ChessboardDetector finds the inner corners of a chessboard pattern.
type ChessboardDetector struct {
	Flags gocv.CalibCBFlag
}

// NewChessboardDetector returns a detector with OpenCV's default flags.
func NewChessboardDetector() *ChessboardDetector {
	return &ChessboardDetector{Flags: gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage}
}

// DetectGrid returns the inner corners row by row, left to right within a
// row, as OpenCV orders them. ok is false when the full grid is not found.
func (d *ChessboardDetector) DetectGrid(frame image.Image, size geometry.GridSize) ([]geometry.ImagePoint, bool) {
	src, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		debug.Error(err)
		return nil, false
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	corners := gocv.NewMat()
	defer corners.Close()
	if !gocv.FindChessboardCorners(gray, image.Pt(size.Columns, size.Rows), &corners, d.Flags) {
		return nil, false
	}
	if corners.Rows() != size.Count() {
		debug.Verbose("Chessboard: got %d corners, want %d", corners.Rows(), size.Count())
		return nil, false
	}

	pts := make([]geometry.ImagePoint, corners.Rows())
	for i := range pts {
		v := corners.GetVecfAt(i, 0)
		pts[i] = geometry.Pixel(float64(v[0]), float64(v[1]))
	}
	debug.Live("Chessboard %s detected", size)
	return pts, true
}
