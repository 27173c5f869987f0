package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/ArmCal/internal/debug"
	"github.com/cjeanneret/ArmCal/internal/logic/acquisition"
	"github.com/cjeanneret/ArmCal/internal/logic/board"
	"github.com/cjeanneret/ArmCal/internal/logic/converter"
	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
	"github.com/cjeanneret/ArmCal/internal/logic/homography"
	"github.com/cjeanneret/ArmCal/internal/logic/workflow"
	"github.com/cjeanneret/ArmCal/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// CalibrationInfo is the GET /calibration response.
type CalibrationInfo struct {
	State  string      `json:"state"`
	Matrix *[9]float64 `json:"matrix,omitempty"` // row-major, h22 = 1
	Path   string      `json:"path,omitempty"`
}

// CalibrateRequest is the POST /calibrate body.
type CalibrateRequest struct {
	Points []geometry.Correspondence `json:"points"`
}

// BoardRequest is the POST /board body: the four outer corners of the
// playing board in pixels, in any order.
type BoardRequest struct {
	Corners []geometry.ImagePoint `json:"corners"`
}

// Intersection is the GET /board/{row}/{col} response.
type Intersection struct {
	Row      int                    `json:"row"`
	Col      int                    `json:"col"`
	Image    geometry.ImagePoint    `json:"image"`
	Physical geometry.PhysicalPoint `json:"physical"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Session     *workflow.Session
	GridLines   int // lines per side of the playing board

	boardMu sync.Mutex
	lattice *board.Lattice
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, session *workflow.Session, gridLines int) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Session:     session,
		GridLines:   gridLines,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, converter.ErrNotCalibrated):
		return http.StatusConflict
	case errors.Is(err, homography.ErrDegenerateConfiguration),
		errors.Is(err, homography.ErrPointAtInfinity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, board.ErrOutOfBoard):
		return http.StatusNotFound
	case errors.Is(err, acquisition.ErrSourceFull),
		errors.Is(err, workflow.ErrIncomplete),
		errors.Is(err, board.ErrTooFewLines):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handlers) calibrationInfo() CalibrationInfo {
	info := CalibrationInfo{State: h.Session.State().String(), Path: h.Session.Path()}
	if t, ok := h.Session.Transform(); ok {
		m := t.Matrix()
		info.Matrix = &m
	}
	return info
}

// HandleCalibration returns the calibration state and matrix as JSON.
func (h *Handlers) HandleCalibration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.calibrationInfo())
}

// HandleCalibrationFile serves the active calibration in the on-disk format.
func (h *Handlers) HandleCalibrationFile(w http.ResponseWriter, r *http.Request) {
	t, ok := h.Session.Transform()
	if !ok {
		http.Error(w, converter.ErrNotCalibrated.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="homography.txt"`)
	if err := store.Encode(w, t); err != nil {
		debug.Error(err)
	}
}

// HandleCalibrate handles POST /calibrate with exactly four correspondences.
func (h *Handlers) HandleCalibrate(w http.ResponseWriter, r *http.Request) {
	var req CalibrateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m := acquisition.NewManual()
	for _, c := range req.Points {
		if !geometry.Point2D(c.Image).IsFinite() || !geometry.Point2D(c.Physical).IsFinite() {
			http.Error(w, "coordinates must be finite", http.StatusBadRequest)
			return
		}
		if err := m.AddImagePoint(c.Image); err != nil {
			http.Error(w, fmt.Sprintf("exactly %d points are required", acquisition.Required), errorStatus(err))
			return
		}
		if err := m.AddPhysicalPoint(c.Physical); err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
	}

	if err := h.Session.Commit(m); err != nil {
		status := errorStatus(err)
		if errors.Is(err, workflow.ErrIncomplete) {
			http.Error(w, fmt.Sprintf("exactly %d points are required", acquisition.Required), status)
			return
		}
		h.Broadcaster.Broadcast("error", "Calibration failed: "+err.Error())
		http.Error(w, err.Error(), status)
		return
	}

	h.Broadcaster.BroadcastMsg("Calibrated from web points")
	writeJSON(w, http.StatusOK, h.calibrationInfo())
}

// HandleConvert handles POST /convert: {"x": column, "y": row}.
func (h *Handlers) HandleConvert(w http.ResponseWriter, r *http.Request) {
	var p geometry.ImagePoint
	if !decodeJSON(w, r, &p) {
		return
	}
	if !geometry.Point2D(p).IsFinite() {
		http.Error(w, "coordinates must be finite", http.StatusBadRequest)
		return
	}
	q, err := h.Session.Convert(p)
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// HandleProject handles POST /project: physical {"x","y"} to pixel.
func (h *Handlers) HandleProject(w http.ResponseWriter, r *http.Request) {
	var p geometry.PhysicalPoint
	if !decodeJSON(w, r, &p) {
		return
	}
	if !geometry.Point2D(p).IsFinite() {
		http.Error(w, "coordinates must be finite", http.StatusBadRequest)
		return
	}
	px, err := h.Session.Project(p)
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, px)
}

// HandleBoard handles POST /board: fits the playing board lattice.
func (h *Handlers) HandleBoard(w http.ResponseWriter, r *http.Request) {
	var req BoardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Corners) != 4 {
		http.Error(w, "exactly 4 board corners are required", http.StatusBadRequest)
		return
	}
	var corners [4]geometry.ImagePoint
	copy(corners[:], req.Corners)

	l, err := board.NewLattice(h.GridLines, corners)
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	h.boardMu.Lock()
	h.lattice = l
	h.boardMu.Unlock()

	debug.Info("Board lattice set (%d lines)", l.Lines())
	writeJSON(w, http.StatusOK, map[string]any{"lines": l.Lines(), "corners": board.OrderCorners(corners)})
}

// HandleIntersection handles GET /board/{row}/{col}.
func (h *Handlers) HandleIntersection(w http.ResponseWriter, r *http.Request) {
	row, err1 := strconv.Atoi(r.PathValue("row"))
	col, err2 := strconv.Atoi(r.PathValue("col"))
	if err1 != nil || err2 != nil {
		http.Error(w, "row and col must be integers", http.StatusBadRequest)
		return
	}

	h.boardMu.Lock()
	l := h.lattice
	h.boardMu.Unlock()
	if l == nil {
		http.Error(w, "board corners not set", http.StatusConflict)
		return
	}

	px, err := l.ImagePoint(row, col)
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	phys, err := h.Session.Convert(px)
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, Intersection{Row: row, Col: col, Image: px, Physical: phys})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
