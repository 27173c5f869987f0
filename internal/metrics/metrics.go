// Package metrics exposes Prometheus counters for calibrations, conversions
// and HTTP requests.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cjeanneret/ArmCal/internal/logic/converter"
	"github.com/cjeanneret/ArmCal/internal/logic/homography"
)

// Result labels.
const (
	ResultOK              = "ok"
	ResultDegenerate      = "degenerate"
	ResultNotCalibrated   = "not_calibrated"
	ResultPointAtInfinity = "point_at_infinity"
	ResultError           = "error"
)

var (
	calibrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "armcal_calibrations_total",
		Help: "Calibration attempts by result.",
	}, []string{"result"})
	conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "armcal_conversions_total",
		Help: "Image to physical conversions by result.",
	}, []string{"result"})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "armcal_http_response_time_seconds",
		Help: "Duration of HTTP requests.",
	}, []string{"path"})
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "armcal_http_requests_total",
		Help: "Number of HTTP requests.",
	}, []string{"path"})
)

// Result maps an operation error to its label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, homography.ErrDegenerateConfiguration):
		return ResultDegenerate
	case errors.Is(err, converter.ErrNotCalibrated):
		return ResultNotCalibrated
	case errors.Is(err, homography.ErrPointAtInfinity):
		return ResultPointAtInfinity
	}
	return ResultError
}

// ObserveCalibration counts one calibration attempt.
func ObserveCalibration(err error) {
	calibrations.WithLabelValues(Result(err)).Inc()
}

// ObserveConversion counts one conversion.
func ObserveConversion(err error) {
	conversions.WithLabelValues(Result(err)).Inc()
}

// Middleware records request counts and durations per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		path := r.Pattern
		if path == "" {
			path = r.URL.Path
		}
		httpDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(path).Inc()
	})
}
