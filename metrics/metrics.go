package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rackscan_sessions_total",
			Help: "Scan sessions by final outcome",
		},
		[]string{"outcome"}, // completed|cancelled|failed|unavailable
	)

	DecodesIgnoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rackscan_decodes_ignored_total",
			Help: "Decode events dropped by the scan session",
		},
		[]string{"reason"}, // inactive|duplicate|empty|symbology
	)

	CameraActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rackscan_camera_active",
			Help: "1 while the camera is powered for scanning",
		},
	)

	PermissionOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rackscan_permission_outcomes_total",
			Help: "Camera permission request outcomes",
		},
		[]string{"outcome"},
	)

	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rackscan_submissions_total",
			Help: "Vacancy submissions by result",
		},
		[]string{"result"}, // success|auth_failure|submission_failure
	)

	SubmissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rackscan_submission_duration_seconds",
			Help:    "Duration of the authenticate-and-submit round trip",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(DecodesIgnoredTotal)
	prometheus.MustRegister(CameraActive)
	prometheus.MustRegister(PermissionOutcomesTotal)
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(SubmissionDuration)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
