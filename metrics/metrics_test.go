package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_BasicRegistration(t *testing.T) {
	tests := []struct{ name string }{
		{name: "registered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if SessionsTotal == nil || DecodesIgnoredTotal == nil || CameraActive == nil {
				t.Fatalf("session collectors are nil")
			}
			if SubmissionsTotal == nil || SubmissionDuration == nil || PermissionOutcomesTotal == nil {
				t.Fatalf("submission collectors are nil")
			}
		})
	}
}

func TestMetrics_SubmissionsTotal(t *testing.T) {
	tests := []struct {
		name  string
		label string
		incN  int
	}{
		{name: "success label", label: "success", incN: 1},
		{name: "auth failure label", label: "auth_failure", incN: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(SubmissionsTotal.WithLabelValues(tt.label))
			for i := 0; i < tt.incN; i++ {
				SubmissionsTotal.WithLabelValues(tt.label).Inc()
			}
			after := testutil.ToFloat64(SubmissionsTotal.WithLabelValues(tt.label))
			diff := after - before
			if diff != float64(tt.incN) {
				t.Fatalf("counter diff mismatch\nexpected: %#v\nactual: %#v", float64(tt.incN), diff)
			}
		})
	}
}

func TestMetrics_SubmissionDuration(t *testing.T) {
	tests := []struct {
		name    string
		observe float64
	}{
		{name: "small", observe: 0.1},
		{name: "large", observe: 3.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SubmissionDuration.Observe(tt.observe)
			count := testutil.CollectAndCount(SubmissionDuration)
			assert.Greater(t, count, 0, "histogram not collected; count=%#v", count)
		})
	}
}

func TestRegister_ServesMetrics(t *testing.T) {
	CameraActive.Set(1)
	defer CameraActive.Set(0)

	mux := http.NewServeMux()
	Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rackscan_camera_active 1"), "gauge missing from exposition")
}
