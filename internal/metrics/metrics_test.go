package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Logins.WithLabelValues(LoginSuccess).Inc()
	m.Logins.WithLabelValues(LoginFailure).Add(2)
	m.Uploads.Inc()
	m.UploadBytes.Add(512)

	if got := testutil.ToFloat64(m.Logins.WithLabelValues(LoginFailure)); got != 2 {
		t.Errorf("failed logins = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.UploadBytes); got != 512 {
		t.Errorf("upload bytes = %v, want 512", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Requests.WithLabelValues("/upload", http.MethodPost, "303").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`shotomatic_http_requests_total{code="303",method="POST",route="/upload"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Uploads.Inc()
	if got := testutil.ToFloat64(b.Uploads); got != 0 {
		t.Errorf("second registry saw %v uploads, want 0", got)
	}
}
