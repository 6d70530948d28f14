package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/taoyao-code/vndstream/internal/config"
	"github.com/taoyao-code/vndstream/internal/health"
	appmetrics "github.com/taoyao-code/vndstream/internal/metrics"
	"github.com/taoyao-code/vndstream/internal/stream"
)

func get(s *Server, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthzReadyzMetricsStats(t *testing.T) {
	cfg := cfgpkg.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second}
	reg := appmetrics.NewRegistry()
	appmetrics.NewStreamMetrics(reg)
	srv := New(cfg, Routes{
		MetricsPath:    "/metrics",
		MetricsHandler: appmetrics.Handler(reg),
		Ready:          func() bool { return true },
		Stats: func() any {
			return stream.Snapshot{Pairs: stream.PairState{PairsCompleted: 42}, Session: "idle"}
		},
	})

	if rr := get(srv, "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("/healthz code=%d", rr.Code)
	}
	if rr := get(srv, "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("/readyz code=%d", rr.Code)
	}
	rr := get(srv, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics code=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "vnd_pairs_completed_total") {
		t.Fatalf("/metrics missing stream metrics")
	}
	rr = get(srv, "/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("/stats code=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"pairs_completed":42`) {
		t.Fatalf("/stats body=%s", rr.Body.String())
	}
}

func TestReadyzNotReady(t *testing.T) {
	cfg := cfgpkg.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second}
	srv := New(cfg, Routes{Ready: func() bool { return false }})

	if rr := get(srv, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz not-ready code=%d", rr.Code)
	}
	if rr := get(srv, "/stats"); rr.Code != http.StatusNotFound {
		t.Fatalf("/stats without provider code=%d", rr.Code)
	}
}

type staticChecker health.Status

func (s staticChecker) Name() string { return "device" }
func (s staticChecker) Check(context.Context) health.CheckResult {
	return health.CheckResult{Status: health.Status(s)}
}

func TestReadyzFollowsHealth(t *testing.T) {
	cfg := cfgpkg.HTTPConfig{Addr: ":0"}
	agg := health.NewAggregator(staticChecker(health.StatusUnhealthy))
	srv := New(cfg, Routes{Ready: func() bool { return true }, Health: agg})

	if rr := get(srv, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz with unhealthy check code=%d", rr.Code)
	}
	rr := get(srv, "/health")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), `"device"`) {
		t.Fatalf("/health code=%d body=%s", rr.Code, rr.Body.String())
	}

	srv = New(cfg, Routes{Health: health.NewAggregator(staticChecker(health.StatusDegraded))})
	if rr := get(srv, "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("/readyz degraded code=%d", rr.Code)
	}
}
