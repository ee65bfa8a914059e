package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthChecker_Aggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"all healthy", []string{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []string{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"one unhealthy", []string{StatusDegraded, StatusUnhealthy}, StatusUnhealthy},
		{"unknown status", []string{"weird"}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("svc", "v1")
			for i, s := range tt.statuses {
				status := s
				hc.AddCheck(string(rune('a'+i)), func() CheckResult { return CheckResult{Status: status} })
			}
			if got := hc.CheckHealth().Status; got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestHealthChecker_HandlerStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("redis", PingHealthCheck("redis", fakePinger{err: errors.New("down")}))

	r := gin.New()
	r.GET("/health", hc.Handler())
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestPingHealthCheck(t *testing.T) {
	if res := PingHealthCheck("redis", fakePinger{})(); res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", res)
	}
	if res := PingHealthCheck("redis", nil)(); res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy for nil client, got %+v", res)
	}
}

func TestHTTPServiceHealthCheck(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }))
	defer s.Close()
	if res := HTTPServiceHealthCheck("guddesk", s.URL)(); res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", res)
	}
}

func TestConfigurationHealthChecks(t *testing.T) {
	cfg := map[string]string{"GUDDESK_URL": "http://x", "GUDDESK_API_KEY": ""}
	if res := ConfigurationHealthCheck(cfg)(); res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %+v", res)
	}
	if res := OptionalConfigurationHealthCheck(cfg)(); res.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %+v", res)
	}
}

func TestCountHealthCheck(t *testing.T) {
	n := 0
	check := CountHealthCheck("sections", func() int { return n })
	if res := check(); res.Status != StatusDegraded {
		t.Fatalf("expected degraded for empty, got %+v", res)
	}
	n = 12
	if res := check(); res.Status != StatusHealthy || res.Message != "12 sections loaded" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFailingHealthCheck(t *testing.T) {
	var failing []string
	check := FailingHealthCheck("knowledge sources", func() []string { return failing })
	if res := check(); res.Status != StatusHealthy || res.Message != "all knowledge sources ok" {
		t.Fatalf("unexpected result %+v", res)
	}
	failing = []string{"remote"}
	if res := check(); res.Status != StatusDegraded || res.Message != "knowledge sources failing: [remote]" {
		t.Fatalf("unexpected result %+v", res)
	}
}
