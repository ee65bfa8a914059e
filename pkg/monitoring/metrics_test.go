package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsCollectorRecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry("gud-agent", "v1", "abc", reg, reg)
	hooks := mc.NewCounter("webhooks_total", "webhooks", []string{"event"})
	hooks.WithLabelValues("message.created").Inc()

	r := gin.New()
	r.Use(mc.MetricsMiddleware())
	r.GET("/metrics", mc.Handler())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for _, path := range []string{"/ping", "/metrics"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		if path != "/metrics" {
			continue
		}
		body := w.Body.String()
		for _, want := range []string{
			`gud_agent_http_requests_total{endpoint="/ping",method="GET",status="200"} 1`,
			`gud_agent_webhooks_total{event="message.created"} 1`,
			`gud_agent_service_info{commit="abc",version="v1"} 1`,
		} {
			if !strings.Contains(body, want) {
				t.Fatalf("expected %q in metrics output:\n%s", want, body)
			}
		}
	}
}
