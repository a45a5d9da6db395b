package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/CodingButter/team-dashboard-sub004/internal/bus"
	"github.com/CodingButter/team-dashboard-sub004/pkg/config"
	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
	"github.com/CodingButter/team-dashboard-sub004/pkg/transport"
)

func newTestService(t *testing.T) *bus.Service {
	t.Helper()

	cfg := config.DefaultSystemConfig()
	cfg.Audit.LogEvents = false

	service, err := bus.New(&cfg, logging.NewNop(),
		bus.WithTransport(transport.NewMemoryTransport()))
	if err != nil {
		t.Fatalf("bus.New failed: %v", err)
	}
	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if err := service.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return service
}

func TestMetricsServedOnDedicatedPort(t *testing.T) {
	service := newTestService(t)

	metricsSrv := NewMetricsServer(service, 9191)
	if metricsSrv.Addr != ":9191" {
		t.Errorf("Expected the configured metrics port, got %s", metricsSrv.Addr)
	}

	rec := httptest.NewRecorder()
	metricsSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from the scrape endpoint, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("Expected Prometheus exposition output")
	}
}

func TestAPIRouterDoesNotExposeMetrics(t *testing.T) {
	service := newTestService(t)
	server := NewServer(service, logging.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected scraping to stay off the api listener, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from healthz, got %d", rec.Code)
	}
}
