package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := newHTTPMetrics(mp.Meter(httpInstrumentationName), nil)

	// Create Echo instance with middleware
	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "hello")
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/sessions/:id/messages", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	})

	// Make test requests
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sessions/abc/messages", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	// Collect metrics
	ctx := context.Background()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	// Check for expected metrics
	foundRequests := false
	foundDuration := false
	foundResponseSize := false

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "finchat.http.requests_total":
				foundRequests = true
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					total := int64(0)
					for _, dp := range sum.DataPoints {
						total += dp.Value
					}
					if total != 3 {
						t.Errorf("expected 3 requests, got %d", total)
					}
				}
			case "finchat.http.request_duration_seconds":
				foundDuration = true
				if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
					total := uint64(0)
					for _, dp := range hist.DataPoints {
						total += dp.Count
					}
					if total != 3 {
						t.Errorf("expected 3 duration recordings, got %d", total)
					}
				}
			case "finchat.http.response_size_bytes":
				foundResponseSize = true
			}
		}
	}

	if !foundRequests {
		t.Error("requests counter not found")
	}
	if !foundDuration {
		t.Error("duration histogram not found")
	}
	if !foundResponseSize {
		t.Error("response size histogram not found")
	}
}

func TestHTTPMetrics_RecordsErrorStatus(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newHTTPMetrics(mp.Meter(httpInstrumentationName), nil)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/sessions/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/abc", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "finchat.http.requests_total" {
				continue
			}
			sum := md.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				endpoint, _ := dp.Attributes.Value("endpoint")
				status, _ := dp.Attributes.Value("status")
				if endpoint.AsString() != "/api/v1/sessions/:id" || status.AsInt64() != http.StatusNotFound {
					t.Errorf("unexpected attributes: %v", dp.Attributes)
				}
			}
			return
		}
	}
	t.Error("requests counter not found")
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/*", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/sessions/:id/messages", "/api/v1/sessions/:id/messages"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
