package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

func TestInitProvider_ExposesPrometheusMetrics(t *testing.T) {
	origMP := otel.GetMeterProvider()
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test", Registry: reg})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordReset(ctx)

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "improvbattle_resets") {
		t.Errorf("scrape output missing improvbattle_resets:\n%s", body)
	}
}

func TestInitProvider_OTLPEndpoint(t *testing.T) {
	origMP := otel.GetMeterProvider()
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:  "improvbattle-test",
		OTLPEndpoint: "http://127.0.0.1:4318/v1/traces",
		Registry:     prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	// Nothing was exported, so shutdown has nothing to flush.
	_ = shutdown(ctx)
}
