package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/miradorstack/defect-analyzer/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(config.TracingConfig{}, "test", &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupExportsSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var buf bytes.Buffer
	shutdown, err := Setup(config.TracingConfig{Enabled: true, ServiceName: "defect-analyzer", SampleRatio: 1}, "test", &buf, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "analysis.correlation")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "analysis.correlation") {
		t.Fatalf("expected exported span, got %q", buf.String())
	}
}
