package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracer(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var out bytes.Buffer
	shutdown, err := InitTracer("deployhook-test", "v0.0.0", &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "deployment.pull")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "deployment.pull") {
		t.Errorf("exported spans = %q, want deployment.pull", got)
	}
	if !strings.Contains(got, "deployhook-test") {
		t.Errorf("exported spans missing service name: %q", got)
	}
}
