package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/logging"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("WIFISIM_TRACING_ENABLED", "TRUE")
	t.Setenv("WIFISIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("WIFISIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("WIFISIM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("TracingConfigFromEnv = %+v", cfg)
	}
	if cfg.ServiceName != "wifisim" {
		t.Fatalf("ServiceName = %q, want wifisim", cfg.ServiceName)
	}

	t.Setenv("WIFISIM_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("out-of-range ratio = %v, want fallback 1", got)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartSpan(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("disabled tracing produced a valid span context")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "wifisim-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		RunID:       "run-42",
		Scenario:    "saturation",
		Writer:      &buf,
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() { _, _ = InitTracing(context.Background(), TracingConfig{}, nil) })

	ctx := logging.ContextWithRunID(context.Background(), "run-42")
	_, span := StartSpan(ctx, "simulation.run")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	out := buf.String()
	if !strings.Contains(out, "simulation.run") || !strings.Contains(out, "run-42") {
		t.Fatalf("exported spans missing name or run_id:\n%s", out)
	}
	if !strings.Contains(out, "wifisim.scenario") || !strings.Contains(out, "saturation") || !strings.Contains(out, "wifisim.run_id") {
		t.Fatalf("exported resource missing run attributes:\n%s", out)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("InitTracing with unknown exporter succeeded")
	}
}

func TestResourceAttributesOmitUnsetRunFields(t *testing.T) {
	attrs := TracingConfig{ServiceName: "wifisim"}.resourceAttributes()
	if len(attrs) != 2 {
		t.Fatalf("attributes = %v, want service name and namespace only", attrs)
	}
	attrs = TracingConfig{ServiceName: "wifisim", RunID: "r1", Scenario: "roaming"}.resourceAttributes()
	got := map[string]string{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got["wifisim.run_id"] != "r1" || got["wifisim.scenario"] != "roaming" {
		t.Fatalf("attributes = %v", got)
	}
}
