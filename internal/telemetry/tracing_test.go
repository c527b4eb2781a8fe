package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("init tracer: %v", err)
	}
	if tp.Enabled() {
		t.Fatal("expected no exporting provider when tracing is disabled")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "relaydesk/test", "session.create")
	defer span.End()
	if ctx == nil {
		t.Fatal("expected a context from StartSpan")
	}
	if span.SpanContext().IsSampled() {
		t.Fatal("noop spans must not be sampled")
	}

	// Attribute and error helpers must accept a noop span.
	AddSpanAttributes(span, map[string]any{"session_code": "123456789", "port": 50000, "live": true})
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
}

func TestSamplerFor(t *testing.T) {
	cases := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.5, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tc := range cases {
		desc := samplerFor(tc.rate).Description()
		if !strings.HasPrefix(desc, "ParentBased") || !strings.Contains(desc, tc.want) {
			t.Errorf("rate %v: expected parent based %s, got %q", tc.rate, tc.want, desc)
		}
	}
}
