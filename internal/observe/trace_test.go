package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer swaps the global tracer provider for one that records into
// memory. Tests using it must not run in parallel.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog points the default logger at a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestSessionFrom(t *testing.T) {
	if _, _, ok := SessionFrom(context.Background()); ok {
		t.Error("SessionFrom(background) reported tags")
	}
	ctx := WithSession(context.Background(), "note-7", "sess-1")
	note, sess, ok := SessionFrom(ctx)
	if !ok || note != "note-7" || sess != "sess-1" {
		t.Errorf("SessionFrom = (%q, %q, %v)", note, sess, ok)
	}
}

func TestStartSpan_SessionAttributes(t *testing.T) {
	exp := installTracer(t)

	ctx := WithSession(context.Background(), "note-7", "sess-1")
	ctx, span := StartSpan(ctx, "batch.unit")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan produced no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "batch.unit" {
		t.Fatalf("spans = %+v, want one batch.unit span", spans)
	}
	got := map[string]string{}
	for _, kv := range spans[0].Attributes {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got[string(AttrNoteID)] != "note-7" || got[string(AttrSessionID)] != "sess-1" {
		t.Errorf("span attributes = %v", got)
	}
}

func TestFailSpan(t *testing.T) {
	exp := installTracer(t)

	_, span := StartSpan(context.Background(), "op")
	FailSpan(span, nil)
	FailSpan(span, context.DeadlineExceeded)
	span.End()

	s := exp.GetSpans()[0]
	if s.Status.Description != context.DeadlineExceeded.Error() {
		t.Errorf("status = %+v", s.Status)
	}
	if len(s.Events) != 1 {
		t.Errorf("recorded %d error events, want 1", len(s.Events))
	}
}

func TestLogger(t *testing.T) {
	installTracer(t)

	tests := []struct {
		name    string
		ctx     func() (context.Context, func())
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     func() (context.Context, func()) { return context.Background(), func() {} },
			notWant: []string{"trace_id", "note_id"},
		},
		{
			name: "span only",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(context.Background(), "op")
				return ctx, func() { span.End() }
			},
			want:    []string{"trace_id=", "span_id="},
			notWant: []string{"note_id"},
		},
		{
			name: "session and span",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(WithSession(context.Background(), "n1", "s1"), "op")
				return ctx, func() { span.End() }
			},
			want: []string{"trace_id=", "note_id=n1", "session_id=s1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			ctx, done := tt.ctx()
			defer done()

			Logger(ctx).Info("segment appended")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q unexpectedly contains %q", out, w)
				}
			}
		})
	}
}
