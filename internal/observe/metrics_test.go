package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// snapshot collects everything the reader holds, indexed by metric name.
func snapshot(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			out[met.Name] = met.Data
		}
	}
	return out
}

func matches(set attribute.Set, want map[string]string) bool {
	for k, v := range want {
		got, ok := set.Value(attribute.Key(k))
		if !ok || got.AsString() != v {
			return false
		}
	}
	return true
}

// sumOf adds up the data points of an int64 sum whose attributes include want.
func sumOf(t *testing.T, snap map[string]metricdata.Aggregation, name string, want map[string]string) int64 {
	t.Helper()
	sum, ok := snap[name].(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: got %T, want int64 sum", name, snap[name])
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if matches(dp.Attributes, want) {
			total += dp.Value
		}
	}
	return total
}

// countOf adds up the sample counts of a histogram whose attributes include want.
func countOf(t *testing.T, snap map[string]metricdata.Aggregation, name string, want map[string]string) uint64 {
	t.Helper()
	hist, ok := snap[name].(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("%s: got %T, want float64 histogram", name, snap[name])
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		if matches(dp.Attributes, want) {
			total += dp.Count
		}
	}
	return total
}

func TestRecordProviderCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderCall(ctx, "whisper", KindSTT, 2*time.Second, nil)
	m.RecordProviderCall(ctx, "whisper", KindSTT, time.Second, errors.New("503"))
	m.RecordProviderCall(ctx, "openai", KindLLM, 500*time.Millisecond, nil)

	snap := snapshot(t, reader)
	tests := []struct {
		name   string
		metric string
		attrs  map[string]string
		want   int64
	}{
		{"stt ok", "scribe.provider.requests", map[string]string{"provider": "whisper", "status": "ok"}, 1},
		{"stt error", "scribe.provider.requests", map[string]string{"provider": "whisper", "status": "error"}, 1},
		{"llm ok", "scribe.provider.requests", map[string]string{"kind": KindLLM, "status": "ok"}, 1},
		{"stt errors", "scribe.provider.errors", map[string]string{"provider": "whisper", "kind": KindSTT}, 1},
		{"no llm errors", "scribe.provider.errors", map[string]string{"kind": KindLLM}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sumOf(t, snap, tt.metric, tt.attrs); got != tt.want {
				t.Errorf("%s%v = %d, want %d", tt.metric, tt.attrs, got, tt.want)
			}
		})
	}

	if got := countOf(t, snap, "scribe.stt.duration", nil); got != 2 {
		t.Errorf("stt samples = %d, want 2", got)
	}
	if got := countOf(t, snap, "scribe.llm.duration", nil); got != 1 {
		t.Errorf("llm samples = %d, want 1", got)
	}
}

func TestRecordLineAndFallback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	for _, kind := range []string{"full_match", "full_match", "unrecognized"} {
		m.RecordLine(ctx, kind)
	}
	m.RecordDiarizeFallback(ctx, "coverage")

	snap := snapshot(t, reader)
	if got := sumOf(t, snap, "scribe.lines.parsed", map[string]string{"kind": "full_match"}); got != 2 {
		t.Errorf("full_match = %d, want 2", got)
	}
	if got := sumOf(t, snap, "scribe.lines.parsed", map[string]string{"kind": "unrecognized"}); got != 1 {
		t.Errorf("unrecognized = %d, want 1", got)
	}
	if got := sumOf(t, snap, "scribe.diarize.fallbacks", map[string]string{"reason": "coverage"}); got != 1 {
		t.Errorf("coverage fallbacks = %d, want 1", got)
	}
}

func TestRecordUnit(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUnit(ctx, "ok", 3*time.Second)
	m.RecordUnit(ctx, "error", time.Second)
	m.RecordUnit(ctx, "ok", time.Second)

	snap := snapshot(t, reader)
	if got := sumOf(t, snap, "scribe.units.processed", map[string]string{"status": "ok"}); got != 2 {
		t.Errorf("ok units = %d, want 2", got)
	}
	if got := countOf(t, snap, "scribe.unit.duration", nil); got != 3 {
		t.Errorf("unit duration samples = %d, want 3", got)
	}
	if got := countOf(t, snap, "scribe.unit.duration", map[string]string{"status": "error"}); got != 1 {
		t.Errorf("error unit samples = %d, want 1", got)
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	if got := sumOf(t, snapshot(t, reader), "scribe.active_sessions", nil); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestHTTPRequestDuration_Route(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05)

	if got := countOf(t, snapshot(t, reader), "scribe.http.request.duration", nil); got != 1 {
		t.Errorf("samples = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
