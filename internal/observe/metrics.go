// Package observe carries scribe's observability: OpenTelemetry metrics and
// traces, trace-aware slog loggers, and the HTTP middleware that ties them to
// requests.
//
// [InitProvider] bridges the metrics to a Prometheus registry for the
// /metrics endpoint. Library code records through [DefaultMetrics]; tests
// build an isolated set with [NewMetrics] over their own meter provider.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/scribe"

// Provider kinds used as the "kind" attribute.
const (
	KindSTT = "stt"
	KindLLM = "llm"
)

// Metrics is the set of instruments scribe records on.
type Metrics struct {
	// ── Providers ──

	// STTDuration and LLMDuration hold per-call provider latency.
	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram

	// ProviderRequests is keyed by provider, kind and status ("ok"/"error").
	ProviderRequests metric.Int64Counter
	// ProviderErrors is keyed by provider and kind.
	ProviderErrors metric.Int64Counter

	// DiarizeFallbacks counts LLM answers discarded in favour of the plain
	// transcript, keyed by reason.
	DiarizeFallbacks metric.Int64Counter

	// ── Transcript engine ──

	LinesParsed      metric.Int64Counter // by line kind
	SegmentsAppended metric.Int64Counter
	SpeakersCreated  metric.Int64Counter

	// ── Sessions and batches ──

	ActiveSessions metric.Int64UpDownCounter
	UnitsProcessed metric.Int64Counter // by status
	UnitDuration   metric.Float64Histogram

	// ── HTTP ──

	// HTTPRequestDuration is keyed by method, route pattern and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are in seconds. A long recording part can sit in STT for
// minutes.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// instruments creates instruments on one meter and keeps the first error per
// instrument, so NewMetrics can report every failure at once.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) histogram(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.note(name, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.note(name, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.note(name, err)
	return g
}

func (b *instruments) note(name string, err error) {
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s: %w", name, err))
	}
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		STTDuration:      b.histogram("scribe.stt.duration", "Latency of speech-to-text calls.", latencyBuckets...),
		LLMDuration:      b.histogram("scribe.llm.duration", "Latency of diarization LLM calls.", latencyBuckets...),
		ProviderRequests: b.counter("scribe.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:   b.counter("scribe.provider.errors", "Failed provider calls by provider and kind."),
		DiarizeFallbacks: b.counter("scribe.diarize.fallbacks", "Diarization answers replaced by the plain transcript, by reason."),

		LinesParsed:      b.counter("scribe.lines.parsed", "Transcript lines by classification."),
		SegmentsAppended: b.counter("scribe.segments.appended", "Segments appended to sessions."),
		SpeakersCreated:  b.counter("scribe.speakers.created", "Speaker identities created."),

		ActiveSessions: b.gauge("scribe.active_sessions", "Open transcript sessions."),
		UnitsProcessed: b.counter("scribe.units.processed", "Batch units by outcome."),
		UnitDuration:   b.histogram("scribe.unit.duration", "End-to-end latency of one batch unit.", latencyBuckets...),

		HTTPRequestDuration: b.histogram("scribe.http.request.duration", "HTTP request latency by method, route and status."),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("observe: metrics: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use
// from [otel.GetMeterProvider]. Call [InitProvider] before it if the metrics
// should reach Prometheus.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderCall records one provider call: its latency on the kind's
// histogram, the request counter, and on failure the error counter.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind string, d time.Duration, err error) {
	switch kind {
	case KindSTT:
		m.STTDuration.Record(ctx, d.Seconds())
	case KindLLM:
		m.LLMDuration.Record(ctx, d.Seconds())
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status),
	))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
}

// RecordDiarizeFallback counts a discarded diarization answer.
func (m *Metrics) RecordDiarizeFallback(ctx context.Context, reason string) {
	m.DiarizeFallbacks.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordLine counts one classified transcript line.
func (m *Metrics) RecordLine(ctx context.Context, kind string) {
	m.LinesParsed.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordUnit records the outcome and latency of one batch unit.
func (m *Metrics) RecordUnit(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(Attr("status", status))
	m.UnitsProcessed.Add(ctx, 1, attrs)
	m.UnitDuration.Record(ctx, d.Seconds(), attrs)
}
