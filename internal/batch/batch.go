// Package batch drives a transcript session through an ordered list of source
// units, typically the split parts of one long recording.
//
// Units are processed strictly one after another against the same
// [transcript.Session], so speaker identities and the last-good timestamp
// carry over from one unit to the next. A unit that fails is logged, recorded
// in the [Report], announced through the progress callback and skipped; the
// run always continues with the next unit.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/pkg/types"
)

// ErrEmptyTranscript is reported for a unit whose transcription produced no
// text at all.
var ErrEmptyTranscript = errors.New("batch: empty transcript")

// Unit is one source unit of a batch.
type Unit struct {
	// ID identifies the unit within the batch. It is copied onto every
	// segment the unit produces.
	ID string `json:"id"`

	// Name is a human readable label, usually the file name.
	Name string `json:"name,omitempty"`

	// Path locates the unit's content for the transcriber.
	Path string `json:"path"`
}

func (u Unit) label() string {
	if u.Name != "" {
		return u.Name
	}
	if u.ID != "" {
		return u.ID
	}
	return u.Path
}

// Transcriber turns one unit into raw line-oriented model output. known holds
// the session's speakers at the time of the call.
type Transcriber interface {
	Transcribe(ctx context.Context, unit Unit, known []types.Speaker) (string, error)
}

// TranscriberFunc adapts a function to [Transcriber].
type TranscriberFunc func(ctx context.Context, unit Unit, known []types.Speaker) (string, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, unit Unit, known []types.Speaker) (string, error) {
	return f(ctx, unit, known)
}

// EventKind tags a [ProgressEvent].
type EventKind int

// Event kinds, in the order they occur for one unit.
const (
	EventUnitStarted EventKind = iota
	EventUnitDone
	EventUnitFailed
	EventBatchComplete
)

// String returns the event name used in logs and JSON.
func (k EventKind) String() string {
	switch k {
	case EventUnitStarted:
		return "unit_started"
	case EventUnitDone:
		return "unit_done"
	case EventUnitFailed:
		return "unit_failed"
	case EventBatchComplete:
		return "batch_complete"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ProgressEvent reports batch progress. Index is zero-based; Total is the
// number of units in the batch.
type ProgressEvent struct {
	Kind     EventKind `json:"kind"`
	Unit     Unit      `json:"unit"`
	Index    int       `json:"index"`
	Total    int       `json:"total"`
	Segments int       `json:"segments,omitempty"`
	Err      error     `json:"-"`
}

// ProgressFunc receives progress events. It is called synchronously from the
// goroutine running the batch.
type ProgressFunc func(ProgressEvent)

// Status is the terminal state of a batch run.
type Status string

// StatusComplete is reported once every unit was attempted.
const StatusComplete Status = "complete"

// UnitFailure describes one skipped unit.
type UnitFailure struct {
	Unit  Unit   `json:"unit"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// Report summarises a batch run.
type Report struct {
	Status      Status        `json:"status"`
	Units       int           `json:"units"`
	Succeeded   int           `json:"succeeded"`
	Failed      []UnitFailure `json:"failed"`
	Segments    int           `json:"segments"`
	Speakers    int           `json:"speakers_created"`
	Diagnostics int           `json:"diagnostics"`
	Duration    time.Duration `json:"duration_ns"`
}

// Option configures a [Controller].
type Option func(*Controller)

// WithOptions sets the function that yields the assembly options for each
// unit. It is called once per unit, so configuration reloads take effect at
// the next unit boundary.
func WithOptions(fn func() transcript.Options) Option {
	return func(c *Controller) {
		c.options = fn
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Controller) {
		c.progress = fn
	}
}

// WithUnitTimeout bounds the transcription of a single unit. Zero means no
// limit beyond the run context.
func WithUnitTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.unitTimeout = d
	}
}

// WithMetrics records unit outcomes on m instead of the global metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// Controller runs batches. It holds no per-run state and may be reused.
type Controller struct {
	transcriber Transcriber
	options     func() transcript.Options
	progress    ProgressFunc
	unitTimeout time.Duration
	metrics     *observe.Metrics
}

// New returns a Controller using t for every unit.
func New(t Transcriber, opts ...Option) *Controller {
	c := &Controller{
		transcriber: t,
		options:     func() transcript.Options { return transcript.Options{RepairTimestamps: true} },
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Run processes units in order against sess and returns once every unit was
// attempted. Failures never stop the run; a cancelled ctx makes the remaining
// units fail fast instead.
func (c *Controller) Run(ctx context.Context, sess *transcript.Session, units []Unit) Report {
	ctx, span := observe.StartSpan(ctx, "batch.run",
		trace.WithAttributes(
			attribute.String("session.id", sess.ID()),
			attribute.Int("batch.units", len(units)),
		),
	)
	defer span.End()

	start := time.Now()
	report := Report{Units: len(units), Failed: []UnitFailure{}}

	for i, u := range units {
		c.emit(ProgressEvent{Kind: EventUnitStarted, Unit: u, Index: i, Total: len(units)})

		res, err := c.runUnit(ctx, sess, u)
		if err != nil {
			observe.Logger(ctx).Error("batch: unit failed, skipping",
				"unit", u.label(), "index", i, "total", len(units), "err", err)
			report.Failed = append(report.Failed, UnitFailure{Unit: u, Error: err.Error(), Err: err})
			c.emit(ProgressEvent{Kind: EventUnitFailed, Unit: u, Index: i, Total: len(units), Err: err})
			continue
		}

		report.Succeeded++
		report.Segments += len(res.Segments)
		report.Speakers += len(res.Speakers)
		report.Diagnostics += len(res.Diagnostics)
		c.emit(ProgressEvent{Kind: EventUnitDone, Unit: u, Index: i, Total: len(units), Segments: len(res.Segments)})
	}

	report.Status = StatusComplete
	report.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("batch.failed", len(report.Failed)))

	observe.Logger(ctx).Info("batch: complete",
		"session", sess.ID(),
		"units", report.Units,
		"failed", len(report.Failed),
		"segments", report.Segments,
		"duration", report.Duration,
	)
	c.emit(ProgressEvent{Kind: EventBatchComplete, Index: len(units), Total: len(units), Segments: report.Segments})
	return report
}

// runUnit transcribes one unit and feeds the output to the session.
func (c *Controller) runUnit(ctx context.Context, sess *transcript.Session, u Unit) (transcript.Result, error) {
	ctx, span := observe.StartSpan(ctx, "batch.unit",
		trace.WithAttributes(attribute.String("unit.id", u.ID), attribute.String("unit.name", u.label())),
	)
	defer span.End()

	start := time.Now()
	opts := c.options()
	opts.UnitID = u.ID

	tctx := ctx
	if c.unitTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, c.unitTimeout)
		defer cancel()
	}

	raw, err := c.transcribe(tctx, u, sess.Speakers())
	if err == nil && strings.TrimSpace(raw) == "" {
		err = ErrEmptyTranscript
	}
	if err != nil {
		err = fmt.Errorf("unit %q: %w", u.label(), err)
		observe.FailSpan(span, err)
		c.metrics.RecordUnit(ctx, "error", time.Since(start))
		return transcript.Result{}, err
	}

	res := sess.Process(ctx, raw, opts)
	span.SetAttributes(attribute.Int("unit.segments", len(res.Segments)))
	c.metrics.RecordUnit(ctx, "ok", time.Since(start))
	return res, nil
}

// transcribe calls the transcriber and turns a panic into a unit failure.
func (c *Controller) transcribe(ctx context.Context, u Unit, known []types.Speaker) (raw string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcriber panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.transcriber.Transcribe(ctx, u, known)
}

func (c *Controller) emit(ev ProgressEvent) {
	if c.progress != nil {
		c.progress(ev)
	}
}
