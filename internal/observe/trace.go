package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/scribe"

// Span attribute keys for the transcript session a span belongs to.
const (
	AttrNoteID    = attribute.Key("scribe.note_id")
	AttrSessionID = attribute.Key("scribe.session_id")
)

type sessionKey struct{}

type sessionRef struct {
	noteID    string
	sessionID string
}

// WithSession returns a context tagged with the note and transcript session
// being worked on. [Logger] and [StartSpan] pick the tags up, so every log
// line and span below a request handler names its session.
func WithSession(ctx context.Context, noteID, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionRef{noteID: noteID, sessionID: sessionID})
}

// SessionFrom returns the tags set by [WithSession].
func SessionFrom(ctx context.Context) (noteID, sessionID string, ok bool) {
	ref, ok := ctx.Value(sessionKey{}).(sessionRef)
	return ref.noteID, ref.sessionID, ok
}

// Tracer returns the scribe tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. When ctx carries session tags they are
// added as span attributes. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if note, sess, ok := SessionFrom(ctx); ok {
		opts = append(opts, trace.WithAttributes(AttrNoteID.String(note), AttrSessionID.String(sess)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// FailSpan records err on span and marks it failed. A nil err is ignored.
func FailSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID is the hex trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the trace and session tags found
// in ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if note, sess, ok := SessionFrom(ctx); ok {
		attrs = append(attrs, slog.String("note_id", note), slog.String("session_id", sess))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
