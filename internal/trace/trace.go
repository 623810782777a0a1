// Package trace correlates log lines across a tracking session. A session
// gets a trace ID; each processed frame and each telemetry request gets a
// span under it. IDs follow W3C Trace Context sizes.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Propagation keys, used as HTTP headers and gRPC metadata.
const (
	TraceIDKey = "x-trace-id"
	SpanIDKey  = "x-span-id"
)

const (
	traceIDBytes = 16
	spanIDBytes  = 8
)

type ctxKey struct{}

// Context identifies one span. Session is the tracking session the span
// belongs to, if any.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Session      string
}

func newID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// New starts a trace.
func New() Context {
	return Context{TraceID: newID(traceIDBytes), SpanID: newID(spanIDBytes)}
}

// Child returns a new span in the same trace and session. A zero Context
// has no trace to continue, so Child starts one.
func (c Context) Child() Context {
	if c.TraceID == "" {
		next := New()
		next.Session = c.Session
		return next
	}
	return Context{
		TraceID:      c.TraceID,
		SpanID:       newID(spanIDBytes),
		ParentSpanID: c.SpanID,
		Session:      c.Session,
	}
}

// FromMap continues a trace propagated by a caller: the caller's span
// becomes the parent. Without a trace ID a new trace starts.
func FromMap(m map[string]string) Context {
	traceID := m[TraceIDKey]
	if traceID == "" {
		traceID = newID(traceIDBytes)
	}
	return Context{TraceID: traceID, SpanID: newID(spanIDBytes), ParentSpanID: m[SpanIDKey]}
}

// WithSession starts a fresh trace tagged with a session ID.
func WithSession(ctx context.Context, session string) context.Context {
	tc := New()
	tc.Session = session
	return WithContext(ctx, tc)
}

func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// EnsureContext returns ctx's trace, attaching a new one when absent.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// LogAttrs returns the identifiers as slog attributes. Empty parent and
// session are omitted.
func (c Context) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{slog.String("trace_id", c.TraceID), slog.String("span_id", c.SpanID)}
	if c.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", c.ParentSpanID))
	}
	if c.Session != "" {
		attrs = append(attrs, slog.String("session", c.Session))
	}
	return attrs
}

// Span times one operation, typically one frame through the pipeline.
// Attributes keep insertion order.
type Span struct {
	name  string
	tc    Context
	start time.Time
	end   time.Time
	attrs []slog.Attr
}

// StartSpan opens a child span of ctx's trace.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	s := &Span{name: name, tc: parent.Child(), start: time.Now()}
	return WithContext(ctx, s.tc), s
}

func (s *Span) Name() string { return s.name }

func (s *Span) Context() Context { return s.tc }

func (s *Span) SetAttr(key string, val any) {
	s.attrs = append(s.attrs, slog.Any(key, val))
}

// End stamps the end time once; later calls keep the first.
func (s *Span) End() {
	if s.end.IsZero() {
		s.end = time.Now()
	}
}

// EndLog ends the span and logs it at debug level.
func (s *Span) EndLog(ctx context.Context) {
	s.End()
	Logger(ctx).Debug("span finished", "span", s)
}

// Duration is zero until End.
func (s *Span) Duration() time.Duration {
	if s.end.IsZero() {
		return 0
	}
	return s.end.Sub(s.start)
}

func (s *Span) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 3+len(s.attrs))
	attrs = append(attrs, slog.String("name", s.name), slog.Duration("duration", s.Duration()))
	if s.tc.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.tc.ParentSpanID))
	}
	attrs = append(attrs, s.attrs...)
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger annotated with ctx's trace, or the
// default logger itself when ctx carries none.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	attrs := tc.LogAttrs()
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return slog.Default().With(args...)
}
