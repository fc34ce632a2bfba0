package tracing

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/shared/id"
)

// Propagation headers
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

const spanBuffer = 1000

// TraceID is shared by every span of one request flow
type TraceID string

// SpanID identifies one operation
type SpanID string

// Span is a single timed operation. Plugin is set for requests routed to a
// plugin and for work a plugin starts itself.
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Plugin   string
	Start    time.Time
	Duration time.Duration
	Status   int
	Tags     map[string]string
	Err      error
}

// Finish stamps the span duration
func (s *Span) Finish() { s.Duration = time.Since(s.Start) }

// SetTag records a string attribute
func (s *Span) SetTag(key, value string) { s.Tags[key] = value }

// SetError marks the span failed; a missing status becomes 500
func (s *Span) SetError(err error) {
	s.Err = err
	if s.Status < http.StatusInternalServerError {
		s.Status = http.StatusInternalServerError
	}
}

// Tracer buffers finished spans and logs them from a single collector
// goroutine. Spans submitted to a full buffer are dropped.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New starts a tracer for service
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, spanBuffer),
		done:    make(chan struct{}),
	}
	go t.collect()
	return t
}

// StartSpan creates a child of the span carried by ctx, or a new trace root
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}
	span := &Span{
		TraceID:  traceID,
		SpanID:   SpanID(id.NewSpanID()),
		ParentID: SpanIDFrom(ctx),
		Name:     name,
		Start:    time.Now(),
		Tags:     make(map[string]string),
	}
	return span, WithTraceContext(ctx, span.TraceID, span.SpanID)
}

// Submit hands a finished span to the collector
func (t *Tracer) Submit(span *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("Span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("operation", span.Name),
		)
	}
}

// Close drains buffered spans and stops the collector. Later submits are
// ignored.
func (t *Tracer) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.spans)
	}
	t.mu.Unlock()
	<-t.done
}

func (t *Tracer) collect() {
	defer close(t.done)
	for span := range t.spans {
		fields := []zap.Field{
			zap.String("service", t.service),
			zap.String("trace_id", string(span.TraceID)),
			zap.String("span_id", string(span.SpanID)),
			zap.String("operation", span.Name),
			zap.Duration("duration", span.Duration),
			zap.Int("status", span.Status),
		}
		if span.ParentID != "" {
			fields = append(fields, zap.String("parent_id", string(span.ParentID)))
		}
		if span.Plugin != "" {
			fields = append(fields, zap.String("plugin", span.Plugin))
		}
		if span.Err != nil {
			t.logger.Error("Span failed", append(fields, zap.Error(span.Err))...)
			continue
		}
		t.logger.Debug("Span finished", fields...)
	}
}

// Extract reads the propagated trace context from request headers
func Extract(ctx context.Context, h http.Header) context.Context {
	return WithTraceContext(ctx, TraceID(h.Get(HeaderTraceID)), SpanID(h.Get(HeaderSpanID)))
}

// Inject writes the trace context of ctx into outgoing headers
func Inject(ctx context.Context, h http.Header) {
	if traceID := TraceIDFrom(ctx); traceID != "" {
		h.Set(HeaderTraceID, string(traceID))
	}
	if spanID := SpanIDFrom(ctx); spanID != "" {
		h.Set(HeaderSpanID, string(spanID))
	}
}

type contextKey int

const (
	traceIDKey contextKey = iota
	spanIDKey
)

// WithTraceContext returns ctx carrying the non-empty ids
func WithTraceContext(ctx context.Context, traceID TraceID, spanID SpanID) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if spanID != "" {
		ctx = context.WithValue(ctx, spanIDKey, spanID)
	}
	return ctx
}

// TraceIDFrom returns the trace id carried by ctx
func TraceIDFrom(ctx context.Context) TraceID {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	return traceID
}

// SpanIDFrom returns the current span id carried by ctx
func SpanIDFrom(ctx context.Context) SpanID {
	spanID, _ := ctx.Value(spanIDKey).(SpanID)
	return spanID
}
