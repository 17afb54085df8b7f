package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	TraceIDHeader = "X-Trace-ID"
	TraceIDKey    = "trace_id"
	UserIDKey     = "user_id"

	requestContextKey = "request_context"
)

// RequestContext carries request metadata shared by the access log and handlers.
type RequestContext struct {
	TraceID   string
	UserID    string
	IP        string
	UserAgent string
	DeviceID  string
}

var traceContext = propagation.TraceContext{}

// EnrichContext attaches a span context to the request so that events
// published while serving it carry the same trace id. A W3C traceparent is
// continued first, then a well-formed X-Trace-ID; otherwise a new trace starts.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		sc := trace.SpanContextFromContext(traceContext.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header)))
		if !sc.IsValid() {
			sc = spanContextFor(c.GetHeader(TraceIDHeader))
		}
		traceID := sc.TraceID().String()

		c.Request = c.Request.WithContext(trace.ContextWithSpanContext(c.Request.Context(), sc))
		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Set(requestContextKey, &RequestContext{
			TraceID:   traceID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			DeviceID:  c.GetHeader(DeviceIDHeader),
		})

		c.Next()
	}
}

func spanContextFor(header string) trace.SpanContext {
	traceID, err := trace.TraceIDFromHex(header)
	if err != nil || !traceID.IsValid() {
		traceID = trace.TraceID(uuid.New())
	}

	var spanID trace.SpanID
	fresh := uuid.New()
	copy(spanID[:], fresh[:8])

	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     header != "",
	})
}

// GetTraceID returns the trace id assigned by EnrichContext.
func GetTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(TraceIDKey); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return ""
}

// GetRequestContext returns the request metadata, or an empty value outside EnrichContext.
func GetRequestContext(c *gin.Context) *RequestContext {
	if ctx, exists := c.Get(requestContextKey); exists {
		if reqCtx, ok := ctx.(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{}
}
