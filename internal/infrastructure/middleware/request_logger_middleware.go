package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"peercord/pkg/logger"
)

// RequestLoggerMiddleware writes one access log line per request. It must run
// after TracingMiddleware so the trace ID is available.
func RequestLoggerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ctx = logger.WithTraceID(ctx, sc.TraceID().String())
		}

		c.Next()

		if id, ok := AuthenticatedPeer(c); ok {
			ctx = logger.WithPeerID(ctx, string(id))
		}
		if len(c.Errors) > 0 && c.Writer.Status() >= 500 {
			cl.LogError(ctx, c.Errors.Last().Err, "request failed")
		}
		cl.LogRequest(ctx, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
