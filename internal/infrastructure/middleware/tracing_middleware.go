package middleware

import (
	"net/http"
	"time"

	apperrors "sfugate/pkg/errors"
	"sfugate/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens one span per HTTP request. Room routes tag the span with
// the room id and failed requests with the gateway error code.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		if roomID := c.Param("id"); roomID != "" {
			span.SetAttributes(tracing.RoomIDKey.String(roomID))
		}
		span.SetAttributes(attribute.String("http.client_ip", c.ClientIP()))
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			tracing.DurationMsKey.Int64(time.Since(start).Milliseconds()),
		)
		if last := c.Errors.Last(); last != nil {
			appErr := apperrors.FromDomain(last.Err)
			span.SetAttributes(tracing.ErrorCodeKey.String(string(appErr.Code)))
			span.RecordError(last.Err)
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
