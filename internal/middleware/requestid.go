// requestid.go tags every request with a correlation identifier. The ID is
// taken from the inbound X-Request-ID header when a proxy already assigned
// one, otherwise generated here, and is echoed back on the response so
// callers can quote it when reporting problems.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader is the header used to propagate the request ID.
const RequestIDHeader = "X-Request-ID"

// CtxRequestID is the gin context key the request ID is stored under.
const CtxRequestID = "request_id"

// RequestIDMiddleware ensures every request carries a request ID. Registered
// first in the chain so the ID is available to all later middleware and to
// the structured logs they emit.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(CtxRequestID, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// RequestID returns the request ID assigned to the current request, or the
// empty string if the middleware did not run.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(CtxRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
