// timeout.go bounds request handling time. Every request-scoped operation
// downstream (DB queries, Redis calls) inherits the deadline through the
// request context, so a stalled dependency turns into a clean context error
// instead of an unbounded hang.
package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// TimeoutMiddleware applies a deadline to the request context. Background
// work (outbox dispatch, notification delivery) runs on its own contexts and
// is unaffected.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
