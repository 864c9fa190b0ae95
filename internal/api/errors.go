package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/partnerhub/partnerhub/internal/apperr"
)

// respondError maps a kinded error onto an HTTP status and a structured
// {error, kind} body. Unknown kinds are treated as internal errors: the
// message is logged but not echoed to the caller.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)

	var status int
	switch kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindValidation, apperr.KindIdentifierFormat:
		status = http.StatusBadRequest
	case apperr.KindInvalidTransition:
		status = http.StatusConflict
	case apperr.KindDependencyFailure:
		// DependencyFailure is caught at the invocation site and should not
		// reach here; treat a leak as an internal error.
		status = http.StatusInternalServerError
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
		c.JSON(status, gin.H{
			"error": "internal error",
			"kind":  apperr.KindUnknown.String(),
		})
		return
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}
