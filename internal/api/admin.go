package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/partnerhub/partnerhub/internal/apperr"
	"github.com/partnerhub/partnerhub/internal/db/models"
	"github.com/partnerhub/partnerhub/internal/identifier"
	"github.com/partnerhub/partnerhub/internal/lifecycle"
	"github.com/partnerhub/partnerhub/internal/middleware"
)

// AdminHandlers serves the administrative review surface. Administrators have
// no per-proposal set-status endpoint either; review decisions go through the
// bulk endpoint, which accepts a single id just as well as a hundred.
type AdminHandlers struct {
	engine   *lifecycle.Engine
	resolver *identifier.Resolver
}

// NewAdminHandlers creates handlers over the lifecycle engine.
func NewAdminHandlers(engine *lifecycle.Engine, resolver *identifier.Resolver) *AdminHandlers {
	return &AdminHandlers{engine: engine, resolver: resolver}
}

type bulkStatusRequest struct {
	IDs           []int64 `json:"ids" binding:"required,min=1"`
	Status        string  `json:"status" binding:"required"`
	AdminComments *string `json:"adminComments"`
}

// BulkStatus handles POST /admin/proposals/bulk-status. Each id succeeds or
// fails independently; one bad id never fails the batch.
func (h *AdminHandlers) BulkStatus(c *gin.Context) {
	var req bulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid request body"))
		return
	}

	target := models.ProposalStatus(req.Status)
	if !target.Valid() {
		respondError(c, apperr.New(apperr.KindValidation, "unknown status %q", req.Status))
		return
	}

	result := h.engine.BulkApplyStatus(c.Request.Context(), req.IDs, target,
		req.AdminComments, actorID(middleware.UserID(c)))

	c.JSON(http.StatusOK, gin.H{
		"applied": result.Applied,
		"failed":  result.Failed,
	})
}

type reportReviewRequest struct {
	Decision string  `json:"decision" binding:"required"`
	Comments *string `json:"comments"`
}

// ReviewReport handles POST /admin/proposals/:id/report/review with a
// decision of "approve" or "deny".
func (h *AdminHandlers) ReviewReport(c *gin.Context) {
	var req reportReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid request body"))
		return
	}

	var event lifecycle.Event
	switch req.Decision {
	case "approve":
		event = lifecycle.EventReportApprove
	case "deny":
		event = lifecycle.EventReportDeny
	default:
		respondError(c, apperr.New(apperr.KindValidation, "unknown decision %q", req.Decision))
		return
	}

	ctx := c.Request.Context()

	surrogateID, _, err := h.resolver.Resolve(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.engine.ApplyReportTransition(ctx, surrogateID, event, lifecycle.Actor{
		ID:       actorID(middleware.UserID(c)),
		Comments: req.Comments,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"previousStatus": result.PreviousStatus,
		"newStatus":      result.NewStatus,
	})
}
