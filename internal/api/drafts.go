package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/partnerhub/partnerhub/internal/apperr"
	"github.com/partnerhub/partnerhub/internal/db/models"
	"github.com/partnerhub/partnerhub/internal/drafts"
)

// DraftHandlers serves the pre-submission draft surface. Drafts live in the
// draft store, not the database; every identifier here is either a generated
// UUID or a legacy label that the service migrates on first dereference.
type DraftHandlers struct {
	svc *drafts.Service
}

// NewDraftHandlers creates handlers over the draft service.
func NewDraftHandlers(svc *drafts.Service) *DraftHandlers {
	return &DraftHandlers{svc: svc}
}

type createDraftRequest struct {
	EventType models.EventType `json:"eventType" binding:"required"`
}

// CreateDraft handles POST /proposals/drafts
func (h *DraftHandlers) CreateDraft(c *gin.Context) {
	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid request body"))
		return
	}

	draft, err := h.svc.Create(c.Request.Context(), req.EventType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"draftId": draft.ID})
}

// ListDrafts handles GET /proposals/drafts
func (h *DraftHandlers) ListDrafts(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"drafts": list,
		"count":  len(list),
	})
}

// GetDraft handles GET /proposals/drafts/:id. The id may be a generated UUID
// or a legacy label; legacy labels are migrated into a fresh draft.
func (h *DraftHandlers) GetDraft(c *gin.Context) {
	draft, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, draft)
}

// PatchSection handles PATCH /proposals/drafts/:id/:section. The body is an
// arbitrary JSON object merged key-by-key into the named section.
func (h *DraftHandlers) PatchSection(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid request body"))
		return
	}

	draft, err := h.svc.PatchSection(c.Request.Context(), c.Param("id"), c.Param("section"), fields)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "draft": draft})
}

type setEventTypeRequest struct {
	EventType models.EventType `json:"eventType" binding:"required"`
}

// SetEventType handles POST /proposals/drafts/:id/event-type
func (h *DraftHandlers) SetEventType(c *gin.Context) {
	var req setEventTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid request body"))
		return
	}

	draft, err := h.svc.SetEventType(c.Request.Context(), c.Param("id"), req.EventType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"eventType": draft.EventType,
		"draftId":   draft.ID,
		"status":    draft.Status,
	})
}

// SubmitDraft handles POST /proposals/drafts/:id/submit. Submission freezes
// the draft; converting it into a durable proposal is a separate call to
// POST /proposals.
func (h *DraftHandlers) SubmitDraft(c *gin.Context) {
	draft, err := h.svc.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "draft": draft})
}

// DeleteDraft handles DELETE /proposals/drafts/:id. Deleting an unknown id is
// a no-op.
func (h *DraftHandlers) DeleteDraft(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
