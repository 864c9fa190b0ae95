package api

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/partnerhub/partnerhub/internal/apperr"
	"github.com/partnerhub/partnerhub/internal/audit"
	"github.com/partnerhub/partnerhub/internal/db/models"
	"github.com/partnerhub/partnerhub/internal/db/repositories"
	"github.com/partnerhub/partnerhub/internal/drafts"
	"github.com/partnerhub/partnerhub/internal/identifier"
	"github.com/partnerhub/partnerhub/internal/lifecycle"
	"github.com/partnerhub/partnerhub/internal/middleware"
)

// ProposalHandlers serves the durable proposal surface. Incoming :id tokens
// are classified and resolved exactly once, here; everything below the
// handlers works in surrogate keys only.
type ProposalHandlers struct {
	proposals *repositories.ProposalRepository
	drafts    *drafts.Service
	engine    *lifecycle.Engine
	resolver  *identifier.Resolver
	auditor   *audit.Writer
}

// NewProposalHandlers creates handlers over the proposal core.
func NewProposalHandlers(
	proposals *repositories.ProposalRepository,
	draftSvc *drafts.Service,
	engine *lifecycle.Engine,
	resolver *identifier.Resolver,
	auditor *audit.Writer,
) *ProposalHandlers {
	return &ProposalHandlers{
		proposals: proposals,
		drafts:    draftSvc,
		engine:    engine,
		resolver:  resolver,
		auditor:   auditor,
	}
}

type createProposalRequest struct {
	DraftID          string `json:"draftId" binding:"required"`
	OrganizationName string `json:"organizationName" binding:"required"`
	ContactEmail     string `json:"contactEmail" binding:"required,email"`
	EventTitle       string `json:"eventTitle" binding:"required"`
}

// CreateProposal handles POST /proposals. It converts a submitted draft into
// a durable proposal: the draft's sections are copied over verbatim, the
// draft is removed from the store, and if the copied event-details section is
// already complete the proposal auto-promotes to pending immediately.
func (h *ProposalHandlers) CreateProposal(c *gin.Context) {
	var req createProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid request body"))
		return
	}

	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	draft, err := h.drafts.Get(ctx, req.DraftID)
	if err != nil {
		respondError(c, err)
		return
	}
	if draft.Status != models.DraftStatusSubmitted {
		respondError(c, apperr.New(apperr.KindValidation,
			"draft %s has not been submitted", draft.ID))
		return
	}

	p := &models.Proposal{
		PublicID:         uuid.New(),
		OwnerID:          userID,
		OrganizationName: req.OrganizationName,
		ContactEmail:     req.ContactEmail,
		EventTitle:       req.EventTitle,
		EventType:        draft.EventType,
	}
	if err := h.proposals.Create(ctx, p); err != nil {
		respondError(c, err)
		return
	}

	// Copy sections in a stable order so repeated conversions of identical
	// drafts behave identically.
	sections := make([]string, 0, len(draft.FormData))
	for name := range draft.FormData {
		sections = append(sections, name)
	}
	sort.Strings(sections)

	var result lifecycle.Result
	for _, name := range sections {
		payload, ok := draft.FormData[name].(map[string]any)
		if !ok {
			// Scalar markers such as eventType are not sections.
			continue
		}
		if err := h.proposals.UpsertSection(ctx, p.SurrogateID, name, payload); err != nil {
			respondError(c, err)
			return
		}
		r, err := h.engine.OnSectionSaved(ctx, p.SurrogateID, name, payload,
			lifecycle.Actor{ID: actorID(userID)})
		if err != nil {
			respondError(c, err)
			return
		}
		if r.AutoPromoted {
			result = r
		}
	}

	h.recordAudit(c, p.SurrogateID, "proposal_created", map[string]interface{}{
		"draft_id":      draft.ID,
		"migrated_from": draft.OriginalLegacyLabel,
	})

	// The draft served its purpose; dropping it is best-effort.
	if err := h.drafts.Delete(ctx, draft.ID); err != nil {
		respondError(c, err)
		return
	}

	created, err := h.proposals.GetBySurrogateID(ctx, p.SurrogateID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"proposal":     created,
		"autoPromoted": result.AutoPromoted,
	})
}

// ListProposals handles GET /proposals. Admins may filter by ?status=;
// everyone else sees their own proposals.
func (h *ProposalHandlers) ListProposals(c *gin.Context) {
	ctx := c.Request.Context()

	if status := c.Query("status"); status != "" {
		if middleware.UserRole(c) != middleware.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		s := models.ProposalStatus(status)
		if !s.Valid() {
			respondError(c, apperr.New(apperr.KindValidation, "unknown status %q", status))
			return
		}
		list, err := h.proposals.ListByStatus(ctx, s)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"proposals": list, "count": len(list)})
		return
	}

	list, err := h.proposals.ListByOwner(ctx, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": list, "count": len(list)})
}

// GetProposal handles GET /proposals/:id. The id may be a public UUID or a
// surrogate integer; legacy labels address drafts, not proposals, and fail
// with an identifier format error.
func (h *ProposalHandlers) GetProposal(c *gin.Context) {
	ctx := c.Request.Context()

	surrogateID, _, err := h.resolver.Resolve(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	p, err := h.proposals.GetBySurrogateID(ctx, surrogateID)
	if err != nil {
		respondError(c, err)
		return
	}
	if p == nil {
		respondError(c, apperr.New(apperr.KindNotFound, "no proposal with id %d", surrogateID))
		return
	}

	files, err := h.proposals.ListFiles(ctx, surrogateID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"proposal": p,
		"files":    files,
	})
}

// SaveSection handles PATCH /proposals/:id/sections/:section. There is no
// direct set-status call for the submitting party: transitions happen here as
// side effects (auto-promotion when event details become complete,
// resubmission from denied / revision_requested).
func (h *ProposalHandlers) SaveSection(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid request body"))
		return
	}

	ctx := c.Request.Context()
	section := c.Param("section")

	surrogateID, _, err := h.resolver.Resolve(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.proposals.UpsertSection(ctx, surrogateID, section, payload); err != nil {
		respondError(c, err)
		return
	}

	result, err := h.engine.OnSectionSaved(ctx, surrogateID, section, payload,
		lifecycle.Actor{ID: actorID(middleware.UserID(c))})
	if err != nil {
		respondError(c, err)
		return
	}

	h.recordAudit(c, surrogateID, "section_saved", map[string]interface{}{
		"section": section,
	})

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"section":        section,
		"previousStatus": result.PreviousStatus,
		"newStatus":      result.NewStatus,
		"autoPromoted":   result.AutoPromoted,
	})
}

type attachFileRequest struct {
	Name     string `json:"name" binding:"required"`
	Size     int64  `json:"size" binding:"required"`
	MimeType string `json:"mimeType" binding:"required"`
	Path     string `json:"path" binding:"required"`
}

// AttachFile handles POST /proposals/:id/files. Only the metadata tuple is
// stored; the bytes live in whatever blob store produced the path.
func (h *ProposalHandlers) AttachFile(c *gin.Context) {
	var req attachFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid request body"))
		return
	}

	ctx := c.Request.Context()

	surrogateID, _, err := h.resolver.Resolve(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	f := &models.ProposalFile{
		ProposalID: surrogateID,
		Name:       req.Name,
		Size:       req.Size,
		MimeType:   req.MimeType,
		Path:       req.Path,
		UploadedBy: middleware.UserID(c),
	}
	if err := h.proposals.AttachFile(ctx, f); err != nil {
		respondError(c, err)
		return
	}

	h.recordAudit(c, surrogateID, "file_attached", map[string]interface{}{
		"file_name": req.Name,
		"mime_type": req.MimeType,
	})

	c.JSON(http.StatusCreated, gin.H{"success": true, "file": f})
}

// ListAudit handles GET /proposals/:id/audit (admin only; enforced in the
// route group).
func (h *ProposalHandlers) ListAudit(c *gin.Context) {
	ctx := c.Request.Context()

	surrogateID, _, err := h.resolver.Resolve(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	limit, offset := pagination(c, 50)
	entries, err := h.auditor.ListFor(ctx, surrogateID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// SubmitReport handles POST /proposals/:id/report/submit. The report machine
// only leaves not_applicable once the proposal itself is approved; the engine
// enforces that.
func (h *ProposalHandlers) SubmitReport(c *gin.Context) {
	ctx := c.Request.Context()

	surrogateID, _, err := h.resolver.Resolve(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.engine.ApplyReportTransition(ctx, surrogateID, lifecycle.EventReportSubmit,
		lifecycle.Actor{ID: actorID(middleware.UserID(c))})
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

// recordAudit appends an audit entry for an already-committed mutation.
// Failures are dependency failures: logged inside the writer, never unwinding
// the response.
func (h *ProposalHandlers) recordAudit(c *gin.Context, surrogateID int64, actionType string, extra map[string]interface{}) {
	userID := middleware.UserID(c)
	if err := h.auditor.Record(c.Request.Context(), surrogateID, actionType, actorID(userID), nil, extra); err != nil {
		slog.WarnContext(c.Request.Context(), "audit write failed",
			"proposal_id", surrogateID,
			"action", actionType,
			"error", err)
	}
}

// actorID converts an empty user id into a nil actor pointer.
func actorID(userID string) *string {
	if userID == "" {
		return nil
	}
	return &userID
}

// pagination reads ?limit= and ?offset= with a default page size.
func pagination(c *gin.Context, defaultLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v, ok := intQuery(c, "limit"); ok && v > 0 && v <= 500 {
		limit = v
	}
	if v, ok := intQuery(c, "offset"); ok && v >= 0 {
		offset = v
	}
	return limit, offset
}

func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
