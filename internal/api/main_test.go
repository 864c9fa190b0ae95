package api

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/partnerhub/partnerhub/internal/audit"
	"github.com/partnerhub/partnerhub/internal/db/models"
	"github.com/partnerhub/partnerhub/internal/db/repositories"
	"github.com/partnerhub/partnerhub/internal/drafts"
	"github.com/partnerhub/partnerhub/internal/identifier"
	"github.com/partnerhub/partnerhub/internal/lifecycle"
	"github.com/partnerhub/partnerhub/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// proposalCols mirrors the column list selected by the proposal repository.
var proposalCols = []string{
	"id", "public_id", "owner_id", "organization_name", "contact_email",
	"event_title", "event_type", "current_section", "form_completion_pct",
	"proposal_status", "report_status", "admin_comments", "version",
	"created_at", "updated_at", "submitted_at", "approved_at",
}

func proposalRow(id int64, publicID uuid.UUID, status models.ProposalStatus, report models.ReportStatus, version int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(proposalCols).AddRow(
		id, publicID, "owner-1", "Helping Hands", "owner@example.com",
		"Community Science Fair", "community-based", "event-details", 40,
		status, report, nil, version, now, now, nil, nil,
	)
}

// testServer bundles everything a handler test needs: the router with an
// injected identity and the sqlmock behind the repositories.
type testServer struct {
	router *gin.Engine
	mock   sqlmock.Sqlmock
	drafts *drafts.Service
}

// newTestServer builds the full handler set over a mocked database, with the
// request identity fixed to the given user and role. Routes mirror the
// production router minus the middleware chain.
func newTestServer(t *testing.T, userID, role string) *testServer {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dbx := sqlx.NewDb(db, "sqlmock")
	proposalRepo := repositories.NewProposalRepository(dbx)
	auditRepo := repositories.NewAuditRepository(db)
	notificationRepo := repositories.NewNotificationRepository(dbx)

	draftSvc := drafts.NewService(drafts.NewMemoryStore(), time.Hour, discardLogger)
	engine := lifecycle.NewEngine(proposalRepo, discardLogger)
	resolver := identifier.NewResolver(proposalRepo)
	auditor := audit.NewWriter(auditRepo, nil, discardLogger, true)

	draftHandlers := NewDraftHandlers(draftSvc)
	proposalHandlers := NewProposalHandlers(proposalRepo, draftSvc, engine, resolver, auditor)
	adminHandlers := NewAdminHandlers(engine, resolver)
	notificationHandlers := NewNotificationHandlers(notificationRepo)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.CtxUserID, userID)
		c.Set(middleware.CtxUserRole, role)
	})

	v1 := router.Group("/api/v1")
	v1.POST("/proposals/drafts", draftHandlers.CreateDraft)
	v1.GET("/proposals/drafts", draftHandlers.ListDrafts)
	v1.GET("/proposals/drafts/:id", draftHandlers.GetDraft)
	v1.PATCH("/proposals/drafts/:id/:section", draftHandlers.PatchSection)
	v1.POST("/proposals/drafts/:id/event-type", draftHandlers.SetEventType)
	v1.POST("/proposals/drafts/:id/submit", draftHandlers.SubmitDraft)
	v1.DELETE("/proposals/drafts/:id", draftHandlers.DeleteDraft)

	v1.POST("/proposals", proposalHandlers.CreateProposal)
	v1.GET("/proposals", proposalHandlers.ListProposals)
	v1.GET("/proposals/:id", proposalHandlers.GetProposal)
	v1.PATCH("/proposals/:id/sections/:section", proposalHandlers.SaveSection)
	v1.POST("/proposals/:id/files", proposalHandlers.AttachFile)
	v1.POST("/proposals/:id/report/submit", proposalHandlers.SubmitReport)
	v1.GET("/proposals/:id/audit", proposalHandlers.ListAudit)

	v1.GET("/notifications", notificationHandlers.List)
	v1.POST("/notifications/:id/read", notificationHandlers.MarkRead)
	v1.POST("/notifications/:id/archive", notificationHandlers.Archive)

	v1.POST("/admin/proposals/bulk-status", adminHandlers.BulkStatus)
	v1.POST("/admin/proposals/:id/report/review", adminHandlers.ReviewReport)

	return &testServer{router: router, mock: mock, drafts: draftSvc}
}
