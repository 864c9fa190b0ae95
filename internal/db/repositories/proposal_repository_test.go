package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/partnerhub/partnerhub/internal/db/models"
)

var errDB = errors.New("db failure")

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var proposalCols = []string{
	"id", "public_id", "owner_id", "organization_name", "contact_email",
	"event_title", "event_type", "current_section", "form_completion_pct",
	"proposal_status", "report_status", "admin_comments", "version",
	"created_at", "updated_at", "submitted_at", "approved_at",
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newProposalRepo(t *testing.T) (*ProposalRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewProposalRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func sampleProposalRow(id int64, publicID uuid.UUID) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(proposalCols).
		AddRow(id, publicID, "user-1", "Maple Grove PTA", "chair@maplegrove.org",
			"Spring Fundraiser", "school-based", "event-details", 40,
			"draft", "not_applicable", nil, int64(1), now, now, nil, nil)
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestProposalCreate_Success(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectQuery("INSERT INTO proposals").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(17)))

	p := &models.Proposal{
		PublicID:         uuid.New(),
		OwnerID:          "user-1",
		OrganizationName: "Maple Grove PTA",
		ContactEmail:     "chair@maplegrove.org",
		EventTitle:       "Spring Fundraiser",
		EventType:        models.EventTypeSchoolBased,
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SurrogateID != 17 {
		t.Errorf("SurrogateID = %d, want 17", p.SurrogateID)
	}
	if p.ProposalStatus != models.ProposalStatusDraft {
		t.Errorf("ProposalStatus = %q, want draft", p.ProposalStatus)
	}
	if p.ReportStatus != models.ReportStatusNotApplicable {
		t.Errorf("ReportStatus = %q, want not_applicable", p.ReportStatus)
	}
	if p.Version != 1 {
		t.Errorf("Version = %d, want 1", p.Version)
	}
}

func TestProposalCreate_DBError(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectQuery("INSERT INTO proposals").WillReturnError(errDB)

	p := &models.Proposal{PublicID: uuid.New(), OwnerID: "user-1"}
	if err := repo.Create(context.Background(), p); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func TestGetBySurrogateID_Found(t *testing.T) {
	repo, mock := newProposalRepo(t)
	publicID := uuid.New()
	mock.ExpectQuery("SELECT(?s:.*)FROM proposals WHERE id").
		WillReturnRows(sampleProposalRow(17, publicID))

	p, err := repo.GetBySurrogateID(context.Background(), 17)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected proposal, got nil")
	}
	if p.SurrogateID != 17 {
		t.Errorf("SurrogateID = %d, want 17", p.SurrogateID)
	}
	if p.PublicID != publicID {
		t.Errorf("PublicID = %s, want %s", p.PublicID, publicID)
	}
}

func TestGetBySurrogateID_NotFound(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectQuery("SELECT(?s:.*)FROM proposals WHERE id").
		WillReturnRows(sqlmock.NewRows(proposalCols))

	p, err := repo.GetBySurrogateID(context.Background(), 404)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil, got %+v", p)
	}
}

func TestGetByPublicID_Found(t *testing.T) {
	repo, mock := newProposalRepo(t)
	publicID := uuid.New()
	mock.ExpectQuery("SELECT(?s:.*)FROM proposals WHERE public_id").
		WillReturnRows(sampleProposalRow(17, publicID))

	p, err := repo.GetByPublicID(context.Background(), publicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected proposal, got nil")
	}
}

func TestGetByPublicID_NotFound(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectQuery("SELECT(?s:.*)FROM proposals WHERE public_id").
		WillReturnRows(sqlmock.NewRows(proposalCols))

	p, err := repo.GetByPublicID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil, got %+v", p)
	}
}

// ---------------------------------------------------------------------------
// CommitTransition
// ---------------------------------------------------------------------------

func TestCommitTransition_Success(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE proposals").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO proposal_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectCommit()

	event := &models.ProposalEvent{
		ProposalID: 17,
		EventType:  "submit",
		Previous:   models.ProposalStatusDraft,
		New:        models.ProposalStatusPending,
	}
	ok, err := repo.CommitTransition(context.Background(), 17,
		models.ProposalStatusDraft, models.ProposalStatusPending, 1, nil, event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected CAS to succeed")
	}
	if event.ID != 9 {
		t.Errorf("event.ID = %d, want 9", event.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCommitTransition_CASMiss(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE proposals").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	event := &models.ProposalEvent{ProposalID: 17, EventType: "submit"}
	ok, err := repo.CommitTransition(context.Background(), 17,
		models.ProposalStatusDraft, models.ProposalStatusPending, 1, nil, event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected CAS miss")
	}
}

func TestCommitTransition_OutboxInsertError(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE proposals").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO proposal_events").WillReturnError(errDB)
	mock.ExpectRollback()

	event := &models.ProposalEvent{ProposalID: 17, EventType: "submit"}
	_, err := repo.CommitTransition(context.Background(), 17,
		models.ProposalStatusDraft, models.ProposalStatusPending, 1, nil, event)
	if err == nil {
		t.Error("expected error, got nil")
	}
}

func TestCommitReportTransition_Success(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE proposals").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO proposal_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectCommit()

	event := &models.ProposalEvent{
		ProposalID: 17,
		EventType:  "report_submit",
		Metadata:   map[string]interface{}{"report_previous": "draft", "report_new": "pending"},
	}
	ok, err := repo.CommitReportTransition(context.Background(), 17,
		models.ReportStatusDraft, models.ReportStatusPending, 3, event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected CAS to succeed")
	}
}

// ---------------------------------------------------------------------------
// Sections and files
// ---------------------------------------------------------------------------

func TestUpsertSection_Success(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectExec("INSERT INTO proposal_sections").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE proposals").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertSection(context.Background(), 17, "event-details",
		map[string]any{"venue": "Gym", "start_date": "2026-04-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetSection_Found(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectQuery("SELECT payload, updated_at FROM proposal_sections").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "updated_at"}).
			AddRow([]byte(`{"venue":"Gym"}`), time.Now()))

	s, err := repo.GetSection(context.Background(), 17, "event-details")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected section, got nil")
	}
	if s.Payload["venue"] != "Gym" {
		t.Errorf("venue = %v, want Gym", s.Payload["venue"])
	}
}

func TestGetSection_NotFound(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectQuery("SELECT payload, updated_at FROM proposal_sections").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "updated_at"}))

	s, err := repo.GetSection(context.Background(), 17, "budget")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Errorf("expected nil, got %+v", s)
	}
}

func TestAttachFile_Success(t *testing.T) {
	repo, mock := newProposalRepo(t)
	mock.ExpectQuery("INSERT INTO proposal_files").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	f := &models.ProposalFile{
		ProposalID: 17,
		Name:       "venue-permit.pdf",
		Size:       20480,
		MimeType:   "application/pdf",
		Path:       "uploads/17/venue-permit.pdf",
		UploadedBy: "user-1",
	}
	if err := repo.AttachFile(context.Background(), f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ID != 3 {
		t.Errorf("ID = %d, want 3", f.ID)
	}
}
