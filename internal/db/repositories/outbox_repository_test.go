package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var outboxCols = []string{
	"id", "proposal_id", "event_type", "previous_status", "new_status",
	"actor_id", "comments", "metadata", "attempts", "processed_at",
	"last_error", "created_at",
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newOutboxRepo(t *testing.T) (*OutboxRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewOutboxRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func sampleOutboxRow(id int64) *sqlmock.Rows {
	return sqlmock.NewRows(outboxCols).
		AddRow(id, int64(17), "approve", "pending", "approved",
			strPtr("admin-1"), nil, []byte(`{"bulk":false}`), 0, nil, nil, time.Now())
}

// ---------------------------------------------------------------------------
// ClaimUnprocessed
// ---------------------------------------------------------------------------

func TestClaimUnprocessed_Success(t *testing.T) {
	repo, mock := newOutboxRepo(t)
	mock.ExpectQuery("SELECT id.*FROM proposal_events.*WHERE processed_at IS NULL").
		WillReturnRows(sampleOutboxRow(9))

	events, err := repo.ClaimUnprocessed(context.Background(), 50, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	e := events[0]
	if e.ID != 9 || e.ProposalID != 17 {
		t.Errorf("event = %+v, want id 9 proposal 17", e)
	}
	if e.Metadata["bulk"] != false {
		t.Errorf("Metadata[bulk] = %v, want false", e.Metadata["bulk"])
	}
}

func TestClaimUnprocessed_Empty(t *testing.T) {
	repo, mock := newOutboxRepo(t)
	mock.ExpectQuery("SELECT id.*FROM proposal_events.*WHERE processed_at IS NULL").
		WillReturnRows(sqlmock.NewRows(outboxCols))

	events, err := repo.ClaimUnprocessed(context.Background(), 50, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("len(events) = %d, want 0", len(events))
	}
}

func TestClaimUnprocessed_DBError(t *testing.T) {
	repo, mock := newOutboxRepo(t)
	mock.ExpectQuery("SELECT id.*FROM proposal_events.*WHERE processed_at IS NULL").
		WillReturnError(errDB)

	if _, err := repo.ClaimUnprocessed(context.Background(), 50, 5); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Mark processed / failed
// ---------------------------------------------------------------------------

func TestMarkProcessed_Success(t *testing.T) {
	repo, mock := newOutboxRepo(t)
	mock.ExpectExec("UPDATE proposal_events SET processed_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkProcessed(context.Background(), 9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMarkFailed_Success(t *testing.T) {
	repo, mock := newOutboxRepo(t)
	mock.ExpectExec("UPDATE proposal_events SET attempts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkFailed(context.Background(), 9, errors.New("smtp timeout")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// CountUnprocessed
// ---------------------------------------------------------------------------

func TestCountUnprocessed_Success(t *testing.T) {
	repo, mock := newOutboxRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM proposal_events").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := repo.CountUnprocessed(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
}
