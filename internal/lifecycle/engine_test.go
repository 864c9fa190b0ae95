package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/partnerhub/partnerhub/internal/apperr"
	"github.com/partnerhub/partnerhub/internal/db/models"
)

// ---------------------------------------------------------------------------
// Fake store
// ---------------------------------------------------------------------------

// fakeStore is an in-memory ProposalStore with real CAS semantics, so the
// engine's version handling is exercised rather than mocked away.
type fakeStore struct {
	proposals map[int64]*models.Proposal
	events    []*models.ProposalEvent

	// failCommits makes the next n CommitTransition calls miss the CAS,
	// simulating a concurrent writer.
	failCommits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{proposals: make(map[int64]*models.Proposal)}
}

func (s *fakeStore) add(id int64, status models.ProposalStatus, report models.ReportStatus) *models.Proposal {
	p := &models.Proposal{
		SurrogateID:    id,
		PublicID:       uuid.New(),
		OwnerID:        "user-1",
		ProposalStatus: status,
		ReportStatus:   report,
		Version:        1,
	}
	s.proposals[id] = p
	return p
}

func (s *fakeStore) GetBySurrogateID(_ context.Context, id int64) (*models.Proposal, error) {
	p, ok := s.proposals[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (s *fakeStore) CommitTransition(_ context.Context, id int64, from, to models.ProposalStatus, fromVersion int64, adminComments *string, event *models.ProposalEvent) (bool, error) {
	if s.failCommits > 0 {
		s.failCommits--
		return false, nil
	}
	p, ok := s.proposals[id]
	if !ok || p.ProposalStatus != from || p.Version != fromVersion {
		return false, nil
	}
	p.ProposalStatus = to
	p.Version++
	if adminComments != nil {
		p.AdminComments = adminComments
	}
	event.ID = int64(len(s.events) + 1)
	s.events = append(s.events, event)
	return true, nil
}

func (s *fakeStore) CommitReportTransition(_ context.Context, id int64, from, to models.ReportStatus, fromVersion int64, event *models.ProposalEvent) (bool, error) {
	p, ok := s.proposals[id]
	if !ok || p.ReportStatus != from || p.Version != fromVersion {
		return false, nil
	}
	p.ReportStatus = to
	p.Version++
	event.ID = int64(len(s.events) + 1)
	s.events = append(s.events, event)
	return true, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestEngine(t *testing.T) (*Engine, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, logger), store
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("error kind = %v, want %v (err: %v)", got, kind, err)
	}
}

func adminActor(comments string) Actor {
	id := "admin-1"
	return Actor{ID: &id, Comments: &comments}
}

// ---------------------------------------------------------------------------
// ApplyTransition
// ---------------------------------------------------------------------------

func TestApplyTransition_SubmitDraft(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(17, models.ProposalStatusDraft, models.ReportStatusNotApplicable)

	res, err := engine.ApplyTransition(context.Background(), 17, EventSubmit, Actor{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PreviousStatus != models.ProposalStatusDraft || res.NewStatus != models.ProposalStatusPending {
		t.Errorf("result = %+v, want draft -> pending", res)
	}
	if len(store.events) != 1 {
		t.Fatalf("len(events) = %d, want 1 outbox row", len(store.events))
	}
	if store.events[0].EventType != "submit" {
		t.Errorf("event type = %q, want submit", store.events[0].EventType)
	}
}

func TestApplyTransition_UnknownProposal(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.ApplyTransition(context.Background(), 404, EventSubmit, Actor{})
	wantKind(t, err, apperr.KindNotFound)
}

func TestApplyTransition_DeniedToApprovedIsIllegal(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(17, models.ProposalStatusDenied, models.ReportStatusNotApplicable)

	_, err := engine.ApplyTransition(context.Background(), 17, EventApprove, adminActor("looks fine"))
	wantKind(t, err, apperr.KindInvalidTransition)

	// The proposal must go back through review instead.
	if _, err := engine.ApplyTransition(context.Background(), 17, EventResubmit, Actor{}); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if _, err := engine.ApplyTransition(context.Background(), 17, EventApprove, adminActor("ok")); err != nil {
		t.Fatalf("approve after resubmit: %v", err)
	}
	if store.proposals[17].ProposalStatus != models.ProposalStatusApproved {
		t.Errorf("status = %q, want approved", store.proposals[17].ProposalStatus)
	}
}

// Full review cycle: submit, deny with comments, resubmit, approve.
func TestApplyTransition_ReviewCycle(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(17, models.ProposalStatusDraft, models.ReportStatusNotApplicable)
	ctx := context.Background()

	steps := []struct {
		event Event
		actor Actor
		want  models.ProposalStatus
	}{
		{EventSubmit, Actor{}, models.ProposalStatusPending},
		{EventDeny, adminActor("budget section incomplete"), models.ProposalStatusDenied},
		{EventResubmit, Actor{}, models.ProposalStatusPending},
		{EventApprove, adminActor("approved"), models.ProposalStatusApproved},
	}
	for _, step := range steps {
		res, err := engine.ApplyTransition(ctx, 17, step.event, step.actor)
		if err != nil {
			t.Fatalf("%s: %v", step.event, err)
		}
		if res.NewStatus != step.want {
			t.Fatalf("%s: NewStatus = %q, want %q", step.event, res.NewStatus, step.want)
		}
	}

	// Denial comments were persisted on the proposal.
	if store.proposals[17].AdminComments == nil {
		t.Fatal("AdminComments not persisted")
	}
	if len(store.events) != 4 {
		t.Errorf("len(events) = %d, want 4 outbox rows", len(store.events))
	}
}

func TestApplyTransition_CASRaceSurfaced(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(17, models.ProposalStatusPending, models.ReportStatusNotApplicable)
	store.failCommits = 1

	_, err := engine.ApplyTransition(context.Background(), 17, EventApprove, adminActor("ok"))
	wantKind(t, err, apperr.KindInvalidTransition)
}

// ---------------------------------------------------------------------------
// Auto-promotion
// ---------------------------------------------------------------------------

func TestOnSectionSaved_AutoPromotes(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(17, models.ProposalStatusDraft, models.ReportStatusNotApplicable)

	res, err := engine.OnSectionSaved(context.Background(), 17, "event-details", map[string]any{
		"venue":      "Gymnasium",
		"start_date": "2026-04-01",
		"end_date":   "2026-04-02",
	}, Actor{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AutoPromoted {
		t.Error("expected AutoPromoted=true")
	}
	if res.NewStatus != models.ProposalStatusPending {
		t.Errorf("NewStatus = %q, want pending", res.NewStatus)
	}
}

func TestOnSectionSaved_IncompleteDetailsNoPromotion(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(17, models.ProposalStatusDraft, models.ReportStatusNotApplicable)

	res, err := engine.OnSectionSaved(context.Background(), 17, "event-details", map[string]any{
		"venue": "Gymnasium",
	}, Actor{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AutoPromoted {
		t.Error("expected no promotion without dates")
	}
	if res.NewStatus != models.ProposalStatusDraft {
		t.Errorf("NewStatus = %q, want draft", res.NewStatus)
	}
}

// Re-saving complete event details on a pending proposal must not error and
// must not report another promotion.
func TestOnSectionSaved_RepeatedPromotionIsNoop(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(17, models.ProposalStatusDraft, models.ReportStatusNotApplicable)
	ctx := context.Background()

	details := map[string]any{"venue": "Gym", "start_date": "2026-04-01", "end_date": "2026-04-02"}
	if _, err := engine.OnSectionSaved(ctx, 17, "event-details", details, Actor{}); err != nil {
		t.Fatalf("first save: %v", err)
	}

	res, err := engine.OnSectionSaved(ctx, 17, "event-details", details, Actor{})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if res.AutoPromoted {
		t.Error("AutoPromoted = true on repeat save, want false")
	}
	if res.NewStatus != models.ProposalStatusPending {
		t.Errorf("NewStatus = %q, want pending", res.NewStatus)
	}
	if len(store.events) != 1 {
		t.Errorf("len(events) = %d, want 1 (no outbox row for the no-op)", len(store.events))
	}
}

func TestOnSectionSaved_ResubmitsDeniedProposal(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(17, models.ProposalStatusRevisionRequested, models.ReportStatusNotApplicable)

	res, err := engine.OnSectionSaved(context.Background(), 17, "budget", map[string]any{"total": 500}, Actor{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NewStatus != models.ProposalStatusPending {
		t.Errorf("NewStatus = %q, want pending", res.NewStatus)
	}
}

// ---------------------------------------------------------------------------
// Report machine
// ---------------------------------------------------------------------------

func TestReportTransition_RequiresApprovedProposal(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(17, models.ProposalStatusPending, models.ReportStatusNotApplicable)

	_, err := engine.ApplyReportTransition(context.Background(), 17, EventReportSubmit, Actor{})
	wantKind(t, err, apperr.KindInvalidTransition)
}

func TestReportTransition_SubmitAndReview(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(17, models.ProposalStatusApproved, models.ReportStatusNotApplicable)
	ctx := context.Background()

	res, err := engine.ApplyReportTransition(ctx, 17, EventReportSubmit, Actor{})
	if err != nil {
		t.Fatalf("report submit: %v", err)
	}
	if res.NewStatus != models.ReportStatusPending {
		t.Errorf("NewStatus = %q, want pending", res.NewStatus)
	}

	if _, err := engine.ApplyReportTransition(ctx, 17, EventReportDeny, adminActor("missing receipts")); err != nil {
		t.Fatalf("report deny: %v", err)
	}
	if _, err := engine.ApplyReportTransition(ctx, 17, EventReportSubmit, Actor{}); err != nil {
		t.Fatalf("report resubmit: %v", err)
	}
	if _, err := engine.ApplyReportTransition(ctx, 17, EventReportApprove, adminActor("ok")); err != nil {
		t.Fatalf("report approve: %v", err)
	}
	if store.proposals[17].ReportStatus != models.ReportStatusApproved {
		t.Errorf("report status = %q, want approved", store.proposals[17].ReportStatus)
	}

	// The proposal machine was untouched throughout.
	if store.proposals[17].ProposalStatus != models.ProposalStatusApproved {
		t.Errorf("proposal status = %q, want approved", store.proposals[17].ProposalStatus)
	}
}

func TestReportTransition_OutboxCarriesReportStatuses(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(17, models.ProposalStatusApproved, models.ReportStatusNotApplicable)

	if _, err := engine.ApplyReportTransition(context.Background(), 17, EventReportSubmit, Actor{}); err != nil {
		t.Fatalf("report submit: %v", err)
	}
	event := store.events[len(store.events)-1]
	if event.Metadata["report_new"] != "pending" {
		t.Errorf("report_new = %v, want pending", event.Metadata["report_new"])
	}
}

// ---------------------------------------------------------------------------
// Bulk transitions
// ---------------------------------------------------------------------------

func TestBulkApplyStatus_PartialFailure(t *testing.T) {
	engine, store := newTestEngine(t)
	store.add(1, models.ProposalStatusPending, models.ReportStatusNotApplicable)
	store.add(2, models.ProposalStatusDenied, models.ReportStatusNotApplicable) // cannot go straight to approved
	store.add(3, models.ProposalStatusPending, models.ReportStatusNotApplicable)

	comments := "batch approved"
	actorID := "admin-1"
	res := engine.BulkApplyStatus(context.Background(), []int64{1, 2, 404, 3}, models.ProposalStatusApproved, &comments, &actorID)

	if res.Applied != 2 {
		t.Errorf("Applied = %d, want 2", res.Applied)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("len(Failed) = %d, want 2", len(res.Failed))
	}

	failedIDs := map[int64]bool{}
	for _, f := range res.Failed {
		failedIDs[f.ID] = true
		if f.Error == "" {
			t.Errorf("failure for id %d has empty error", f.ID)
		}
	}
	if !failedIDs[2] || !failedIDs[404] {
		t.Errorf("Failed = %+v, want ids 2 and 404", res.Failed)
	}

	// Successful rows got the comments; the batch did not stop at the failures.
	if store.proposals[1].ProposalStatus != models.ProposalStatusApproved {
		t.Error("proposal 1 not approved")
	}
	if store.proposals[3].ProposalStatus != models.ProposalStatusApproved {
		t.Error("proposal 3 not approved")
	}
	if store.proposals[1].AdminComments == nil || *store.proposals[1].AdminComments != comments {
		t.Error("admin comments not persisted on proposal 1")
	}
	if store.proposals[2].ProposalStatus != models.ProposalStatusDenied {
		t.Error("proposal 2 should be untouched")
	}
}

func TestBulkApplyStatus_EmptyList(t *testing.T) {
	engine, _ := newTestEngine(t)
	res := engine.BulkApplyStatus(context.Background(), nil, models.ProposalStatusApproved, nil, nil)
	if res.Applied != 0 || len(res.Failed) != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
}
