package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/partnerhub/partnerhub/internal/db/models"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeNotificationStore struct {
	created   []*models.Notification
	dedupSeen map[string]bool
	err       error
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{dedupSeen: make(map[string]bool)}
}

func (f *fakeNotificationStore) CreateIfAbsent(_ context.Context, n *models.Notification) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if n.DedupKey != nil {
		if f.dedupSeen[*n.DedupKey] {
			return false, nil
		}
		f.dedupSeen[*n.DedupKey] = true
	}
	n.ID = int64(len(f.created) + 1)
	f.created = append(f.created, n)
	return true, nil
}

type fakeMailer struct {
	sent []string // "to|subject"
	err  error
}

func (f *fakeMailer) Send(to, subject, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+"|"+subject)
	return nil
}

func newTestDispatcher(store Store, mailer Mailer) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(store, mailer, logger, time.Hour)
}

func sampleProposal() *models.Proposal {
	return &models.Proposal{
		SurrogateID:      17,
		OwnerID:          "user-1",
		OrganizationName: "Maple Grove PTA",
		ContactEmail:     "chair@maplegrove.org",
		EventTitle:       "Spring Fundraiser",
	}
}

func transitionEvent(id int64, eventType string, prev, next models.ProposalStatus, comments *string) *models.ProposalEvent {
	return &models.ProposalEvent{
		ID:         id,
		ProposalID: 17,
		EventType:  eventType,
		Previous:   prev,
		New:        next,
		Comments:   comments,
	}
}

// ---------------------------------------------------------------------------
// Proposal machine rules
// ---------------------------------------------------------------------------

func TestDispatch_ApprovalNotifiesOwnerAndAdmins(t *testing.T) {
	store := newFakeNotificationStore()
	mailer := &fakeMailer{}
	d := newTestDispatcher(store, mailer)

	event := transitionEvent(9, "approve", models.ProposalStatusPending, models.ProposalStatusApproved, nil)
	if err := d.Dispatch(context.Background(), event, sampleProposal()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(store.created) != 2 {
		t.Fatalf("len(created) = %d, want 2", len(store.created))
	}

	owner, admins := store.created[0], store.created[1]
	if owner.TargetUserID == nil || *owner.TargetUserID != "user-1" {
		t.Errorf("first notification target = %+v, want owner user-1", owner.TargetUserID)
	}
	if owner.Priority != models.NotificationPriorityNormal {
		t.Errorf("owner priority = %q, want normal", owner.Priority)
	}
	if admins.TargetRole == nil || *admins.TargetRole != RoleAdmin {
		t.Errorf("second notification target role = %+v, want admin", admins.TargetRole)
	}
	if admins.Priority != models.NotificationPriorityLow {
		t.Errorf("admin priority = %q, want low", admins.Priority)
	}

	// Only the owner rule sends email.
	if len(mailer.sent) != 1 || !strings.HasPrefix(mailer.sent[0], "chair@maplegrove.org|") {
		t.Errorf("mailer.sent = %v, want one email to the contact address", mailer.sent)
	}
}

func TestDispatch_DenialCarriesCommentsVerbatim(t *testing.T) {
	store := newFakeNotificationStore()
	d := newTestDispatcher(store, nil)

	comments := "Budget section is missing receipts; venue unconfirmed."
	event := transitionEvent(9, "deny", models.ProposalStatusPending, models.ProposalStatusDenied, &comments)
	if err := d.Dispatch(context.Background(), event, sampleProposal()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("len(created) = %d, want 1", len(store.created))
	}
	n := store.created[0]
	if n.Priority != models.NotificationPriorityHigh {
		t.Errorf("priority = %q, want high", n.Priority)
	}
	if !strings.Contains(n.Message, comments) {
		t.Errorf("message %q does not contain the admin comments verbatim", n.Message)
	}
}

func TestDispatch_SubmissionNotifiesAdmins(t *testing.T) {
	store := newFakeNotificationStore()
	d := newTestDispatcher(store, nil)

	event := transitionEvent(9, "submit", models.ProposalStatusDraft, models.ProposalStatusPending, nil)
	if err := d.Dispatch(context.Background(), event, sampleProposal()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("len(created) = %d, want 1", len(store.created))
	}
	if store.created[0].TargetRole == nil || *store.created[0].TargetRole != RoleAdmin {
		t.Error("submission should notify admins")
	}
}

func TestDispatch_UnmappedPairIsNoop(t *testing.T) {
	store := newFakeNotificationStore()
	d := newTestDispatcher(store, nil)

	// No rule maps approved->denied; nothing should be created.
	event := transitionEvent(9, "deny", models.ProposalStatusApproved, models.ProposalStatusDenied, nil)
	if err := d.Dispatch(context.Background(), event, sampleProposal()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(store.created) != 0 {
		t.Errorf("len(created) = %d, want 0", len(store.created))
	}
}

// ---------------------------------------------------------------------------
// At-least-once safety
// ---------------------------------------------------------------------------

// Redelivering the same outbox event must not create duplicate rows.
func TestDispatch_RedeliveryIsDeduplicated(t *testing.T) {
	store := newFakeNotificationStore()
	d := newTestDispatcher(store, nil)
	ctx := context.Background()

	event := transitionEvent(9, "approve", models.ProposalStatusPending, models.ProposalStatusApproved, nil)
	if err := d.Dispatch(ctx, event, sampleProposal()); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := d.Dispatch(ctx, event, sampleProposal()); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}

	if len(store.created) != 2 {
		t.Errorf("len(created) = %d, want 2 (no duplicates from redelivery)", len(store.created))
	}
}

// A distinct event for the same kind of transition notifies again.
func TestDispatch_DistinctEventsNotifySeparately(t *testing.T) {
	store := newFakeNotificationStore()
	d := newTestDispatcher(store, nil)
	ctx := context.Background()

	first := transitionEvent(9, "deny", models.ProposalStatusPending, models.ProposalStatusDenied, nil)
	second := transitionEvent(12, "deny", models.ProposalStatusPending, models.ProposalStatusDenied, nil)
	if err := d.Dispatch(ctx, first, sampleProposal()); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := d.Dispatch(ctx, second, sampleProposal()); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}

	if len(store.created) != 2 {
		t.Errorf("len(created) = %d, want 2", len(store.created))
	}
}

func TestDispatch_StoreErrorSurfaces(t *testing.T) {
	store := newFakeNotificationStore()
	store.err = errors.New("db down")
	d := newTestDispatcher(store, nil)

	event := transitionEvent(9, "submit", models.ProposalStatusDraft, models.ProposalStatusPending, nil)
	if err := d.Dispatch(context.Background(), event, sampleProposal()); err == nil {
		t.Error("expected error so the outbox retries the event")
	}
}

func TestDispatch_EmailFailureDoesNotFailDispatch(t *testing.T) {
	store := newFakeNotificationStore()
	mailer := &fakeMailer{err: errors.New("smtp timeout")}
	d := newTestDispatcher(store, mailer)

	event := transitionEvent(9, "approve", models.ProposalStatusPending, models.ProposalStatusApproved, nil)
	if err := d.Dispatch(context.Background(), event, sampleProposal()); err != nil {
		t.Fatalf("Dispatch should not fail on email error: %v", err)
	}
	if len(store.created) != 2 {
		t.Errorf("len(created) = %d, want 2 (rows written despite email failure)", len(store.created))
	}
}

// ---------------------------------------------------------------------------
// Report machine rules
// ---------------------------------------------------------------------------

func TestDispatch_ReportSubmissionNotifiesAdmins(t *testing.T) {
	store := newFakeNotificationStore()
	d := newTestDispatcher(store, nil)

	event := &models.ProposalEvent{
		ID:         9,
		ProposalID: 17,
		EventType:  "report_submit",
		Previous:   models.ProposalStatusApproved,
		New:        models.ProposalStatusApproved,
		Metadata: map[string]interface{}{
			"report_previous": "draft",
			"report_new":      "pending",
		},
	}
	if err := d.Dispatch(context.Background(), event, sampleProposal()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("len(created) = %d, want 1", len(store.created))
	}
	if store.created[0].TargetRole == nil || *store.created[0].TargetRole != RoleAdmin {
		t.Error("report submission should notify admins")
	}
}

func TestDispatch_ReportDenialEmailsOwner(t *testing.T) {
	store := newFakeNotificationStore()
	mailer := &fakeMailer{}
	d := newTestDispatcher(store, mailer)

	comments := "Attendance numbers missing."
	event := &models.ProposalEvent{
		ID:         9,
		ProposalID: 17,
		EventType:  "report_deny",
		Comments:   &comments,
		Metadata: map[string]interface{}{
			"report_previous": "pending",
			"report_new":      "denied",
		},
	}
	if err := d.Dispatch(context.Background(), event, sampleProposal()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(store.created) != 1 || len(mailer.sent) != 1 {
		t.Fatalf("created=%d sent=%d, want 1/1", len(store.created), len(mailer.sent))
	}
	if !strings.Contains(store.created[0].Message, comments) {
		t.Error("report denial should carry comments verbatim")
	}
}
