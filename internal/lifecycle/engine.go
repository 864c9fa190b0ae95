// Package lifecycle implements the proposal status transition engine: closed
// transition tables for the proposal machine and the parallel final-report
// machine, compare-and-swap commits, and the bulk admin transition path.
//
// Every accepted transition writes one outbox row in the same transaction as
// the status change; the outbox dispatcher later turns those rows into audit
// entries and notifications. The engine itself never talks to the audit log
// or the notifier, so a flaky downstream can never unwind a status change.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/partnerhub/partnerhub/internal/apperr"
	"github.com/partnerhub/partnerhub/internal/db/models"
	"github.com/partnerhub/partnerhub/internal/telemetry"
)

// Event names a transition trigger. The transition tables below are the only
// authority on which (status, event) pairs are legal; there is no way to move
// a proposal between statuses that bypasses them.
type Event string

const (
	EventSubmit          Event = "submit"
	EventApprove         Event = "approve"
	EventDeny            Event = "deny"
	EventRequestRevision Event = "request_revision"
	EventResubmit        Event = "resubmit"
	// EventAutoPromote is raised internally when the event-details section
	// becomes complete; it is never accepted from a client.
	EventAutoPromote Event = "auto_promote"
)

// Report machine events.
const (
	EventReportStart   Event = "report_start"
	EventReportSubmit  Event = "report_submit"
	EventReportApprove Event = "report_approve"
	EventReportDeny    Event = "report_deny"
)

type transitionKey struct {
	from  models.ProposalStatus
	event Event
}

var proposalTransitions = map[transitionKey]models.ProposalStatus{
	{models.ProposalStatusDraft, EventSubmit}:      models.ProposalStatusPending,
	{models.ProposalStatusDraft, EventAutoPromote}: models.ProposalStatusPending,

	{models.ProposalStatusPending, EventApprove}:         models.ProposalStatusApproved,
	{models.ProposalStatusPending, EventDeny}:            models.ProposalStatusDenied,
	{models.ProposalStatusPending, EventRequestRevision}: models.ProposalStatusRevisionRequested,

	// A denied or revision-requested proposal re-enters review; there is no
	// path from denied straight to approved.
	{models.ProposalStatusDenied, EventResubmit}:            models.ProposalStatusPending,
	{models.ProposalStatusRevisionRequested, EventResubmit}: models.ProposalStatusPending,
}

type reportKey struct {
	from  models.ReportStatus
	event Event
}

var reportTransitions = map[reportKey]models.ReportStatus{
	{models.ReportStatusNotApplicable, EventReportStart}:  models.ReportStatusDraft,
	{models.ReportStatusNotApplicable, EventReportSubmit}: models.ReportStatusPending,
	{models.ReportStatusDraft, EventReportSubmit}:         models.ReportStatusPending,
	{models.ReportStatusDenied, EventReportSubmit}:        models.ReportStatusPending,
	{models.ReportStatusPending, EventReportApprove}:      models.ReportStatusApproved,
	{models.ReportStatusPending, EventReportDeny}:         models.ReportStatusDenied,
}

// Actor identifies who triggered a transition. A nil ID means the system
// itself (auto-promotion).
type Actor struct {
	ID       *string
	Comments *string
}

// Result describes an accepted (or no-op) transition.
type Result struct {
	PreviousStatus models.ProposalStatus
	NewStatus      models.ProposalStatus
	AutoPromoted   bool
}

// ReportResult describes an accepted report transition.
type ReportResult struct {
	PreviousStatus models.ReportStatus
	NewStatus      models.ReportStatus
}

// BulkFailure records one id that could not be transitioned in a bulk call.
type BulkFailure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// BulkResult summarizes a bulk admin transition.
type BulkResult struct {
	Applied int           `json:"applied"`
	Failed  []BulkFailure `json:"failed"`
}

// ProposalStore is the persistence surface the engine needs.
type ProposalStore interface {
	GetBySurrogateID(ctx context.Context, id int64) (*models.Proposal, error)
	CommitTransition(ctx context.Context, surrogateID int64, from, to models.ProposalStatus, fromVersion int64, adminComments *string, event *models.ProposalEvent) (bool, error)
	CommitReportTransition(ctx context.Context, surrogateID int64, from, to models.ReportStatus, fromVersion int64, event *models.ProposalEvent) (bool, error)
}

// Engine validates and commits status transitions.
type Engine struct {
	store  ProposalStore
	logger *slog.Logger
}

// NewEngine creates a transition engine.
func NewEngine(store ProposalStore, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// ApplyTransition applies one event to a proposal identified by its surrogate
// key. Unknown ids yield NotFound; (status, event) pairs outside the table
// yield InvalidTransition. Raising auto_promote on an already-pending proposal
// is a no-op rather than an error, since the section save that triggered it is
// itself legal.
func (e *Engine) ApplyTransition(ctx context.Context, surrogateID int64, event Event, actor Actor) (Result, error) {
	p, err := e.store.GetBySurrogateID(ctx, surrogateID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to load proposal %d", surrogateID)
	}
	if p == nil {
		return Result{}, apperr.New(apperr.KindNotFound, "proposal %d not found", surrogateID)
	}

	return e.apply(ctx, p, event, actor)
}

func (e *Engine) apply(ctx context.Context, p *models.Proposal, event Event, actor Actor) (Result, error) {
	target, ok := proposalTransitions[transitionKey{p.ProposalStatus, event}]
	if !ok {
		if event == EventAutoPromote && p.ProposalStatus == models.ProposalStatusPending {
			// The proposal already reached pending; repeated completeness
			// signals are expected and harmless.
			return Result{PreviousStatus: p.ProposalStatus, NewStatus: p.ProposalStatus}, nil
		}
		telemetry.InvalidTransitionsTotal.WithLabelValues(string(event)).Inc()
		return Result{}, apperr.New(apperr.KindInvalidTransition,
			"cannot apply %s to proposal %d in status %s", event, p.SurrogateID, p.ProposalStatus)
	}

	outbox := &models.ProposalEvent{
		ProposalID: p.SurrogateID,
		EventType:  string(event),
		Previous:   p.ProposalStatus,
		New:        target,
		ActorID:    actor.ID,
		Comments:   actor.Comments,
	}

	committed, err := e.store.CommitTransition(ctx, p.SurrogateID, p.ProposalStatus, target, p.Version, actor.Comments, outbox)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to commit transition for proposal %d", p.SurrogateID)
	}
	if !committed {
		return e.retryAfterRace(ctx, p.SurrogateID, event, actor, target)
	}

	telemetry.TransitionsTotal.WithLabelValues(string(outbox.Previous), string(target)).Inc()
	if event == EventAutoPromote {
		telemetry.AutoPromotionsTotal.Inc()
	}
	e.logger.Info("proposal transition",
		"proposal_id", p.SurrogateID,
		"event", string(event),
		"previous", string(outbox.Previous),
		"new", string(target))

	return Result{
		PreviousStatus: outbox.Previous,
		NewStatus:      target,
		AutoPromoted:   event == EventAutoPromote,
	}, nil
}

// retryAfterRace handles a CAS miss: the proposal changed between load and
// commit. One re-read decides the outcome; the engine never loops.
func (e *Engine) retryAfterRace(ctx context.Context, surrogateID int64, event Event, actor Actor, target models.ProposalStatus) (Result, error) {
	p, err := e.store.GetBySurrogateID(ctx, surrogateID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to reload proposal %d", surrogateID)
	}
	if p == nil {
		return Result{}, apperr.New(apperr.KindNotFound, "proposal %d not found", surrogateID)
	}

	if event == EventAutoPromote && p.ProposalStatus == target {
		// Someone else promoted it first; the desired state holds.
		return Result{PreviousStatus: p.ProposalStatus, NewStatus: p.ProposalStatus}, nil
	}

	telemetry.InvalidTransitionsTotal.WithLabelValues(string(event)).Inc()
	return Result{}, apperr.New(apperr.KindInvalidTransition,
		"proposal %d was concurrently modified; now in status %s", surrogateID, p.ProposalStatus)
}

// OnSectionSaved evaluates transition side effects of a section save. Saving
// the event-details section with a venue and both dates promotes a draft to
// pending; any section save on a denied or revision-requested proposal counts
// as a resubmission. Returns the result of the side-effect transition, or a
// zero-valued no-op Result when the save has none.
func (e *Engine) OnSectionSaved(ctx context.Context, surrogateID int64, section string, payload map[string]any, actor Actor) (Result, error) {
	p, err := e.store.GetBySurrogateID(ctx, surrogateID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to load proposal %d", surrogateID)
	}
	if p == nil {
		return Result{}, apperr.New(apperr.KindNotFound, "proposal %d not found", surrogateID)
	}

	switch p.ProposalStatus {
	case models.ProposalStatusDraft, models.ProposalStatusPending:
		if section == "event-details" && eventDetailsComplete(payload) {
			return e.apply(ctx, p, EventAutoPromote, Actor{})
		}
	case models.ProposalStatusDenied, models.ProposalStatusRevisionRequested:
		return e.apply(ctx, p, EventResubmit, actor)
	}

	return Result{PreviousStatus: p.ProposalStatus, NewStatus: p.ProposalStatus}, nil
}

func eventDetailsComplete(payload map[string]any) bool {
	for _, key := range []string{"venue", "start_date", "end_date"} {
		v, ok := payload[key]
		if !ok {
			return false
		}
		if s, isStr := v.(string); isStr && s == "" {
			return false
		}
	}
	return true
}

// ApplyReportTransition applies one event to the proposal's final-report
// machine. Report operations are only legal once the proposal itself is
// approved.
func (e *Engine) ApplyReportTransition(ctx context.Context, surrogateID int64, event Event, actor Actor) (ReportResult, error) {
	p, err := e.store.GetBySurrogateID(ctx, surrogateID)
	if err != nil {
		return ReportResult{}, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to load proposal %d", surrogateID)
	}
	if p == nil {
		return ReportResult{}, apperr.New(apperr.KindNotFound, "proposal %d not found", surrogateID)
	}
	if p.ProposalStatus != models.ProposalStatusApproved {
		telemetry.InvalidTransitionsTotal.WithLabelValues(string(event)).Inc()
		return ReportResult{}, apperr.New(apperr.KindInvalidTransition,
			"proposal %d is %s; reports apply to approved proposals only", p.SurrogateID, p.ProposalStatus)
	}

	target, ok := reportTransitions[reportKey{p.ReportStatus, event}]
	if !ok {
		telemetry.InvalidTransitionsTotal.WithLabelValues(string(event)).Inc()
		return ReportResult{}, apperr.New(apperr.KindInvalidTransition,
			"cannot apply %s to report for proposal %d in status %s", event, p.SurrogateID, p.ReportStatus)
	}

	outbox := &models.ProposalEvent{
		ProposalID: p.SurrogateID,
		EventType:  string(event),
		Previous:   p.ProposalStatus,
		New:        p.ProposalStatus,
		ActorID:    actor.ID,
		Comments:   actor.Comments,
		Metadata: map[string]interface{}{
			"report_previous": string(p.ReportStatus),
			"report_new":      string(target),
		},
	}

	committed, err := e.store.CommitReportTransition(ctx, p.SurrogateID, p.ReportStatus, target, p.Version, outbox)
	if err != nil {
		return ReportResult{}, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to commit report transition for proposal %d", p.SurrogateID)
	}
	if !committed {
		telemetry.InvalidTransitionsTotal.WithLabelValues(string(event)).Inc()
		return ReportResult{}, apperr.New(apperr.KindInvalidTransition,
			"proposal %d was concurrently modified", p.SurrogateID)
	}

	e.logger.Info("report transition",
		"proposal_id", p.SurrogateID,
		"event", string(event),
		"previous", string(p.ReportStatus),
		"new", string(target))

	return ReportResult{PreviousStatus: p.ReportStatus, NewStatus: target}, nil
}

// BulkApplyStatus moves each listed proposal to the target status, deriving
// the event from each proposal's current status. Failures are collected
// per-id; one bad id never fails the batch. Admin comments, when set, are
// persisted on every successfully transitioned proposal.
func (e *Engine) BulkApplyStatus(ctx context.Context, ids []int64, target models.ProposalStatus, adminComments *string, actorID *string) BulkResult {
	result := BulkResult{Failed: make([]BulkFailure, 0)}
	actor := Actor{ID: actorID, Comments: adminComments}

	for _, id := range ids {
		if err := e.applyToTarget(ctx, id, target, actor); err != nil {
			result.Failed = append(result.Failed, BulkFailure{ID: id, Error: err.Error()})
			continue
		}
		result.Applied++
	}

	return result
}

func (e *Engine) applyToTarget(ctx context.Context, id int64, target models.ProposalStatus, actor Actor) error {
	p, err := e.store.GetBySurrogateID(ctx, id)
	if err != nil {
		return apperr.Wrap(apperr.KindDependencyFailure, err, "failed to load proposal %d", id)
	}
	if p == nil {
		return apperr.New(apperr.KindNotFound, "proposal %d not found", id)
	}

	event, ok := eventForTarget(p.ProposalStatus, target)
	if !ok {
		telemetry.InvalidTransitionsTotal.WithLabelValues(fmt.Sprintf("bulk_%s", target)).Inc()
		return apperr.New(apperr.KindInvalidTransition,
			"no transition from %s to %s", p.ProposalStatus, target)
	}

	_, err = e.apply(ctx, p, event, actor)
	return err
}

// eventForTarget finds the event that moves from one status to another, if
// the table allows it. Auto-promotion is excluded: it is not an admin action.
func eventForTarget(from, to models.ProposalStatus) (Event, bool) {
	for key, target := range proposalTransitions {
		if key.from == from && target == to && key.event != EventAutoPromote {
			return key.event, true
		}
	}
	return "", false
}
