// outbox_dispatcher.go implements the OutboxDispatcher background job, which
// drains the proposal_events outbox into audit entries and notifications.
// Events are claimed in insertion order and delivered at least once: a failed
// delivery leaves the event unprocessed with an incremented attempt counter,
// and an event that exhausts its attempt budget is parked for operator
// inspection rather than retried forever. Downstream consumers dedup on the
// event id, so redelivery is harmless.
package jobs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/partnerhub/partnerhub/internal/config"
	"github.com/partnerhub/partnerhub/internal/db/models"
	"github.com/partnerhub/partnerhub/internal/telemetry"
)

// OutboxSource is the outbox persistence surface the dispatcher needs.
type OutboxSource interface {
	ClaimUnprocessed(ctx context.Context, limit, maxAttempts int) ([]*models.ProposalEvent, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause error) error
	CountUnprocessed(ctx context.Context) (int64, error)
}

// ProposalSource loads the proposal an event refers to.
type ProposalSource interface {
	GetBySurrogateID(ctx context.Context, id int64) (*models.Proposal, error)
}

// AuditRecorder appends audit entries for delivered events.
type AuditRecorder interface {
	Record(ctx context.Context, surrogateID int64, actionType string, userID, note *string, extra map[string]interface{}) error
}

// Notifier creates the notifications an event calls for.
type Notifier interface {
	Dispatch(ctx context.Context, event *models.ProposalEvent, p *models.Proposal) error
}

// OutboxDispatcher periodically drains unprocessed transition events.
type OutboxDispatcher struct {
	outbox    OutboxSource
	proposals ProposalSource
	auditor   AuditRecorder
	notifier  Notifier
	cfg       config.OutboxConfig
	logger    *slog.Logger
	stopChan  chan struct{}
}

// NewOutboxDispatcher creates a new OutboxDispatcher.
func NewOutboxDispatcher(
	outbox OutboxSource,
	proposals ProposalSource,
	auditor AuditRecorder,
	notifier Notifier,
	cfg config.OutboxConfig,
	logger *slog.Logger,
) *OutboxDispatcher {
	return &OutboxDispatcher{
		outbox:    outbox,
		proposals: proposals,
		auditor:   auditor,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background drain loop. It runs one drain immediately, then
// repeats on the configured poll interval. The loop exits when ctx is
// cancelled or Stop() is called.
func (d *OutboxDispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("outbox dispatcher started",
		"poll_interval", d.cfg.PollInterval,
		"batch_size", d.cfg.BatchSize,
		"max_attempts", d.cfg.MaxAttempts)

	d.DrainOnce(ctx)

	for {
		select {
		case <-ticker.C:
			d.DrainOnce(ctx)
		case <-d.stopChan:
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (d *OutboxDispatcher) Stop() {
	close(d.stopChan)
}

// DrainOnce claims and delivers one batch of unprocessed events.
func (d *OutboxDispatcher) DrainOnce(ctx context.Context) {
	events, err := d.outbox.ClaimUnprocessed(ctx, d.cfg.BatchSize, d.cfg.MaxAttempts)
	if err != nil {
		d.logger.Error("outbox claim failed", "error", err)
		return
	}

	for _, event := range events {
		if err := d.deliver(ctx, event); err != nil {
			d.logger.Warn("outbox delivery failed",
				"event_id", event.ID,
				"proposal_id", event.ProposalID,
				"attempt", event.Attempts+1,
				"error", err)
			if markErr := d.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
				d.logger.Error("outbox mark-failed failed", "event_id", event.ID, "error", markErr)
			}
			if event.Attempts+1 >= d.cfg.MaxAttempts {
				telemetry.OutboxProcessedTotal.WithLabelValues("parked").Inc()
				d.logger.Error("outbox event parked after exhausting attempts",
					"event_id", event.ID, "proposal_id", event.ProposalID)
			} else {
				telemetry.OutboxProcessedTotal.WithLabelValues("retry").Inc()
			}
			continue
		}

		if err := d.outbox.MarkProcessed(ctx, event.ID); err != nil {
			// The event will be redelivered; consumers dedup on event id.
			d.logger.Error("outbox mark-processed failed", "event_id", event.ID, "error", err)
			continue
		}
		telemetry.OutboxProcessedTotal.WithLabelValues("ok").Inc()
	}

	if backlog, err := d.outbox.CountUnprocessed(ctx); err == nil {
		telemetry.OutboxUnprocessed.Set(float64(backlog))
	}
}

// auditActionFor maps an outbox event to its audit action name. Proposal
// status transitions are recorded as the outcome (status_denied) rather than
// the trigger (deny), so the trail reads as what happened to the record.
// Report events keep their event name, which already carries the report_
// prefix and leaves the proposal status untouched.
func auditActionFor(event *models.ProposalEvent) string {
	if strings.HasPrefix(event.EventType, "report_") {
		return event.EventType
	}
	return "status_" + string(event.New)
}

// deliver fans one event out to the audit log and the notifier.
func (d *OutboxDispatcher) deliver(ctx context.Context, event *models.ProposalEvent) error {
	extra := map[string]interface{}{
		"event_id": event.ID,
		"previous": string(event.Previous),
		"new":      string(event.New),
	}
	for k, v := range event.Metadata {
		extra[k] = v
	}

	if err := d.auditor.Record(ctx, event.ProposalID, auditActionFor(event), event.ActorID, event.Comments, extra); err != nil {
		return err
	}

	p, err := d.proposals.GetBySurrogateID(ctx, event.ProposalID)
	if err != nil {
		return err
	}
	if p == nil {
		// The proposal vanished; record nothing further and consume the event.
		d.logger.Warn("outbox event for missing proposal", "event_id", event.ID, "proposal_id", event.ProposalID)
		return nil
	}

	return d.notifier.Dispatch(ctx, event, p)
}
