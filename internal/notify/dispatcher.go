// Package notify turns accepted status transitions into notifications. The
// rule table below is keyed on (previous, new) status pairs; each matching
// rule yields one in-app notification row, optionally followed by an email to
// the proposal's contact address. Rows carry a dedup key derived from the
// outbox event id, so redelivering the same event (the outbox is
// at-least-once) can never double-notify, while two separate identical
// transitions notify twice as they should.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/partnerhub/partnerhub/internal/apperr"
	"github.com/partnerhub/partnerhub/internal/db/models"
	"github.com/partnerhub/partnerhub/internal/lifecycle"
	"github.com/partnerhub/partnerhub/internal/telemetry"
)

// RoleAdmin is the role name admin-facing notifications target.
const RoleAdmin = "admin"

// Store is the persistence surface the dispatcher needs.
type Store interface {
	CreateIfAbsent(ctx context.Context, n *models.Notification) (bool, error)
}

// audience says who a rule notifies.
type audience int

const (
	audienceOwner audience = iota
	audienceAdmins
)

// rule describes the notification a (previous, new) status pair produces.
type rule struct {
	audience audience
	priority models.NotificationPriority
	title    string
	// message renders the body; comments is the admin's free-text comment,
	// included verbatim where the rule calls for it.
	message func(p *models.Proposal, comments string) string
	// email is set on rules that also send to the proposal contact address.
	email bool
}

type statusPair struct {
	previous models.ProposalStatus
	new      models.ProposalStatus
}

var proposalRules = map[statusPair][]rule{
	{models.ProposalStatusDraft, models.ProposalStatusPending}: {
		{
			audience: audienceAdmins,
			priority: models.NotificationPriorityNormal,
			title:    "New proposal pending review",
			message: func(p *models.Proposal, _ string) string {
				return fmt.Sprintf("%q from %s is ready for review.", p.EventTitle, p.OrganizationName)
			},
		},
	},
	{models.ProposalStatusPending, models.ProposalStatusApproved}: {
		{
			audience: audienceOwner,
			priority: models.NotificationPriorityNormal,
			title:    "Proposal approved",
			message: func(p *models.Proposal, comments string) string {
				msg := fmt.Sprintf("Your proposal %q has been approved.", p.EventTitle)
				if comments != "" {
					msg += "\n\nReviewer comments:\n" + comments
				}
				return msg
			},
			email: true,
		},
		{
			audience: audienceAdmins,
			priority: models.NotificationPriorityLow,
			title:    "Proposal approved",
			message: func(p *models.Proposal, _ string) string {
				return fmt.Sprintf("%q from %s was approved.", p.EventTitle, p.OrganizationName)
			},
		},
	},
	{models.ProposalStatusPending, models.ProposalStatusDenied}: {
		{
			audience: audienceOwner,
			priority: models.NotificationPriorityHigh,
			title:    "Proposal denied",
			message: func(p *models.Proposal, comments string) string {
				msg := fmt.Sprintf("Your proposal %q has been denied.", p.EventTitle)
				if comments != "" {
					msg += "\n\nReviewer comments:\n" + comments
				}
				return msg
			},
			email: true,
		},
	},
	{models.ProposalStatusPending, models.ProposalStatusRevisionRequested}: {
		{
			audience: audienceOwner,
			priority: models.NotificationPriorityHigh,
			title:    "Revisions requested",
			message: func(p *models.Proposal, comments string) string {
				msg := fmt.Sprintf("Your proposal %q needs revisions before it can be approved.", p.EventTitle)
				if comments != "" {
					msg += "\n\nReviewer comments:\n" + comments
				}
				return msg
			},
			email: true,
		},
	},
	{models.ProposalStatusDenied, models.ProposalStatusPending}: {
		{
			audience: audienceAdmins,
			priority: models.NotificationPriorityNormal,
			title:    "Proposal resubmitted",
			message: func(p *models.Proposal, _ string) string {
				return fmt.Sprintf("%q from %s was resubmitted for review.", p.EventTitle, p.OrganizationName)
			},
		},
	},
	{models.ProposalStatusRevisionRequested, models.ProposalStatusPending}: {
		{
			audience: audienceAdmins,
			priority: models.NotificationPriorityNormal,
			title:    "Proposal resubmitted",
			message: func(p *models.Proposal, _ string) string {
				return fmt.Sprintf("%q from %s was resubmitted with revisions.", p.EventTitle, p.OrganizationName)
			},
		},
	},
}

type reportPair struct {
	previous models.ReportStatus
	new      models.ReportStatus
}

var reportRules = map[reportPair][]rule{
	{models.ReportStatusNotApplicable, models.ReportStatusPending}: reportSubmittedRules,
	{models.ReportStatusDraft, models.ReportStatusPending}:         reportSubmittedRules,
	{models.ReportStatusDenied, models.ReportStatusPending}:        reportSubmittedRules,
	{models.ReportStatusPending, models.ReportStatusApproved}: {
		{
			audience: audienceOwner,
			priority: models.NotificationPriorityNormal,
			title:    "Final report approved",
			message: func(p *models.Proposal, _ string) string {
				return fmt.Sprintf("The final report for %q has been approved.", p.EventTitle)
			},
			email: true,
		},
	},
	{models.ReportStatusPending, models.ReportStatusDenied}: {
		{
			audience: audienceOwner,
			priority: models.NotificationPriorityHigh,
			title:    "Final report denied",
			message: func(p *models.Proposal, comments string) string {
				msg := fmt.Sprintf("The final report for %q has been denied.", p.EventTitle)
				if comments != "" {
					msg += "\n\nReviewer comments:\n" + comments
				}
				return msg
			},
			email: true,
		},
	},
}

var reportSubmittedRules = []rule{
	{
		audience: audienceAdmins,
		priority: models.NotificationPriorityNormal,
		title:    "Final report submitted",
		message: func(p *models.Proposal, _ string) string {
			return fmt.Sprintf("The final report for %q from %s is ready for review.", p.EventTitle, p.OrganizationName)
		},
	},
}

// Dispatcher creates notifications for transition events.
type Dispatcher struct {
	store      Store
	mailer     Mailer
	logger     *slog.Logger
	defaultTTL time.Duration
}

// NewDispatcher creates a dispatcher. mailer may be nil to disable the email
// channel entirely.
func NewDispatcher(store Store, mailer Mailer, logger *slog.Logger, defaultTTL time.Duration) *Dispatcher {
	return &Dispatcher{store: store, mailer: mailer, logger: logger, defaultTTL: defaultTTL}
}

// Dispatch creates the notifications one outbox event calls for. It is safe
// to call repeatedly with the same event: dedup keys make redelivery a no-op.
// An error from the notification store is returned so the caller can retry
// the event; email failures are logged and swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.ProposalEvent, p *models.Proposal) error {
	rules := rulesFor(event)
	if len(rules) == 0 {
		return nil
	}

	comments := ""
	if event.Comments != nil {
		comments = *event.Comments
	}

	for i, r := range rules {
		n := d.buildNotification(event, p, r, i)
		inserted, err := d.store.CreateIfAbsent(ctx, n)
		if err != nil {
			return apperr.Wrap(apperr.KindDependencyFailure, err,
				"failed to create notification for event %d", event.ID)
		}
		if !inserted {
			continue
		}
		telemetry.NotificationsCreatedTotal.WithLabelValues(string(n.Priority)).Inc()

		if r.email && d.mailer != nil && p.ContactEmail != "" {
			if err := d.mailer.Send(p.ContactEmail, n.Title, r.message(p, comments)); err != nil {
				telemetry.NotificationEmailFailuresTotal.Inc()
				d.logger.Warn("notification email failed",
					"proposal_id", p.SurrogateID,
					"to", p.ContactEmail,
					"error", err)
			} else {
				telemetry.NotificationEmailsSentTotal.Inc()
			}
		}
	}

	return nil
}

func (d *Dispatcher) buildNotification(event *models.ProposalEvent, p *models.Proposal, r rule, ruleIndex int) *models.Notification {
	comments := ""
	if event.Comments != nil {
		comments = *event.Comments
	}

	dedup := fmt.Sprintf("evt-%d-%d", event.ID, ruleIndex)
	n := &models.Notification{
		Title:             r.title,
		Message:           r.message(p, comments),
		NotificationType:  event.EventType,
		Priority:          r.priority,
		Status:            models.NotificationStatusPending,
		RelatedProposalID: &p.SurrogateID,
		DedupKey:          &dedup,
	}

	switch r.audience {
	case audienceOwner:
		owner := p.OwnerID
		n.TargetUserID = &owner
	case audienceAdmins:
		role := RoleAdmin
		n.TargetRole = &role
	}

	if d.defaultTTL > 0 {
		expires := time.Now().Add(d.defaultTTL)
		n.ExpiresAt = &expires
	}

	return n
}

// rulesFor selects the rule set an event matches. Report events carry their
// machine's statuses in the event metadata.
func rulesFor(event *models.ProposalEvent) []rule {
	switch lifecycle.Event(event.EventType) {
	case lifecycle.EventReportStart, lifecycle.EventReportSubmit,
		lifecycle.EventReportApprove, lifecycle.EventReportDeny:
		prev, _ := event.Metadata["report_previous"].(string)
		next, _ := event.Metadata["report_new"].(string)
		return reportRules[reportPair{models.ReportStatus(prev), models.ReportStatus(next)}]
	default:
		return proposalRules[statusPair{event.Previous, event.New}]
	}
}
