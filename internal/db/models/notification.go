// Package models - notification.go defines the Notification model, the in-app
// record that is the source of truth for "was the user notified".
package models

import "time"

// NotificationStatus is the delivery status of an in-app notification. Only
// the status field of a persisted notification is ever mutated, and only by
// the recipient-facing read/archive actions and the expirer job.
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusRead      NotificationStatus = "read"
	NotificationStatusArchived  NotificationStatus = "archived"
	NotificationStatusExpired   NotificationStatus = "expired"
)

// NotificationPriority orders notifications in recipient-facing lists.
type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "low"
	NotificationPriorityNormal NotificationPriority = "normal"
	NotificationPriorityHigh   NotificationPriority = "high"
)

// Notification represents one in-app notification row.
//
// Targeting is exactly one of: TargetUserID (direct), TargetRole (everyone
// holding the role), or Broadcast (everyone minus ExcludedUserIDs).
// RelatedProposalID is always a surrogate key.
type Notification struct {
	ID int64 `db:"id" json:"id"`

	TargetUserID    *string  `db:"target_user_id" json:"targetUserId,omitempty"`
	TargetRole      *string  `db:"target_role" json:"targetRole,omitempty"`
	Broadcast       bool     `db:"broadcast" json:"broadcast"`
	ExcludedUserIDs []string `db:"-" json:"excludedUserIds,omitempty"`

	Title            string               `db:"title" json:"title"`
	Message          string               `db:"message" json:"message"`
	NotificationType string               `db:"notification_type" json:"notificationType"`
	Priority         NotificationPriority `db:"priority" json:"priority"`
	Status           NotificationStatus   `db:"status" json:"status"`

	RelatedProposalID *int64                 `db:"related_proposal_id" json:"relatedProposalId,omitempty"`
	Metadata          map[string]interface{} `db:"-" json:"metadata,omitempty"`

	// DedupKey makes outbox redelivery idempotent: retrying the same proposal
	// event never creates a second row for the same recipient spec.
	DedupKey *string `db:"dedup_key" json:"-"`

	ExpiresAt *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}
