// Package models - outbox.go defines the ProposalEvent outbox row written in
// the same transaction as a status change and drained by the outbox
// dispatcher into audit entries and notifications.
package models

import "time"

// ProposalEvent is one durable "transition occurred" record. The lifecycle
// engine inserts it atomically with the proposal update; the dispatcher
// processes it at-least-once, so every downstream consumer must key dedup on
// the event ID.
type ProposalEvent struct {
	ID         int64          `db:"id" json:"id"`
	ProposalID int64          `db:"proposal_id" json:"proposalId"` // surrogate key
	EventType  string         `db:"event_type" json:"eventType"`
	Previous   ProposalStatus `db:"previous_status" json:"previousStatus"`
	New        ProposalStatus `db:"new_status" json:"newStatus"`
	ActorID    *string        `db:"actor_id" json:"actorId,omitempty"`
	Comments   *string        `db:"comments" json:"comments,omitempty"`
	// Metadata carries transition context for audit AdditionalInfo (e.g.
	// autoPromoted, section name, request id).
	Metadata map[string]interface{} `db:"-" json:"metadata,omitempty"`

	Attempts    int        `db:"attempts" json:"attempts"`
	ProcessedAt *time.Time `db:"processed_at" json:"processedAt,omitempty"`
	LastError   *string    `db:"last_error" json:"lastError,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}
