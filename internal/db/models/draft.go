// Package models - draft.go defines the Draft model, the transient
// pre-submission working copy of proposal form data held in the draft store.
package models

import "time"

// DraftStatus is the status of a pre-submission draft.
type DraftStatus string

const (
	DraftStatusDraft     DraftStatus = "draft"
	DraftStatusSubmitted DraftStatus = "submitted"
)

// Draft is a transient working copy of proposal form data, keyed by its
// generated public identifier. Drafts live in the draft store (Redis in
// production, in-memory for development) and carry no durability guarantee
// across process restarts.
type Draft struct {
	// ID is the generated public identifier (canonical 36-char UUID string).
	ID string `json:"id"`

	EventType EventType `json:"eventType"`

	// FormData maps section name to an arbitrary structured payload. The
	// reserved "eventType" key mirrors EventType as a plain string so the
	// serialized form data is self-describing.
	FormData map[string]any `json:"formData"`

	Status DraftStatus `json:"status"`

	// OriginalLegacyLabel is the human-readable legacy identifier this draft
	// was migrated from, when it was synthesized by a legacy dereference.
	// Serialized as migratedFrom on the wire.
	OriginalLegacyLabel string `json:"migratedFrom,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}
