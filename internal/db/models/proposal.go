// Package models - proposal.go defines the Proposal model and the closed
// status enums for the proposal and post-event report lifecycles.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ProposalStatus is the lifecycle status of a proposal. Transitions between
// statuses are validated by the lifecycle engine's transition table; handlers
// never compare or branch on raw strings.
type ProposalStatus string

const (
	ProposalStatusDraft             ProposalStatus = "draft"
	ProposalStatusPending           ProposalStatus = "pending"
	ProposalStatusApproved          ProposalStatus = "approved"
	ProposalStatusDenied            ProposalStatus = "denied"
	ProposalStatusRevisionRequested ProposalStatus = "revision_requested"
)

// Valid reports whether s is a member of the closed proposal status set.
func (s ProposalStatus) Valid() bool {
	switch s {
	case ProposalStatusDraft, ProposalStatusPending, ProposalStatusApproved,
		ProposalStatusDenied, ProposalStatusRevisionRequested:
		return true
	}
	return false
}

// ReportStatus is the status of the post-event report machine. It runs in
// parallel to ProposalStatus and only leaves not_applicable once the proposal
// itself is approved.
type ReportStatus string

const (
	ReportStatusNotApplicable ReportStatus = "not_applicable"
	ReportStatusDraft         ReportStatus = "draft"
	ReportStatusPending       ReportStatus = "pending"
	ReportStatusApproved      ReportStatus = "approved"
	ReportStatusDenied        ReportStatus = "denied"
)

// Valid reports whether s is a member of the closed report status set.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportStatusNotApplicable, ReportStatusDraft, ReportStatusPending,
		ReportStatusApproved, ReportStatusDenied:
		return true
	}
	return false
}

// EventType classifies the kind of event a proposal describes. Legacy labels
// are mapped onto one of these during draft migration.
type EventType string

const (
	EventTypeSchoolBased    EventType = "school-based"
	EventTypeCommunityBased EventType = "community-based"
	EventTypeCorporate      EventType = "corporate"
	EventTypeVirtual        EventType = "virtual"
)

// Valid reports whether t is one of the recognized event types.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeSchoolBased, EventTypeCommunityBased, EventTypeCorporate, EventTypeVirtual:
		return true
	}
	return false
}

// Proposal is the durable record of an event/partnership submission.
//
// SurrogateID is the DB-assigned integer key used for every internal foreign
// key (audit entries, notifications, outbox events). PublicID is the stable
// external identifier used in client-facing URLs. PublicID is never used as a
// join key — only SurrogateID is.
type Proposal struct {
	SurrogateID int64     `db:"id" json:"surrogateId"`
	PublicID    uuid.UUID `db:"public_id" json:"publicId"`

	OwnerID          string    `db:"owner_id" json:"ownerId"`
	OrganizationName string    `db:"organization_name" json:"organizationName"`
	ContactEmail     string    `db:"contact_email" json:"contactEmail"`
	EventTitle       string    `db:"event_title" json:"eventTitle"`
	EventType        EventType `db:"event_type" json:"eventType"`

	CurrentSection           string `db:"current_section" json:"currentSection"`
	FormCompletionPercentage int    `db:"form_completion_pct" json:"formCompletionPercentage"`

	ProposalStatus ProposalStatus `db:"proposal_status" json:"proposalStatus"`
	ReportStatus   ReportStatus   `db:"report_status" json:"reportStatus"`
	AdminComments  *string        `db:"admin_comments" json:"adminComments,omitempty"`

	// Version increments on every committed mutation and guards transitions
	// with a compare-and-swap so two concurrent writers cannot both win.
	Version int64 `db:"version" json:"version"`

	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
	SubmittedAt *time.Time `db:"submitted_at" json:"submittedAt,omitempty"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
}

// ProposalSection is one named section of a proposal's form data, stored as
// opaque JSON. Section payloads are written by the owner and read back
// verbatim; the engine only inspects the event-details section to decide
// auto-promotion.
type ProposalSection struct {
	ProposalID int64           `db:"proposal_id" json:"proposalId"`
	Section    string          `db:"section" json:"section"`
	Payload    map[string]any  `db:"-" json:"payload"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updatedAt"`
}

// ProposalFile is a file metadata tuple stored verbatim on a proposal. The
// core never inspects file bytes; blob storage is an external collaborator.
type ProposalFile struct {
	ID         int64     `db:"id" json:"id"`
	ProposalID int64     `db:"proposal_id" json:"proposalId"`
	Name       string    `db:"name" json:"name"`
	Size       int64     `db:"size" json:"size"`
	MimeType   string    `db:"mime_type" json:"mimeType"`
	Path       string    `db:"path" json:"path"`
	UploadedBy string    `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
