// Package models - audit_log.go defines the AuditLogEntry model, the
// append-only record of proposal mutations keyed by surrogate id.
package models

import "time"

// AuditLogEntry represents one append-only audit record. Entries are created
// by the audit writer and never updated or deleted by the core.
//
// RecordID is always a Proposal's SurrogateID — never its PublicID. The audit
// writer rejects uuid-shaped values before they reach the integer column.
type AuditLogEntry struct {
	ID         int64          `db:"id" json:"id"`
	TableName  string         `db:"table_name" json:"tableName"`
	RecordID   int64          `db:"record_id" json:"recordId"`
	ActionType string         `db:"action_type" json:"actionType"`
	UserID     *string        `db:"user_id" json:"userId,omitempty"` // nil for system actions
	Note       *string        `db:"note" json:"note,omitempty"`
	// AdditionalInfo carries structured context (previous/new status, admin
	// comments, request id) serialized as JSONB.
	AdditionalInfo map[string]interface{} `db:"-" json:"additionalInfo,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"createdAt"`
}
