package audit

import (
	"context"
	"log/slog"

	"github.com/partnerhub/partnerhub/internal/apperr"
	"github.com/partnerhub/partnerhub/internal/db/models"
)

// Repository is the persistence surface the writer needs.
type Repository interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLogEntry) error
	ListForRecord(ctx context.Context, tableName string, recordID int64, limit, offset int) ([]*models.AuditLogEntry, error)
}

// Writer appends audit entries for proposal records.
//
// Entries key on the proposal's surrogate id only. Callers holding a public
// id must resolve it first; a uuid-shaped value slipping through as a record
// key would silently fragment a proposal's history across two key spaces, so
// Record rejects anything that is not a positive surrogate key.
type Writer struct {
	repo    Repository
	shipper Shipper
	logger  *slog.Logger
	enabled bool
}

// NewWriter creates an audit writer. shipper may be nil when external
// shipping is not configured.
func NewWriter(repo Repository, shipper Shipper, logger *slog.Logger, enabled bool) *Writer {
	return &Writer{repo: repo, shipper: shipper, logger: logger, enabled: enabled}
}

// Record appends one audit entry. Failures are wrapped as DependencyFailure
// so callers can log and continue; audit write problems must never unwind the
// mutation being audited.
func (w *Writer) Record(ctx context.Context, surrogateID int64, actionType string, userID, note *string, extra map[string]interface{}) error {
	if !w.enabled {
		return nil
	}
	if surrogateID <= 0 {
		return apperr.New(apperr.KindIdentifierFormat, "audit record key must be a positive surrogate id, got %d", surrogateID)
	}

	entry := &models.AuditLogEntry{
		TableName:      "proposals",
		RecordID:       surrogateID,
		ActionType:     actionType,
		UserID:         userID,
		Note:           note,
		AdditionalInfo: extra,
	}

	if err := w.repo.CreateAuditLog(ctx, entry); err != nil {
		return apperr.Wrap(apperr.KindDependencyFailure, err, "failed to append audit entry for proposal %d", surrogateID)
	}

	if w.shipper != nil {
		shipped := &ShippedEntry{
			Timestamp:  entry.CreatedAt,
			TableName:  entry.TableName,
			RecordID:   entry.RecordID,
			ActionType: entry.ActionType,
			Metadata:   extra,
		}
		if userID != nil {
			shipped.UserID = *userID
		}
		if note != nil {
			shipped.Note = *note
		}
		if err := w.shipper.Ship(ctx, shipped); err != nil {
			// Shipping is best-effort; the DB row is the source of truth.
			w.logger.Warn("audit shipping failed",
				"proposal_id", surrogateID,
				"action", actionType,
				"error", err)
		}
	}

	return nil
}

// ListFor retrieves a proposal's audit trail, most recent first.
func (w *Writer) ListFor(ctx context.Context, surrogateID int64, limit, offset int) ([]*models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	entries, err := w.repo.ListForRecord(ctx, "proposals", surrogateID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyFailure, err, "failed to list audit entries for proposal %d", surrogateID)
	}
	return entries, nil
}
