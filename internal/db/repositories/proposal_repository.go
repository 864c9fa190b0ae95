// proposal_repository.go implements ProposalRepository, providing database
// queries for the durable proposal record: creation, identifier lookups,
// section payloads, file metadata, and the compare-and-swap status commit
// used by the lifecycle engine.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/partnerhub/partnerhub/internal/db/models"
)

const proposalColumns = `
	id, public_id, owner_id, organization_name, contact_email, event_title,
	event_type, current_section, form_completion_pct, proposal_status,
	report_status, admin_comments, version, created_at, updated_at,
	submitted_at, approved_at
`

// ProposalRepository handles proposal database operations
type ProposalRepository struct {
	db *sqlx.DB
}

// NewProposalRepository creates a new ProposalRepository
func NewProposalRepository(db *sqlx.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

// Create inserts a new proposal row and fills in the DB-assigned surrogate
// key. The public id must already be set by the caller and is immutable from
// this point on.
func (r *ProposalRepository) Create(ctx context.Context, p *models.Proposal) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.ProposalStatus == "" {
		p.ProposalStatus = models.ProposalStatusDraft
	}
	if p.ReportStatus == "" {
		p.ReportStatus = models.ReportStatusNotApplicable
	}
	p.Version = 1

	query := `
		INSERT INTO proposals (
			public_id, owner_id, organization_name, contact_email, event_title,
			event_type, current_section, form_completion_pct, proposal_status,
			report_status, version, created_at, updated_at, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		p.PublicID,
		p.OwnerID,
		p.OrganizationName,
		p.ContactEmail,
		p.EventTitle,
		p.EventType,
		p.CurrentSection,
		p.FormCompletionPercentage,
		p.ProposalStatus,
		p.ReportStatus,
		p.Version,
		p.CreatedAt,
		p.UpdatedAt,
		p.SubmittedAt,
	).Scan(&p.SurrogateID)

	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}

	return nil
}

// GetBySurrogateID retrieves a proposal by its surrogate key. Returns
// (nil, nil) when no row matches.
func (r *ProposalRepository) GetBySurrogateID(ctx context.Context, id int64) (*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`

	var p models.Proposal
	err := r.db.GetContext(ctx, &p, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}

	return &p, nil
}

// GetByPublicID retrieves a proposal by its public identifier. Returns
// (nil, nil) when no row matches.
func (r *ProposalRepository) GetByPublicID(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE public_id = $1`

	var p models.Proposal
	err := r.db.GetContext(ctx, &p, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal by public id: %w", err)
	}

	return &p, nil
}

// ListByOwner retrieves all proposals belonging to an owner, newest first.
func (r *ProposalRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE owner_id = $1 ORDER BY created_at DESC`

	var proposals []models.Proposal
	if err := r.db.SelectContext(ctx, &proposals, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}

	return proposals, nil
}

// ListByStatus retrieves all proposals in the given status, oldest first, for
// the admin review queue.
func (r *ProposalRepository) ListByStatus(ctx context.Context, status models.ProposalStatus) ([]models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE proposal_status = $1 ORDER BY created_at ASC`

	var proposals []models.Proposal
	if err := r.db.SelectContext(ctx, &proposals, query, status); err != nil {
		return nil, fmt.Errorf("failed to list proposals by status: %w", err)
	}

	return proposals, nil
}

// CommitTransition atomically applies a proposal status change with a
// compare-and-swap on (proposal_status, version), inserting the outbox event
// in the same transaction. Returns false when the CAS found no matching row,
// which means the proposal changed under the caller (or does not exist).
//
// The outbox row is the durable "event occurred" record the dispatcher later
// drains into audit entries and notifications; committing it atomically with
// the status change is what gives at-least-once delivery without risking the
// primary write path.
func (r *ProposalRepository) CommitTransition(
	ctx context.Context,
	surrogateID int64,
	fromStatus, toStatus models.ProposalStatus,
	fromVersion int64,
	adminComments *string,
	event *models.ProposalEvent,
) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transition transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now()
	update := `
		UPDATE proposals
		SET proposal_status = $1,
		    version = version + 1,
		    updated_at = $2,
		    admin_comments = COALESCE($3, admin_comments),
		    submitted_at = CASE WHEN $1 = 'pending' AND submitted_at IS NULL THEN $2 ELSE submitted_at END,
		    approved_at = CASE WHEN $1 = 'approved' THEN $2 ELSE approved_at END
		WHERE id = $4 AND proposal_status = $5 AND version = $6
	`

	res, err := tx.ExecContext(ctx, update, toStatus, now, adminComments, surrogateID, fromStatus, fromVersion)
	if err != nil {
		return false, fmt.Errorf("failed to update proposal status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	insert := `
		INSERT INTO proposal_events (proposal_id, event_type, previous_status, new_status, actor_id, comments, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, insert,
		event.ProposalID,
		event.EventType,
		event.Previous,
		event.New,
		event.ActorID,
		event.Comments,
		metadataJSON,
		now,
	).Scan(&event.ID)
	if err != nil {
		return false, fmt.Errorf("failed to insert outbox event: %w", err)
	}
	event.CreatedAt = now

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transition: %w", err)
	}

	return true, nil
}

// CommitReportTransition applies a report status change with the same CAS and
// outbox semantics as CommitTransition. Report events carry their statuses in
// the event metadata because previous_status/new_status columns hold the
// proposal machine's values for audit consistency.
func (r *ProposalRepository) CommitReportTransition(
	ctx context.Context,
	surrogateID int64,
	fromStatus, toStatus models.ReportStatus,
	fromVersion int64,
	event *models.ProposalEvent,
) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin report transition transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now()
	update := `
		UPDATE proposals
		SET report_status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND report_status = $4 AND version = $5
	`
	res, err := tx.ExecContext(ctx, update, toStatus, now, surrogateID, fromStatus, fromVersion)
	if err != nil {
		return false, fmt.Errorf("failed to update report status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	insert := `
		INSERT INTO proposal_events (proposal_id, event_type, previous_status, new_status, actor_id, comments, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, insert,
		event.ProposalID,
		event.EventType,
		event.Previous,
		event.New,
		event.ActorID,
		event.Comments,
		metadataJSON,
		now,
	).Scan(&event.ID)
	if err != nil {
		return false, fmt.Errorf("failed to insert outbox event: %w", err)
	}
	event.CreatedAt = now

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit report transition: %w", err)
	}

	return true, nil
}

// UpsertSection writes one section's payload, replacing any previous payload
// for the same section, and bumps the proposal's progress bookkeeping.
func (r *ProposalRepository) UpsertSection(ctx context.Context, proposalID int64, section string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal section payload: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO proposal_sections (proposal_id, section, payload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (proposal_id, section)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, proposalID, section, payloadJSON, now); err != nil {
		return fmt.Errorf("failed to upsert section: %w", err)
	}

	bump := `
		UPDATE proposals
		SET current_section = $1,
		    form_completion_pct = LEAST(100, (SELECT COUNT(*) FROM proposal_sections WHERE proposal_id = $2) * 20),
		    updated_at = $3
		WHERE id = $2
	`
	if _, err := r.db.ExecContext(ctx, bump, section, proposalID, now); err != nil {
		return fmt.Errorf("failed to update section bookkeeping: %w", err)
	}

	return nil
}

// GetSection retrieves one section's payload. Returns (nil, nil) when the
// section has never been saved.
func (r *ProposalRepository) GetSection(ctx context.Context, proposalID int64, section string) (*models.ProposalSection, error) {
	query := `SELECT payload, updated_at FROM proposal_sections WHERE proposal_id = $1 AND section = $2`

	var payloadJSON []byte
	s := models.ProposalSection{ProposalID: proposalID, Section: section}
	err := r.db.QueryRowContext(ctx, query, proposalID, section).Scan(&payloadJSON, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get section: %w", err)
	}

	if err := json.Unmarshal(payloadJSON, &s.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal section payload: %w", err)
	}

	return &s, nil
}

// AttachFile stores one file metadata tuple verbatim.
func (r *ProposalRepository) AttachFile(ctx context.Context, f *models.ProposalFile) error {
	f.CreatedAt = time.Now()
	query := `
		INSERT INTO proposal_files (proposal_id, name, size, mime_type, path, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		f.ProposalID, f.Name, f.Size, f.MimeType, f.Path, f.UploadedBy, f.CreatedAt,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to attach file: %w", err)
	}
	return nil
}

// ListFiles retrieves a proposal's file metadata tuples, oldest first.
func (r *ProposalRepository) ListFiles(ctx context.Context, proposalID int64) ([]models.ProposalFile, error) {
	query := `
		SELECT id, proposal_id, name, size, mime_type, path, uploaded_by, created_at
		FROM proposal_files WHERE proposal_id = $1 ORDER BY created_at ASC
	`
	var files []models.ProposalFile
	if err := r.db.SelectContext(ctx, &files, query, proposalID); err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}
