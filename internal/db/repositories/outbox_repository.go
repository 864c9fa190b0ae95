// outbox_repository.go implements OutboxRepository, providing database queries
// for draining the proposal_events outbox: claiming unprocessed events, marking
// them processed, and parking events that exhaust their retry budget.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/partnerhub/partnerhub/internal/db/models"
)

// OutboxRepository handles proposal event outbox database operations
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// ClaimUnprocessed fetches up to limit unprocessed events in insertion order.
// SKIP LOCKED keeps overlapping pollers from blocking on each other, but the
// row locks release when the statement ends, so two dispatcher instances can
// still deliver the same event; that stays within the at-least-once contract
// because consumers dedup on the event id. Events at or past maxAttempts are
// left parked.
func (r *OutboxRepository) ClaimUnprocessed(ctx context.Context, limit, maxAttempts int) ([]*models.ProposalEvent, error) {
	query := `
		SELECT id, proposal_id, event_type, previous_status, new_status, actor_id,
		       comments, metadata, attempts, processed_at, last_error, created_at
		FROM proposal_events
		WHERE processed_at IS NULL AND attempts < $1
		ORDER BY id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := r.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.ProposalEvent, 0)
	for rows.Next() {
		e := &models.ProposalEvent{}
		var metadataJSON []byte

		err := rows.Scan(
			&e.ID,
			&e.ProposalID,
			&e.EventType,
			&e.Previous,
			&e.New,
			&e.ActorID,
			&e.Comments,
			&metadataJSON,
			&e.Attempts,
			&e.ProcessedAt,
			&e.LastError,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, err
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// MarkProcessed records successful delivery of one event.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id int64) error {
	query := `UPDATE proposal_events SET processed_at = $1, last_error = NULL WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// MarkFailed increments the attempt counter and records the delivery error.
// Once attempts reaches the dispatcher's budget the event stops being claimed
// and stays parked for operator inspection.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, cause error) error {
	msg := cause.Error()
	query := `UPDATE proposal_events SET attempts = attempts + 1, last_error = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, msg, id); err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

// CountUnprocessed returns the current outbox backlog, including parked
// events, for the telemetry gauge.
func (r *OutboxRepository) CountUnprocessed(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposal_events WHERE processed_at IS NULL`).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count unprocessed events: %w", err)
	}
	return count, nil
}
