// notification_repository.go implements NotificationRepository, providing
// database queries for creating, listing, and state-advancing in-app
// notifications, including dedup-keyed inserts and expiry sweeps.
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

// NotificationRepository handles notification database operations
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateIfAbsent inserts a notification unless one with the same dedup key
// already exists. Returns true when a row was inserted. Notifications without
// a dedup key are always inserted.
func (r *NotificationRepository) CreateIfAbsent(ctx context.Context, n *models.Notification) (bool, error) {
	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = models.NotificationStatusPending
	}
	if n.Priority == "" {
		n.Priority = models.NotificationPriorityNormal
	}

	var metadataJSON, excludedJSON []byte
	var err error
	if n.Metadata != nil {
		metadataJSON, err = json.Marshal(n.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to marshal notification metadata: %w", err)
		}
	}
	if n.ExcludedUserIDs != nil {
		excludedJSON, err = json.Marshal(n.ExcludedUserIDs)
		if err != nil {
			return false, fmt.Errorf("failed to marshal excluded users: %w", err)
		}
	}

	query := `
		INSERT INTO notifications (
			target_user_id, target_role, broadcast, excluded_user_ids, title,
			message, notification_type, priority, status, related_proposal_id,
			metadata, dedup_key, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id
	`

	err = r.db.QueryRowContext(ctx, query,
		n.TargetUserID,
		n.TargetRole,
		n.Broadcast,
		excludedJSON,
		n.Title,
		n.Message,
		n.NotificationType,
		n.Priority,
		n.Status,
		n.RelatedProposalID,
		metadataJSON,
		n.DedupKey,
		n.ExpiresAt,
		n.CreatedAt,
		n.UpdatedAt,
	).Scan(&n.ID)

	if err == sql.ErrNoRows {
		// Conflict on dedup_key: an earlier delivery attempt already created it.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create notification: %w", err)
	}

	return true, nil
}

// ListForUser retrieves notifications visible to one user: directly targeted,
// targeted at the user's role, or broadcast without excluding the user.
// Archived and expired notifications are filtered out. Newest first.
func (r *NotificationRepository) ListForUser(ctx context.Context, userID, role string, limit, offset int) ([]*models.Notification, error) {
	query := `
		SELECT id, target_user_id, target_role, broadcast, excluded_user_ids, title,
		       message, notification_type, priority, status, related_proposal_id,
		       metadata, dedup_key, expires_at, created_at, updated_at
		FROM notifications
		WHERE status NOT IN ('archived', 'expired')
		  AND (
		    target_user_id = $1
		    OR target_role = $2
		    OR (broadcast = TRUE AND NOT (excluded_user_ids @> to_jsonb($1::text)))
		  )
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.QueryContext(ctx, query, userID, role, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	return scanNotificationRows(rows)
}

// MarkRead advances a pending or delivered notification to read. The update
// is scoped by the same visibility predicate ListForUser applies, so a user
// can only advance notifications they can see. Returns false when the
// notification does not exist, is not visible to the user, or is already
// past read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id int64, userID, role string) (bool, error) {
	query := `
		UPDATE notifications SET status = 'read', updated_at = $1
		WHERE id = $2 AND status IN ('pending', 'delivered')
		  AND (
		    target_user_id = $3
		    OR target_role = $4
		    OR (broadcast = TRUE AND NOT (excluded_user_ids @> to_jsonb($3::text)))
		  )
	`
	res, err := r.db.ExecContext(ctx, query, time.Now(), id, userID, role)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Archive moves a notification to archived, hiding it from listings. Scoped
// by the recipient visibility predicate like MarkRead. Archiving an
// already-archived notification is a no-op.
func (r *NotificationRepository) Archive(ctx context.Context, id int64, userID, role string) (bool, error) {
	query := `
		UPDATE notifications SET status = 'archived', updated_at = $1
		WHERE id = $2 AND status != 'archived'
		  AND (
		    target_user_id = $3
		    OR target_role = $4
		    OR (broadcast = TRUE AND NOT (excluded_user_ids @> to_jsonb($3::text)))
		  )
	`
	res, err := r.db.ExecContext(ctx, query, time.Now(), id, userID, role)
	if err != nil {
		return false, fmt.Errorf("failed to archive notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ExpireDue sweeps notifications whose expires_at has passed into the expired
// status and returns the number of rows affected.
func (r *NotificationRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE notifications SET status = 'expired', updated_at = $1
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		  AND status NOT IN ('archived', 'expired')
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire notifications: %w", err)
	}
	return res.RowsAffected()
}

func scanNotificationRows(rows *sql.Rows) ([]*models.Notification, error) {
	notifications := make([]*models.Notification, 0)
	for rows.Next() {
		n := &models.Notification{}
		var metadataJSON, excludedJSON []byte

		err := rows.Scan(
			&n.ID,
			&n.TargetUserID,
			&n.TargetRole,
			&n.Broadcast,
			&excludedJSON,
			&n.Title,
			&n.Message,
			&n.NotificationType,
			&n.Priority,
			&n.Status,
			&n.RelatedProposalID,
			&metadataJSON,
			&n.DedupKey,
			&n.ExpiresAt,
			&n.CreatedAt,
			&n.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &n.Metadata); err != nil {
				return nil, err
			}
		}
		if excludedJSON != nil {
			if err := json.Unmarshal(excludedJSON, &n.ExcludedUserIDs); err != nil {
				return nil, err
			}
		}

		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}
