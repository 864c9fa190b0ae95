// audit_repository.go implements AuditRepository, providing database queries for writing
// and retrieving append-only audit log entries keyed by (table_name, record_id).
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/partnerhub/partnerhub/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	UserID     *string
	ActionType *string
	StartDate  *time.Time
	EndDate    *time.Time
}

// CreateAuditLog appends a new audit log entry. Entries are never updated or
// deleted after insert.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLogEntry) error {
	log.CreatedAt = time.Now()

	// Marshal additional info to JSONB
	var infoJSON []byte
	var err error
	if log.AdditionalInfo != nil {
		infoJSON, err = json.Marshal(log.AdditionalInfo)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO audit_logs (table_name, record_id, action_type, user_id, note, additional_info, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, query,
		log.TableName,
		log.RecordID,
		log.ActionType,
		log.UserID,
		log.Note,
		infoJSON,
		log.CreatedAt,
	).Scan(&log.ID)
}

// ListForRecord retrieves the audit trail for one record, most recent first.
func (r *AuditRepository) ListForRecord(ctx context.Context, tableName string, recordID int64, limit, offset int) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT id, table_name, record_id, action_type, user_id, note, additional_info, created_at
		FROM audit_logs
		WHERE table_name = $1 AND record_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.QueryContext(ctx, query, tableName, recordID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ListAuditLogs retrieves audit logs across all records with optional filters
// and pagination, for the admin activity view.
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLogEntry, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	query := `
		SELECT id, table_name, record_id, action_type, user_id, note, additional_info, created_at
		FROM audit_logs
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.UserID != nil {
		countQuery += fmt.Sprintf(` AND user_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND user_id = $%d`, paramIndex)
		args = append(args, *filters.UserID)
		paramIndex++
	}

	if filters.ActionType != nil {
		countQuery += fmt.Sprintf(` AND action_type = $%d`, paramIndex)
		query += fmt.Sprintf(` AND action_type = $%d`, paramIndex)
		args = append(args, *filters.ActionType)
		paramIndex++
	}

	if filters.StartDate != nil {
		countQuery += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		args = append(args, *filters.StartDate)
		paramIndex++
	}

	if filters.EndDate != nil {
		countQuery += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	var total int
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs, err := scanAuditRows(rows)
	if err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

func scanAuditRows(rows *sql.Rows) ([]*models.AuditLogEntry, error) {
	logs := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		log := &models.AuditLogEntry{}
		var infoJSON []byte

		err := rows.Scan(
			&log.ID,
			&log.TableName,
			&log.RecordID,
			&log.ActionType,
			&log.UserID,
			&log.Note,
			&infoJSON,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if infoJSON != nil {
			if err := json.Unmarshal(infoJSON, &log.AdditionalInfo); err != nil {
				return nil, err
			}
		}

		logs = append(logs, log)
	}

	return logs, rows.Err()
}
