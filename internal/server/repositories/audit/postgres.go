package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, e *models.AuditEntry) error {
	ids, err := json.Marshal(e.TargetUserIDs)
	if err != nil {
		return fmt.Errorf("marshal target ids: %w", err)
	}

	query :=
		`INSERT INTO admin_audit_log
             (admin_user, action, endpoint, target_user_ids, target_count, request_id,
              request_body, response_status, response_summary, error_message, job_id, idempotency_key)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
         `

	_, err = r.db.ExecContext(ctx, query,
		e.AdminUser, e.Action, e.Endpoint, ids, e.TargetCount, e.RequestID,
		e.RequestBody, e.ResponseStatus, e.ResponseSummary, e.ErrorMessage, e.JobID, e.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, offset, limit int) ([]*models.AuditEntry, error) {
	query :=
		`SELECT id, admin_user, action, endpoint, target_user_ids, target_count, request_id,
		        request_body, response_status, response_summary, error_message, job_id, idempotency_key, created_at
		 FROM admin_audit_log
		 ORDER BY created_at DESC
		 OFFSET $1 LIMIT $2
		 `

	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var ids []byte
		if err := rows.Scan(&e.ID, &e.AdminUser, &e.Action, &e.Endpoint, &ids, &e.TargetCount,
			&e.RequestID, &e.RequestBody, &e.ResponseStatus, &e.ResponseSummary,
			&e.ErrorMessage, &e.JobID, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if len(ids) > 0 {
			if err := json.Unmarshal(ids, &e.TargetUserIDs); err != nil {
				return nil, fmt.Errorf("unmarshal target ids: %w", err)
			}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
