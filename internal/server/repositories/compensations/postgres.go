package compensations

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Enqueue(ctx context.Context, actionType string, payload []byte) error {
	query :=
		`INSERT INTO compensation_queue (action_type, payload)
         VALUES ($1, $2)
         `

	if _, err := r.db.ExecContext(ctx, query, actionType, payload); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.CompensationTask, error) {
	query :=
		`UPDATE compensation_queue
		 SET status = 'IN_PROGRESS', updated_at = now()
		 WHERE id IN (
		     SELECT id FROM compensation_queue
		     WHERE status = 'PENDING' AND next_retry_at <= $1
		     ORDER BY next_retry_at
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, action_type, payload, status, retry_count, next_retry_at, last_error, created_at, updated_at
		 `

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.CompensationTask
	for rows.Next() {
		t := &models.CompensationTask{}
		var payload []byte
		if err := rows.Scan(&t.ID, &t.ActionType, &payload, &t.Status, &t.RetryCount,
			&t.NextRetry, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		t.Payload = payload
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) MarkDone(ctx context.Context, id int64) error {
	query :=
		`UPDATE compensation_queue
		 SET status = 'DONE', updated_at = now()
		 WHERE id = $1
		 `
	return r.execExpectingRow(ctx, query, id)
}

func (r *PostgresRepository) MarkRetry(ctx context.Context, id int64, nextRetry time.Time, lastError string) error {
	query :=
		`UPDATE compensation_queue
		 SET status = 'PENDING', retry_count = retry_count + 1,
		     next_retry_at = $2, last_error = $3, updated_at = now()
		 WHERE id = $1
		 `
	return r.execExpectingRow(ctx, query, id, nextRetry, lastError)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	query :=
		`UPDATE compensation_queue
		 SET status = 'FAILED', last_error = $2, updated_at = now()
		 WHERE id = $1
		 `
	return r.execExpectingRow(ctx, query, id, lastError)
}

func (r *PostgresRepository) execExpectingRow(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
