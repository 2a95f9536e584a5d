package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Enqueue(ctx context.Context, n *models.Notification) (bool, error) {
	query :=
		`INSERT INTO notifications_queue (user_id, notify_type, variant_id, dedup_key, payload)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (dedup_key) DO NOTHING
         `

	res, err := r.db.ExecContext(ctx, query,
		n.UserID, n.NotifyType, n.VariantID, n.DedupKey, []byte(n.Payload))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return inserted > 0, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*models.Notification, error) {
	query :=
		`SELECT id, user_id, notify_type, variant_id, dedup_key, status, retry_count, payload, created_at, updated_at
		 FROM notifications_queue
		 WHERE id = $1
		 `

	n := &models.Notification{}
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&n.ID, &n.UserID, &n.NotifyType, &n.VariantID, &n.DedupKey,
		&n.Status, &n.RetryCount, &payload, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	n.Payload = payload
	return n, nil
}

func (r *PostgresRepository) Retry(ctx context.Context, id int64) error {
	query :=
		`UPDATE notifications_queue
		 SET status = 'PENDING', retry_count = retry_count + 1, updated_at = now()
		 WHERE id = $1 AND status = 'FAILED'
		 `
	return r.execExpectingRow(ctx, query, id)
}

func (r *PostgresRepository) Cancel(ctx context.Context, id int64) error {
	query :=
		`UPDATE notifications_queue
		 SET status = 'CANCELLED', updated_at = now()
		 WHERE id = $1 AND status = 'PENDING'
		 `
	return r.execExpectingRow(ctx, query, id)
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
