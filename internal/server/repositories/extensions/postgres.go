package extensions

import (
	"context"
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

func (r *PostgresRepository) InsertOnce(ctx context.Context, e *models.ExpiryExtension) (bool, error) {
	query :=
		`INSERT INTO vault_expiry_extension_log (request_id, user_id, hours, reason, actor)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (request_id) DO NOTHING
         `

	res, err := r.db.ExecContext(ctx, query, e.RequestID, e.UserID, e.Hours, e.Reason, e.Actor)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64) ([]*models.ExpiryExtension, error) {
	query :=
		`SELECT request_id, user_id, hours, reason, actor, created_at FROM vault_expiry_extension_log
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.ExpiryExtension
	for rows.Next() {
		e := &models.ExpiryExtension{}
		if err := rows.Scan(&e.RequestID, &e.UserID, &e.Hours, &e.Reason, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
