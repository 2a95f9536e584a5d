package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, key, scope, endpoint string) (*models.IdempotencyRecord, error) {
	query :=
		`SELECT key, scope, endpoint, request_hash, status, response_status, response_body, created_at, expires_at
		 FROM idempotency_keys
		 WHERE key = $1 AND scope = $2 AND endpoint = $3
		 FOR UPDATE
		 `

	rec := &models.IdempotencyRecord{}
	var responseStatus sql.NullInt64
	var responseBody sql.NullString
	err := r.db.QueryRowContext(ctx, query, key, scope, endpoint).Scan(
		&rec.Key, &rec.Scope, &rec.Endpoint, &rec.RequestHash, &rec.Status,
		&responseStatus, &responseBody, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", dbx.ClassifyStoreError(err))
	}
	rec.ResponseStatus = int(responseStatus.Int64)
	rec.ResponseBody = responseBody.String
	return rec, nil
}

// sqlStateUniqueViolation: two first attempts can race past the existence
// check; the loser's insert means an identical attempt is already in flight.
const sqlStateUniqueViolation = "23505"

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.IdempotencyRecord) error {
	query :=
		`INSERT INTO idempotency_keys (key, scope, endpoint, request_hash, status, expires_at)
         VALUES ($1, $2, $3, $4, $5, $6)
         `

	_, err := r.db.ExecContext(ctx, query,
		rec.Key, rec.Scope, rec.Endpoint, rec.RequestHash, rec.Status, rec.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation {
			return common.ErrInProgress
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkDone(ctx context.Context, key, scope, endpoint string, responseStatus int, responseBody string) error {
	query :=
		`UPDATE idempotency_keys
		 SET status = 'DONE', response_status = $4, response_body = $5
		 WHERE key = $1 AND scope = $2 AND endpoint = $3
		 `

	res, err := r.db.ExecContext(ctx, query, key, scope, endpoint, responseStatus, responseBody)
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

// Replace resets an expired tuple to a fresh IN_PROGRESS attempt with a new
// hash and deadline.
func (r *PostgresRepository) Replace(ctx context.Context, rec *models.IdempotencyRecord) error {
	query :=
		`UPDATE idempotency_keys
		 SET request_hash = $4, status = $5, response_status = NULL, response_body = NULL,
		     created_at = now(), expires_at = $6
		 WHERE key = $1 AND scope = $2 AND endpoint = $3
		 `

	res, err := r.db.ExecContext(ctx, query,
		rec.Key, rec.Scope, rec.Endpoint, rec.RequestHash, rec.Status, rec.ExpiresAt)
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

func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM idempotency_keys WHERE expires_at < $1`

	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
