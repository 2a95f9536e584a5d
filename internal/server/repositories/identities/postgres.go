package identities

import (
	"context"
	"database/sql"
	"errors"
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

// Create inserts a mapping for an external user id. A concurrent insert of the
// same id is not an error: ON CONFLICT DO NOTHING followed by a re-select
// returns whichever row won.
func (r *PostgresRepository) Create(ctx context.Context, externalID, nickname string) (*models.UserIdentity, error) {

	query :=
		`INSERT INTO user_identity (external_user_id, nickname)
         VALUES ($1, $2)
         ON CONFLICT (external_user_id) DO NOTHING
         RETURNING id, external_user_id, nickname, joined_date, created_at
         `

	u := &models.UserIdentity{}
	err := r.db.QueryRowContext(ctx, query, externalID, nickname).
		Scan(&u.ID, &u.ExternalUserID, &u.Nickname, &u.JoinedDate, &u.CreatedAt)

	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// Conflict path: the row already exists.
	return r.GetByExternalID(ctx, externalID)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.UserIdentity, error) {
	query :=
		`SELECT id, external_user_id, nickname, joined_date, created_at FROM user_identity
		 WHERE id = $1
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByExternalID(ctx context.Context, externalID string) (*models.UserIdentity, error) {
	query :=
		`SELECT id, external_user_id, nickname, joined_date, created_at FROM user_identity
		 WHERE external_user_id = $1
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, externalID))
}

// GetByNickname supports login by nickname as a fallback when the visitor
// does not know their external id.
func (r *PostgresRepository) GetByNickname(ctx context.Context, nickname string) (*models.UserIdentity, error) {
	query :=
		`SELECT id, external_user_id, nickname, joined_date, created_at FROM user_identity
		 WHERE nickname = $1
		 ORDER BY id
		 LIMIT 1
		 `
	return r.scanOne(r.db.QueryRowContext(ctx, query, nickname))
}

// UpdateProfile refreshes the mutable identity fields from a daily import.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, id int64, nickname string, joinedDate *time.Time) error {
	query :=
		`UPDATE user_identity SET nickname = $1, joined_date = $2
		 WHERE id = $3
		 `
	res, err := r.db.ExecContext(ctx, query, nickname, joinedDate, id)
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

func (r *PostgresRepository) List(ctx context.Context, offset, limit int) ([]*models.UserIdentity, error) {
	query :=
		`SELECT id, external_user_id, nickname, joined_date, created_at FROM user_identity
		 ORDER BY id
		 OFFSET $1 LIMIT $2
		 `

	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.UserIdentity
	for rows.Next() {
		u := &models.UserIdentity{}
		if err := rows.Scan(&u.ID, &u.ExternalUserID, &u.Nickname, &u.JoinedDate, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM user_identity WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
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

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.UserIdentity, error) {
	u := &models.UserIdentity{}
	err := row.Scan(&u.ID, &u.ExternalUserID, &u.Nickname, &u.JoinedDate, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}
