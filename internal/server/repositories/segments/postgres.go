package segments

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

func (r *PostgresRepository) Upsert(ctx context.Context, s *models.Segment) (*models.Segment, error) {
	query :=
		`INSERT INTO admin_segments (id, name, description, filters)
         VALUES ($1, $2, $3, $4)
         ON CONFLICT (name) DO UPDATE
             SET description = EXCLUDED.description,
                 filters = EXCLUDED.filters,
                 updated_at = now()
         RETURNING id, name, description, filters, created_at, updated_at
         `

	out := &models.Segment{}
	var filters []byte
	err := r.db.QueryRowContext(ctx, query, s.ID, s.Name, s.Description, []byte(s.Filters)).
		Scan(&out.ID, &out.Name, &out.Description, &filters, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	out.Filters = filters
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Segment, error) {
	query :=
		`SELECT id, name, description, filters, created_at, updated_at FROM admin_segments
		 WHERE id = $1
		 `

	out := &models.Segment{}
	var filters []byte
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&out.ID, &out.Name, &out.Description, &filters, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrSegmentNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	out.Filters = filters
	return out, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Segment, error) {
	query := `SELECT id, name, description, filters, created_at, updated_at FROM admin_segments ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Segment
	for rows.Next() {
		s := &models.Segment{}
		var filters []byte
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &filters, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		s.Filters = filters
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM admin_segments WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrSegmentNotFound
	}
	return nil
}
