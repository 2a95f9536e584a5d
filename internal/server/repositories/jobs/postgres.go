package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

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

const jobColumns = `job_id, job_type, status, target_count, processed, failed, params, created_by, created_at, finished_at`

func (r *PostgresRepository) Create(ctx context.Context, job *models.AdminJob) error {
	query :=
		`INSERT INTO admin_jobs (job_id, job_type, status, target_count, params, created_by)
         VALUES ($1, $2, $3, $4, $5, $6)
         `

	_, err := r.db.ExecContext(ctx, query,
		job.JobID, job.JobType, job.Status, job.TargetCount, []byte(job.Params), job.CreatedBy)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, jobID string) (*models.AdminJob, error) {
	query := `SELECT ` + jobColumns + ` FROM admin_jobs WHERE job_id = $1`
	return r.scanJob(r.db.QueryRowContext(ctx, query, jobID))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, jobID string) (*models.AdminJob, error) {
	query := `SELECT ` + jobColumns + ` FROM admin_jobs WHERE job_id = $1 FOR UPDATE`
	return r.scanJob(r.db.QueryRowContext(ctx, query, jobID))
}

func (r *PostgresRepository) List(ctx context.Context, offset, limit int) ([]*models.AdminJob, error) {
	query := `SELECT ` + jobColumns + ` FROM admin_jobs ORDER BY created_at DESC OFFSET $1 LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.AdminJob
	for rows.Next() {
		job, err := r.scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, jobID, status string, processed, failed int, finished bool) error {
	query :=
		`UPDATE admin_jobs
		 SET status = $2, processed = $3, failed = $4,
		     finished_at = CASE WHEN $5 THEN now() ELSE finished_at END
		 WHERE job_id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, jobID, status, processed, failed, finished)
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

// InsertItems bulk-inserts PENDING items via a single statement with an
// unnest over the id array.
func (r *PostgresRepository) InsertItems(ctx context.Context, jobID string, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}

	values := make([]string, 0, len(userIDs))
	args := make([]any, 0, len(userIDs)+1)
	args = append(args, jobID)
	for _, id := range userIDs {
		args = append(args, id)
		values = append(values, fmt.Sprintf("($1, $%d)", len(args)))
	}

	query := `INSERT INTO admin_job_items (job_id, user_id) VALUES ` + strings.Join(values, ", ") +
		` ON CONFLICT (job_id, user_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateItem(ctx context.Context, jobID string, userID int64, status, errorMessage string) error {
	query :=
		`UPDATE admin_job_items
		 SET status = $3, error_message = $4, updated_at = now()
		 WHERE job_id = $1 AND user_id = $2
		 `

	res, err := r.db.ExecContext(ctx, query, jobID, userID, status, errorMessage)
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

func (r *PostgresRepository) ListItems(ctx context.Context, jobID string) ([]*models.AdminJobItem, error) {
	query :=
		`SELECT job_id, user_id, status, error_message, updated_at FROM admin_job_items
		 WHERE job_id = $1
		 ORDER BY user_id
		 `
	return r.queryItems(ctx, query, jobID)
}

func (r *PostgresRepository) ListItemsByStatus(ctx context.Context, jobID, status string) ([]*models.AdminJobItem, error) {
	query :=
		`SELECT job_id, user_id, status, error_message, updated_at FROM admin_job_items
		 WHERE job_id = $1 AND status = $2
		 ORDER BY user_id
		 `
	return r.queryItems(ctx, query, jobID, status)
}

func (r *PostgresRepository) ResetFailedItems(ctx context.Context, jobID string) (int64, error) {
	query :=
		`UPDATE admin_job_items
		 SET status = 'PENDING', error_message = '', updated_at = now()
		 WHERE job_id = $1 AND status = 'FAILED'
		 `

	res, err := r.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) queryItems(ctx context.Context, query string, args ...any) ([]*models.AdminJobItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.AdminJobItem
	for rows.Next() {
		item := &models.AdminJobItem{}
		if err := rows.Scan(&item.JobID, &item.UserID, &item.Status, &item.ErrorMessage, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) scanJob(row *sql.Row) (*models.AdminJob, error) {
	job := &models.AdminJob{}
	var params []byte
	err := row.Scan(&job.JobID, &job.JobType, &job.Status, &job.TargetCount,
		&job.Processed, &job.Failed, &params, &job.CreatedBy, &job.CreatedAt, &job.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	job.Params = params
	return job, nil
}

func (r *PostgresRepository) scanJobRows(rows *sql.Rows) (*models.AdminJob, error) {
	job := &models.AdminJob{}
	var params []byte
	err := rows.Scan(&job.JobID, &job.JobType, &job.Status, &job.TargetCount,
		&job.Processed, &job.Failed, &params, &job.CreatedBy, &job.CreatedAt, &job.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	job.Params = params
	return job, nil
}
