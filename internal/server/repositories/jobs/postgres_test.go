package jobs

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+admin_jobs\s*\(job_id,\s*job_type,\s*status,\s*target_count,\s*params,\s*created_by\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)\s*$`

	mock.ExpectExec(q).
		WithArgs("job_20260301_120000_ab12", "BULK_UPDATE", "PENDING", 3, []byte(`{}`), "ops").
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &models.AdminJob{
		JobID: "job_20260301_120000_ab12", JobType: models.JobTypeBulkUpdate,
		Status: models.JobPending, TargetCount: 3, Params: []byte(`{}`), CreatedBy: "ops",
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create error: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_jobs\s+WHERE\s+job_id\s*=\s*\$1$`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestInsertItems_BuildsMultiValues(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+admin_job_items\s*\(job_id,\s*user_id\)\s*VALUES\s*\(\$1,\s*\$2\),\s*\(\$1,\s*\$3\),\s*\(\$1,\s*\$4\)\s*ON\s+CONFLICT\s*\(job_id,\s*user_id\)\s*DO\s+NOTHING$`

	mock.ExpectExec(q).
		WithArgs("j1", int64(1), int64(2), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := repo.InsertItems(context.Background(), "j1", []int64{1, 2, 3}); err != nil {
		t.Fatalf("InsertItems error: %v", err)
	}
}

func TestInsertItems_EmptyIsNoop(t *testing.T) {
	repo, _, db := newRepoWithMock(t)
	defer db.Close()

	if err := repo.InsertItems(context.Background(), "j1", nil); err != nil {
		t.Fatalf("expected noop, got %v", err)
	}
}

func TestUpdateItem_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+admin_job_items\s+SET\s+status\s*=\s*\$3,\s*error_message\s*=\s*\$4,\s*updated_at\s*=\s*now\(\)\s+WHERE\s+job_id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2$`

	mock.ExpectExec(q).
		WithArgs("j1", int64(2), "FAILED", "claimed tier cannot be modified").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateItem(context.Background(), "j1", 2, models.ItemFailed, "claimed tier cannot be modified")
	if err != nil {
		t.Fatalf("UpdateItem error: %v", err)
	}
}

func TestResetFailedItems(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+admin_job_items\s+SET\s+status\s*=\s*'PENDING',\s*error_message\s*=\s*'',\s*updated_at\s*=\s*now\(\)\s+WHERE\s+job_id\s*=\s*\$1\s+AND\s+status\s*=\s*'FAILED'$`

	mock.ExpectExec(q).WithArgs("j1").WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ResetFailedItems(context.Background(), "j1")
	if err != nil {
		t.Fatalf("ResetFailedItems error: %v", err)
	}
	if n != 2 {
		t.Fatalf("unexpected reset count: %d", n)
	}
}

func TestListItemsByStatus(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"job_id", "user_id", "status", "error_message", "updated_at"}).
		AddRow("j1", int64(2), "FAILED", "boom", time.Now())

	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_job_items\s+WHERE\s+job_id\s*=\s*\$1\s+AND\s+status\s*=\s*\$2`).
		WithArgs("j1", "FAILED").
		WillReturnRows(rows)

	items, err := repo.ListItemsByStatus(context.Background(), "j1", models.ItemFailed)
	if err != nil {
		t.Fatalf("ListItemsByStatus error: %v", err)
	}
	if len(items) != 1 || items[0].UserID != 2 || items[0].ErrorMessage != "boom" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestUpdateStatus_MissingJob(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+admin_jobs`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "ghost", models.JobDone, 3, 0, true)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}
