package identities

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/rewardvault/internal/common"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var identityCols = []string{"id", "external_user_id", "nickname", "joined_date", "created_at"}

func TestCreate_Inserted(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+user_identity\s*\(external_user_id,\s*nickname\)\s*VALUES\s*\(\$1,\s*\$2\)\s*ON\s+CONFLICT\s*\(external_user_id\)\s*DO\s+NOTHING\s*RETURNING\s+`

	rows := sqlmock.NewRows(identityCols).AddRow(int64(10), "ext-1", "alice", nil, time.Now())
	mock.ExpectQuery(q).WithArgs("ext-1", "alice").WillReturnRows(rows)

	got, err := repo.Create(context.Background(), "ext-1", "alice")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID != 10 || got.ExternalUserID != "ext-1" {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestCreate_ConflictFallsBackToSelect(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	// ON CONFLICT DO NOTHING returns no row when the mapping already exists.
	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+user_identity`).
		WithArgs("ext-1", "alice").
		WillReturnError(sql.ErrNoRows)

	rows := sqlmock.NewRows(identityCols).AddRow(int64(10), "ext-1", "alice", nil, time.Now())
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+user_identity\s+WHERE\s+external_user_id\s*=\s*\$1`).
		WithArgs("ext-1").
		WillReturnRows(rows)

	got, err := repo.Create(context.Background(), "ext-1", "alice")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID != 10 {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestGetByExternalID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+user_identity\s+WHERE\s+external_user_id\s*=\s*\$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByExternalID(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGetByNickname_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows(identityCols).AddRow(int64(11), "ext-2", "bob", nil, time.Now())
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+user_identity\s+WHERE\s+nickname\s*=\s*\$1\s+ORDER\s+BY\s+id\s+LIMIT\s+1`).
		WithArgs("bob").
		WillReturnRows(rows)

	got, err := repo.GetByNickname(context.Background(), "bob")
	if err != nil {
		t.Fatalf("GetByNickname error: %v", err)
	}
	if got.Nickname != "bob" {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestDelete_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+user_identity\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), 99)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestList_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+user_identity\s+ORDER\s+BY\s+id`).
		WillReturnError(errors.New("db down"))

	_, err := repo.List(context.Background(), 0, 50)
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
