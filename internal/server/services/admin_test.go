package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminServiceWithMock(t *testing.T) (*AdminService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	m := repomanager.NewPostgresRepositoryManager()
	identity := NewIdentityResolver(m, testLogger())
	return NewAdminService(db, m, identity, testConfig(), testLogger()), mock, db
}

// The deletion and its audit entry commit together.
func TestDeleteUser_AuditSharesTransaction(t *testing.T) {
	s, mock, db := newAdminServiceWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+user_identity\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+admin_audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteUser(context.Background(), "admin", 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failed audit insert keeps the user: the whole unit rolls back.
func TestDeleteUser_AuditFailureRollsBack(t *testing.T) {
	s, mock, db := newAdminServiceWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+user_identity\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+admin_audit_log`).
		WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	err := s.DeleteUser(context.Background(), "admin", 7)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
