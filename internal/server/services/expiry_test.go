package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
)

func newExpiryServiceWithMock(t *testing.T) (*ExpiryService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewExpiryService(db, repomanager.NewPostgresRepositoryManager(), testLogger()), mock, db
}

func TestValidateExtendExpiry(t *testing.T) {
	cases := []struct {
		name      string
		hours     int
		reason    string
		requestID string
		wantErr   bool
	}{
		{"valid", 24, "OPS", "req-1", false},
		{"zero hours", 0, "OPS", "req-1", true},
		{"too many hours", 73, "OPS", "req-1", true},
		{"unknown reason", 24, "BECAUSE", "req-1", true},
		{"missing request id", 24, "PROMO", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateExtendExpiry(tc.hours, tc.reason, tc.requestID)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, common.KindValidation, common.KindOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

// Re-running a bulk extension must not stack hours: the second application of
// the same request id is a silent no-op.
func TestApplyExtension_DuplicateRequestIsNoOp(t *testing.T) {
	s, mock, db := newExpiryServiceWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+vault_expiry_extension_log`).
		WithArgs("req-1:7", int64(7), 24, "OPS", "admin").
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := s.ApplyExtension(context.Background(), db, 7, 24, "OPS", "req-1", "admin")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyExtension_MovesDeadline(t *testing.T) {
	s, mock, db := newExpiryServiceWithMock(t)
	defer db.Close()
	s.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+vault_expiry_extension_log`).
		WithArgs("req-2:7", int64(7), 48, "PROMO", "admin").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+vault_status\s+WHERE\s+user_id\s*=\s*\$1\s+FOR\s+UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(svcVaultRow(7, "LOCKED"))
	mock.ExpectExec(`(?s)^UPDATE\s+vault_status\s+SET\s+expires_at`).
		WithArgs(sqlmock.AnyArg(), 1, "PROMO", sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := s.ApplyExtension(context.Background(), db, 7, 48, "PROMO", "req-2", "admin")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
