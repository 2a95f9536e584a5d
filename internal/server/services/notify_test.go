package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
)

func newNotifyServiceWithMock(t *testing.T) (*NotifyService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewNotifyService(db, repomanager.NewPostgresRepositoryManager(), testLogger()), mock, db
}

func TestValidateNotify(t *testing.T) {
	cases := []struct {
		name       string
		notifyType string
		variantID  string
		campaignID string
		wantErr    bool
	}{
		{"valid", "EXPIRY_D2", "A", "camp-1", false},
		{"unknown type", "SPAM", "A", "camp-1", true},
		{"unknown variant", "EXPIRY_D2", "Z", "camp-1", true},
		{"missing campaign", "EXPIRY_D2", "A", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateNotify(tc.notifyType, tc.variantID, tc.campaignID)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, common.KindValidation, common.KindOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

// The dedup key ties campaign, user, type and variant together, so re-running
// a campaign cannot queue the same message twice.
func TestEnqueueOne_DedupKey(t *testing.T) {
	s, mock, db := newNotifyServiceWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+notifications_queue`).
		WithArgs(int64(7), "EXPIRY_D2", "B", "camp-1:7:EXPIRY_D2:B", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := s.EnqueueOne(context.Background(), db, 7, &NotifyParams{
		NotifyType: "EXPIRY_D2",
		VariantID:  "B",
		CampaignID: "camp-1",
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueOne_DuplicateIsNoOp(t *testing.T) {
	s, mock, db := newNotifyServiceWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+notifications_queue`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := s.EnqueueOne(context.Background(), db, 7, &NotifyParams{
		NotifyType: "TICKET_ZERO",
		VariantID:  "A",
		CampaignID: "camp-1",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
