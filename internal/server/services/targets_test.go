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
	"github.com/dmitrijs2005/rewardvault/internal/server/targets"
)

func newTargetResolverWithMock(t *testing.T) (*TargetResolver, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewTargetResolver(db, repomanager.NewPostgresRepositoryManager(), testConfig(), testLogger()), mock, db
}

func TestResolveExplicit_DedupAndSort(t *testing.T) {
	s, _, db := newTargetResolverWithMock(t)
	defer db.Close()

	ids, err := s.Resolve(context.Background(), db, &targets.Spec{
		Mode:    targets.ModeUserIDs,
		UserIDs: []int64{5, 3, 5, 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 5}, ids)
}

func TestResolveExplicit_Rejections(t *testing.T) {
	s, _, db := newTargetResolverWithMock(t)
	defer db.Close()
	s.maxTargets = 3

	cases := []struct {
		name string
		ids  []int64
	}{
		{"empty", nil},
		{"negative id", []int64{1, -2}},
		{"zero id", []int64{0}},
		{"over the cap", []int64{1, 2, 3, 4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Resolve(context.Background(), db, &targets.Spec{Mode: targets.ModeUserIDs, UserIDs: tc.ids})
			require.Error(t, err)
			assert.Equal(t, common.KindValidation, common.KindOf(err))
		})
	}
}

func TestResolve_SegmentExpandsToIDs(t *testing.T) {
	s, mock, db := newTargetResolverWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_segments`).
		WithArgs("seg-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "filters", "created_at", "updated_at"}).
			AddRow("seg-1", "unlocked gold", "", []byte(`{"statuses":["UNLOCKED"]}`), now, now))
	mock.ExpectQuery(`(?s)^SELECT\s+v\.user_id\s+FROM\s+vault_status`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(3)).AddRow(int64(9)))

	ids, err := s.Resolve(context.Background(), db, &targets.Spec{Mode: targets.ModeSegment, SegmentID: "seg-1"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 9}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_UnknownSegment(t *testing.T) {
	s, mock, db := newTargetResolverWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+admin_segments`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Resolve(context.Background(), db, &targets.Spec{Mode: targets.ModeSegment, SegmentID: "missing"})
	assert.ErrorIs(t, err, common.ErrSegmentNotFound)
}

func TestResolve_BadMode(t *testing.T) {
	s, _, db := newTargetResolverWithMock(t)
	defer db.Close()

	_, err := s.Resolve(context.Background(), db, &targets.Spec{Mode: "everyone"})
	assert.ErrorIs(t, err, common.ErrInvalidTarget)

	_, err = s.Resolve(context.Background(), db, nil)
	assert.ErrorIs(t, err, common.ErrInvalidTarget)
}
