package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/config"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return cfg
}

func newCoordinatorWithMock(t *testing.T) (*Coordinator, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	c := NewCoordinator(db, repomanager.NewPostgresRepositoryManager(), testConfig(), testLogger())
	return c, mock, db
}

var idemCols = []string{
	"key", "scope", "endpoint", "request_hash", "status",
	"response_status", "response_body", "created_at", "expires_at",
}

func expectTxPrologue(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(`^SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`^SET LOCAL statement_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestNormalizeKey(t *testing.T) {
	got, err := NormalizeKey("  my-key  ")
	require.NoError(t, err)
	assert.Equal(t, "my-key", got)

	auto, err := NormalizeKey("")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(auto, "auto-"))

	_, err = NormalizeKey(strings.Repeat("x", MaxIdempotencyKeyLength+1))
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestHashBody_CanonicalAcrossKeyOrder(t *testing.T) {
	type payload struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	h1, err := HashBody(payload{B: 1, A: "x"})
	require.NoError(t, err)

	// The same semantic payload as a map, different field order in the type.
	h2, err := HashBody(map[string]any{"a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := HashBody(map[string]any{"a": "x", "b": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestExecute_FreshRequest(t *testing.T) {
	c, mock, db := newCoordinatorWithMock(t)
	defer db.Close()

	expectTxPrologue(mock)
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+idempotency_keys\s+WHERE\s+key\s*=\s*\$1.*FOR\s+UPDATE`).
		WithArgs("k1", "admin", "bulk").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+idempotency_keys`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+idempotency_keys\s+SET\s+status\s*=\s*'DONE'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	called := false
	res, err := c.Execute(context.Background(), Meta{
		Key: "k1", Scope: "admin", Endpoint: "bulk", Payload: map[string]int{"n": 1},
	}, func(ctx context.Context, tx dbx.DBTX) (int, any, error) {
		called = true
		return http.StatusOK, map[string]string{"ok": "yes"}, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, res.Replayed)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"ok":"yes"}`, string(res.Body))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_ReplayStoredResponse(t *testing.T) {
	c, mock, db := newCoordinatorWithMock(t)
	defer db.Close()

	payload := map[string]int{"n": 1}
	hash, err := HashBody(payload)
	require.NoError(t, err)

	expectTxPrologue(mock)
	rows := sqlmock.NewRows(idemCols).AddRow(
		"k1", "admin", "bulk", hash, "DONE",
		int64(200), `{"ok":"yes"}`, time.Now(), time.Now().Add(time.Hour),
	)
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+idempotency_keys`).
		WillReturnRows(rows)
	mock.ExpectCommit()

	res, err := c.Execute(context.Background(), Meta{
		Key: "k1", Scope: "admin", Endpoint: "bulk", Payload: payload,
	}, func(ctx context.Context, tx dbx.DBTX) (int, any, error) {
		t.Fatal("mutation must not run on replay")
		return 0, nil, nil
	})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, `{"ok":"yes"}`, string(res.Body))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_HashMismatchIsConflict(t *testing.T) {
	c, mock, db := newCoordinatorWithMock(t)
	defer db.Close()

	expectTxPrologue(mock)
	rows := sqlmock.NewRows(idemCols).AddRow(
		"k1", "admin", "bulk", "other-hash", "DONE",
		int64(200), `{}`, time.Now(), time.Now().Add(time.Hour),
	)
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+idempotency_keys`).WillReturnRows(rows)
	mock.ExpectRollback()

	_, err := c.Execute(context.Background(), Meta{
		Key: "k1", Scope: "admin", Endpoint: "bulk", Payload: map[string]int{"n": 2},
	}, func(ctx context.Context, tx dbx.DBTX) (int, any, error) {
		t.Fatal("mutation must not run on conflict")
		return 0, nil, nil
	})
	require.ErrorIs(t, err, common.ErrIdempotencyReuse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_InProgressBlocksDuplicate(t *testing.T) {
	c, mock, db := newCoordinatorWithMock(t)
	defer db.Close()

	payload := map[string]int{"n": 1}
	hash, err := HashBody(payload)
	require.NoError(t, err)

	expectTxPrologue(mock)
	rows := sqlmock.NewRows(idemCols).AddRow(
		"k1", "admin", "bulk", hash, "IN_PROGRESS",
		nil, nil, time.Now(), time.Now().Add(time.Hour),
	)
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+idempotency_keys`).WillReturnRows(rows)
	mock.ExpectRollback()

	_, err = c.Execute(context.Background(), Meta{
		Key: "k1", Scope: "admin", Endpoint: "bulk", Payload: payload,
	}, func(ctx context.Context, tx dbx.DBTX) (int, any, error) {
		return 0, nil, nil
	})
	require.ErrorIs(t, err, common.ErrInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_ExpiredRecordIsReplaced(t *testing.T) {
	c, mock, db := newCoordinatorWithMock(t)
	defer db.Close()

	expectTxPrologue(mock)
	rows := sqlmock.NewRows(idemCols).AddRow(
		"k1", "admin", "bulk", "stale-hash", "DONE",
		int64(200), `{}`, time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour),
	)
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+idempotency_keys`).WillReturnRows(rows)
	mock.ExpectExec(`(?s)^UPDATE\s+idempotency_keys\s+SET\s+request_hash\s*=\s*\$4`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+idempotency_keys\s+SET\s+status\s*=\s*'DONE'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := c.Execute(context.Background(), Meta{
		Key: "k1", Scope: "admin", Endpoint: "bulk", Payload: map[string]int{"n": 9},
	}, func(ctx context.Context, tx dbx.DBTX) (int, any, error) {
		return http.StatusOK, map[string]bool{"done": true}, nil
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_MutationErrorRollsBackEverything(t *testing.T) {
	c, mock, db := newCoordinatorWithMock(t)
	defer db.Close()

	expectTxPrologue(mock)
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+idempotency_keys`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+idempotency_keys`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	_, err := c.Execute(context.Background(), Meta{
		Key: "k1", Scope: "admin", Endpoint: "bulk", Payload: map[string]int{"n": 1},
	}, func(ctx context.Context, tx dbx.DBTX) (int, any, error) {
		return 0, nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
