// Package services contains the business logic of the reward vault server:
// the idempotency coordinator, the vault mutation flows, target resolution,
// bulk job processing, imports, expiry extensions, and notifications.
package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/config"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// MaxIdempotencyKeyLength bounds client-supplied keys.
const MaxIdempotencyKeyLength = 128

// autoKeyPrefix marks server-generated fallback keys so they can be told
// apart from client-supplied ones in logs and audits.
const autoKeyPrefix = "auto-"

// Meta identifies one mutation attempt for deduplication and auditing.
type Meta struct {
	Key      string // idempotency key; empty means generate a fallback
	Scope    string // caller origin, e.g. "admin" or "user:42"
	Endpoint string // logical endpoint name
	Actor    string // acting admin/user, for audit
	Payload  any    // semantic request payload, hashed for conflict detection
}

// Result is what a mutation pipeline hands back to the HTTP layer. Body is
// returned verbatim on replays, so replayed responses are byte-identical.
type Result struct {
	StatusCode int
	Body       []byte
	Replayed   bool
	Key        string
}

// Coordinator implements at-most-once execution of mutating requests. A
// mutation normally runs inside a single transaction together with its
// idempotency bookkeeping (Execute): a crash after the mutation but before
// commit rolls both back, a crash after commit leaves a DONE record that
// replays the stored response. Work spanning several transactions uses the
// Stage/Settle pair instead and keeps the record IN_PROGRESS in between.
type Coordinator struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	ttl         time.Duration
	lockMs      int
	stmtMs      int
	now         func() time.Time
}

func NewCoordinator(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *Coordinator {
	return &Coordinator{
		db:          db,
		repomanager: m,
		logger:      logger,
		ttl:         cfg.IdempotencyTTL,
		lockMs:      cfg.LockTimeoutMs,
		stmtMs:      cfg.StatementTimeoutMs,
		now:         time.Now,
	}
}

// NormalizeKey validates a client-supplied idempotency key or generates a
// prefixed fallback when none was given.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return autoKeyPrefix + uuid.NewString(), nil
	}
	if len(key) > MaxIdempotencyKeyLength {
		return "", common.Validationf("idempotency key exceeds %d characters", MaxIdempotencyKeyLength)
	}
	return key, nil
}

// HashBody produces the canonical content hash of a request payload:
// SHA-256 over JSON with sorted object keys, so two encodings of the same
// semantic payload collide and a changed payload does not.
func HashBody(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	// Round-trip through a generic value; encoding/json sorts map keys.
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Start records the mutation attempt inside the given transaction.
//
// Returns (nil, nil) when the attempt is fresh and the caller should proceed;
// a non-nil Result when a DONE record with the same hash exists (replay);
// ErrIdempotencyReuse when the tuple exists with a different hash; and
// ErrInProgress when an identical attempt has not finished yet.
func (c *Coordinator) Start(ctx context.Context, tx dbx.DBTX, key, scope, endpoint, requestHash string) (*Result, error) {
	repo := c.repomanager.Idempotency(tx)
	now := c.now()

	rec, err := repo.GetForUpdate(ctx, key, scope, endpoint)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			fresh := &models.IdempotencyRecord{
				Key: key, Scope: scope, Endpoint: endpoint,
				RequestHash: requestHash,
				Status:      models.IdempotencyInProgress,
				ExpiresAt:   now.Add(c.ttl),
			}
			if err := repo.Insert(ctx, fresh); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, err
	}

	// An expired record no longer shields the key; treat it as fresh.
	if now.After(rec.ExpiresAt) {
		fresh := &models.IdempotencyRecord{
			Key: key, Scope: scope, Endpoint: endpoint,
			RequestHash: requestHash,
			Status:      models.IdempotencyInProgress,
			ExpiresAt:   now.Add(c.ttl),
		}
		if err := repo.Replace(ctx, fresh); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// Same key, different payload: always a conflict, never resolved
	// silently, regardless of whether the first attempt finished.
	if rec.RequestHash != requestHash {
		return nil, common.ErrIdempotencyReuse
	}

	if rec.Status == models.IdempotencyDone {
		return &Result{
			StatusCode: rec.ResponseStatus,
			Body:       []byte(rec.ResponseBody),
			Replayed:   true,
			Key:        key,
		}, nil
	}

	return nil, common.ErrInProgress
}

// Finish transitions the record to DONE with the stored response. Must run in
// the same transaction as the mutation it guards.
func (c *Coordinator) Finish(ctx context.Context, tx dbx.DBTX, key, scope, endpoint string, responseStatus int, responseBody []byte) error {
	return c.repomanager.Idempotency(tx).MarkDone(ctx, key, scope, endpoint, responseStatus, string(responseBody))
}

// Execute runs fn as an idempotent unit of work: one transaction carrying the
// session timeouts, the idempotency bookkeeping, and the mutation itself.
// fn returns the response status and body object to store and replay.
func (c *Coordinator) Execute(ctx context.Context, meta Meta, fn func(ctx context.Context, tx dbx.DBTX) (int, any, error)) (*Result, error) {
	key, err := NormalizeKey(meta.Key)
	if err != nil {
		return nil, err
	}
	requestHash, err := HashBody(meta.Payload)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := dbx.ApplySessionTimeouts(ctx, tx, c.lockMs, c.stmtMs); err != nil {
			return err
		}

		replayed, err := c.Start(ctx, tx, key, meta.Scope, meta.Endpoint, requestHash)
		if err != nil {
			return err
		}
		if replayed != nil {
			result = replayed
			return nil
		}

		status, bodyObj, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		body, err := json.Marshal(bodyObj)
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
		if err := c.Finish(ctx, tx, key, meta.Scope, meta.Endpoint, status, body); err != nil {
			return err
		}
		result = &Result{StatusCode: status, Body: body, Replayed: false, Key: key}
		return nil
	})
	if err != nil {
		return nil, dbx.ClassifyStoreError(err)
	}

	if result.Replayed {
		c.logger.Info(ctx, "replayed idempotent request",
			"key", key, "scope", meta.Scope, "endpoint", meta.Endpoint)
	}
	return result, nil
}

// Staged is an idempotency record deliberately left IN_PROGRESS: the guarded
// work spans more than one transaction and the caller settles the record with
// the final response once all of it has run. Until then (or until the TTL
// frees the key) a retried request is answered with REQUEST_IN_PROGRESS
// instead of a half-finished replay.
type Staged struct {
	Key      string
	Scope    string
	Endpoint string
}

// Stage opens an idempotent unit of work whose mutation does not fit a single
// transaction. The bookkeeping and fn run in one transaction that commits
// with the record still IN_PROGRESS; the returned handle must be passed to
// Settle after the remaining work is done. Replays of a finished attempt are
// returned directly, with a nil handle.
func (c *Coordinator) Stage(ctx context.Context, meta Meta, fn func(ctx context.Context, tx dbx.DBTX) error) (*Result, *Staged, error) {
	key, err := NormalizeKey(meta.Key)
	if err != nil {
		return nil, nil, err
	}
	requestHash, err := HashBody(meta.Payload)
	if err != nil {
		return nil, nil, err
	}

	var replayed *Result
	err = dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := dbx.ApplySessionTimeouts(ctx, tx, c.lockMs, c.stmtMs); err != nil {
			return err
		}
		res, err := c.Start(ctx, tx, key, meta.Scope, meta.Endpoint, requestHash)
		if err != nil {
			return err
		}
		if res != nil {
			replayed = res
			return nil
		}
		return fn(ctx, tx)
	})
	if err != nil {
		return nil, nil, dbx.ClassifyStoreError(err)
	}
	if replayed != nil {
		c.logger.Info(ctx, "replayed idempotent request",
			"key", key, "scope", meta.Scope, "endpoint", meta.Endpoint)
		return replayed, nil, nil
	}
	return nil, &Staged{Key: key, Scope: meta.Scope, Endpoint: meta.Endpoint}, nil
}

// Settle stores the final response of a staged unit of work and returns it as
// the Result future retries of the same key will replay.
func (c *Coordinator) Settle(ctx context.Context, staged *Staged, status int, bodyObj any) (*Result, error) {
	body, err := json.Marshal(bodyObj)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	if err := c.Finish(ctx, c.db, staged.Key, staged.Scope, staged.Endpoint, status, body); err != nil {
		return nil, dbx.ClassifyStoreError(err)
	}
	return &Result{StatusCode: status, Body: body, Replayed: false, Key: staged.Key}, nil
}

// PurgeExpired deletes idempotency records past their TTL. Called
// opportunistically; correctness does not depend on it.
func (c *Coordinator) PurgeExpired(ctx context.Context) (int64, error) {
	return c.repomanager.Idempotency(c.db).DeleteExpired(ctx, c.now())
}
