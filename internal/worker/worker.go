// Package worker drains the compensation queue: deferred side effects that
// failed inline (object-store archive uploads, notification enqueues) are
// retried here with backoff until they succeed or exhaust their retry budget.
package worker

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
)

const (
	claimBatchSize = 20
	maxRetries     = 5
	maxErrorLength = 500
)

// backoffSchedule indexes retry delay by the task's current retry count.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	5 * time.Minute,
	15 * time.Minute,
}

// Handler executes one compensation task payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// ArchiveStore re-attempts the upload a failed import archive was deferred for.
type ArchiveStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

type Worker struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	handlers     map[string]Handler
	pollInterval time.Duration
	logger       logging.Logger
	now          func() time.Time
}

func New(db *sql.DB, m repomanager.RepositoryManager, store ArchiveStore,
	pollInterval time.Duration, logger logging.Logger) *Worker {
	w := &Worker{
		db:           db,
		repomanager:  m,
		pollInterval: pollInterval,
		logger:       logger,
		now:          time.Now,
	}
	w.handlers = map[string]Handler{
		"s3_archive": archiveHandler(store),
	}
	return w
}

// archiveHandler re-uploads a deferred import archive. The payload carries the
// object key and the raw file, base64 encoded.
func archiveHandler(store ArchiveStore) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p struct {
			JobID   string `json:"job_id"`
			Key     string `json:"key"`
			BodyB64 string `json:"body_b64"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		if p.Key == "" {
			return fmt.Errorf("payload has no object key")
		}
		body, err := base64.StdEncoding.DecodeString(p.BodyB64)
		if err != nil {
			return fmt.Errorf("bad payload body: %w", err)
		}
		return store.Put(ctx, p.Key, body, "text/csv")
	}
}

// Run polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info(ctx, "compensation worker started", "poll_interval", w.pollInterval)
	for {
		n, err := w.DrainOnce(ctx)
		if err != nil {
			w.logger.Error(ctx, "compensation poll error", "error", err)
		}
		if n > 0 {
			// More work may be due; poll again immediately.
			continue
		}
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "compensation worker stopping")
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// DrainOnce claims one batch of due tasks and processes it. Returns the number
// of tasks claimed.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	repo := w.repomanager.Compensations(w.db)
	tasks, err := repo.ClaimDue(ctx, w.now(), claimBatchSize)
	if err != nil {
		return 0, err
	}
	for _, task := range tasks {
		w.process(ctx, task)
	}
	return len(tasks), nil
}

func (w *Worker) process(ctx context.Context, task *models.CompensationTask) {
	repo := w.repomanager.Compensations(w.db)

	handler, ok := w.handlers[task.ActionType]
	if !ok {
		w.logger.Error(ctx, "unknown compensation action", "task_id", task.ID, "action", task.ActionType)
		if err := repo.MarkFailed(ctx, task.ID, "unknown action type "+task.ActionType); err != nil {
			w.logger.Error(ctx, "mark failed error", "task_id", task.ID, "error", err)
		}
		return
	}

	if err := handler(ctx, task.Payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := repo.MarkDone(ctx, task.ID); err != nil {
		w.logger.Error(ctx, "mark done error", "task_id", task.ID, "error", err)
		return
	}
	w.logger.Info(ctx, "compensation done", "task_id", task.ID, "action", task.ActionType)
}

func (w *Worker) retryOrFail(ctx context.Context, task *models.CompensationTask, cause error) {
	repo := w.repomanager.Compensations(w.db)
	msg := truncate(cause.Error(), maxErrorLength)

	if task.RetryCount+1 >= maxRetries {
		w.logger.Error(ctx, "compensation exhausted retries",
			"task_id", task.ID, "action", task.ActionType, "error", cause)
		if err := repo.MarkFailed(ctx, task.ID, msg); err != nil {
			w.logger.Error(ctx, "mark failed error", "task_id", task.ID, "error", err)
		}
		return
	}

	delay := backoffSchedule[len(backoffSchedule)-1]
	if task.RetryCount < len(backoffSchedule) {
		delay = backoffSchedule[task.RetryCount]
	}
	w.logger.Warn(ctx, "compensation retry scheduled",
		"task_id", task.ID, "action", task.ActionType, "retry", task.RetryCount+1, "delay", delay, "error", cause)
	if err := repo.MarkRetry(ctx, task.ID, w.now().Add(delay), msg); err != nil {
		w.logger.Error(ctx, "mark retry error", "task_id", task.ID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
