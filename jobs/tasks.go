package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ispdesk/portal/internal/auth"
	jobmetrics "github.com/ispdesk/portal/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries the session audit trail.
	QueueAudit = "audit"

	// TaskSessionOpen records a sign-in.
	TaskSessionOpen = "session:open"
	// TaskSessionClose records a sign-out.
	TaskSessionClose = "session:close"
	// TaskSessionPrune applies the audit retention policy.
	TaskSessionPrune = "session:prune"
)

// SessionClosePayload identifies the session that ended.
type SessionClosePayload struct {
	ID       string    `json:"id"`
	ClosedAt time.Time `json:"closed_at"`
}

// NewSessionOpenTask constructs an Asynq task for a sign-in.
func NewSessionOpenTask(rec auth.SessionRecord) (*asynq.Task, error) {
	if rec.ID == "" {
		return nil, errors.New("jobs: session id required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionOpen, data, asynq.Queue(QueueAudit), asynq.MaxRetry(10)), nil
}

// NewSessionCloseTask constructs an Asynq task for a sign-out.
func NewSessionCloseTask(id string, at time.Time) (*asynq.Task, error) {
	if id == "" {
		return nil, errors.New("jobs: session id required")
	}
	data, err := json.Marshal(SessionClosePayload{ID: id, ClosedAt: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionClose, data, asynq.Queue(QueueAudit), asynq.MaxRetry(10)), nil
}

// NewSessionPruneTask constructs the retention task.
func NewSessionPruneTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPrune, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

// SessionAuditJob persists audit events and prunes old rows.
type SessionAuditJob struct {
	Repo       auth.Repository
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	Retention  time.Duration
	StaleAfter time.Duration
	clock      func() time.Time
}

// NewSessionAuditJob constructs the job handlers. Closed rows are kept for
// retention; rows never closed are dropped after staleAfter.
func NewSessionAuditJob(repo auth.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics, retention, staleAfter time.Duration) *SessionAuditJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionAuditJob{
		Repo:       repo,
		Logger:     logger,
		Metrics:    metrics,
		Retention:  retention,
		StaleAfter: staleAfter,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handlers lists the task handlers for worker registration.
func (j *SessionAuditJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskSessionOpen, Handler: j.HandleOpen},
		{Type: TaskSessionClose, Handler: j.HandleClose},
		{Type: TaskSessionPrune, Handler: j.HandlePrune},
	}
}

// HandleOpen processes TaskSessionOpen tasks.
func (j *SessionAuditJob) HandleOpen(ctx context.Context, t *asynq.Task) error {
	var rec auth.SessionRecord
	if err := json.Unmarshal(t.Payload(), &rec); err != nil || rec.ID == "" {
		return fmt.Errorf("jobs: decode %s: %w", TaskSessionOpen, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskSessionOpen)
	return tracker.End(j.Repo.OpenSession(ctx, rec))
}

// HandleClose processes TaskSessionClose tasks.
func (j *SessionAuditJob) HandleClose(ctx context.Context, t *asynq.Task) error {
	var payload SessionClosePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ID == "" {
		return fmt.Errorf("jobs: decode %s: %w", TaskSessionClose, asynq.SkipRetry)
	}
	if payload.ClosedAt.IsZero() {
		payload.ClosedAt = j.clock()
	}
	tracker := j.Metrics.Track(TaskSessionClose)
	return tracker.End(j.Repo.CloseSession(ctx, payload.ID, payload.ClosedAt))
}

// HandlePrune processes TaskSessionPrune tasks.
func (j *SessionAuditJob) HandlePrune(ctx context.Context, _ *asynq.Task) error {
	tracker := j.Metrics.Track(TaskSessionPrune)
	now := j.clock()
	removed, err := j.Repo.PruneSessions(ctx, now.Add(-j.Retention), now.Add(-j.StaleAfter))
	if err != nil {
		return tracker.End(err)
	}
	j.Metrics.AddPruned(removed)
	j.Logger.Info("session audit pruned", slog.Int64("rows", removed))
	return tracker.End(nil)
}
