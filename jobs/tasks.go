package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/roleguard/roleguard/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWelcomeMail greets a freshly created account.
	TaskWelcomeMail = "mail:welcome"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// WelcomeMailPayload describes the information required to send a welcome email.
type WelcomeMailPayload struct {
	UserID            int64  `json:"user_id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Role              string `json:"role"`
	TemporaryPassword bool   `json:"temporary_password"`
}

// NewWelcomeMailTask constructs an Asynq task.
func NewWelcomeMailTask(payload WelcomeMailPayload) (*asynq.Task, error) {
	if payload.Email == "" {
		return nil, errors.New("welcome mail: email required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWelcomeMail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// WelcomeMailer handles TaskWelcomeMail. Delivery is logged; no SMTP relay is wired.
type WelcomeMailer struct {
	From    string
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes welcome mail tasks.
func (m *WelcomeMailer) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var payload WelcomeMailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := m.Metrics.Track(ctx, TaskWelcomeMail)
	defer func() { err = tracker.End(err) }()

	subject := "Welcome to roleguard"
	if payload.TemporaryPassword {
		subject += ": change your temporary password"
	}
	logger(m.Logger).Info("send welcome mail",
		slog.String("from", m.From),
		slog.String("to", payload.Email),
		slog.String("subject", subject),
		slog.String("role", payload.Role),
		slog.Int64("user_id", payload.UserID))
	return nil
}

// IdempotencyCleanupPayload sets how long keys are kept.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds the scheduled cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention.Hours())
	if hours <= 0 {
		return nil, errors.New("idempotency cleanup: retention must be at least one hour")
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// KeyCleaner removes idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob handles TaskIdempotencyCleanup.
type IdempotencyCleanupJob struct {
	Store   KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle prunes expired keys.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RetentionHours <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(ctx, TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	retention := time.Duration(payload.RetentionHours) * time.Hour
	if err := j.Store.Cleanup(ctx, retention); err != nil {
		logger(j.Logger).Error("idempotency cleanup", slog.Any("error", err))
		return err
	}
	logger(j.Logger).Info("idempotency keys pruned", slog.Duration("retention", retention))
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
