// Package scheduler runs deferred return reminders. Jobs live in the
// scheduled_jobs table so pending work is queryable and survives restarts; a
// per-key mutex around the check-then-schedule sequence keeps concurrent lent
// transitions from enqueueing duplicate reminders.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ilisteam/ilis/internal/cache"
	"github.com/ilisteam/ilis/internal/clock"
	"github.com/ilisteam/ilis/internal/mail"
	"github.com/ilisteam/ilis/internal/model"
	"github.com/ilisteam/ilis/internal/store"
)

// TaskReturnReminder is the task name for return-reminder jobs.
const TaskReturnReminder = "send_return_reminder"

// DefaultNotificationFactor places the reminder 5/6 of the way through the
// rental window, shortly before the rent ends.
const DefaultNotificationFactor = 5.0 / 6

// DefaultPollInterval is how often the runner checks for due jobs.
const DefaultPollInterval = 15 * time.Second

// Scheduler schedules and executes deferred reminder jobs.
type Scheduler struct {
	DB           *sql.DB
	Clock        clock.Clock
	Notifier     mail.Notifier
	Factor       float64       // zero means DefaultNotificationFactor
	PollInterval time.Duration // zero means DefaultPollInterval
	Cache        *cache.Cache  // optional, invalidated when a reminder is stamped

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

func (s *Scheduler) factor() float64 {
	if s.Factor > 0 {
		return s.Factor
	}
	return DefaultNotificationFactor
}

func (s *Scheduler) pollInterval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return DefaultPollInterval
}

// lockFor returns the mutex guarding the given argument key.
func (s *Scheduler) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keyLocks == nil {
		s.keyLocks = make(map[string]*sync.Mutex)
	}
	lk, ok := s.keyLocks[key]
	if !ok {
		lk = &sync.Mutex{}
		s.keyLocks[key] = lk
	}
	return lk
}

// ArgsKey builds the canonical argument key for a reminder job.
func ArgsKey(userID, itemID, requestID int64) string {
	return fmt.Sprintf("%d %d %d", userID, itemID, requestID)
}

// ScheduleReturnReminder enqueues a reminder job firing when the configured
// fraction of the rental window has elapsed. If an equivalent job is already
// pending the call is a no-op, so at most one reminder is pending per request.
func (s *Scheduler) ScheduleReturnReminder(ctx context.Context, userID, itemID, requestID int64, rentStartsAt, rentEndsAt time.Time) error {
	key := ArgsKey(userID, itemID, requestID)

	lk := s.lockFor(key)
	lk.Lock()
	defer lk.Unlock()

	pending, err := s.HasPending(ctx, TaskReturnReminder, key)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}

	duration := rentEndsAt.Sub(rentStartsAt)
	runAt := rentStartsAt.Add(time.Duration(float64(duration) * s.factor()))

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, task, args_key, run_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), TaskReturnReminder, key, runAt,
	)
	if err != nil {
		return fmt.Errorf("scheduling reminder: %w", err)
	}

	slog.Info("reminder scheduled", "request", requestID, "run_at", runAt)
	return nil
}

// HasPending reports whether a job with the given task name and argument key
// is waiting to run.
func (s *Scheduler) HasPending(ctx context.Context, task, argsKey string) (bool, error) {
	var count int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_jobs WHERE task = ? AND args_key = ?`,
		task, argsKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking pending jobs: %w", err)
	}
	return count > 0, nil
}

// Sweep re-arms reminders for every lent request that has not been notified
// yet. Called on startup and periodically, so reminders survive restarts; the
// pending check keeps it from double-scheduling.
func (s *Scheduler) Sweep(ctx context.Context) error {
	requests, err := store.ListRequests(ctx, s.DB, 0, 0, model.StatusLent)
	if err != nil {
		return fmt.Errorf("sweeping lent requests: %w", err)
	}

	for _, r := range requests {
		if r.NotificationSentAt != nil {
			continue
		}
		if err := s.ScheduleReturnReminder(ctx, r.UserID, r.ItemID, r.ID, r.RentStartsAt, r.RentEndsAt); err != nil {
			return fmt.Errorf("re-arming reminder for request %d: %w", r.ID, err)
		}
	}
	return nil
}

// Run executes due jobs until the context is canceled. Each tick sweeps
// before delivering, so a lent request whose reminder was lost to a delivery
// failure (or never scheduled) is re-armed and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				slog.Error("sweeping reminders", "error", err)
			}
			if err := s.RunDue(ctx); err != nil {
				slog.Error("running due jobs", "error", err)
			}
		}
	}
}

// RunDue executes every job whose run time has arrived, then removes it.
// Delivery failures are logged, not retried; a job that fires for a request
// that is no longer lent, or was already notified, is dropped silently.
func (s *Scheduler) RunDue(ctx context.Context) error {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, task, args_key FROM scheduled_jobs WHERE run_at <= ? ORDER BY run_at`,
		s.Clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("querying due jobs: %w", err)
	}

	var due []model.ScheduledJob
	for rows.Next() {
		var j model.ScheduledJob
		if err := rows.Scan(&j.ID, &j.Task, &j.ArgsKey); err != nil {
			rows.Close()
			return fmt.Errorf("scanning job: %w", err)
		}
		due = append(due, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("querying due jobs: %w", err)
	}

	for _, j := range due {
		switch j.Task {
		case TaskReturnReminder:
			if err := s.deliverReminder(ctx, j.ArgsKey); err != nil {
				slog.Error("delivering reminder", "job", j.ID, "error", err)
			}
		default:
			slog.Warn("unknown scheduled task", "job", j.ID, "task", j.Task)
		}

		if _, err := s.DB.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, j.ID); err != nil {
			return fmt.Errorf("removing job %s: %w", j.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) deliverReminder(ctx context.Context, argsKey string) error {
	var userID, itemID, requestID int64
	if _, err := fmt.Sscanf(argsKey, "%d %d %d", &userID, &itemID, &requestID); err != nil {
		return fmt.Errorf("parsing job args %q: %w", argsKey, err)
	}

	request, err := store.GetRequest(ctx, s.DB, requestID)
	if err != nil {
		return err
	}
	// Stale job: the request was completed, canceled or deleted before the
	// reminder fired, or a reminder was already sent.
	if request == nil || request.Status != model.StatusLent || request.NotificationSentAt != nil {
		return nil
	}

	item, err := store.GetItem(ctx, s.DB, itemID)
	if err != nil {
		return err
	}
	user, err := store.GetUser(ctx, s.DB, userID)
	if err != nil {
		return err
	}
	if item == nil || user == nil {
		return nil
	}

	body := mail.ReminderBody(user, item, request.RentEndsAt)
	if err := s.Notifier.Send(ctx, user.Email, mail.ReminderSubject, body); err != nil {
		return err
	}

	if err := store.MarkRequestNotified(ctx, s.DB, requestID, s.Clock.Now()); err != nil {
		return err
	}
	if s.Cache != nil {
		s.Cache.InvalidatePrefix("requests:")
	}

	slog.Info("return reminder sent", "request", requestID, "user", user.Username)
	return nil
}
