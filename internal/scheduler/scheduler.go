// Package scheduler runs the recurring reminder sweep: a single
// background loop that wakes on a fixed interval, lazily expires alerts
// past their expiry time, and asks the dispatcher to re-deliver unread,
// non-snoozed alerts.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/metrics"
)

// DefaultWakeInterval between reminder passes.
const DefaultWakeInterval = 300 * time.Second

// ErrNotRunning is returned by Stop when the scheduler was never started.
var ErrNotRunning = errors.New("scheduler is not running")

// Repository is the persistence surface the scheduler needs.
type Repository interface {
	ListRemindableAlerts(ctx context.Context, now time.Time) ([]*db.Alert, error)
	SetAlertStatus(ctx context.Context, id uuid.UUID, status string) error
}

// Reminder is the dispatcher capability the scheduler drives.
type Reminder interface {
	Remind(ctx context.Context, alert *db.Alert) (*dispatch.Result, error)
}

// Scheduler sweeps active alerts on a fixed wake interval.
type Scheduler struct {
	repo     Repository
	reminder Reminder
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	// now is swappable in tests
	now func() time.Time
}

// New creates a scheduler. interval <= 0 falls back to the default.
func New(repo Repository, reminder Reminder, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultWakeInterval
	}
	return &Scheduler{
		repo:     repo,
		reminder: reminder,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the background loop. Starting an already-running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stop, s.done)

	s.logger.Info("reminder scheduler started",
		zap.Duration("wake_interval", s.interval),
	)
}

// Stop signals the loop to exit and waits up to timeout for it to
// finish, so shutdown doesn't hang on a scheduler mid-sleep or mid-pass.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("reminder scheduler stopped")
		return nil
	case <-time.After(timeout):
		s.logger.Warn("reminder scheduler did not stop in time",
			zap.Duration("timeout", timeout),
		)
		return errors.New("scheduler stop timed out")
	}
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval returns the configured wake interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.RunPass(context.Background())
		}
	}
}

// RunPass executes one reminder sweep: expire what's past expiry, remind
// the rest. Faults are contained per alert — a panic or error processing
// one alert never blocks the others or kills the loop.
func (s *Scheduler) RunPass(ctx context.Context) {
	start := s.now()

	alerts, err := s.repo.ListRemindableAlerts(ctx, start)
	if err != nil {
		s.logger.Error("reminder pass failed to list alerts", zap.Error(err))
		return
	}

	remindersSent := 0
	for _, alert := range alerts {
		remindersSent += s.processAlert(ctx, alert)
	}

	metrics.RecordReminderSweep(time.Since(start))
	if remindersSent > 0 {
		s.logger.Info("reminder pass completed",
			zap.Int("alerts_checked", len(alerts)),
			zap.Int("reminders_sent", remindersSent),
		)
	}
}

func (s *Scheduler) processAlert(ctx context.Context, alert *db.Alert) (sent int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while processing alert",
				zap.String("alert_id", alert.ID.String()),
				zap.Any("panic", r),
			)
		}
	}()

	now := s.now()
	if alert.IsExpired(now) {
		if err := s.repo.SetAlertStatus(ctx, alert.ID, db.AlertStatusExpired); err != nil {
			s.logger.Error("failed to expire alert",
				zap.Error(err),
				zap.String("alert_id", alert.ID.String()),
			)
		} else {
			metrics.RecordAlertExpired()
		}
		return 0
	}

	result, err := s.reminder.Remind(ctx, alert)
	if err != nil {
		s.logger.Error("reminder dispatch failed",
			zap.Error(err),
			zap.String("alert_id", alert.ID.String()),
		)
		return 0
	}

	if result.Status != dispatch.StatusSkipped && result.Successful > 0 {
		s.logger.Info("reminders sent for alert",
			zap.String("alert_id", alert.ID.String()),
			zap.String("title", alert.Title),
			zap.Int("successful", result.Successful),
		)
		return result.Successful
	}
	return 0
}
