// Package dispatch holds the unit of work shared by first delivery and
// scheduled reminders: resolve targets, gate each on reminder
// eligibility, invoke the channel, and record the outcome.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/alerting"
	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
)

// Result statuses
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
)

// Per-user outcome statuses
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Skip reasons for whole-dispatch skips
const (
	ReasonNotActive       = "not active or reminders disabled"
	ReasonNoEligibleUsers = "no eligible users for reminder"
)

// Repository is the persistence surface the dispatcher needs.
type Repository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetPreference(ctx context.Context, userID, alertID uuid.UUID) (*db.Preference, error)
	GetOrCreatePreference(ctx context.Context, userID, alertID uuid.UUID) (*db.Preference, error)
	UpdatePreference(ctx context.Context, pref *db.Preference) error
	CreateDelivery(ctx context.Context, del *db.Delivery) error
	UpdateDelivery(ctx context.Context, del *db.Delivery) error
}

// ChannelRegistry resolves a delivery type to a channel implementation.
type ChannelRegistry interface {
	Lookup(deliveryType string) (channel.Channel, error)
}

// Detail is the per-user outcome of one dispatch call.
type Detail struct {
	UserID     uuid.UUID  `json:"user_id"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	DeliveryID *uuid.UUID `json:"delivery_id,omitempty"`
}

// Result reports the outcome of one dispatch or reminder call.
type Result struct {
	Status     string   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	Targeted   int      `json:"total_targeted"`
	Successful int      `json:"successful_deliveries"`
	Failed     int      `json:"failed_deliveries"`
	Details    []Detail `json:"delivery_details,omitempty"`
}

// Dispatcher delivers alerts to users through registered channels,
// keeping the preference and delivery-record bookkeeping consistent.
type Dispatcher struct {
	repo     Repository
	registry ChannelRegistry
	resolver *Resolver
	logger   *zap.Logger

	// now is swappable in tests
	now func() time.Time
}

// New creates a dispatcher.
func New(repo Repository, registry ChannelRegistry, resolver *Resolver, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		registry: registry,
		resolver: resolver,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Deliver attempts delivery of the alert to each of the given users.
// Failure for one user never aborts the rest; skips (read, snoozed, or
// freshly reminded) create no delivery record. The eligibility gate is
// the sole mechanism preventing duplicate sends on repeated calls.
func (d *Dispatcher) Deliver(ctx context.Context, alert *db.Alert, userIDs []uuid.UUID) (*Result, error) {
	result := &Result{
		Status:   StatusCompleted,
		Targeted: len(userIDs),
	}

	for _, userID := range userIDs {
		detail := d.deliverOne(ctx, alert, userID)
		switch detail.Status {
		case OutcomeDelivered:
			result.Successful++
		case OutcomeFailed:
			result.Failed++
		}
		result.Details = append(result.Details, detail)
	}

	d.logger.Info("dispatch completed",
		zap.String("alert_id", alert.ID.String()),
		zap.Int("targeted", result.Targeted),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, alert *db.Alert, userID uuid.UUID) Detail {
	now := d.now()

	user, err := d.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			metrics.RecordDispatchSkip("user_not_found")
			return Detail{UserID: userID, Status: OutcomeFailed, Reason: "user not found"}
		}
		return Detail{UserID: userID, Status: OutcomeFailed, Reason: err.Error()}
	}

	pref, err := d.repo.GetOrCreatePreference(ctx, userID, alert.ID)
	if err != nil {
		return Detail{UserID: userID, Status: OutcomeFailed, Reason: err.Error()}
	}

	eligible, changed := alerting.CanSendReminder(pref, alert.ReminderInterval(), now)
	if changed {
		if err := d.repo.UpdatePreference(ctx, pref); err != nil {
			d.logger.Warn("failed to persist snooze expiry",
				zap.Error(err),
				zap.String("preference_id", pref.ID.String()),
			)
		}
	}
	if !eligible {
		metrics.RecordDispatchSkip(pref.State)
		return Detail{UserID: userID, Status: OutcomeSkipped, Reason: "alert is " + pref.State}
	}

	del := &db.Delivery{
		ID:           uuid.New(),
		AlertID:      alert.ID,
		UserID:       userID,
		DeliveryType: alert.DeliveryType,
		Status:       db.DeliveryPending,
		ScheduledAt:  now,
	}
	if err := d.repo.CreateDelivery(ctx, del); err != nil {
		return Detail{UserID: userID, Status: OutcomeFailed, Reason: err.Error()}
	}

	// One attempt per dispatch regardless of outcome.
	del.AttemptCount++

	sendErr := d.send(ctx, alert, user)
	if sendErr != nil {
		msg := sendErr.Error()
		del.Status = db.DeliveryFailed
		del.ErrorMessage = &msg
		if err := d.repo.UpdateDelivery(ctx, del); err != nil {
			d.logger.Error("failed to record delivery failure",
				zap.Error(err),
				zap.String("delivery_id", del.ID.String()),
			)
		}

		metrics.RecordDelivery(alert.DeliveryType, OutcomeFailed)
		d.logger.Warn("delivery failed",
			zap.String("alert_id", alert.ID.String()),
			zap.String("user_id", userID.String()),
			zap.String("channel", alert.DeliveryType),
			zap.String("error", msg),
		)
		return Detail{UserID: userID, Status: OutcomeFailed, Reason: msg, DeliveryID: &del.ID}
	}

	sentAt := d.now()
	del.Status = db.DeliveryDelivered
	del.SentAt = &sentAt
	del.DeliveredAt = &sentAt
	if err := d.repo.UpdateDelivery(ctx, del); err != nil {
		d.logger.Error("failed to record delivery success",
			zap.Error(err),
			zap.String("delivery_id", del.ID.String()),
		)
	}

	// Only success advances the reminder clock; a failed attempt leaves
	// the user eligible for the next pass.
	alerting.RecordDelivery(pref, now)
	if err := d.repo.UpdatePreference(ctx, pref); err != nil {
		d.logger.Error("failed to update preference after delivery",
			zap.Error(err),
			zap.String("preference_id", pref.ID.String()),
		)
	}

	metrics.RecordDelivery(alert.DeliveryType, OutcomeDelivered)
	return Detail{UserID: userID, Status: OutcomeDelivered, DeliveryID: &del.ID}
}

// send invokes the channel for the alert's delivery type. A registry
// miss is an ordinary delivery failure.
func (d *Dispatcher) send(ctx context.Context, alert *db.Alert, user *db.User) error {
	ch, err := d.registry.Lookup(alert.DeliveryType)
	if err != nil {
		return err
	}
	return ch.Deliver(ctx, alert, user)
}

// Remind re-delivers the alert to users whose existing preference is
// currently owed a reminder. Users with no preference row are not newly
// delivered to here — first delivery only happens via OnAlertCreated.
func (d *Dispatcher) Remind(ctx context.Context, alert *db.Alert) (*Result, error) {
	now := d.now()

	if !alert.IsActive(now) || !alert.RemindersEnabled {
		return &Result{Status: StatusSkipped, Reason: ReasonNotActive}, nil
	}

	targets, err := d.resolver.Resolve(ctx, alert)
	if err != nil {
		return nil, err
	}

	var eligible []uuid.UUID
	for _, userID := range targets {
		pref, err := d.repo.GetPreference(ctx, userID, alert.ID)
		if err != nil {
			if errors.Is(err, db.ErrPreferenceNotFound) {
				continue
			}
			return nil, err
		}

		ok, changed := alerting.CanSendReminder(pref, alert.ReminderInterval(), now)
		if changed {
			if err := d.repo.UpdatePreference(ctx, pref); err != nil {
				d.logger.Warn("failed to persist snooze expiry",
					zap.Error(err),
					zap.String("preference_id", pref.ID.String()),
				)
			}
		}
		if ok {
			eligible = append(eligible, userID)
		}
	}

	if len(eligible) == 0 {
		return &Result{Status: StatusSkipped, Reason: ReasonNoEligibleUsers}, nil
	}

	d.logger.Info("sending reminders",
		zap.String("alert_id", alert.ID.String()),
		zap.Int("eligible_users", len(eligible)),
	)
	return d.Deliver(ctx, alert, eligible)
}
