package db

import (
	"time"

	"github.com/google/uuid"
)

// Severity levels
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Delivery channel types
const (
	ChannelInApp   = "in_app"
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
)

// Visibility scopes
const (
	VisibilityOrganization = "organization"
	VisibilityTeam         = "team"
	VisibilityUser         = "user"
)

// Alert lifecycle statuses
const (
	AlertStatusActive   = "active"
	AlertStatusExpired  = "expired"
	AlertStatusArchived = "archived"
)

// Preference states
const (
	StateUnread  = "unread"
	StateRead    = "read"
	StateSnoozed = "snoozed"
)

// Delivery record statuses
const (
	DeliveryPending   = "pending"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliveryBounced   = "bounced"
)

// DefaultReminderIntervalHours applies when an alert doesn't override it.
const DefaultReminderIntervalHours = 2

// Alert is an admin-authored message scoped to the whole organization,
// a set of teams, or an explicit set of users.
type Alert struct {
	ID                    uuid.UUID   `json:"id"`
	Title                 string      `json:"title"`
	Message               string      `json:"message"`
	Severity              string      `json:"severity"`
	DeliveryType          string      `json:"delivery_type"`
	VisibilityType        string      `json:"visibility_type"`
	VisibilityTargets     []uuid.UUID `json:"visibility_targets,omitempty"`
	StartTime             time.Time   `json:"start_time"`
	ExpiryTime            *time.Time  `json:"expiry_time,omitempty"`
	ReminderIntervalHours int         `json:"reminder_interval_hours"`
	RemindersEnabled      bool        `json:"reminders_enabled"`
	Status                string      `json:"status"`
	CreatedBy             uuid.UUID   `json:"created_by"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// IsActive reports whether the alert is live at the given instant:
// status active, started, and not past expiry.
func (a *Alert) IsActive(now time.Time) bool {
	if a.Status != AlertStatusActive {
		return false
	}
	if a.StartTime.After(now) {
		return false
	}
	if a.ExpiryTime != nil && !a.ExpiryTime.After(now) {
		return false
	}
	return true
}

// IsExpired reports whether the alert's expiry time has passed.
// Alerts without an expiry never expire.
func (a *Alert) IsExpired(now time.Time) bool {
	return a.ExpiryTime != nil && now.After(*a.ExpiryTime)
}

// ReminderInterval returns the configured reminder interval as a duration,
// in whole seconds (hours x 3600).
func (a *Alert) ReminderInterval() time.Duration {
	hours := a.ReminderIntervalHours
	if hours <= 0 {
		hours = DefaultReminderIntervalHours
	}
	return time.Duration(hours*3600) * time.Second
}

// Preference is the per-(user, alert) relationship: read state plus the
// delivery and snooze bookkeeping the dispatcher relies on. At most one
// row exists per pair; rows are never deleted.
type Preference struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	AlertID          uuid.UUID  `json:"alert_id"`
	State            string     `json:"state"`
	FirstDeliveredAt *time.Time `json:"first_delivered_at,omitempty"`
	LastRemindedAt   *time.Time `json:"last_reminded_at,omitempty"`
	ReadAt           *time.Time `json:"read_at,omitempty"`
	SnoozedAt        *time.Time `json:"snoozed_at,omitempty"`
	SnoozedUntil     *time.Time `json:"snoozed_until,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Delivery records one attempt to deliver one alert to one user through
// one channel. Terminal statuses (delivered/failed/bounced) are never
// rewritten; only the dispatcher mutates these rows.
type Delivery struct {
	ID           uuid.UUID  `json:"id"`
	AlertID      uuid.UUID  `json:"alert_id"`
	UserID       uuid.UUID  `json:"user_id"`
	DeliveryType string     `json:"delivery_type"`
	Status       string     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// User is a recipient. Channel addressing lives here: email for SES,
// phone for SNS SMS, webhook URL for per-user webhooks.
type User struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Phone      *string    `json:"phone,omitempty"`
	WebhookURL *string    `json:"webhook_url,omitempty"`
	TeamID     *uuid.UUID `json:"team_id,omitempty"`
	IsAdmin    bool       `json:"is_admin"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Team groups users for team-scoped alerts.
type Team struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
