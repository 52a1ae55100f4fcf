// Package alerting implements the per-(user, alert) preference state
// machine: unread/read/snoozed transitions and the reminder-eligibility
// decision. Everything here is a pure function over (preference, now) so
// the dispatcher and handlers stay trivially testable; persistence is the
// caller's job.
package alerting

import (
	"time"

	"github.com/lalithlochan/beacon/internal/db"
)

// EndOfDayUTC returns the first instant of the next UTC day. Snoozes run
// until this boundary: a preference snoozed at any point today is snoozed
// for the remainder of the current UTC day only.
func EndOfDayUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// IsSnoozed reports whether the preference is snoozed and still inside
// its snooze window at the given instant.
func IsSnoozed(pref *db.Preference, now time.Time) bool {
	if pref.State != db.StateSnoozed {
		return false
	}
	if pref.SnoozedUntil == nil {
		return false
	}
	return now.Before(*pref.SnoozedUntil)
}

// ExpireSnooze applies the automatic snoozed -> unread transition when the
// snooze window has passed. Evaluated lazily wherever state is read (the
// dashboard and the eligibility check); the scheduler never sweeps for it.
// Returns true if the preference changed and needs persisting.
func ExpireSnooze(pref *db.Preference, now time.Time) bool {
	if pref.State != db.StateSnoozed {
		return false
	}
	if IsSnoozed(pref, now) {
		return false
	}
	pref.State = db.StateUnread
	pref.SnoozedAt = nil
	pref.SnoozedUntil = nil
	return true
}

// MarkRead transitions to read. Valid from any state; reading an
// already-read preference is a no-op. The snooze timestamps are left in
// place — overwriting the state makes them inert.
func MarkRead(pref *db.Preference, now time.Time) {
	if pref.State == db.StateRead {
		return
	}
	pref.State = db.StateRead
	pref.ReadAt = &now
}

// MarkUnread explicitly returns the preference to unread and clears the
// read timestamp. Valid from any state.
func MarkUnread(pref *db.Preference) {
	pref.State = db.StateUnread
	pref.ReadAt = nil
}

// Snooze snoozes the preference for the remainder of the current UTC day.
// Snoozing an already-snoozed preference refreshes the window rather than
// erroring.
func Snooze(pref *db.Preference, now time.Time) {
	until := EndOfDayUTC(now)
	pref.State = db.StateSnoozed
	pref.SnoozedAt = &now
	pref.SnoozedUntil = &until
}

// CanSendReminder decides whether a reminder is currently owed. It first
// applies the lazy snooze expiry, then:
//
//   - read: never eligible
//   - snoozed (window still open): never eligible
//   - unread: eligible once the reminder interval has elapsed since the
//     last reminder, or since first delivery when never reminded, or
//     immediately when never delivered at all
//
// The second return value reports whether ExpireSnooze mutated the
// preference, so callers can persist the transition.
func CanSendReminder(pref *db.Preference, interval time.Duration, now time.Time) (eligible, changed bool) {
	changed = ExpireSnooze(pref, now)

	switch pref.State {
	case db.StateRead:
		return false, changed
	case db.StateSnoozed:
		return false, changed
	}

	if pref.LastRemindedAt == nil {
		if pref.FirstDeliveredAt == nil {
			return true, changed
		}
		return now.Sub(*pref.FirstDeliveredAt) >= interval, changed
	}
	return now.Sub(*pref.LastRemindedAt) >= interval, changed
}

// RecordDelivery advances the reminder bookkeeping after a successful
// delivery: last_reminded_at moves to now, and first_delivered_at is set
// if this was the first delivery. Failures never call this, which keeps
// the user eligible for the next pass.
func RecordDelivery(pref *db.Preference, now time.Time) {
	pref.LastRemindedAt = &now
	if pref.FirstDeliveredAt == nil {
		pref.FirstDeliveredAt = &now
	}
}
