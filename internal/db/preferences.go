package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const preferenceColumns = `
	id, user_id, alert_id, state, first_delivered_at, last_reminded_at,
	read_at, snoozed_at, snoozed_until, created_at, updated_at
`

// GetPreference retrieves the preference row for a (user, alert) pair.
// Returns ErrPreferenceNotFound when no delivery ever created one.
func (r *Repository) GetPreference(ctx context.Context, userID, alertID uuid.UUID) (*Preference, error) {
	query := `SELECT ` + preferenceColumns + ` FROM alert_preferences WHERE user_id = $1 AND alert_id = $2`

	pref, err := scanPreference(r.db.Pool().QueryRow(ctx, query, userID, alertID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user=%s alert=%s", ErrPreferenceNotFound, userID, alertID)
	}
	if err != nil {
		return nil, fmt.Errorf("query preference: %w", err)
	}
	return pref, nil
}

// GetOrCreatePreference fetches the (user, alert) preference, creating an
// unread row on first delivery. The unique constraint on (user_id, alert_id)
// makes the create race-safe: ON CONFLICT returns the existing row.
func (r *Repository) GetOrCreatePreference(ctx context.Context, userID, alertID uuid.UUID) (*Preference, error) {
	query := `
		INSERT INTO alert_preferences (id, user_id, alert_id, state)
		VALUES ($1, $2, $3, 'unread')
		ON CONFLICT (user_id, alert_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + preferenceColumns

	pref, err := scanPreference(r.db.Pool().QueryRow(ctx, query, uuid.New(), userID, alertID))
	if err != nil {
		r.logger.Error("failed to get or create preference",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("alert_id", alertID.String()),
		)
		return nil, fmt.Errorf("get or create preference: %w", err)
	}
	return pref, nil
}

// UpdatePreference writes the state machine fields back. Last write wins;
// the dispatcher's eligibility re-check is the correctness backstop for
// concurrent user actions.
func (r *Repository) UpdatePreference(ctx context.Context, pref *Preference) error {
	query := `
		UPDATE alert_preferences
		SET state = $1, first_delivered_at = $2, last_reminded_at = $3,
		    read_at = $4, snoozed_at = $5, snoozed_until = $6, updated_at = NOW()
		WHERE id = $7
	`

	result, err := r.db.Pool().Exec(ctx, query,
		pref.State,
		pref.FirstDeliveredAt,
		pref.LastRemindedAt,
		pref.ReadAt,
		pref.SnoozedAt,
		pref.SnoozedUntil,
		pref.ID,
	)
	if err != nil {
		return fmt.Errorf("update preference: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrPreferenceNotFound, pref.ID)
	}
	return nil
}

// ListPreferencesByAlert retrieves all preference rows for an alert
func (r *Repository) ListPreferencesByAlert(ctx context.Context, alertID uuid.UUID) ([]*Preference, error) {
	query := `SELECT ` + preferenceColumns + ` FROM alert_preferences WHERE alert_id = $1`

	rows, err := r.db.Pool().Query(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	return collectPreferences(rows)
}

// ListUserAlerts retrieves a user's alerts joined with their preference
// rows, newest alert first. When activeOnly is set, expired and archived
// alerts are filtered out.
func (r *Repository) ListUserAlerts(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*UserAlert, error) {
	query := `
		SELECT
			a.id, a.title, a.message, a.severity, a.delivery_type,
			a.visibility_type, a.visibility_targets, a.start_time, a.expiry_time,
			a.reminder_interval_hours, a.reminders_enabled, a.status,
			a.created_by, a.created_at, a.updated_at,
			p.id, p.user_id, p.alert_id, p.state, p.first_delivered_at,
			p.last_reminded_at, p.read_at, p.snoozed_at, p.snoozed_until,
			p.created_at, p.updated_at
		FROM alerts a
		JOIN alert_preferences p ON p.alert_id = a.id
		WHERE p.user_id = $1
	`
	if activeOnly {
		query += ` AND a.status = 'active'`
	}
	query += ` ORDER BY a.created_at DESC`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query user alerts: %w", err)
	}
	defer rows.Close()

	var items []*UserAlert
	for rows.Next() {
		var item UserAlert
		var targets []byte
		err := rows.Scan(
			&item.Alert.ID,
			&item.Alert.Title,
			&item.Alert.Message,
			&item.Alert.Severity,
			&item.Alert.DeliveryType,
			&item.Alert.VisibilityType,
			&targets,
			&item.Alert.StartTime,
			&item.Alert.ExpiryTime,
			&item.Alert.ReminderIntervalHours,
			&item.Alert.RemindersEnabled,
			&item.Alert.Status,
			&item.Alert.CreatedBy,
			&item.Alert.CreatedAt,
			&item.Alert.UpdatedAt,
			&item.Preference.ID,
			&item.Preference.UserID,
			&item.Preference.AlertID,
			&item.Preference.State,
			&item.Preference.FirstDeliveredAt,
			&item.Preference.LastRemindedAt,
			&item.Preference.ReadAt,
			&item.Preference.SnoozedAt,
			&item.Preference.SnoozedUntil,
			&item.Preference.CreatedAt,
			&item.Preference.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan user alert: %w", err)
		}
		if len(targets) > 0 {
			if err := json.Unmarshal(targets, &item.Alert.VisibilityTargets); err != nil {
				return nil, fmt.Errorf("unmarshal visibility targets: %w", err)
			}
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return items, nil
}

// CountPreferencesByState counts preference rows in the given state
func (r *Repository) CountPreferencesByState(ctx context.Context, state string) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM alert_preferences WHERE state = $1`, state,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count preferences: %w", err)
	}
	return count, nil
}

// UserAlert pairs an alert with the viewing user's preference row.
type UserAlert struct {
	Alert      Alert      `json:"alert"`
	Preference Preference `json:"preference"`
}

func scanPreference(row pgx.Row) (*Preference, error) {
	var pref Preference
	err := row.Scan(
		&pref.ID,
		&pref.UserID,
		&pref.AlertID,
		&pref.State,
		&pref.FirstDeliveredAt,
		&pref.LastRemindedAt,
		&pref.ReadAt,
		&pref.SnoozedAt,
		&pref.SnoozedUntil,
		&pref.CreatedAt,
		&pref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

func collectPreferences(rows pgx.Rows) ([]*Preference, error) {
	var prefs []*Preference
	for rows.Next() {
		pref, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs = append(prefs, pref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return prefs, nil
}
