package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// AlertFilter narrows ListAlerts. Zero values mean "no filter".
type AlertFilter struct {
	Severity       string
	Status         string
	VisibilityType string
	CreatedBy      uuid.UUID
	Limit          int
	Offset         int
}

const alertColumns = `
	id, title, message, severity, delivery_type, visibility_type,
	visibility_targets, start_time, expiry_time, reminder_interval_hours,
	reminders_enabled, status, created_by, created_at, updated_at
`

// CreateAlert inserts a new alert
func (r *Repository) CreateAlert(ctx context.Context, alert *Alert) error {
	targets, err := json.Marshal(alert.VisibilityTargets)
	if err != nil {
		return fmt.Errorf("marshal visibility targets: %w", err)
	}

	query := `
		INSERT INTO alerts (
			id, title, message, severity, delivery_type, visibility_type,
			visibility_targets, start_time, expiry_time, reminder_interval_hours,
			reminders_enabled, status, created_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(
		ctx,
		query,
		alert.ID,
		alert.Title,
		alert.Message,
		alert.Severity,
		alert.DeliveryType,
		alert.VisibilityType,
		targets,
		alert.StartTime,
		alert.ExpiryTime,
		alert.ReminderIntervalHours,
		alert.RemindersEnabled,
		alert.Status,
		alert.CreatedBy,
	).Scan(&alert.CreatedAt, &alert.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create alert",
			zap.Error(err),
			zap.String("alert_id", alert.ID.String()),
		)
		return fmt.Errorf("insert alert: %w", err)
	}

	r.logger.Info("alert created",
		zap.String("alert_id", alert.ID.String()),
		zap.String("severity", alert.Severity),
		zap.String("visibility_type", alert.VisibilityType),
		zap.String("delivery_type", alert.DeliveryType),
	)

	return nil
}

// GetAlert retrieves an alert by ID
func (r *Repository) GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	alert, err := scanAlert(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}
	return alert, nil
}

// UpdateAlert overwrites the mutable alert fields
func (r *Repository) UpdateAlert(ctx context.Context, alert *Alert) error {
	targets, err := json.Marshal(alert.VisibilityTargets)
	if err != nil {
		return fmt.Errorf("marshal visibility targets: %w", err)
	}

	query := `
		UPDATE alerts
		SET title = $1, message = $2, severity = $3, delivery_type = $4,
		    visibility_type = $5, visibility_targets = $6, start_time = $7,
		    expiry_time = $8, reminder_interval_hours = $9,
		    reminders_enabled = $10, status = $11, updated_at = NOW()
		WHERE id = $12
	`

	result, err := r.db.Pool().Exec(ctx, query,
		alert.Title,
		alert.Message,
		alert.Severity,
		alert.DeliveryType,
		alert.VisibilityType,
		targets,
		alert.StartTime,
		alert.ExpiryTime,
		alert.ReminderIntervalHours,
		alert.RemindersEnabled,
		alert.Status,
		alert.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, alert.ID)
	}
	return nil
}

// SetAlertStatus transitions the alert lifecycle status (expired, archived)
func (r *Repository) SetAlertStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE alerts SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Pool().Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("set alert status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}

	r.logger.Info("alert status changed",
		zap.String("alert_id", id.String()),
		zap.String("status", status),
	)
	return nil
}

// ListAlerts retrieves alerts matching the filter, newest first
func (r *Repository) ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`

	args := []any{}
	idx := 1

	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", idx)
		args = append(args, filter.Severity)
		idx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.VisibilityType != "" {
		query += fmt.Sprintf(" AND visibility_type = $%d", idx)
		args = append(args, filter.VisibilityType)
		idx++
	}
	if filter.CreatedBy != uuid.Nil {
		query += fmt.Sprintf(" AND created_by = $%d", idx)
		args = append(args, filter.CreatedBy)
		idx++
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListRemindableAlerts retrieves alerts the scheduler should consider this
// pass: status active, reminders enabled, and already started.
func (r *Repository) ListRemindableAlerts(ctx context.Context, now time.Time) ([]*Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE status = 'active' AND reminders_enabled = TRUE AND start_time <= $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query remindable alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// CountRemindableAlerts counts active alerts with reminders enabled
func (r *Repository) CountRemindableAlerts(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE status = 'active' AND reminders_enabled = TRUE`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count remindable alerts: %w", err)
	}
	return count, nil
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var alert Alert
	var targets []byte

	err := row.Scan(
		&alert.ID,
		&alert.Title,
		&alert.Message,
		&alert.Severity,
		&alert.DeliveryType,
		&alert.VisibilityType,
		&targets,
		&alert.StartTime,
		&alert.ExpiryTime,
		&alert.ReminderIntervalHours,
		&alert.RemindersEnabled,
		&alert.Status,
		&alert.CreatedBy,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(targets) > 0 {
		if err := json.Unmarshal(targets, &alert.VisibilityTargets); err != nil {
			return nil, fmt.Errorf("unmarshal visibility targets: %w", err)
		}
	}
	return &alert, nil
}

func collectAlerts(rows pgx.Rows) ([]*Alert, error) {
	var alerts []*Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return alerts, nil
}
