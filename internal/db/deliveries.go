package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const deliveryColumns = `
	id, alert_id, user_id, delivery_type, status, attempt_count,
	scheduled_at, sent_at, delivered_at, error_message, created_at, updated_at
`

// CreateDelivery inserts a new delivery record
func (r *Repository) CreateDelivery(ctx context.Context, del *Delivery) error {
	query := `
		INSERT INTO delivery_records (
			id, alert_id, user_id, delivery_type, status, attempt_count, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		del.ID,
		del.AlertID,
		del.UserID,
		del.DeliveryType,
		del.Status,
		del.AttemptCount,
		del.ScheduledAt,
	).Scan(&del.CreatedAt, &del.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create delivery record",
			zap.Error(err),
			zap.String("delivery_id", del.ID.String()),
			zap.String("alert_id", del.AlertID.String()),
		)
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

// UpdateDelivery writes the dispatch outcome back: status transition,
// attempt count, timestamps, and error message.
func (r *Repository) UpdateDelivery(ctx context.Context, del *Delivery) error {
	query := `
		UPDATE delivery_records
		SET status = $1, attempt_count = $2, sent_at = $3, delivered_at = $4,
		    error_message = $5, updated_at = NOW()
		WHERE id = $6
	`

	result, err := r.db.Pool().Exec(ctx, query,
		del.Status,
		del.AttemptCount,
		del.SentAt,
		del.DeliveredAt,
		del.ErrorMessage,
		del.ID,
	)
	if err != nil {
		return fmt.Errorf("update delivery record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDeliveryNotFound, del.ID)
	}
	return nil
}

// GetDelivery retrieves a delivery record by ID
func (r *Repository) GetDelivery(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_records WHERE id = $1`

	var del Delivery
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&del.ID,
		&del.AlertID,
		&del.UserID,
		&del.DeliveryType,
		&del.Status,
		&del.AttemptCount,
		&del.ScheduledAt,
		&del.SentAt,
		&del.DeliveredAt,
		&del.ErrorMessage,
		&del.CreatedAt,
		&del.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeliveryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery record: %w", err)
	}
	return &del, nil
}

// CountDeliveriesSince counts delivery records created at or after the
// given instant. Used for the deliveries-today stat.
func (r *Repository) CountDeliveriesSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM delivery_records WHERE created_at >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return count, nil
}
