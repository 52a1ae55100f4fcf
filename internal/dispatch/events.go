package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// OnAlertCreated fires once after an alert is durably created and
// performs the immediate first-pass delivery to every resolved target.
// Preferences don't exist yet, so the eligibility gate passes everyone
// through. Called synchronously from the create handler — there is only
// one consumer of lifecycle events, so no fan-out machinery.
func (d *Dispatcher) OnAlertCreated(ctx context.Context, alert *db.Alert) (*Result, error) {
	targets, err := d.resolver.Resolve(ctx, alert)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		d.logger.Warn("alert created with no resolvable targets",
			zap.String("alert_id", alert.ID.String()),
			zap.String("visibility_type", alert.VisibilityType),
		)
		return &Result{Status: StatusCompleted}, nil
	}

	d.logger.Info("delivering new alert",
		zap.String("alert_id", alert.ID.String()),
		zap.Int("targets", len(targets)),
	)
	return d.Deliver(ctx, alert, targets)
}

// OnAlertUpdated fires after an admin update. No delivery action is
// taken; reserved for future re-notification scenarios.
func (d *Dispatcher) OnAlertUpdated(ctx context.Context, alert *db.Alert) {
	d.logger.Debug("alert updated",
		zap.String("alert_id", alert.ID.String()),
	)
}
