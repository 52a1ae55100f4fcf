package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// Channel mirrors the channel.Channel interface to avoid a circular import.
type Channel interface {
	Deliver(ctx context.Context, alert *db.Alert, user *db.User) error
	Type() string
}

// ProtectedChannel wraps a delivery channel with a CircuitBreaker. When
// the downstream transport starts failing, deliveries fail fast instead
// of piling up; the dispatcher records the rejection as an ordinary
// delivery failure and the user stays eligible for the next pass.
type ProtectedChannel struct {
	channel Channel
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedChannel wraps a channel with circuit breaker protection.
func NewProtectedChannel(ch Channel, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedChannel {
	return &ProtectedChannel{
		channel: ch,
		breaker: breaker,
		logger:  logger,
	}
}

// Deliver attempts delivery through the circuit breaker.
func (p *ProtectedChannel) Deliver(ctx context.Context, alert *db.Alert, user *db.User) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("alert_id", alert.ID.String()),
			zap.String("channel", p.channel.Type()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s channel unavailable", ErrCircuitOpen, p.channel.Type())
	}

	err := p.channel.Deliver(ctx, alert, user)
	if err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Type delegates to the underlying channel.
func (p *ProtectedChannel) Type() string {
	return p.channel.Type()
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedChannel) Breaker() *CircuitBreaker {
	return p.breaker
}
