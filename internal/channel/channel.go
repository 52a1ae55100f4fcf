// Package channel defines the delivery channel abstraction: a single
// "attempt delivery" capability, polymorphic over transport, plus a
// registry mapping delivery-type identifiers to implementations. New
// transports register here without the dispatcher changing.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// ErrUnknownChannel is returned by Registry.Lookup when no channel is
// registered for a delivery type. The dispatcher records this as a
// delivery failure, not a crash.
var ErrUnknownChannel = errors.New("no channel registered for delivery type")

// Channel attempts to deliver one alert's content to one user. A nil
// return means the transport accepted the message; any error is recorded
// on the delivery record and never propagated past the dispatch loop.
type Channel interface {
	Deliver(ctx context.Context, alert *db.Alert, user *db.User) error
	Type() string
}

// Registry maps delivery-type identifiers to channel implementations.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   *zap.Logger
}

// NewRegistry creates a registry with the given channels pre-registered.
func NewRegistry(logger *zap.Logger, channels ...Channel) *Registry {
	r := &Registry{
		channels: make(map[string]Channel),
		logger:   logger,
	}
	for _, ch := range channels {
		r.Register(ch)
	}
	return r
}

// Register adds or replaces the channel for its delivery type.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Type()] = ch
	r.logger.Info("delivery channel registered", zap.String("type", ch.Type()))
}

// Lookup returns the channel for a delivery type.
func (r *Registry) Lookup(deliveryType string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[deliveryType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, deliveryType)
	}
	return ch, nil
}

// Types returns the registered delivery-type identifiers.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.channels))
	for t := range r.channels {
		types = append(types, t)
	}
	return types
}
