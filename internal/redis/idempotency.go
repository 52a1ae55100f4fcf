package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyTTL is how long client-provided Idempotency-Key values
	// are retained; within this window a repeated alert creation returns
	// the cached result instead of re-creating and re-delivering.
	IdempotencyTTL = 24 * time.Hour

	// processingTTL is the lock duration while a request is being processed.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates an idempotency key collision while the
// original request is still in flight.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key already exists")

// IdempotencyResult stores the cached response for an idempotent
// alert-creation request. Dispatch carries the serialized dispatch
// summary from the original request so a replay serves the same body.
type IdempotencyResult struct {
	AlertID    string          `json:"alert_id"`
	StatusCode int             `json:"status_code"`
	Dispatch   json.RawMessage `json:"dispatch,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// IdempotencyService provides idempotency guarantees for alert creation
// using Redis.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

// NewIdempotencyService creates a new idempotency service.
func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
	}
}

func (s *IdempotencyService) buildKey(adminID, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", adminID, idempotencyKey)
}

// Check retrieves a cached result for an idempotency key. Returns
// (nil, nil) if the key doesn't exist, (result, nil) if found, or
// ErrDuplicateRequest if the key is currently being processed.
func (s *IdempotencyService) Check(ctx context.Context, adminID, idempotencyKey string) (*IdempotencyResult, error) {
	key := s.buildKey(adminID, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result IdempotencyResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal idempotency result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	s.logger.Debug("idempotency cache hit",
		zap.String("admin_id", adminID),
		zap.String("alert_id", result.AlertID),
	)
	return &result, nil
}

// Lock marks the key as in-flight so concurrent duplicates fail fast.
// Returns false when another request already holds the key.
func (s *IdempotencyService) Lock(ctx context.Context, adminID, idempotencyKey string) (bool, error) {
	key := s.buildKey(adminID, idempotencyKey)

	ok, err := s.client.rdb.SetNX(ctx, key, processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Store saves the result of a successfully processed request.
func (s *IdempotencyService) Store(ctx context.Context, adminID, idempotencyKey string, result *IdempotencyResult) error {
	key := s.buildKey(adminID, idempotencyKey)

	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal idempotency result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, key, data, IdempotencyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops an in-flight lock after a failed request so the client
// can retry with the same key.
func (s *IdempotencyService) Release(ctx context.Context, adminID, idempotencyKey string) error {
	key := s.buildKey(adminID, idempotencyKey)
	return s.client.rdb.Del(ctx, key).Err()
}
