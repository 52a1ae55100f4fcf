package db

import (
	"go.uber.org/zap"
)

// Repository handles database operations for alerts, preferences,
// deliveries, users, and teams. Method groups live in per-entity files.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}
