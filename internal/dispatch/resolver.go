package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// DirectoryRepository is the user/team lookup surface the resolver needs.
type DirectoryRepository interface {
	ListUserIDs(ctx context.Context) ([]uuid.UUID, error)
	ListTeamMemberIDs(ctx context.Context, teamID uuid.UUID) ([]uuid.UUID, error)
}

// Resolver expands an alert's visibility scope into concrete user IDs.
type Resolver struct {
	repo   DirectoryRepository
	logger *zap.Logger
}

// NewResolver creates a target resolver.
func NewResolver(repo DirectoryRepository, logger *zap.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		logger: logger,
	}
}

// Resolve returns the user IDs an alert targets:
//
//   - organization: every known user
//   - team: deduplicated union of member IDs across the target teams;
//     unknown teams contribute nothing
//   - user: the explicit target list verbatim — no dedupe, no existence
//     check (nonexistent users are caught per-user at dispatch time)
func (r *Resolver) Resolve(ctx context.Context, alert *db.Alert) ([]uuid.UUID, error) {
	switch alert.VisibilityType {
	case db.VisibilityOrganization:
		ids, err := r.repo.ListUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve organization targets: %w", err)
		}
		return ids, nil

	case db.VisibilityTeam:
		seen := make(map[uuid.UUID]struct{})
		var ids []uuid.UUID
		for _, teamID := range alert.VisibilityTargets {
			members, err := r.repo.ListTeamMemberIDs(ctx, teamID)
			if err != nil {
				return nil, fmt.Errorf("resolve team %s targets: %w", teamID, err)
			}
			for _, id := range members {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		return ids, nil

	case db.VisibilityUser:
		return alert.VisibilityTargets, nil

	default:
		r.logger.Warn("unknown visibility type",
			zap.String("alert_id", alert.ID.String()),
			zap.String("visibility_type", alert.VisibilityType),
		)
		return nil, nil
	}
}
