package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, name, email, phone, webhook_url, team_id, is_admin, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user User
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Phone,
		&user.WebhookURL,
		&user.TeamID,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ListUserIDs retrieves the IDs of every known user. Used to resolve
// organization-scoped alerts.
func (r *Repository) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT id FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query user ids: %w", err)
	}
	defer rows.Close()

	return collectIDs(rows)
}

// GetTeam retrieves a team by ID
func (r *Repository) GetTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	query := `SELECT id, name, description, created_at, updated_at FROM teams WHERE id = $1`

	var team Team
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&team.ID,
		&team.Name,
		&team.Description,
		&team.CreatedAt,
		&team.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query team: %w", err)
	}
	return &team, nil
}

// ListTeamMemberIDs retrieves the user IDs belonging to a team. An unknown
// team yields an empty slice, not an error — team-scoped resolution
// treats missing teams as contributing nothing.
func (r *Repository) ListTeamMemberIDs(ctx context.Context, teamID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT id FROM users WHERE team_id = $1`, teamID)
	if err != nil {
		return nil, fmt.Errorf("query team members: %w", err)
	}
	defer rows.Close()

	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return ids, nil
}
