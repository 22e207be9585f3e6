package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/narvanalabs/build-feed/internal/store"
)

// TeamStore implements store.TeamStore using PostgreSQL.
type TeamStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *TeamStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create stores team, assigning its id.
func (s *TeamStore) Create(ctx context.Context, team *store.Team) error {
	now := time.Now().Unix()

	query := `
		INSERT INTO teams (name, about, color, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	if err := s.conn().QueryRowContext(ctx, query, team.Name, team.About, team.Color, now).Scan(&team.ID); err != nil {
		return fmt.Errorf("inserting team: %w", err)
	}
	team.CreatedAt = now
	team.Members = nil
	return nil
}

// Get retrieves a team with its members.
func (s *TeamStore) Get(ctx context.Context, id uint64) (*store.Team, error) {
	query := `SELECT id, name, about, color, created_at FROM teams WHERE id = $1`

	var team store.Team
	err := s.conn().QueryRowContext(ctx, query, id).Scan(
		&team.ID, &team.Name, &team.About, &team.Color, &team.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.conn().QueryContext(ctx, `
		SELECT u.id, u.email, u.name, u.created_at
		FROM team_members m JOIN users u ON u.id = m.user_id
		WHERE m.team_id = $1
		ORDER BY u.email
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying team members: %w", err)
	}
	defer rows.Close()

	team.Members = []store.User{}
	for rows.Next() {
		var u store.User
		var name sql.NullString
		if err := rows.Scan(&u.ID, &u.Email, &name, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Name = name.String
		team.Members = append(team.Members, u)
	}
	return &team, rows.Err()
}

// SetMembers replaces the team's members. Run it inside WithTx to make the
// replacement atomic.
func (s *TeamStore) SetMembers(ctx context.Context, teamID uint64, userIDs []string) error {
	var exists bool
	err := s.conn().QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM teams WHERE id = $1)`, teamID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}

	if _, err := s.conn().ExecContext(ctx, `DELETE FROM team_members WHERE team_id = $1`, teamID); err != nil {
		return fmt.Errorf("clearing team members: %w", err)
	}
	if len(userIDs) == 0 {
		return nil
	}

	_, err = s.conn().ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING
	`, teamID, pq.Array(userIDs))
	if err != nil {
		// 22P02 is invalid_text_representation, a malformed uuid.
		if isForeignKeyViolation(err) || strings.Contains(err.Error(), "22P02") {
			return store.ErrNotFound
		}
		return fmt.Errorf("inserting team members: %w", err)
	}
	return nil
}
