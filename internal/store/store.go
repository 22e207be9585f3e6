// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/narvanalabs/build-feed/internal/models"
)

// Common store errors.
var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateKey is returned when a unique field is already taken.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User represents an account that can sign in to the dashboard.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Team groups users under a name and color.
type Team struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	About     string `json:"about"`
	Color     string `json:"color"`
	Members   []User `json:"members"`
	CreatedAt int64  `json:"created_at"`
}

// BuildFilter narrows a build listing. Zero fields match everything.
type BuildFilter struct {
	Branch string
	PR     int
	Commit string
}

// Matches reports whether b passes the filter.
func (f BuildFilter) Matches(b *models.Build) bool {
	if f.Branch != "" && b.Branch != f.Branch {
		return false
	}
	if f.PR != 0 && b.PR != f.PR {
		return false
	}
	if f.Commit != "" && b.Commit != f.Commit {
		return false
	}
	return true
}

// JobPatch is a job state transition. Start and end times replace the stored
// values, nil clearing them.
type JobPatch struct {
	Status    models.JobStatus `json:"status"`
	StartTime *time.Time       `json:"startTime"`
	EndTime   *time.Time       `json:"endTime"`
}

// BuildStore defines operations for builds and their jobs.
type BuildStore interface {
	// Create stores a build with its jobs, assigning ids and deriving the
	// aggregate status.
	Create(ctx context.Context, build *models.Build) error
	// Get retrieves a build with its jobs.
	Get(ctx context.Context, id uint64) (*models.Build, error)
	// List returns up to limit builds matching filter, newest first.
	List(ctx context.Context, filter BuildFilter, limit, offset int) ([]models.Build, error)
	// UpdateJob applies patch to a job, bumps its version and recomputes the
	// parent build. It returns the updated job and build.
	UpdateJob(ctx context.Context, buildID, jobID uint64, patch JobPatch) (*models.Job, *models.Build, error)
}

// UserStore defines operations for user management.
type UserStore interface {
	// Create creates a new user with hashed password.
	Create(ctx context.Context, email, password, name string) (*User, error)
	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*User, error)
	// Authenticate verifies credentials and returns the user.
	Authenticate(ctx context.Context, email, password string) (*User, error)
}

// TeamStore defines operations for teams and their members.
type TeamStore interface {
	// Create stores a team without members, assigning its id.
	Create(ctx context.Context, team *Team) error
	// Get retrieves a team with its members ordered by email.
	Get(ctx context.Context, id uint64) (*Team, error)
	// SetMembers replaces the team's members. Every user must exist.
	SetMembers(ctx context.Context, teamID uint64, userIDs []string) error
}

// Store is the main interface for database operations.
type Store interface {
	// Builds returns the BuildStore.
	Builds() BuildStore
	// Users returns the UserStore.
	Users() UserStore
	// Teams returns the TeamStore.
	Teams() TeamStore

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Close closes the underlying connection.
	Close() error
}
