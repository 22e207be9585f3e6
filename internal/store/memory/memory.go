// Package memory provides an in-process implementation of the store
// interfaces for development and tests.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/narvanalabs/build-feed/internal/models"
	"github.com/narvanalabs/build-feed/internal/store"
)

// Store implements store.Store in memory. Transactions are serialized but
// not rolled back.
type Store struct {
	txMu   sync.Mutex
	builds *BuildStore
	users  *UserStore
	teams  *TeamStore
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	users := &UserStore{byEmail: make(map[string]*userRecord), cost: bcrypt.DefaultCost}
	return &Store{
		builds: &BuildStore{byID: make(map[uint64]*models.Build), logger: logger},
		users:  users,
		teams:  &TeamStore{byID: make(map[uint64]*teamRecord), users: users},
	}
}

// Builds returns the BuildStore.
func (s *Store) Builds() store.BuildStore { return s.builds }

// Users returns the UserStore.
func (s *Store) Users() store.UserStore { return s.users }

// Teams returns the TeamStore.
func (s *Store) Teams() store.TeamStore { return s.teams }

// WithTx runs fn with exclusive access to the store.
func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// BuildStore implements store.BuildStore in memory.
type BuildStore struct {
	mu      sync.RWMutex
	byID    map[uint64]*models.Build
	order   []uint64
	nextID  uint64
	nextJob uint64
	logger  *slog.Logger
}

// Create stores a copy of build, assigning ids.
func (s *BuildStore) Create(ctx context.Context, build *models.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	build.ID = s.nextID
	if build.CreatedAt.IsZero() {
		build.CreatedAt = time.Now().UTC()
	}
	for i := range build.Jobs {
		s.nextJob++
		build.Jobs[i].ID = s.nextJob
		build.Jobs[i].BuildID = build.ID
		if build.Jobs[i].Status == "" {
			build.Jobs[i].Status = models.JobStatusQueued
		}
	}
	if build.Jobs == nil {
		build.Jobs = []models.Job{}
	}
	build.Status = models.BuildStatusQueued
	build.Recompute()

	stored := build.Clone()
	s.byID[build.ID] = &stored
	s.order = append(s.order, build.ID)
	return nil
}

// Get returns a copy of the build.
func (s *BuildStore) Get(ctx context.Context, id uint64) (*models.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := b.Clone()
	return &out, nil
}

// List returns copies of matching builds, newest first.
func (s *BuildStore) List(ctx context.Context, filter store.BuildFilter, limit, offset int) ([]models.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Build, 0, limit)
	skipped := 0
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		b := s.byID[s.order[i]]
		if !filter.Matches(b) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, b.Clone())
	}
	return out, nil
}

// UpdateJob applies patch, bumps the job version and recomputes the build.
func (s *BuildStore) UpdateJob(ctx context.Context, buildID, jobID uint64, patch store.JobPatch) (*models.Job, *models.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[buildID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	i := b.JobIndex(jobID)
	if i < 0 {
		return nil, nil, store.ErrNotFound
	}

	job := &b.Jobs[i]
	job.Status = patch.Status
	job.StartTime = copyTime(patch.StartTime)
	job.EndTime = copyTime(patch.EndTime)
	job.Version++
	b.Recompute()

	s.logger.Debug("job updated", "build_id", buildID, "job_id", jobID, "status", job.Status, "version", job.Version)

	outJob := job.Clone()
	outBuild := b.Clone()
	return &outJob, &outBuild, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

type userRecord struct {
	user store.User
	hash []byte
}

// UserStore implements store.UserStore in memory.
type UserStore struct {
	mu      sync.RWMutex
	byEmail map[string]*userRecord
	cost    int
}

// SetCost sets the bcrypt cost for new users. Tests lower it.
func (s *UserStore) SetCost(cost int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cost = cost
}

// Create creates a new user with hashed password.
func (s *UserStore) Create(ctx context.Context, email, password, name string) (*store.User, error) {
	key := strings.ToLower(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[key]; exists {
		return nil, store.ErrDuplicateKey
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}

	rec := &userRecord{
		user: store.User{
			ID:        uuid.New().String(),
			Email:     email,
			Name:      name,
			CreatedAt: time.Now().Unix(),
		},
		hash: hash,
	}
	s.byEmail[key] = rec

	user := rec.user
	return &user, nil
}

// GetByID retrieves a user by ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.byEmail {
		if rec.user.ID == id {
			user := rec.user
			return &user, nil
		}
	}
	return nil, store.ErrNotFound
}

// Authenticate verifies credentials and returns the user.
func (s *UserStore) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	s.mu.RLock()
	rec, ok := s.byEmail[strings.ToLower(email)]
	s.mu.RUnlock()

	if !ok {
		return nil, store.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(rec.hash, []byte(password)); err != nil {
		return nil, store.ErrInvalidCredentials
	}

	user := rec.user
	return &user, nil
}

type teamRecord struct {
	team    store.Team
	members []string
}

// TeamStore implements store.TeamStore in memory. Members are resolved
// through the user store on every read.
type TeamStore struct {
	mu     sync.RWMutex
	byID   map[uint64]*teamRecord
	nextID uint64
	users  *UserStore
}

// Create stores team, assigning its id.
func (s *TeamStore) Create(ctx context.Context, team *store.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	team.ID = s.nextID
	team.CreatedAt = time.Now().Unix()
	team.Members = nil
	s.byID[team.ID] = &teamRecord{team: *team}
	return nil
}

// Get retrieves a team with its members.
func (s *TeamStore) Get(ctx context.Context, id uint64) (*store.Team, error) {
	s.mu.RLock()
	rec, ok := s.byID[id]
	var members []string
	var team store.Team
	if ok {
		team = rec.team
		members = append(members, rec.members...)
	}
	s.mu.RUnlock()

	if !ok {
		return nil, store.ErrNotFound
	}

	team.Members = make([]store.User, 0, len(members))
	for _, uid := range members {
		u, err := s.users.GetByID(ctx, uid)
		if err != nil {
			continue
		}
		team.Members = append(team.Members, *u)
	}
	sort.Slice(team.Members, func(i, j int) bool { return team.Members[i].Email < team.Members[j].Email })
	return &team, nil
}

// SetMembers replaces the team's members, ignoring repeated ids.
func (s *TeamStore) SetMembers(ctx context.Context, teamID uint64, userIDs []string) error {
	seen := make(map[string]bool, len(userIDs))
	members := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		if _, err := s.users.GetByID(ctx, id); err != nil {
			return err
		}
		seen[id] = true
		members = append(members, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[teamID]
	if !ok {
		return store.ErrNotFound
	}
	rec.members = members
	return nil
}
