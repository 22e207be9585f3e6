package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/narvanalabs/build-feed/internal/models"
	"github.com/narvanalabs/build-feed/internal/store"
)

// SeedUser is an account created by Seed.
type SeedUser struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// Seed creates users and a handful of builds with mixed job states. Users
// that already exist are skipped.
func Seed(ctx context.Context, s store.Store, users []SeedUser, builds int) error {
	for _, u := range users {
		_, err := s.Users().Create(ctx, u.Email, u.Password, u.Name)
		if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
			return fmt.Errorf("seeding user %s: %w", u.Email, err)
		}
	}

	branches := []string{"main", "dev", "feature/live-feed"}
	now := time.Now().UTC()

	for i := 0; i < builds; i++ {
		started := now.Add(-time.Duration(builds-i) * 10 * time.Minute)
		finished := started.Add(4 * time.Minute)

		b := &models.Build{
			Branch:  branches[i%len(branches)],
			Commit:  fmt.Sprintf("%07x", 0xabc000+i),
			Message: fmt.Sprintf("Change #%d", i+1),
			Jobs: []models.Job{
				{Image: "golang:1.24", Env: "GOOS=linux"},
				{Image: "golang:1.23", Env: "GOOS=linux"},
			},
		}
		if i%4 == 1 {
			b.PR = 100 + i
		}
		if err := s.Builds().Create(ctx, b); err != nil {
			return fmt.Errorf("seeding build: %w", err)
		}

		// Leave the newest build running.
		status := models.JobStatusPassing
		if i%5 == 3 {
			status = models.JobStatusFailing
		}
		for j, job := range b.Jobs {
			patch := store.JobPatch{Status: status, StartTime: &started, EndTime: &finished}
			if i == builds-1 && j == 0 {
				patch = store.JobPatch{Status: models.JobStatusRunning, StartTime: &started}
			}
			if _, _, err := s.Builds().UpdateJob(ctx, b.ID, job.ID, patch); err != nil {
				return fmt.Errorf("seeding job: %w", err)
			}
		}
	}
	return nil
}
