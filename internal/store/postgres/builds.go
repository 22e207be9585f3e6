package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/narvanalabs/build-feed/internal/models"
	"github.com/narvanalabs/build-feed/internal/store"
)

// BuildStore implements store.BuildStore using PostgreSQL.
type BuildStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *BuildStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// atomically runs fn in the surrounding transaction, or a new one.
func (s *BuildStore) atomically(ctx context.Context, fn func(q queryable) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Create inserts a build and its jobs.
func (s *BuildStore) Create(ctx context.Context, build *models.Build) error {
	if build.CreatedAt.IsZero() {
		build.CreatedAt = time.Now().UTC()
	}
	for i := range build.Jobs {
		if build.Jobs[i].Status == "" {
			build.Jobs[i].Status = models.JobStatusQueued
		}
	}
	build.Status = models.BuildStatusQueued
	build.Recompute()

	return s.atomically(ctx, func(q queryable) error {
		query := `
			INSERT INTO builds (branch, commit_sha, pr, message, status, created_at, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`

		err := q.QueryRowContext(ctx, query,
			build.Branch,
			build.Commit,
			build.PR,
			nullString(build.Message),
			build.Status,
			build.CreatedAt,
			build.StartTime,
			build.EndTime,
		).Scan(&build.ID)
		if err != nil {
			return fmt.Errorf("inserting build: %w", err)
		}

		for i := range build.Jobs {
			job := &build.Jobs[i]
			job.BuildID = build.ID

			err := q.QueryRowContext(ctx, `
				INSERT INTO jobs (build_id, position, image, env, status, started_at, finished_at, version)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				RETURNING id`,
				build.ID,
				i,
				nullString(job.Image),
				nullString(job.Env),
				job.Status,
				job.StartTime,
				job.EndTime,
				job.Version,
			).Scan(&job.ID)
			if err != nil {
				return fmt.Errorf("inserting job %d: %w", i, err)
			}
		}
		return nil
	})
}

const buildColumns = `id, branch, commit_sha, pr, message, status, created_at, started_at, finished_at`

// Get retrieves a build with its jobs.
func (s *BuildStore) Get(ctx context.Context, id uint64) (*models.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE id = $1`

	build, err := scanBuild(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying build: %w", err)
	}

	jobs, err := s.jobsFor(ctx, s.conn(), []uint64{build.ID})
	if err != nil {
		return nil, err
	}
	build.Jobs = jobs[build.ID]
	return build, nil
}

// List returns builds newest first. Jobs are loaded in a single query for the
// whole page.
func (s *BuildStore) List(ctx context.Context, filter store.BuildFilter, limit, offset int) ([]models.Build, error) {
	query := `
		SELECT ` + buildColumns + `
		FROM builds
		WHERE ($1 = '' OR branch = $1)
		  AND ($2 = 0 OR pr = $2)
		  AND ($3 = '' OR commit_sha = $3)
		ORDER BY id DESC
		LIMIT $4 OFFSET $5`

	rows, err := s.conn().QueryContext(ctx, query, filter.Branch, filter.PR, filter.Commit, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying builds: %w", err)
	}
	defer rows.Close()

	builds := make([]models.Build, 0, limit)
	var ids []uint64
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build: %w", err)
		}
		builds = append(builds, *build)
		ids = append(ids, build.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating builds: %w", err)
	}

	if len(ids) == 0 {
		return builds, nil
	}

	jobs, err := s.jobsFor(ctx, s.conn(), ids)
	if err != nil {
		return nil, err
	}
	for i := range builds {
		builds[i].Jobs = jobs[builds[i].ID]
	}
	return builds, nil
}

// UpdateJob applies a transition to one job and recomputes the parent build.
func (s *BuildStore) UpdateJob(ctx context.Context, buildID, jobID uint64, patch store.JobPatch) (*models.Job, *models.Build, error) {
	var build *models.Build
	var updated models.Job

	err := s.atomically(ctx, func(q queryable) error {
		var err error
		build, err = scanBuild(q.QueryRowContext(ctx,
			`SELECT `+buildColumns+` FROM builds WHERE id = $1 FOR UPDATE`, buildID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("locking build: %w", err)
		}

		query := `
			UPDATE jobs
			SET status = $1, started_at = $2, finished_at = $3, version = version + 1
			WHERE id = $4 AND build_id = $5
			RETURNING version`
		result := q.QueryRowContext(ctx, query, patch.Status, patch.StartTime, patch.EndTime, jobID, buildID)
		var version uint64
		if err := result.Scan(&version); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("updating job: %w", err)
		}

		jobs, err := s.jobsFor(ctx, q, []uint64{buildID})
		if err != nil {
			return err
		}
		build.Jobs = jobs[buildID]
		build.Recompute()

		_, err = q.ExecContext(ctx,
			`UPDATE builds SET status = $1, started_at = $2, finished_at = $3 WHERE id = $4`,
			build.Status, build.StartTime, build.EndTime, buildID)
		if err != nil {
			return fmt.Errorf("updating build aggregate: %w", err)
		}

		if i := build.JobIndex(jobID); i >= 0 {
			updated = build.Jobs[i].Clone()
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Debug("job updated",
		"build_id", buildID,
		"job_id", jobID,
		"status", updated.Status,
		"version", updated.Version,
	)
	return &updated, build, nil
}

// jobsFor loads the jobs of the given builds keyed by build id, each list in
// creation order.
func (s *BuildStore) jobsFor(ctx context.Context, q queryable, buildIDs []uint64) (map[uint64][]models.Job, error) {
	ids := make([]int64, len(buildIDs))
	for i, id := range buildIDs {
		ids[i] = int64(id)
	}

	query := `
		SELECT id, build_id, image, env, status, started_at, finished_at, version
		FROM jobs
		WHERE build_id = ANY($1)
		ORDER BY build_id, position`

	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64][]models.Job, len(buildIDs))
	for _, id := range buildIDs {
		out[id] = []models.Job{}
	}
	for rows.Next() {
		var job models.Job
		var image, env sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(
			&job.ID,
			&job.BuildID,
			&image,
			&env,
			&job.Status,
			&startedAt,
			&finishedAt,
			&job.Version,
		); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		job.Image = image.String
		job.Env = env.String
		job.StartTime = nullTime(startedAt)
		job.EndTime = nullTime(finishedAt)
		out[job.BuildID] = append(out[job.BuildID], job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*models.Build, error) {
	build := &models.Build{}
	var message sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&build.ID,
		&build.Branch,
		&build.Commit,
		&build.PR,
		&message,
		&build.Status,
		&build.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	build.Message = message.String
	build.StartTime = nullTime(startedAt)
	build.EndTime = nullTime(finishedAt)
	build.Jobs = []models.Job{}
	return build, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
