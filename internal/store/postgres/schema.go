package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email VARCHAR(255) NOT NULL UNIQUE,
	name VARCHAR(255),
	password_hash TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS builds (
	id BIGSERIAL PRIMARY KEY,
	branch VARCHAR(255) NOT NULL,
	commit_sha VARCHAR(64) NOT NULL,
	pr INTEGER NOT NULL DEFAULT 0,
	message TEXT,
	status VARCHAR(20) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_builds_branch ON builds(branch);

CREATE TABLE IF NOT EXISTS jobs (
	id BIGSERIAL PRIMARY KEY,
	build_id BIGINT NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	image VARCHAR(255),
	env TEXT,
	status VARCHAR(20) NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_jobs_build_id ON jobs(build_id);

CREATE TABLE IF NOT EXISTS teams (
	id BIGSERIAL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	about TEXT NOT NULL,
	color VARCHAR(32) NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS team_members (
	team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (team_id, user_id)
);
`

// Migrate creates the tables the store needs if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
