// Package store persists scan state in Postgres: the repositories recorded
// by scanner workers (read here only for their star counts) and the
// scan_tasks submitted through the management API.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"untestables/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	id                        SERIAL PRIMARY KEY,
	name                      VARCHAR(255) NOT NULL,
	description               TEXT,
	star_count                INTEGER NOT NULL,
	url                       VARCHAR(255) NOT NULL,
	missing_test_directories  BOOLEAN NOT NULL,
	missing_test_files        BOOLEAN NOT NULL,
	missing_test_config_files BOOLEAN NOT NULL,
	missing_cicd_configs      BOOLEAN NOT NULL,
	missing_readme_mentions   BOOLEAN NOT NULL,
	last_scanned_at           TIMESTAMP NOT NULL DEFAULT NOW(),
	language                  VARCHAR(50),
	last_push_time            TIMESTAMP,
	last_metadata_update_time TIMESTAMP,
	creation_time             TIMESTAMP,
	is_active                 BOOLEAN DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS ix_repositories_star_count ON repositories (star_count);

CREATE TABLE IF NOT EXISTS scan_tasks (
	id           VARCHAR PRIMARY KEY,
	task_type    VARCHAR NOT NULL,
	status       VARCHAR NOT NULL,
	min_stars    INTEGER,
	max_stars    INTEGER,
	parameters   JSONB,
	result       JSONB,
	error        TEXT,
	created_at   TIMESTAMP NOT NULL DEFAULT NOW(),
	started_at   TIMESTAMP,
	completed_at TIMESTAMP,
	progress     JSONB
);
`

// Store wraps a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger utils.Logger
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, databaseURL string, logger utils.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("database URL is required: set DATABASE_URL")
	}
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "creating connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.pool.Ping(ctx), "pinging database")
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return errors.Wrap(err, "applying schema")
}

// GetProcessedStarCounts returns the distinct star counts already recorded,
// sorted ascending. An empty table is a valid empty result. The result is
// read fresh on every call; workers append rows concurrently.
func (s *Store) GetProcessedStarCounts(ctx context.Context) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT star_count FROM repositories ORDER BY star_count`)
	if err != nil {
		return nil, errors.Wrap(err, "querying processed star counts")
	}
	defer rows.Close()

	var stars []int
	for rows.Next() {
		var star int
		if err := rows.Scan(&star); err != nil {
			return nil, errors.Wrap(err, "scanning star count")
		}
		stars = append(stars, star)
	}
	return stars, errors.Wrap(rows.Err(), "iterating star counts")
}

// CountRepositories returns the number of recorded repositories.
func (s *Store) CountRepositories(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM repositories`).Scan(&count)
	return count, errors.Wrap(err, "counting repositories")
}
