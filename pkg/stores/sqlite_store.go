package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
	now  func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
		now:  time.Now,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path
	if s.path != MemoryPath {
		dsn = fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection-level setting; the DSN pragma does not apply to :memory:
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if err := run.Status.Validate(); err != nil {
		return err
	}

	now := s.now()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	query := `
		INSERT INTO runs (id, playbook_path, mode, status, desired_state, converged, exit_code, job_id,
			started_at, completed_at, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.PlaybookPath,
		run.Mode,
		run.Status,
		run.DesiredState,
		run.Converged,
		run.ExitCode,
		run.JobID,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun records the terminal state of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, outcome RunOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("run status %q is not terminal", outcome.Status)
	}

	query := `
		UPDATE runs
		SET status = ?, exit_code = ?, converged = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := s.now()
	result, err := s.db.ExecContext(ctx, query,
		outcome.Status, outcome.ExitCode, outcome.Converged, outcome.Error, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

const runColumns = `id, playbook_path, mode, status, desired_state, converged, exit_code, job_id,
	started_at, completed_at, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.PlaybookPath,
		&run.Mode,
		&run.Status,
		&run.DesiredState,
		&run.Converged,
		&run.ExitCode,
		&run.JobID,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	return run, err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and, by cascade, its events and outcomes
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	query := `DELETE FROM runs WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// AppendJobEvent appends an emitted job event to the run's log
func (s *SQLiteStore) AppendJobEvent(ctx context.Context, event *JobEvent) error {
	query := `
		INSERT INTO job_events (run_id, counter, uuid, parent_uuid, event, created, stdout, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Counter,
		event.UUID,
		event.ParentUUID,
		event.Event,
		event.Created,
		event.Stdout,
		event.Payload,
	)
	if err != nil {
		return fmt.Errorf("failed to append job event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get job event id: %w", err)
	}
	event.ID = id

	return nil
}

// ListJobEvents returns a run's job events in emission order
func (s *SQLiteStore) ListJobEvents(ctx context.Context, runID string) ([]*JobEvent, error) {
	query := `
		SELECT id, run_id, counter, uuid, parent_uuid, event, created, stdout, payload
		FROM job_events
		WHERE run_id = ?
		ORDER BY counter
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job events: %w", err)
	}
	defer rows.Close()

	events := []*JobEvent{}
	for rows.Next() {
		ev := &JobEvent{}
		if err := rows.Scan(
			&ev.ID,
			&ev.RunID,
			&ev.Counter,
			&ev.UUID,
			&ev.ParentUUID,
			&ev.Event,
			&ev.Created,
			&ev.Stdout,
			&ev.Payload,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job events: %w", err)
	}

	return events, nil
}

// SaveHostOutcomes upserts the outcome table of a run in one transaction
func (s *SQLiteStore) SaveHostOutcomes(ctx context.Context, runID string, outcomes []*HostOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO host_outcomes (run_id, host, ok, changed, failures, skipped, rescued, ignored)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, host) DO UPDATE SET
			ok = excluded.ok,
			changed = excluded.changed,
			failures = excluded.failures,
			skipped = excluded.skipped,
			rescued = excluded.rescued,
			ignored = excluded.ignored
	`

	for _, o := range outcomes {
		if _, err := tx.ExecContext(ctx, query,
			runID, o.Host, o.OK, o.Changed, o.Failures, o.Skipped, o.Rescued, o.Ignored,
		); err != nil {
			return fmt.Errorf("failed to save outcome for host %s: %w", o.Host, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit host outcomes: %w", err)
	}

	return nil
}

// ListHostOutcomes returns a run's host outcomes ordered by host
func (s *SQLiteStore) ListHostOutcomes(ctx context.Context, runID string) ([]*HostOutcome, error) {
	query := `
		SELECT run_id, host, ok, changed, failures, skipped, rescued, ignored
		FROM host_outcomes
		WHERE run_id = ?
		ORDER BY host
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list host outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []*HostOutcome{}
	for rows.Next() {
		o := &HostOutcome{}
		if err := rows.Scan(
			&o.RunID, &o.Host, &o.OK, &o.Changed, &o.Failures, &o.Skipped, &o.Rescued, &o.Ignored,
		); err != nil {
			return nil, fmt.Errorf("failed to scan host outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating host outcomes: %w", err)
	}

	return outcomes, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
