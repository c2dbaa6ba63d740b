package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a queried run does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one completed wait, kept as an audit record. Nothing reads it back
// to influence later polling.
type Run struct {
	ID            string
	URL           string
	Host          string
	Source        string // "url" or "github:<owner>/<repo>@<environment>"
	Ready         bool
	DNSRegistered bool
	DNSAttempts   int
	HTTPAttempts  int
	LastStatus    int
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration returns how long the wait took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ListFilter narrows ListRuns. Zero values match everything.
type ListFilter struct {
	URL   string
	Limit int
}

// Store wraps a SQL database holding run history.
type Store struct {
	db *sql.DB
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Open creates or opens a SQLite database at the given path with WAL mode.
// Use ":memory:" for in-memory databases in tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating state dir for %s: %w", dbPath, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state db %s: %w", dbPath, err)
	}

	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenMySQL connects to a MySQL or MariaDB database shared by several hosts
// and creates the runs table if needed.
func OpenMySQL(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing history DSN: %w", err)
	}
	if cfg.DBName == "" {
		return nil, fmt.Errorf("history DSN must name a database, e.g. user:pass@tcp(host:3306)/deploywait")
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MySQL: %w", err)
	}
	db := sql.OpenDB(connector)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("MySQL connection failed: %w; check that the server is running and the DSN is correct", err)
	}

	if _, err := db.ExecContext(ctx, mysqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertRun records a completed run. An empty ID is filled in.
func (s *Store) InsertRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, url, host, source, ready, dns_registered, dns_attempts, http_attempts, last_status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.URL, run.Host, run.Source,
		run.Ready, run.DNSRegistered,
		run.DNSAttempts, run.HTTPAttempts, run.LastStatus,
		nullString(run.Error),
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, host, source, ready, dns_registered, dns_attempts, http_attempts, last_status, error, started_at, finished_at
		 FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter ListFilter) ([]*Run, error) {
	query := `SELECT id, url, host, source, ready, dns_registered, dns_attempts, http_attempts, last_status, error, started_at, finished_at FROM runs`
	var args []any
	if filter.URL != "" {
		query += ` WHERE url = ?`
		args = append(args, filter.URL)
	}
	query += ` ORDER BY started_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PruneRuns deletes all but the newest keep runs and returns how many were removed.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	// Find the start time of the oldest run to keep, then delete anything older.
	var cutoff int64
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM runs ORDER BY started_at DESC LIMIT 1 OFFSET ?`, keep-1).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("finding prune cutoff: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var errText sql.NullString
	var startedAt, finishedAt int64

	err := sc.Scan(
		&run.ID, &run.URL, &run.Host, &run.Source,
		&run.Ready, &run.DNSRegistered,
		&run.DNSAttempts, &run.HTTPAttempts, &run.LastStatus,
		&errText, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Error = errText.String
	run.StartedAt = time.UnixMilli(startedAt)
	run.FinishedAt = time.UnixMilli(finishedAt)
	return &run, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
