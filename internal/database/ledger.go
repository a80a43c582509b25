package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/narchiver/internal/storage"
)

// FileName is the ledger file created inside the database directory.
const FileName = "narchiver.db"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Ledger records crawl runs and the pages they persisted.
type Ledger struct {
	db     *sql.DB
	dbPath string
}

// Options configures Ledger behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the ledger in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*Ledger, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a new file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	l := &Ledger{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := l.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return l, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.dbPath
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site TEXT NOT NULL,
		location TEXT NOT NULL,
		dir TEXT NOT NULL,
		archive TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL DEFAULT '',
		fetched INTEGER NOT NULL DEFAULT 0,
		persisted INTEGER NOT NULL DEFAULT 0,
		dropped INTEGER NOT NULL DEFAULT 0,
		retries INTEGER NOT NULL DEFAULT 0,
		redirects INTEGER NOT NULL DEFAULT 0,
		logins INTEGER NOT NULL DEFAULT 0,
		login_failures INTEGER NOT NULL DEFAULT 0,
		discovered INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_site ON runs(site);

	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		tag_url TEXT NOT NULL,
		file TEXT NOT NULL,
		depth INTEGER NOT NULL,
		path TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		size INTEGER NOT NULL,
		hash TEXT NOT NULL,
		fetched_at TEXT NOT NULL,
		UNIQUE(run_id, tag_url)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_tag ON pages(tag_url);
	`

	_, err := l.db.ExecContext(context.Background(), schema)
	return err
}

// Run is one crawl of one site.
type Run struct {
	ID            int64
	Site          string
	Location      string
	Dir           string
	Archive       string
	Status        string
	StartedAt     time.Time
	FinishedAt    time.Time
	Fetched       int
	Persisted     int
	Dropped       int
	Retries       int
	Redirects     int
	Logins        int
	LoginFailures int
	Discovered    int
	Error         string
}

// Duration returns how long the run took, or 0 while it is running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StartRun inserts a running run and returns its id.
func (l *Ledger) StartRun(ctx context.Context, site, location, dir string, startedAt time.Time) (int64, error) {
	query := `
	INSERT INTO runs (site, location, dir, status, started_at)
	VALUES (?, ?, ?, ?, ?)
	`
	result, err := l.db.ExecContext(ctx, query, site, location, dir, StatusRunning, formatTimestamp(startedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}
	return result.LastInsertId()
}

// FinishRun stores the final counters and status of run.ID.
func (l *Ledger) FinishRun(ctx context.Context, run *Run) error {
	query := `
	UPDATE runs SET
		archive = ?, status = ?, finished_at = ?,
		fetched = ?, persisted = ?, dropped = ?, retries = ?, redirects = ?,
		logins = ?, login_failures = ?, discovered = ?, error = ?
	WHERE id = ?
	`
	result, err := l.db.ExecContext(ctx, query,
		run.Archive,
		run.Status,
		formatTimestamp(run.FinishedAt),
		run.Fetched,
		run.Persisted,
		run.Dropped,
		run.Retries,
		run.Redirects,
		run.Logins,
		run.LoginFailures,
		run.Discovered,
		run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, run.ID)
	}
	return nil
}

const runColumns = `id, site, location, dir, archive, status, started_at, finished_at,
	fetched, persisted, dropped, retries, redirects, logins, login_failures, discovered, error`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var started, finished string
	err := row.Scan(
		&run.ID, &run.Site, &run.Location, &run.Dir, &run.Archive, &run.Status, &started, &finished,
		&run.Fetched, &run.Persisted, &run.Dropped, &run.Retries, &run.Redirects,
		&run.Logins, &run.LoginFailures, &run.Discovered, &run.Error,
	)
	if err != nil {
		return nil, err
	}
	run.StartedAt = parseTimestamp(started)
	run.FinishedAt = parseTimestamp(finished)
	return &run, nil
}

// GetRun retrieves a run by id.
func (l *Ledger) GetRun(ctx context.Context, id int64) (*Run, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first. An empty site lists every site;
// limit <= 0 means no limit.
func (l *Ledger) ListRuns(ctx context.Context, site string, limit int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE 1=1"
	args := make([]any, 0, 2)

	if site != "" {
		query += " AND site = ?"
		args = append(args, site)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordPage inserts or replaces the page record for runID.
func (l *Ledger) RecordPage(ctx context.Context, runID int64, rec storage.Record) error {
	query := `
	INSERT INTO pages (run_id, tag_url, file, depth, path, status_code, size, hash, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, tag_url) DO UPDATE SET
		file = excluded.file,
		depth = excluded.depth,
		path = excluded.path,
		status_code = excluded.status_code,
		size = excluded.size,
		hash = excluded.hash,
		fetched_at = excluded.fetched_at
	`
	_, err := l.db.ExecContext(ctx, query,
		runID,
		rec.TagURL,
		rec.File,
		rec.Depth,
		rec.Path,
		rec.StatusCode,
		rec.Size,
		rec.Hash,
		formatTimestamp(rec.FetchedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record page: %w", err)
	}
	return nil
}

// Pages returns the pages persisted by runID in insertion order.
func (l *Ledger) Pages(ctx context.Context, runID int64) ([]storage.Record, error) {
	query := `
	SELECT tag_url, file, depth, path, status_code, size, hash, fetched_at
	FROM pages WHERE run_id = ? ORDER BY id
	`
	rows, err := l.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages: %w", err)
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		var (
			rec       storage.Record
			fetchedAt string
		)
		if err := rows.Scan(&rec.TagURL, &rec.File, &rec.Depth, &rec.Path, &rec.StatusCode, &rec.Size, &rec.Hash, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		rec.FetchedAt = parseTimestamp(fetchedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RunRecorder binds a Ledger to one run. It implements storage.Recorder.
type RunRecorder struct {
	ledger *Ledger
	runID  int64
}

// Recorder returns a storage.Recorder writing into runID.
func (l *Ledger) Recorder(runID int64) *RunRecorder {
	return &RunRecorder{ledger: l, runID: runID}
}

// RecordPage implements storage.Recorder.
func (r *RunRecorder) RecordPage(ctx context.Context, rec storage.Record) error {
	return r.ledger.RecordPage(ctx, r.runID, rec)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp returns the zero time for empty or unknown values.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
