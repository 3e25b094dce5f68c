package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// FileName is the database file name inside the database directory.
const FileName = "politecrawl.db"

// timeLayout is the fixed-width UTC layout used for every stored time, so
// that string comparison in SQL orders times correctly.
const timeLayout = "2006-01-02 15:04:05.000000"

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("crawl run not found")

// CrawlDB provides SQLite-based storage for crawl runs, pages and failures.
type CrawlDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures CrawlDB behavior.
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

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
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

	// mode=rw refuses to create a missing file, mode=rwc creates it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (cdb *CrawlDB) createTables() error {
	schema := `
	-- One row per crawl invocation
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		seeds TEXT NOT NULL,
		reason TEXT,
		total_fetched INTEGER DEFAULT 0,
		total_failed INTEGER DEFAULT 0,
		total_disallowed INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	-- Successfully fetched pages
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		url TEXT NOT NULL,
		final_url TEXT,
		depth INTEGER NOT NULL,
		status_code INTEGER,
		content_type TEXT,
		byte_size INTEGER,
		content_hash TEXT,
		elapsed_ms INTEGER,
		attempts INTEGER,
		source TEXT,
		fetched_at TEXT NOT NULL,
		UNIQUE(run_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_url ON pages(url);
	CREATE INDEX IF NOT EXISTS idx_pages_fetched ON pages(fetched_at);

	-- URLs that could not be fetched
	CREATE TABLE IF NOT EXISTS failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		url TEXT NOT NULL,
		depth INTEGER,
		reason TEXT,
		status_code INTEGER,
		attempts INTEGER,
		kind TEXT,
		failed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(run_id);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// Run is a stored crawl invocation.
type Run struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Seeds           []string
	Reason          string
	TotalFetched    int
	TotalFailed     int
	TotalDisallowed int
}

// StartRun records the start of a crawl.
func (cdb *CrawlDB) StartRun(ctx context.Context, run *Run) error {
	seedsJSON, err := json.Marshal(run.Seeds)
	if err != nil {
		return fmt.Errorf("failed to serialize seeds: %w", err)
	}

	_, err = cdb.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, seeds) VALUES (?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), string(seedsJSON))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final summary of a run.
func (cdb *CrawlDB) FinishRun(ctx context.Context, run *Run) error {
	result, err := cdb.db.ExecContext(ctx, `
	UPDATE runs
	SET finished_at = ?, reason = ?, total_fetched = ?, total_failed = ?, total_disallowed = ?
	WHERE id = ?`,
		formatTime(run.FinishedAt), run.Reason, run.TotalFetched, run.TotalFailed, run.TotalDisallowed, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (cdb *CrawlDB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := cdb.db.QueryRowContext(ctx, `
	SELECT id, started_at, COALESCE(finished_at, ''), seeds, COALESCE(reason, ''),
		total_fetched, total_failed, total_disallowed
	FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (cdb *CrawlDB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT id, started_at, COALESCE(finished_at, ''), seeds, COALESCE(reason, ''),
		total_fetched, total_failed, total_disallowed
	FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var started, finished, seedsJSON string
	if err := row.Scan(&run.ID, &started, &finished, &seedsJSON, &run.Reason,
		&run.TotalFetched, &run.TotalFailed, &run.TotalDisallowed); err != nil {
		return nil, err
	}
	run.StartedAt = parseTimestamp(started)
	run.FinishedAt = parseTimestamp(finished)
	if err := json.Unmarshal([]byte(seedsJSON), &run.Seeds); err != nil {
		return nil, fmt.Errorf("failed to parse seeds: %w", err)
	}
	return &run, nil
}

// PageRecord is a stored page fetch.
type PageRecord struct {
	ID          int64
	RunID       string
	URL         string
	FinalURL    string
	Depth       int
	StatusCode  int
	ContentType string
	ByteSize    int
	ContentHash string
	Elapsed     time.Duration
	Attempts    int
	Source      string
	FetchedAt   time.Time
}

// InsertPage inserts or updates a page record. A URL is stored once per run.
func (cdb *CrawlDB) InsertPage(ctx context.Context, p *PageRecord) (int64, error) {
	query := `
	INSERT INTO pages (run_id, url, final_url, depth, status_code, content_type, byte_size,
		content_hash, elapsed_ms, attempts, source, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, url) DO UPDATE SET
		final_url = excluded.final_url,
		status_code = excluded.status_code,
		content_type = excluded.content_type,
		byte_size = excluded.byte_size,
		content_hash = excluded.content_hash,
		elapsed_ms = excluded.elapsed_ms,
		attempts = excluded.attempts,
		fetched_at = excluded.fetched_at
	`

	result, err := cdb.db.ExecContext(ctx, query,
		p.RunID, p.URL, p.FinalURL, p.Depth, p.StatusCode, p.ContentType, p.ByteSize,
		p.ContentHash, p.Elapsed.Milliseconds(), p.Attempts, p.Source, formatTime(p.FetchedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert page: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get page id: %w", err)
	}
	return id, nil
}

// GetPage retrieves the page record of url in a run.
// It returns nil without error when the page is not stored.
func (cdb *CrawlDB) GetPage(ctx context.Context, runID, url string) (*PageRecord, error) {
	query := `
	SELECT id, run_id, url, COALESCE(final_url, ''), depth, status_code, COALESCE(content_type, ''),
		byte_size, COALESCE(content_hash, ''), elapsed_ms, attempts, COALESCE(source, ''), fetched_at
	FROM pages
	WHERE run_id = ? AND url = ?
	`

	var p PageRecord
	var elapsedMS int64
	var fetchedAt string
	err := cdb.db.QueryRowContext(ctx, query, runID, url).Scan(
		&p.ID, &p.RunID, &p.URL, &p.FinalURL, &p.Depth, &p.StatusCode, &p.ContentType,
		&p.ByteSize, &p.ContentHash, &elapsedMS, &p.Attempts, &p.Source, &fetchedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	p.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	p.FetchedAt = parseTimestamp(fetchedAt)
	return &p, nil
}

// ListPages returns the pages of a run in fetch order.
func (cdb *CrawlDB) ListPages(ctx context.Context, runID string) ([]PageRecord, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT id, run_id, url, COALESCE(final_url, ''), depth, status_code, COALESCE(content_type, ''),
		byte_size, COALESCE(content_hash, ''), elapsed_ms, attempts, COALESCE(source, ''), fetched_at
	FROM pages WHERE run_id = ? ORDER BY fetched_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []PageRecord
	for rows.Next() {
		var p PageRecord
		var elapsedMS int64
		var fetchedAt string
		if err := rows.Scan(&p.ID, &p.RunID, &p.URL, &p.FinalURL, &p.Depth, &p.StatusCode, &p.ContentType,
			&p.ByteSize, &p.ContentHash, &elapsedMS, &p.Attempts, &p.Source, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		p.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		p.FetchedAt = parseTimestamp(fetchedAt)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// CountPages returns the number of pages stored for a run.
func (cdb *CrawlDB) CountPages(ctx context.Context, runID string) (int, error) {
	var n int
	if err := cdb.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pages WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

// LastFetched returns the latest fetch time of url across all runs.
// The boolean is false when the URL was never fetched.
func (cdb *CrawlDB) LastFetched(ctx context.Context, url string) (time.Time, bool, error) {
	var latest sql.NullString
	err := cdb.db.QueryRowContext(ctx, `SELECT MAX(fetched_at) FROM pages WHERE url = ?`, url).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last fetch time: %w", err)
	}
	if !latest.Valid || latest.String == "" {
		return time.Time{}, false, nil
	}
	return parseTimestamp(latest.String), true, nil
}

// HasRecentCrawl checks if a URL was fetched within the specified duration.
func (cdb *CrawlDB) HasRecentCrawl(ctx context.Context, url string, duration time.Duration) (bool, error) {
	cutoff := formatTime(time.Now().Add(-duration))

	var count int
	err := cdb.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pages WHERE url = ? AND fetched_at > ?`, url, cutoff).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check recent crawl: %w", err)
	}
	return count > 0, nil
}

// FailureRecord is a stored fetch failure.
type FailureRecord struct {
	ID         int64
	RunID      string
	URL        string
	Depth      int
	Reason     string
	StatusCode int
	Attempts   int
	Kind       string
	FailedAt   time.Time
}

// InsertFailure stores a failed URL.
func (cdb *CrawlDB) InsertFailure(ctx context.Context, f *FailureRecord) error {
	_, err := cdb.db.ExecContext(ctx, `
	INSERT INTO failures (run_id, url, depth, reason, status_code, attempts, kind, failed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.RunID, f.URL, f.Depth, f.Reason, f.StatusCode, f.Attempts, f.Kind, formatTime(f.FailedAt))
	if err != nil {
		return fmt.Errorf("failed to insert failure: %w", err)
	}
	return nil
}

// ListFailures returns the failures of a run in insertion order.
func (cdb *CrawlDB) ListFailures(ctx context.Context, runID string) ([]FailureRecord, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT id, run_id, url, depth, COALESCE(reason, ''), status_code, attempts, COALESCE(kind, ''), failed_at
	FROM failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var failures []FailureRecord
	for rows.Next() {
		var f FailureRecord
		var failedAt string
		if err := rows.Scan(&f.ID, &f.RunID, &f.URL, &f.Depth, &f.Reason, &f.StatusCode,
			&f.Attempts, &f.Kind, &failedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.FailedAt = parseTimestamp(failedAt)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timeLayout,
	"2006-01-02 15:04:05",  // SQLite default datetime format
	"2006-01-02T15:04:05Z", // ISO 8601 with Z suffix
	time.RFC3339Nano,
}

// parseTimestamp parses a stored time. It returns the zero time when no
// format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
