package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/docgraph/internal/runlog/migrations"
)

// ErrRunNotFound is returned by Ledger.Get for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// timeLayout has fixed width so started_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one row of the ledger.
type Entry struct {
	RunID      string        `json:"run_id"`
	Corpus     string        `json:"corpus"`
	Collection string        `json:"collection"`
	Source     string        `json:"source"`
	Status     string        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Processed  int           `json:"processed"`
	Skipped    int           `json:"skipped"`
	Errors     int           `json:"errors"`
	Edges      int           `json:"edges"`
	Revision   string        `json:"revision,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Ledger is the SQLite history of runs.
type Ledger struct {
	db   *sql.DB
	path string
}

// OpenLedger opens or creates the ledger database at path and applies
// pending migrations.
func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// One writer per process keeps WAL checkpoints simple.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, path: path}
	if err := l.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return l, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string { return l.path }

// Close closes the database connection.
func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) migrate(fsys fs.FS) error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := l.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := l.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (l *Ledger) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := l.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

// Record inserts s, replacing a previous record with the same run id.
func (l *Ledger) Record(ctx context.Context, s *Summary) error {
	if s.RunID == "" {
		return errors.New("summary has no run id")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	revision := ""
	if s.Revision != nil {
		revision = s.Revision.Commit
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO runs (id, corpus, collection, source, status, started_at, duration_ms,
			processed, skipped, errors, edges, revision, error, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			duration_ms = excluded.duration_ms,
			processed = excluded.processed,
			skipped = excluded.skipped,
			errors = excluded.errors,
			edges = excluded.edges,
			revision = excluded.revision,
			error = excluded.error,
			summary = excluded.summary
	`,
		s.RunID, s.Corpus, s.Collection, s.Source, s.Status,
		s.StartedAt.UTC().Format(timeLayout), int64(s.DurationSeconds*1000),
		s.Processed(), s.Skipped(), s.Errors(), s.Edges(), revision, s.Error, string(data),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", s.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. An empty corpus matches
// every corpus.
func (l *Ledger) Recent(ctx context.Context, corpus string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, corpus, collection, source, status, started_at, duration_ms,
			processed, skipped, errors, edges, revision, error
		FROM runs
		WHERE ? = '' OR corpus = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, corpus, corpus, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			startedAt  string
			durationMS int64
		)
		if err := rows.Scan(&e.RunID, &e.Corpus, &e.Collection, &e.Source, &e.Status, &startedAt, &durationMS,
			&e.Processed, &e.Skipped, &e.Errors, &e.Edges, &e.Revision, &e.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		e.StartedAt, _ = time.Parse(timeLayout, startedAt)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns the full summary of a run.
func (l *Ledger) Get(ctx context.Context, runID string) (*Summary, error) {
	var data string
	err := l.db.QueryRowContext(ctx, "SELECT summary FROM runs WHERE id = ?", runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	var s Summary
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &s, nil
}
