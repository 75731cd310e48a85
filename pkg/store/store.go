// Package store records collection runs in SQLite so successive runs can be
// compared and the set of known entry identifiers grows over time.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Store manages the run database.
type Store struct {
	db *sql.DB
}

// RunInfo describes one collection run.
type RunInfo struct {
	ID          int64     `json:"id" yaml:"id"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time `json:"finished_at" yaml:"finished_at"`
	Policy      string    `json:"policy" yaml:"policy"`
	ServerTotal int       `json:"server_total" yaml:"server_total"`
	Count       int       `json:"count" yaml:"count"`

	// NewEntries counts identifiers not seen in any earlier run.
	NewEntries int `json:"new_entries" yaml:"new_entries"`
}

// Open opens or creates the database at path and creates the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			policy TEXT NOT NULL,
			total INTEGER NOT NULL,
			count INTEGER NOT NULL,
			new_entries INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			entry_id TEXT NOT NULL,
			PRIMARY KEY (run_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_entry_id ON entries(entry_id)`,
		`CREATE TABLE IF NOT EXISTS entry_ids (
			entry_id TEXT PRIMARY KEY,
			first_run INTEGER NOT NULL REFERENCES runs(id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// SaveRun stores a run and its ordered identifiers in one transaction.
// Identifiers not present in entry_ids are added there and counted as new.
func (s *Store) SaveRun(ctx context.Context, info RunInfo, ids []string) (RunInfo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return info, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (started_at, finished_at, policy, total, count) VALUES (?, ?, ?, ?, ?)`,
		info.StartedAt.UTC().Format(time.RFC3339Nano),
		info.FinishedAt.UTC().Format(time.RFC3339Nano),
		info.Policy, info.ServerTotal, len(ids),
	)
	if err != nil {
		return info, fmt.Errorf("inserting run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return info, fmt.Errorf("reading run id: %w", err)
	}

	entryStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (run_id, position, entry_id) VALUES (?, ?, ?)`)
	if err != nil {
		return info, fmt.Errorf("preparing entry insert: %w", err)
	}
	defer entryStmt.Close()

	knownStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO entry_ids (entry_id, first_run) VALUES (?, ?)`)
	if err != nil {
		return info, fmt.Errorf("preparing entry id insert: %w", err)
	}
	defer knownStmt.Close()

	newEntries := 0
	for pos, id := range ids {
		if _, err := entryStmt.ExecContext(ctx, runID, pos, id); err != nil {
			return info, fmt.Errorf("inserting entry %s: %w", id, err)
		}
		r, err := knownStmt.ExecContext(ctx, id, runID)
		if err != nil {
			return info, fmt.Errorf("inserting entry id %s: %w", id, err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			newEntries++
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET new_entries = ? WHERE id = ?`, newEntries, runID); err != nil {
		return info, fmt.Errorf("updating run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return info, fmt.Errorf("committing run: %w", err)
	}

	info.ID = runID
	info.Count = len(ids)
	info.NewEntries = newEntries
	return info, nil
}

// Run returns one run's metadata.
func (s *Store) Run(ctx context.Context, runID int64) (RunInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, policy, total, count, new_entries FROM runs WHERE id = ?`, runID)
	info, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	return info, err
}

// Identifiers returns a run's identifiers in collection order.
func (s *Store) Identifiers(ctx context.Context, runID int64) ([]string, error) {
	if _, err := s.Run(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id FROM entries WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LatestRuns returns up to n runs, newest first.
func (s *Store) LatestRuns(ctx context.Context, n int) ([]RunInfo, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, policy, total, count, new_entries
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []RunInfo{}
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// KnownCount returns how many distinct identifiers have ever been stored.
func (s *Store) KnownCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM entry_ids`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entry ids: %w", err)
	}
	return n, nil
}

// Diff returns identifiers present in newRun but not oldRun (added) and
// those present in oldRun but not newRun (removed), each in collection order.
func (s *Store) Diff(ctx context.Context, oldRun, newRun int64) (added, removed []string, err error) {
	oldIDs, err := s.Identifiers(ctx, oldRun)
	if err != nil {
		return nil, nil, err
	}
	newIDs, err := s.Identifiers(ctx, newRun)
	if err != nil {
		return nil, nil, err
	}
	added, removed = DiffIdentifiers(oldIDs, newIDs)
	return added, removed, nil
}

// DiffIdentifiers compares two identifier sequences as sets.
func DiffIdentifiers(oldIDs, newIDs []string) (added, removed []string) {
	oldSet := make(map[string]struct{}, len(oldIDs))
	for _, id := range oldIDs {
		oldSet[id] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newIDs))
	for _, id := range newIDs {
		newSet[id] = struct{}{}
	}

	added = []string{}
	for _, id := range newIDs {
		if _, ok := oldSet[id]; !ok {
			added = append(added, id)
			oldSet[id] = struct{}{}
		}
	}
	removed = []string{}
	for _, id := range oldIDs {
		if _, ok := newSet[id]; !ok {
			removed = append(removed, id)
			newSet[id] = struct{}{}
		}
	}
	return added, removed
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunInfo, error) {
	var (
		info              RunInfo
		started, finished string
	)
	if err := row.Scan(&info.ID, &started, &finished, &info.Policy, &info.ServerTotal, &info.Count, &info.NewEntries); err != nil {
		return RunInfo{}, err
	}
	info.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	info.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	return info, nil
}
