// Package ledger keeps a local sqlite record of every folder ingestion.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
)

// OutcomeFailed marks an ingestion that ended with an error
const OutcomeFailed = "failed"

// Entry is one processed folder
type Entry struct {
	ID         string
	Path       string
	Layout     string
	VendorID   string
	Status     domain.SequencingStatus
	Outcome    string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed reports whether the ingestion ended with an error
func (e *Entry) Failed() bool {
	return e.Outcome == OutcomeFailed
}

// Duration is the wall time spent on the folder
func (e *Entry) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Store provides SQLite-backed ingestion history
type Store struct {
	db *sql.DB
}

// New opens the ledger at dbPath, creating the schema if needed
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores e, assigning an ID when it has none
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var finished any
	if !e.FinishedAt.IsZero() {
		finished = e.FinishedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestions (id, path, layout, vendor_id, status, outcome, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			layout = excluded.layout,
			vendor_id = excluded.vendor_id,
			status = excluded.status,
			outcome = excluded.outcome,
			error = excluded.error,
			finished_at = excluded.finished_at
	`,
		e.ID,
		e.Path,
		e.Layout,
		e.VendorID,
		string(e.Status),
		e.Outcome,
		e.Error,
		e.StartedAt.UTC(),
		finished,
	)
	if err != nil {
		return fmt.Errorf("recording ingestion of %s: %w", e.Path, err)
	}
	return nil
}

// Get retrieves an entry by ID
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM ingestions WHERE id = ?`, id)
	return scanEntry(row)
}

// ListOptions specifies filters for listing entries
type ListOptions struct {
	Path       string
	FailedOnly bool
	Limit      int
}

// List returns entries matching opts, newest first
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	query := `SELECT ` + columns + ` FROM ingestions WHERE 1=1`
	var args []any

	if opts.Path != "" {
		query += " AND path = ?"
		args = append(args, opts.Path)
	}
	if opts.FailedOnly {
		query += " AND outcome = ?"
		args = append(args, OutcomeFailed)
	}

	query += " ORDER BY started_at DESC, rowid DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const columns = `id, path, layout, vendor_id, status, outcome, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var layout, vendorID, status, errMsg sql.NullString
	var finished sql.NullTime

	err := row.Scan(&e.ID, &e.Path, &layout, &vendorID, &status, &e.Outcome, &errMsg, &e.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	e.Layout = layout.String
	e.VendorID = vendorID.String
	e.Status = domain.SequencingStatus(status.String)
	e.Error = errMsg.String
	if finished.Valid {
		e.FinishedAt = finished.Time
	}
	return &e, nil
}
