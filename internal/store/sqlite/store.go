// Package sqlite implements store.Store on SQLite via modernc.org/sqlite.
//
// Key design points:
//   - SQLite has no native TIMESTAMPTZ type; timestamps are stored as
//     RFC3339Nano TEXT for reliable round-trip behavior and easy debugging.
//   - The record array is stored as one JSON TEXT column; record_count is
//     written in the same statement so the count/length invariant cannot be
//     observed broken.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"datarest/internal/store"
	"datarest/pkg/records"
)

type Store struct {
	db *sql.DB
}

func init() {
	store.Register("sqlite", New)
}

// New opens (and if needed initializes) a SQLite-backed dataset store.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) ensureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  data TEXT NOT NULL,
  record_count INTEGER NOT NULL,
  file_type TEXT NOT NULL DEFAULT '',
  file_size INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_datasets_user ON datasets (user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_datasets_user_name ON datasets (user_id, name);`,
		`CREATE TABLE IF NOT EXISTS file_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL,
  file_name TEXT NOT NULL,
  action TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: ensure tables: %w", err)
		}
	}
	return nil
}

const datasetColumns = `id, user_id, name, description, data, record_count, file_type, file_size, created_at, updated_at`

func (s *Store) Insert(ctx context.Context, d *store.Dataset) error {
	now := time.Now().UTC()
	d.ID = uuid.NewString()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.RecordCount = len(d.Data)

	payload, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("sqlite: encode data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO datasets (`+datasetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.Name, d.Description, string(payload), d.RecordCount,
		d.FileType, d.FileSize, formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert dataset: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, userID, id string) (*store.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE user_id = ? AND id = ?`,
		userID, id,
	)
	return scanDataset(row)
}

// GetByName resolves a dataset by its human-readable name.
// When duplicate names exist, the most recently created dataset wins.
func (s *Store) GetByName(ctx context.Context, userID, name string) (*store.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE user_id = ? AND name = ? ORDER BY created_at DESC LIMIT 1`,
		userID, name,
	)
	return scanDataset(row)
}

func (s *Store) List(ctx context.Context, userID string) ([]store.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, record_count, file_type, file_size, created_at, updated_at
		 FROM datasets WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list datasets: %w", err)
	}
	defer rows.Close()

	out := []store.Summary{}
	for rows.Next() {
		var (
			sum                 store.Summary
			createdRaw, updated string
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Description, &sum.RecordCount,
			&sum.FileType, &sum.FileSize, &createdRaw, &updated); err != nil {
			return nil, err
		}
		if sum.CreatedAt, err = parseTime(createdRaw); err != nil {
			return nil, err
		}
		if sum.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) UpdateData(ctx context.Context, userID, id string, data []records.Record) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sqlite: encode data: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET data = ?, record_count = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		string(payload), len(data), formatTime(time.Now().UTC()), userID, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update dataset data: %w", err)
	}
	return requireRow(res)
}

func (s *Store) UpdateMeta(ctx context.Context, userID, id, name, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET name = ?, description = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		name, description, formatTime(time.Now().UTC()), userID, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update dataset meta: %w", err)
	}
	return requireRow(res)
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM datasets WHERE user_id = ? AND id = ?`,
		userID, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: delete dataset: %w", err)
	}
	return requireRow(res)
}

func (s *Store) AppendHistory(ctx context.Context, e store.HistoryEntry) error {
	when := e.CreatedAt
	if when.IsZero() {
		when = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_history (user_id, file_name, action, created_at) VALUES (?, ?, ?, ?)`,
		e.UserID, e.FileName, e.Action, formatTime(when),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append history: %w", err)
	}
	return nil
}

func (s *Store) ListHistory(ctx context.Context, userID string) ([]store.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, file_name, action, created_at FROM file_history
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list history: %w", err)
	}
	defer rows.Close()

	out := []store.HistoryEntry{}
	for rows.Next() {
		var (
			e   store.HistoryEntry
			raw string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.FileName, &e.Action, &raw); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(raw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// scanDataset scans one dataset row, decoding the JSON payload column.
func scanDataset(row *sql.Row) (*store.Dataset, error) {
	var (
		d                   store.Dataset
		payload             string
		createdRaw, updated string
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Description, &payload, &d.RecordCount,
		&d.FileType, &d.FileSize, &createdRaw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan dataset: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &d.Data); err != nil {
		return nil, fmt.Errorf("sqlite: decode data for dataset %s: %w", d.ID, err)
	}
	if d.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &d, nil
}

// requireRow translates "zero rows affected" into ErrDatasetNotFound so that
// mutations against missing or foreign rows are indistinguishable from reads.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrDatasetNotFound
	}
	return nil
}

// formatTime formats a time as RFC3339Nano in UTC.
// Timestamps are stored as TEXT for reliable scanning with modernc.org/sqlite.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses timestamps returned by SQLite into time.Time.
//
// Supported formats:
//   - RFC3339Nano (what we write)
//   - RFC3339
//   - "2006-01-02 15:04:05" (interpreted as UTC)
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
