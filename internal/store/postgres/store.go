// Package postgres implements store.Store on Postgres via pgx.
//
// The record array lives in a JSONB column; record_count is written in the
// same statement as data so the count/length invariant holds row-locally.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"datarest/internal/store"
	"datarest/pkg/records"
)

type Store struct {
	pool *pgxpool.Pool
}

func init() {
	store.Register("postgres", New)
}

// New opens a Postgres-backed dataset store and ensures its tables exist.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{pool: pool}
	if err := s.ensureTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) ensureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
  id UUID PRIMARY KEY,
  user_id TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  data JSONB NOT NULL,
  record_count INTEGER NOT NULL,
  file_type TEXT NOT NULL DEFAULT '',
  file_size BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_datasets_user ON datasets (user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_datasets_user_name ON datasets (user_id, name);`,
		`CREATE TABLE IF NOT EXISTS file_history (
  id BIGSERIAL PRIMARY KEY,
  user_id TEXT NOT NULL,
  file_name TEXT NOT NULL,
  action TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: ensure tables: %w", err)
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
		return fmt.Errorf("postgres: encode data: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO datasets (`+datasetColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.UserID, d.Name, d.Description, payload, d.RecordCount,
		d.FileType, d.FileSize, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert dataset: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, userID, id string) (*store.Dataset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE user_id = $1 AND id::text = $2`,
		userID, id,
	)
	return scanDataset(row)
}

// GetByName resolves a dataset by name; on duplicates the most recently
// created dataset wins.
func (s *Store) GetByName(ctx context.Context, userID, name string) (*store.Dataset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+datasetColumns+` FROM datasets
		 WHERE user_id = $1 AND name = $2 ORDER BY created_at DESC LIMIT 1`,
		userID, name,
	)
	return scanDataset(row)
}

func (s *Store) List(ctx context.Context, userID string) ([]store.Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, record_count, file_type, file_size, created_at, updated_at
		 FROM datasets WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list datasets: %w", err)
	}
	defer rows.Close()

	out := []store.Summary{}
	for rows.Next() {
		var sum store.Summary
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Description, &sum.RecordCount,
			&sum.FileType, &sum.FileSize, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) UpdateData(ctx context.Context, userID, id string, data []records.Record) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("postgres: encode data: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE datasets SET data = $1, record_count = $2, updated_at = $3
		 WHERE user_id = $4 AND id::text = $5`,
		payload, len(data), time.Now().UTC(), userID, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: update dataset data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDatasetNotFound
	}
	return nil
}

func (s *Store) UpdateMeta(ctx context.Context, userID, id, name, description string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE datasets SET name = $1, description = $2, updated_at = $3
		 WHERE user_id = $4 AND id::text = $5`,
		name, description, time.Now().UTC(), userID, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: update dataset meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDatasetNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM datasets WHERE user_id = $1 AND id::text = $2`,
		userID, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDatasetNotFound
	}
	return nil
}

func (s *Store) AppendHistory(ctx context.Context, e store.HistoryEntry) error {
	when := e.CreatedAt
	if when.IsZero() {
		when = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO file_history (user_id, file_name, action, created_at) VALUES ($1, $2, $3, $4)`,
		e.UserID, e.FileName, e.Action, when,
	)
	if err != nil {
		return fmt.Errorf("postgres: append history: %w", err)
	}
	return nil
}

func (s *Store) ListHistory(ctx context.Context, userID string) ([]store.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, file_name, action, created_at FROM file_history
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history: %w", err)
	}
	defer rows.Close()

	out := []store.HistoryEntry{}
	for rows.Next() {
		var e store.HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.FileName, &e.Action, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanDataset(row pgx.Row) (*store.Dataset, error) {
	var (
		d       store.Dataset
		payload []byte
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Description, &payload, &d.RecordCount,
		&d.FileType, &d.FileSize, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan dataset: %w", err)
	}

	if err := json.Unmarshal(payload, &d.Data); err != nil {
		return nil, fmt.Errorf("postgres: decode data for dataset %s: %w", d.ID, err)
	}
	return &d, nil
}
