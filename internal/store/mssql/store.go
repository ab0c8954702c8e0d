// Package mssql implements store.Store on Microsoft SQL Server.
//
// The record array is stored as NVARCHAR(MAX) JSON text; record_count is
// written in the same statement as data so the count/length invariant holds
// row-locally. Timestamps use DATETIMEOFFSET.
package mssql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/microsoft/go-mssqldb"

	"datarest/internal/store"
	"datarest/pkg/records"
)

type Store struct {
	db *sql.DB
}

func init() {
	store.Register("mssql", New)
}

// New opens a SQL Server-backed dataset store and ensures its tables exist.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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
		`IF OBJECT_ID('dbo.datasets', 'U') IS NULL
CREATE TABLE dbo.datasets (
  id NVARCHAR(36) NOT NULL PRIMARY KEY,
  user_id NVARCHAR(255) NOT NULL,
  name NVARCHAR(255) NOT NULL,
  description NVARCHAR(MAX) NOT NULL DEFAULT '',
  data NVARCHAR(MAX) NOT NULL,
  record_count INT NOT NULL,
  file_type NVARCHAR(32) NOT NULL DEFAULT '',
  file_size BIGINT NOT NULL DEFAULT 0,
  created_at DATETIMEOFFSET NOT NULL,
  updated_at DATETIMEOFFSET NOT NULL
);`,
		`IF OBJECT_ID('dbo.file_history', 'U') IS NULL
CREATE TABLE dbo.file_history (
  id BIGINT IDENTITY(1,1) PRIMARY KEY,
  user_id NVARCHAR(255) NOT NULL,
  file_name NVARCHAR(255) NOT NULL,
  action NVARCHAR(16) NOT NULL,
  created_at DATETIMEOFFSET NOT NULL
);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: ensure tables: %w", err)
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
		return fmt.Errorf("mssql: encode data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dbo.datasets (`+datasetColumns+`)
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, @p10)`,
		d.ID, d.UserID, d.Name, d.Description, string(payload), d.RecordCount,
		d.FileType, d.FileSize, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("mssql: insert dataset: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, userID, id string) (*store.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+datasetColumns+` FROM dbo.datasets WHERE user_id = @p1 AND id = @p2`,
		userID, id,
	)
	return scanDataset(row)
}

// GetByName resolves a dataset by name; on duplicates the most recently
// created dataset wins.
func (s *Store) GetByName(ctx context.Context, userID, name string) (*store.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT TOP 1 `+datasetColumns+` FROM dbo.datasets
		 WHERE user_id = @p1 AND name = @p2 ORDER BY created_at DESC`,
		userID, name,
	)
	return scanDataset(row)
}

func (s *Store) List(ctx context.Context, userID string) ([]store.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, record_count, file_type, file_size, created_at, updated_at
		 FROM dbo.datasets WHERE user_id = @p1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("mssql: list datasets: %w", err)
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
		return fmt.Errorf("mssql: encode data: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE dbo.datasets SET data = @p1, record_count = @p2, updated_at = @p3
		 WHERE user_id = @p4 AND id = @p5`,
		string(payload), len(data), time.Now().UTC(), userID, id,
	)
	if err != nil {
		return fmt.Errorf("mssql: update dataset data: %w", err)
	}
	return requireRow(res)
}

func (s *Store) UpdateMeta(ctx context.Context, userID, id, name, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dbo.datasets SET name = @p1, description = @p2, updated_at = @p3
		 WHERE user_id = @p4 AND id = @p5`,
		name, description, time.Now().UTC(), userID, id,
	)
	if err != nil {
		return fmt.Errorf("mssql: update dataset meta: %w", err)
	}
	return requireRow(res)
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dbo.datasets WHERE user_id = @p1 AND id = @p2`,
		userID, id,
	)
	if err != nil {
		return fmt.Errorf("mssql: delete dataset: %w", err)
	}
	return requireRow(res)
}

func (s *Store) AppendHistory(ctx context.Context, e store.HistoryEntry) error {
	when := e.CreatedAt
	if when.IsZero() {
		when = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dbo.file_history (user_id, file_name, action, created_at)
		 VALUES (@p1, @p2, @p3, @p4)`,
		e.UserID, e.FileName, e.Action, when,
	)
	if err != nil {
		return fmt.Errorf("mssql: append history: %w", err)
	}
	return nil
}

func (s *Store) ListHistory(ctx context.Context, userID string) ([]store.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, file_name, action, created_at FROM dbo.file_history
		 WHERE user_id = @p1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("mssql: list history: %w", err)
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

func scanDataset(row *sql.Row) (*store.Dataset, error) {
	var (
		d       store.Dataset
		payload string
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Description, &payload, &d.RecordCount,
		&d.FileType, &d.FileSize, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mssql: scan dataset: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &d.Data); err != nil {
		return nil, fmt.Errorf("mssql: decode data for dataset %s: %w", d.ID, err)
	}
	return &d, nil
}

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
