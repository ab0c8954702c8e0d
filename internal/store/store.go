// Package store defines the dataset persistence contract and a backend
// registry.
//
// A dataset is persisted as ONE row: metadata columns plus a single opaque
// JSON-array column holding the entire record collection. Every mutation of
// the collection is a whole-array read-modify-write; the row is the unit of
// consistency.
//
// IMPORTANT: No cross-request locking is provided. Two concurrent writers can
// both read the same "before" array and each write back an array missing the
// other's change (a lost update). This is an accepted property of the
// whole-array persistence model; backends must not add locking that changes
// observable behavior.
package store

import (
	"context"
	"errors"
	"time"

	"datarest/pkg/records"
)

// ErrDatasetNotFound is returned when a dataset does not exist for the given
// owner. Rows owned by someone else surface the same error: callers cannot
// distinguish "not yours" from "doesn't exist".
var ErrDatasetNotFound = errors.New("store: dataset not found")

// Dataset is the central entity: one uploaded file's contents plus metadata,
// scoped to one owner.
//
// Invariants:
//   - RecordCount always equals len(Data) after any successful write.
//   - UserID is immutable once set; no operation may reassign it.
type Dataset struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Data        []records.Record `json:"data"`
	RecordCount int              `json:"record_count"`
	FileType    string           `json:"file_type,omitempty"`
	FileSize    int64            `json:"file_size,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Summary is a dataset without its record payload, for listings.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	RecordCount int       `json:"record_count"`
	FileType    string    `json:"file_type,omitempty"`
	FileSize    int64     `json:"file_size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// History actions.
const (
	ActionUpload   = "upload"
	ActionDownload = "download"
)

// HistoryEntry is an append-only audit record of file activity. Display only;
// no invariants beyond insertion order by timestamp.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"-"`
	FileName  string    `json:"file_name"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the boundary to the persistent dataset store.
//
// All lookups are owner-scoped: a missing row and a row owned by another
// identity both return ErrDatasetNotFound. Every method honors ctx
// cancellation; no method retries on failure.
type Store interface {
	// Insert persists a new dataset. It assigns ID, CreatedAt and UpdatedAt,
	// and writes RecordCount = len(Data) in the same statement as Data.
	Insert(ctx context.Context, d *Dataset) error

	// GetByID returns the dataset with the given id owned by userID.
	GetByID(ctx context.Context, userID, id string) (*Dataset, error)

	// GetByName returns the dataset with the given name owned by userID.
	// Name uniqueness is not enforced at write time; when duplicates exist,
	// the most recently created dataset wins.
	GetByName(ctx context.Context, userID, name string) (*Dataset, error)

	// List returns all of userID's datasets, newest first, without payloads.
	List(ctx context.Context, userID string) ([]Summary, error)

	// UpdateData replaces the dataset's whole record array, updating
	// RecordCount and UpdatedAt in the same statement.
	UpdateData(ctx context.Context, userID, id string, data []records.Record) error

	// UpdateMeta updates name and description. UserID is never touched.
	UpdateMeta(ctx context.Context, userID, id, name, description string) error

	// Delete permanently removes the dataset. No soft-delete, no versioning.
	Delete(ctx context.Context, userID, id string) error

	// AppendHistory records one file action for display.
	AppendHistory(ctx context.Context, e HistoryEntry) error

	// ListHistory returns userID's file history, newest first.
	ListHistory(ctx context.Context, userID string) ([]HistoryEntry, error)

	// Close releases backend resources. Call once at process shutdown.
	Close()
}
