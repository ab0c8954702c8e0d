package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"datarest/internal/identity"
	"datarest/internal/store"
	"datarest/pkg/records"
)

const (
	defaultPage  = 1
	defaultLimit = 50
)

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// handleRest resolves /rest-api/{dataset_name}/{record_index?}.
//
// Records have no identity of their own: a record is addressed by its current
// position in the dataset's array. Deleting a record shifts every later index
// down by one; callers re-fetch after mutations.
//
// Dispatch is exhaustive: any method/path combination outside the table below
// is a 405, never a silent fallback.
func (s *Server) handleRest(w http.ResponseWriter, r *http.Request, user identity.User, segs []string) {
	ctx := r.Context()

	if len(segs) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.listEndpoints(w, r, user)
		return
	}

	name := segs[0]
	ds, err := s.store.GetByName(ctx, user.ID, name)
	if err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}

	hasIndex := len(segs) >= 2
	var index int
	if hasIndex {
		index, err = strconv.Atoi(segs[1])
		if err != nil || index < 0 || index >= len(ds.Data) {
			// Non-numeric and out-of-range indices are indistinguishable.
			writeError(w, http.StatusNotFound, "Record not found")
			return
		}
	}

	switch {
	case r.Method == http.MethodGet && hasIndex:
		writeJSON(w, http.StatusOK, map[string]any{
			"record":  ds.Data[index],
			"index":   index,
			"dataset": name,
		})

	case r.Method == http.MethodGet:
		s.listRecords(w, r, ds, name)

	case r.Method == http.MethodPost && !hasIndex:
		s.appendRecord(w, r, user, ds, name)

	case r.Method == http.MethodPut && hasIndex:
		s.replaceRecord(w, r, user, ds, name, index)

	case r.Method == http.MethodDelete && hasIndex:
		s.removeRecord(w, r, user, ds, name, index)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// listEndpoints advertises every dataset as a REST endpoint.
func (s *Server) listEndpoints(w http.ResponseWriter, r *http.Request, user identity.User) {
	sums, err := s.store.List(r.Context(), user.ID)
	if err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}

	type endpoint struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		CreatedAt   string `json:"created_at"`
		RecordCount int    `json:"record_count"`
		Endpoint    string `json:"endpoint"`
	}

	out := make([]endpoint, 0, len(sums))
	for _, d := range sums {
		out = append(out, endpoint{
			ID:          d.ID,
			Name:        d.Name,
			Description: d.Description,
			CreatedAt:   d.CreatedAt.Format(timeLayout),
			RecordCount: d.RecordCount,
			Endpoint:    "/rest-api/" + d.Name,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Available datasets",
		"datasets": out,
	})
}

// listRecords returns one page of the dataset's records.
//
// Pagination never errors: out-of-range pages return an empty data slice with
// truthful totals, and invalid page/limit values fall back to defaults.
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request, ds *store.Dataset, name string) {
	page := queryInt(r, "page", defaultPage)
	limit := queryInt(r, "limit", defaultLimit)
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}

	total := len(ds.Data)

	// Overflow-safe paging: p <= total/limit guarantees p*limit <= total, so
	// the multiplication cannot overflow and the slice bounds stay valid. Any
	// page beyond the data is an empty slice with truthful totals.
	offset := total
	if p := page - 1; p <= total/limit {
		offset = p * limit
	}
	end := total
	if limit < total-offset {
		end = offset + limit
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": ds.Data[offset:end],
		"pagination": pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: int(math.Ceil(float64(total) / float64(limit))),
		},
		"dataset": name,
	})
}

func (s *Server) appendRecord(w http.ResponseWriter, r *http.Request, user identity.User, ds *store.Dataset, name string) {
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	updated := append(append([]records.Record{}, ds.Data...), rec)
	if err := s.store.UpdateData(r.Context(), user.ID, ds.ID, updated); err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Record added successfully",
		"record":  rec,
		"index":   len(updated) - 1,
		"dataset": name,
	})
}

func (s *Server) replaceRecord(w http.ResponseWriter, r *http.Request, user identity.User, ds *store.Dataset, name string, index int) {
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	updated := append([]records.Record{}, ds.Data...)
	updated[index] = rec
	if err := s.store.UpdateData(r.Context(), user.ID, ds.ID, updated); err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Record updated successfully",
		"record":  rec,
		"index":   index,
		"dataset": name,
	})
}

func (s *Server) removeRecord(w http.ResponseWriter, r *http.Request, user identity.User, ds *store.Dataset, name string, index int) {
	deleted := ds.Data[index]
	updated := append([]records.Record{}, ds.Data[:index]...)
	updated = append(updated, ds.Data[index+1:]...)

	if err := s.store.UpdateData(r.Context(), user.ID, ds.ID, updated); err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "Record deleted successfully",
		"deleted_record": deleted,
		"index":          index,
		"dataset":        name,
	})
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (records.Record, bool) {
	var rec records.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Invalid JSON body")
		return nil, false
	}
	return rec, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
