package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"datarest/internal/identity"
	"datarest/internal/store"
	"datarest/pkg/records"
)

// fakeStore is an in-memory store.Store for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	seq      int
	datasets map[string]*store.Dataset
	history  []store.HistoryEntry
	histSeq  int64

	historyErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{datasets: make(map[string]*store.Dataset)}
}

var fakeEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func (f *fakeStore) Insert(_ context.Context, d *store.Dataset) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	d.ID = fmt.Sprintf("ds-%d", f.seq)
	d.CreatedAt = fakeEpoch.Add(time.Duration(f.seq) * time.Second)
	d.UpdatedAt = d.CreatedAt
	d.RecordCount = len(d.Data)

	cp := *d
	cp.Data = append([]records.Record(nil), d.Data...)
	f.datasets[d.ID] = &cp
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, userID, id string) (*store.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.datasets[id]
	if !ok || d.UserID != userID {
		return nil, store.ErrDatasetNotFound
	}
	cp := *d
	cp.Data = append([]records.Record(nil), d.Data...)
	return &cp, nil
}

func (f *fakeStore) GetByName(_ context.Context, userID, name string) (*store.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *store.Dataset
	for _, d := range f.datasets {
		if d.UserID != userID || d.Name != name {
			continue
		}
		if best == nil || d.CreatedAt.After(best.CreatedAt) {
			best = d
		}
	}
	if best == nil {
		return nil, store.ErrDatasetNotFound
	}
	cp := *best
	cp.Data = append([]records.Record(nil), best.Data...)
	return &cp, nil
}

func (f *fakeStore) List(_ context.Context, userID string) ([]store.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []store.Summary
	for _, d := range f.datasets {
		if d.UserID != userID {
			continue
		}
		out = append(out, store.Summary{
			ID:          d.ID,
			Name:        d.Name,
			Description: d.Description,
			RecordCount: d.RecordCount,
			FileType:    d.FileType,
			FileSize:    d.FileSize,
			CreatedAt:   d.CreatedAt,
			UpdatedAt:   d.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) UpdateData(_ context.Context, userID, id string, data []records.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.datasets[id]
	if !ok || d.UserID != userID {
		return store.ErrDatasetNotFound
	}
	d.Data = append([]records.Record(nil), data...)
	d.RecordCount = len(data)
	d.UpdatedAt = d.UpdatedAt.Add(time.Second)
	return nil
}

func (f *fakeStore) UpdateMeta(_ context.Context, userID, id, name, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.datasets[id]
	if !ok || d.UserID != userID {
		return store.ErrDatasetNotFound
	}
	d.Name = name
	d.Description = description
	d.UpdatedAt = d.UpdatedAt.Add(time.Second)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.datasets[id]
	if !ok || d.UserID != userID {
		return store.ErrDatasetNotFound
	}
	delete(f.datasets, id)
	return nil
}

func (f *fakeStore) AppendHistory(_ context.Context, e store.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.historyErr != nil {
		return f.historyErr
	}
	f.histSeq++
	e.ID = f.histSeq
	e.CreatedAt = fakeEpoch.Add(time.Duration(f.histSeq) * time.Minute)
	f.history = append(f.history, e)
	return nil
}

func (f *fakeStore) ListHistory(_ context.Context, userID string) ([]store.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []store.HistoryEntry
	for i := len(f.history) - 1; i >= 0; i-- {
		if f.history[i].UserID == userID {
			out = append(out, f.history[i])
		}
	}
	return out, nil
}

func (f *fakeStore) Close() {}

const (
	tokenAda   = "tok-ada"
	tokenGrace = "tok-grace"
)

func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()

	fs := newFakeStore()
	idp := identity.Static{
		tokenAda:   {ID: "ada", Email: "ada@example.com"},
		tokenGrace: {ID: "grace", Email: "grace@example.com"},
	}
	return New(fs, idp, 0), fs
}

func doRequest(t *testing.T, s *Server, method, target, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func seedDataset(t *testing.T, fs *fakeStore, userID, name string, data []records.Record) *store.Dataset {
	t.Helper()

	d := &store.Dataset{UserID: userID, Name: name, Data: data}
	if err := fs.Insert(context.Background(), d); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return d
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("missing_header", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/rest-api", "", nil, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status=%d, want 401", w.Code)
		}
		if got := decodeBody(t, w)["error"]; got != "Authorization required" {
			t.Fatalf("error=%q, want Authorization required", got)
		}
	})

	t.Run("invalid_token", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/rest-api", "nonsense", nil, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status=%d, want 401", w.Code)
		}
		if got := decodeBody(t, w)["error"]; got != "Invalid authentication" {
			t.Fatalf("error=%q, want Invalid authentication", got)
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)

	// No auth needed for preflight.
	w := doRequest(t, s, http.MethodOptions, "/rest-api/people", "", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("body=%q, want empty", w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Allow-Origin=%q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "DELETE") {
		t.Fatalf("Allow-Methods=%q, want to include DELETE", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/nope", tokenAda, nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != "Invalid endpoint" {
		t.Fatalf("error=%q, want Invalid endpoint", got)
	}
}

func TestRestListEndpoints(t *testing.T) {
	s, fs := newTestServer(t)
	seedDataset(t, fs, "ada", "people", []records.Record{{"name": "Ada"}})
	seedDataset(t, fs, "grace", "ships", []records.Record{{"name": "USS Hopper"}})

	w := doRequest(t, s, http.MethodGet, "/rest-api", tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["message"] != "Available datasets" {
		t.Fatalf("message=%q, want Available datasets", body["message"])
	}
	datasets := body["datasets"].([]any)
	if len(datasets) != 1 {
		t.Fatalf("len=%d, want 1 (only own datasets)", len(datasets))
	}
	first := datasets[0].(map[string]any)
	if first["endpoint"] != "/rest-api/people" {
		t.Fatalf("endpoint=%q, want /rest-api/people", first["endpoint"])
	}
	if first["record_count"] != float64(1) {
		t.Fatalf("record_count=%v, want 1", first["record_count"])
	}
}

func TestRestPagination(t *testing.T) {
	s, fs := newTestServer(t)
	var data []records.Record
	for i := 0; i < 5; i++ {
		data = append(data, records.Record{"n": fmt.Sprintf("%d", i)})
	}
	seedDataset(t, fs, "ada", "nums", data)

	tests := []struct {
		name      string
		query     string
		wantLen   int
		wantPage  float64
		wantPages float64
		wantFirst string
	}{
		{name: "defaults", query: "", wantLen: 5, wantPage: 1, wantPages: 1, wantFirst: "0"},
		{name: "limit_2_page_1", query: "?page=1&limit=2", wantLen: 2, wantPage: 1, wantPages: 3, wantFirst: "0"},
		{name: "limit_2_page_2", query: "?page=2&limit=2", wantLen: 2, wantPage: 2, wantPages: 3, wantFirst: "2"},
		{name: "limit_2_page_3_partial", query: "?page=3&limit=2", wantLen: 1, wantPage: 3, wantPages: 3, wantFirst: "4"},
		{name: "page_out_of_range_empty", query: "?page=9&limit=2", wantLen: 0, wantPage: 9, wantPages: 3},
		{name: "invalid_values_fall_back", query: "?page=zero&limit=-1", wantLen: 5, wantPage: 1, wantPages: 1, wantFirst: "0"},
		{name: "max_int_page_empty", query: "?page=9223372036854775807&limit=50", wantLen: 0, wantPage: float64(math.MaxInt64), wantPages: 1},
		{name: "max_int_limit_page_2_empty", query: "?page=2&limit=9223372036854775807", wantLen: 0, wantPage: 2, wantPages: 1},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, s, http.MethodGet, "/rest-api/nums"+tc.query, tokenAda, nil, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status=%d, want 200", w.Code)
			}
			body := decodeBody(t, w)
			page := body["pagination"].(map[string]any)
			rows := body["data"].([]any)

			if len(rows) != tc.wantLen {
				t.Fatalf("len=%d, want %d", len(rows), tc.wantLen)
			}
			if page["page"] != tc.wantPage || page["pages"] != tc.wantPages {
				t.Fatalf("pagination=%v, want page=%v pages=%v", page, tc.wantPage, tc.wantPages)
			}
			if page["total"] != float64(5) {
				t.Fatalf("total=%v, want 5", page["total"])
			}
			if tc.wantLen > 0 && rows[0].(map[string]any)["n"] != tc.wantFirst {
				t.Fatalf("first row=%v, want n=%s", rows[0], tc.wantFirst)
			}
			if body["dataset"] != "nums" {
				t.Fatalf("dataset=%q, want nums", body["dataset"])
			}
		})
	}
}

func TestRestGetRecord(t *testing.T) {
	s, fs := newTestServer(t)
	seedDataset(t, fs, "ada", "people", []records.Record{
		{"name": "Ada"}, {"name": "Grace"},
	})

	t.Run("found", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/rest-api/people/1", tokenAda, nil, "")
		if w.Code != http.StatusOK {
			t.Fatalf("status=%d, want 200", w.Code)
		}
		body := decodeBody(t, w)
		if body["index"] != float64(1) || body["dataset"] != "people" {
			t.Fatalf("body=%v", body)
		}
		if body["record"].(map[string]any)["name"] != "Grace" {
			t.Fatalf("record=%v, want Grace", body["record"])
		}
	})

	for _, idx := range []string{"2", "-1", "abc"} {
		idx := idx
		t.Run("not_found_"+idx, func(t *testing.T) {
			w := doRequest(t, s, http.MethodGet, "/rest-api/people/"+idx, tokenAda, nil, "")
			if w.Code != http.StatusNotFound {
				t.Fatalf("status=%d, want 404", w.Code)
			}
			if got := decodeBody(t, w)["error"]; got != "Record not found" {
				t.Fatalf("error=%q, want Record not found", got)
			}
		})
	}

	t.Run("unknown_dataset", func(t *testing.T) {
		w := doRequest(t, s, http.MethodGet, "/rest-api/ghosts", tokenAda, nil, "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("status=%d, want 404", w.Code)
		}
		if got := decodeBody(t, w)["error"]; got != "Dataset not found" {
			t.Fatalf("error=%q, want Dataset not found", got)
		}
	})
}

func TestRestAppendRecord(t *testing.T) {
	s, fs := newTestServer(t)
	ds := seedDataset(t, fs, "ada", "people", []records.Record{{"name": "Ada"}})

	body := strings.NewReader(`{"name":"Grace"}`)
	w := doRequest(t, s, http.MethodPost, "/rest-api/people", tokenAda, body, "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d, want 201", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["message"] != "Record added successfully" || resp["index"] != float64(1) {
		t.Fatalf("body=%v", resp)
	}

	stored, _ := fs.GetByID(context.Background(), "ada", ds.ID)
	if stored.RecordCount != 2 || stored.Data[1]["name"] != "Grace" {
		t.Fatalf("stored=%+v, want appended record", stored)
	}
}

func TestRestReplaceRecord(t *testing.T) {
	s, fs := newTestServer(t)
	ds := seedDataset(t, fs, "ada", "people", []records.Record{
		{"name": "Ada"}, {"name": "Grace"},
	})

	body := strings.NewReader(`{"name":"Grace Hopper"}`)
	w := doRequest(t, s, http.MethodPut, "/rest-api/people/1", tokenAda, body, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["message"] != "Record updated successfully" || resp["index"] != float64(1) {
		t.Fatalf("body=%v", resp)
	}

	stored, _ := fs.GetByID(context.Background(), "ada", ds.ID)
	if stored.Data[1]["name"] != "Grace Hopper" || stored.Data[0]["name"] != "Ada" {
		t.Fatalf("stored=%v, want only index 1 replaced", stored.Data)
	}
}

func TestRestDeleteRecordShiftsIndices(t *testing.T) {
	s, fs := newTestServer(t)
	ds := seedDataset(t, fs, "ada", "people", []records.Record{
		{"name": "Ada"}, {"name": "Grace"}, {"name": "Katherine"},
	})

	w := doRequest(t, s, http.MethodDelete, "/rest-api/people/1", tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["message"] != "Record deleted successfully" {
		t.Fatalf("body=%v", resp)
	}
	if resp["deleted_record"].(map[string]any)["name"] != "Grace" {
		t.Fatalf("deleted_record=%v, want Grace", resp["deleted_record"])
	}

	// Katherine shifted from index 2 to index 1.
	stored, _ := fs.GetByID(context.Background(), "ada", ds.ID)
	if stored.RecordCount != 2 || stored.Data[1]["name"] != "Katherine" {
		t.Fatalf("stored=%v, want Katherine at index 1", stored.Data)
	}
}

func TestRestMethodNotAllowed(t *testing.T) {
	s, fs := newTestServer(t)
	seedDataset(t, fs, "ada", "people", []records.Record{{"name": "Ada"}})

	tests := []struct {
		name   string
		method string
		target string
	}{
		{name: "put_without_index", method: http.MethodPut, target: "/rest-api/people"},
		{name: "delete_without_index", method: http.MethodDelete, target: "/rest-api/people"},
		{name: "post_with_index", method: http.MethodPost, target: "/rest-api/people/0"},
		{name: "patch", method: http.MethodPatch, target: "/rest-api/people"},
		{name: "post_to_root", method: http.MethodPost, target: "/rest-api"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, s, tc.method, tc.target, tokenAda, strings.NewReader(`{}`), "application/json")
			if w.Code != http.StatusMethodNotAllowed {
				t.Fatalf("status=%d, want 405", w.Code)
			}
			if got := decodeBody(t, w)["error"]; got != "Method not allowed" {
				t.Fatalf("error=%q, want Method not allowed", got)
			}
		})
	}
}

// TestRestOwnershipIsolation verifies that foreign datasets are
// indistinguishable from missing ones.
func TestRestOwnershipIsolation(t *testing.T) {
	s, fs := newTestServer(t)
	ds := seedDataset(t, fs, "ada", "private", []records.Record{{"k": "v"}})

	targets := []struct {
		method string
		target string
		body   string
	}{
		{method: http.MethodGet, target: "/rest-api/private"},
		{method: http.MethodGet, target: "/rest-api/private/0"},
		{method: http.MethodPost, target: "/rest-api/private", body: `{}`},
		{method: http.MethodDelete, target: "/rest-api/private/0"},
		{method: http.MethodGet, target: "/datasets-api/" + ds.ID},
		{method: http.MethodDelete, target: "/datasets-api/" + ds.ID},
		{method: http.MethodGet, target: "/file-api/info/" + ds.ID},
		{method: http.MethodGet, target: "/file-api/download/" + ds.ID},
	}
	for _, tc := range targets {
		var body io.Reader
		if tc.body != "" {
			body = strings.NewReader(tc.body)
		}
		w := doRequest(t, s, tc.method, tc.target, tokenGrace, body, "application/json")
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: status=%d, want 404", tc.method, tc.target, w.Code)
		}
	}

	// Still intact for the owner.
	if got, err := fs.GetByID(context.Background(), "ada", ds.ID); err != nil || got.RecordCount != 1 {
		t.Fatalf("owner dataset changed: %+v err=%v", got, err)
	}
}

func TestDatasetsCRUD(t *testing.T) {
	s, fs := newTestServer(t)

	// Create.
	body := strings.NewReader(`{"name":"made","description":"by hand","data":[{"a":"1"}]}`)
	w := doRequest(t, s, http.MethodPost, "/datasets-api", tokenAda, body, "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d, want 201: %s", w.Code, w.Body.String())
	}
	created := decodeBody(t, w)
	id := created["id"].(string)
	if created["record_count"] != float64(1) {
		t.Fatalf("record_count=%v, want 1", created["record_count"])
	}

	// List.
	w = doRequest(t, s, http.MethodGet, "/datasets-api", tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d, want 200", w.Code)
	}
	listBody := decodeBody(t, w)
	if listBody["count"] != float64(1) {
		t.Fatalf("count=%v, want 1", listBody["count"])
	}

	// Get by id includes the payload.
	w = doRequest(t, s, http.MethodGet, "/datasets-api/"+id, tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d, want 200", w.Code)
	}
	got := decodeBody(t, w)
	if got["name"] != "made" || len(got["data"].([]any)) != 1 {
		t.Fatalf("get body=%v", got)
	}

	// Update metadata only.
	w = doRequest(t, s, http.MethodPut, "/datasets-api/"+id, tokenAda,
		strings.NewReader(`{"description":"edited"}`), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("put status=%d, want 200: %s", w.Code, w.Body.String())
	}
	updated := decodeBody(t, w)
	if updated["name"] != "made" || updated["description"] != "edited" {
		t.Fatalf("put body=%v, want name kept and description edited", updated)
	}

	stored, _ := fs.GetByID(context.Background(), "ada", id)
	if stored.Description != "edited" || stored.RecordCount != 1 {
		t.Fatalf("stored=%+v", stored)
	}

	// Delete.
	w = doRequest(t, s, http.MethodDelete, "/datasets-api/"+id, tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status=%d, want 200", w.Code)
	}
	if got := decodeBody(t, w)["message"]; got != "Dataset deleted successfully" {
		t.Fatalf("message=%q", got)
	}
	w = doRequest(t, s, http.MethodGet, "/datasets-api/"+id, tokenAda, nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get deleted status=%d, want 404", w.Code)
	}
}

func TestDatasetsCreateValidation(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/datasets-api", tokenAda,
		strings.NewReader(`{"description":"nameless"}`), "application/json")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != "Dataset name required" {
		t.Fatalf("error=%q", got)
	}
}

func TestDatasetSchema(t *testing.T) {
	s, fs := newTestServer(t)
	ds := seedDataset(t, fs, "ada", "customers", []records.Record{
		{"CUST NM#1": "Ada", "AGE": float64(30), "EMAIL": "ada@example.com"},
	})

	w := doRequest(t, s, http.MethodGet, "/datasets-api/"+ds.ID+"/schema", tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["dataset_id"] != ds.ID || body["name"] != "customers" {
		t.Fatalf("body=%v", body)
	}

	fields := body["fields"].([]any)
	byName := map[string]map[string]any{}
	for _, f := range fields {
		m := f.(map[string]any)
		byName[m["source_field"].(string)] = m
	}
	if got := byName["CUST NM#1"]["suggested_name"]; got != "cust_nm_1" {
		t.Fatalf("suggested_name=%q, want cust_nm_1", got)
	}
	if got := byName["AGE"]["inferred_type"]; got != "INTEGER" {
		t.Fatalf("AGE type=%q, want INTEGER", got)
	}
	if got := byName["EMAIL"]["notes"]; got != "email field" {
		t.Fatalf("EMAIL notes=%q, want email field", got)
	}
}

func TestDatasetSchema_EmptyData(t *testing.T) {
	s, fs := newTestServer(t)
	ds := seedDataset(t, fs, "ada", "empty", []records.Record{})

	w := doRequest(t, s, http.MethodGet, "/datasets-api/"+ds.ID+"/schema", tokenAda, nil, "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", w.Code)
	}
}

func multipartUpload(t *testing.T, fields map[string]string, filename, content string) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write file content: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// TestUploadThenServe is the end-to-end path: a CSV upload becomes a REST
// endpoint with paginated string-valued records.
func TestUploadThenServe(t *testing.T) {
	s, fs := newTestServer(t)

	body, ct := multipartUpload(t, nil, "people.csv", "name,age\nAda,30\nGrace,85")
	w := doRequest(t, s, http.MethodPost, "/file-api/upload", tokenAda, body, ct)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status=%d, want 201: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["message"] != "File uploaded successfully" {
		t.Fatalf("message=%q", resp["message"])
	}
	file := resp["file"].(map[string]any)
	if file["name"] != "people" {
		t.Fatalf("name=%q, want people (extension stripped)", file["name"])
	}
	if file["record_count"] != float64(2) {
		t.Fatalf("record_count=%v, want 2", file["record_count"])
	}
	if file["api_url"] != "/rest-api/people" {
		t.Fatalf("api_url=%q", file["api_url"])
	}

	// Stored metadata defaults.
	stored, err := fs.GetByID(context.Background(), "ada", file["id"].(string))
	if err != nil {
		t.Fatalf("stored dataset missing: %v", err)
	}
	if stored.FileType != "csv" {
		t.Fatalf("FileType=%q, want csv", stored.FileType)
	}
	if !strings.HasPrefix(stored.Description, "Uploaded via API (") || !strings.HasSuffix(stored.Description, " KB)") {
		t.Fatalf("Description=%q, want default size note", stored.Description)
	}

	// Serve page 1 of 2.
	w = doRequest(t, s, http.MethodGet, "/rest-api/people?page=1&limit=1", tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("rest status=%d, want 200", w.Code)
	}
	rest := decodeBody(t, w)
	page := rest["pagination"].(map[string]any)
	if page["pages"] != float64(2) || page["total"] != float64(2) {
		t.Fatalf("pagination=%v, want pages=2 total=2", page)
	}
	rows := rest["data"].([]any)
	if len(rows) != 1 {
		t.Fatalf("len=%d, want 1", len(rows))
	}
	// CSV values stay strings; no numeric coercion.
	if rows[0].(map[string]any)["age"] != "30" {
		t.Fatalf("age=%v (%T), want string \"30\"", rows[0].(map[string]any)["age"], rows[0].(map[string]any)["age"])
	}

	// Upload is in the history.
	hist, _ := fs.ListHistory(context.Background(), "ada")
	if len(hist) != 1 || hist[0].Action != store.ActionUpload || hist[0].FileName != "people.csv" {
		t.Fatalf("history=%v, want one upload of people.csv", hist)
	}
}

func TestUpload_ExplicitNameAndDescription(t *testing.T) {
	s, fs := newTestServer(t)

	body, ct := multipartUpload(t, map[string]string{
		"name":        "custom.json",
		"description": "hand picked",
	}, "raw.json", `[{"a":1}]`)
	w := doRequest(t, s, http.MethodPost, "/file-api/upload", tokenAda, body, ct)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d, want 201: %s", w.Code, w.Body.String())
	}
	file := decodeBody(t, w)["file"].(map[string]any)
	if file["name"] != "custom" {
		t.Fatalf("name=%q, want custom (extension stripped from provided name)", file["name"])
	}

	stored, _ := fs.GetByID(context.Background(), "ada", file["id"].(string))
	if stored.Description != "hand picked" {
		t.Fatalf("Description=%q, want hand picked", stored.Description)
	}
}

func TestUpload_Invalid(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("header_only_csv", func(t *testing.T) {
		body, ct := multipartUpload(t, nil, "empty.csv", "name,age\n")
		w := doRequest(t, s, http.MethodPost, "/file-api/upload", tokenAda, body, ct)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d, want 500", w.Code)
		}
		if got := decodeBody(t, w)["error"]; got != "Invalid file format" {
			t.Fatalf("error=%q, want Invalid file format", got)
		}
	})

	t.Run("no_file_field", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("name", "x")
		_ = mw.Close()

		w := doRequest(t, s, http.MethodPost, "/file-api/upload", tokenAda, &buf, mw.FormDataContentType())
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d, want 500", w.Code)
		}
		if got := decodeBody(t, w)["error"]; got != "No file provided" {
			t.Fatalf("error=%q, want No file provided", got)
		}
	})
}

func TestFileListAndInfo(t *testing.T) {
	s, fs := newTestServer(t)
	ds := seedDataset(t, fs, "ada", "people", []records.Record{{"name": "Ada"}})

	w := doRequest(t, s, http.MethodGet, "/file-api/list", tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d, want 200", w.Code)
	}
	files := decodeBody(t, w)["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("len=%d, want 1", len(files))
	}
	f := files[0].(map[string]any)
	if f["download_url"] != "/file-api/download/"+ds.ID || f["api_url"] != "/rest-api/people" {
		t.Fatalf("urls=%v", f)
	}

	w = doRequest(t, s, http.MethodGet, "/file-api/info/"+ds.ID, tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("info status=%d, want 200", w.Code)
	}
	info := decodeBody(t, w)["file"].(map[string]any)
	if info["id"] != ds.ID || info["record_count"] != float64(1) {
		t.Fatalf("info=%v", info)
	}
}

func TestFileDownload(t *testing.T) {
	s, fs := newTestServer(t)
	ds := seedDataset(t, fs, "ada", "people", []records.Record{{"name": "Ada"}})

	w := doRequest(t, s, http.MethodGet, "/file-api/download/"+ds.ID, tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="people.json"` {
		t.Fatalf("Content-Disposition=%q", got)
	}

	var data []records.Record
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("download body not JSON: %v", err)
	}
	if len(data) != 1 || data[0]["name"] != "Ada" {
		t.Fatalf("data=%v", data)
	}
	// Pretty-printed.
	if !strings.Contains(w.Body.String(), "\n") {
		t.Fatalf("download body not indented: %q", w.Body.String())
	}

	hist, _ := fs.ListHistory(context.Background(), "ada")
	if len(hist) != 1 || hist[0].Action != store.ActionDownload {
		t.Fatalf("history=%v, want one download entry", hist)
	}
}

// A failed history write must not block the download itself.
func TestFileDownload_HistoryFailureStillServes(t *testing.T) {
	s, fs := newTestServer(t)
	ds := seedDataset(t, fs, "ada", "people", []records.Record{{"name": "Ada"}})
	fs.historyErr = errors.New("history table unavailable")

	w := doRequest(t, s, http.MethodGet, "/file-api/download/"+ds.ID, tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}

	var data []records.Record
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("download body not JSON: %v", err)
	}
	if len(data) != 1 || data[0]["name"] != "Ada" {
		t.Fatalf("data=%v", data)
	}
}

func TestFileHistoryEndpoint(t *testing.T) {
	s, fs := newTestServer(t)
	_ = fs.AppendHistory(context.Background(), store.HistoryEntry{UserID: "ada", FileName: "a.csv", Action: store.ActionUpload})
	_ = fs.AppendHistory(context.Background(), store.HistoryEntry{UserID: "grace", FileName: "b.csv", Action: store.ActionUpload})

	w := doRequest(t, s, http.MethodGet, "/file-api/history", tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	hist := decodeBody(t, w)["history"].([]any)
	if len(hist) != 1 {
		t.Fatalf("len=%d, want 1 (owner-scoped)", len(hist))
	}
	entry := hist[0].(map[string]any)
	if entry["file_name"] != "a.csv" || entry["action"] != "upload" {
		t.Fatalf("entry=%v", entry)
	}
	if _, leaked := entry["user_id"]; leaked {
		t.Fatalf("history entry leaks user_id: %v", entry)
	}
}

func TestFileDelete(t *testing.T) {
	s, fs := newTestServer(t)
	ds := seedDataset(t, fs, "ada", "people", []records.Record{{"name": "Ada"}})

	w := doRequest(t, s, http.MethodDelete, "/file-api/"+ds.ID, tokenAda, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	if got := decodeBody(t, w)["message"]; got != "File deleted successfully" {
		t.Fatalf("message=%q", got)
	}
	if _, err := fs.GetByID(context.Background(), "ada", ds.ID); err == nil {
		t.Fatalf("dataset still present after delete")
	}
}

func TestFileInvalidEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/file-api/bogus", tokenAda, nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != "Invalid endpoint" {
		t.Fatalf("error=%q, want Invalid endpoint", got)
	}

	w = doRequest(t, s, http.MethodPatch, "/file-api/list", tokenAda, nil, "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", w.Code)
	}
}
