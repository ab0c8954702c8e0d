package api

import (
	"encoding/json"
	"net/http"

	"datarest/internal/identity"
	"datarest/internal/schema"
	"datarest/internal/store"
	"datarest/pkg/records"
)

// handleDatasets resolves /datasets-api/{dataset_id?}/{schema?}: dataset
// management by id, as opposed to the record-level operations of the REST
// resolver.
func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request, user identity.User, segs []string) {
	ctx := r.Context()

	var id string
	if len(segs) >= 1 {
		id = segs[0]
	}

	switch {
	case r.Method == http.MethodGet && len(segs) == 2 && segs[1] == "schema":
		s.datasetSchema(w, r, user, id)

	case r.Method == http.MethodGet && id != "":
		ds, err := s.store.GetByID(ctx, user.ID, id)
		if err != nil {
			writeStoreError(w, err, "Dataset not found")
			return
		}
		writeJSON(w, http.StatusOK, ds)

	case r.Method == http.MethodGet:
		sums, err := s.store.List(ctx, user.ID)
		if err != nil {
			writeStoreError(w, err, "Dataset not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data":  sums,
			"count": len(sums),
		})

	case r.Method == http.MethodPost && id == "":
		s.createDataset(w, r, user)

	case r.Method == http.MethodPut && id != "":
		s.updateDataset(w, r, user, id)

	case r.Method == http.MethodDelete && id != "":
		if err := s.store.Delete(ctx, user.ID, id); err != nil {
			writeStoreError(w, err, "Dataset not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Dataset deleted successfully"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// createDataset persists a dataset supplied directly as JSON, bypassing the
// file parser. The caller owns the record shapes; no inference happens here.
func (s *Server) createDataset(w http.ResponseWriter, r *http.Request, user identity.User) {
	var body struct {
		Name        string           `json:"name"`
		Description string           `json:"description"`
		Data        []records.Record `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusInternalServerError, "Invalid JSON body")
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusInternalServerError, "Dataset name required")
		return
	}
	if body.Data == nil {
		body.Data = []records.Record{}
	}

	ds := &store.Dataset{
		UserID:      user.ID,
		Name:        body.Name,
		Description: body.Description,
		Data:        body.Data,
	}
	if err := s.store.Insert(r.Context(), ds); err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

func (s *Server) updateDataset(w http.ResponseWriter, r *http.Request, user identity.User, id string) {
	ctx := r.Context()

	existing, err := s.store.GetByID(ctx, user.ID, id)
	if err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}

	var body struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusInternalServerError, "Invalid JSON body")
		return
	}

	name := existing.Name
	if body.Name != nil {
		name = *body.Name
	}
	description := existing.Description
	if body.Description != nil {
		description = *body.Description
	}

	if err := s.store.UpdateMeta(ctx, user.ID, id, name, description); err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}

	updated, err := s.store.GetByID(ctx, user.ID, id)
	if err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// datasetSchema runs field inference over the dataset's first record.
func (s *Server) datasetSchema(w http.ResponseWriter, r *http.Request, user identity.User, id string) {
	ds, err := s.store.GetByID(r.Context(), user.ID, id)
	if err != nil {
		writeStoreError(w, err, "Dataset not found")
		return
	}

	fields, err := schema.Infer(ds.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dataset_id":   ds.ID,
		"name":         ds.Name,
		"record_count": ds.RecordCount,
		"fields":       fields,
	})
}
