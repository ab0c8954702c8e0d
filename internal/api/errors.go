package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"datarest/internal/store"
)

var (
	errAuthRequired = errors.New("Authorization required")
	errInvalidAuth  = errors.New("Invalid authentication")
)

// writeJSON writes a JSON response body. Encoding failures after the header
// has been sent can only be logged.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// writeError writes the uniform error body {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps storage failures onto the API contract: a missing (or
// foreign) dataset is a 404 with the given message, anything else is a 500.
func writeStoreError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrDatasetNotFound) {
		writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	log.Printf("api: store error: %v", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}
