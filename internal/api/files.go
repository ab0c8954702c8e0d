package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"datarest/internal/identity"
	"datarest/internal/metrics"
	"datarest/internal/parser"
	"datarest/internal/store"
)

type fileInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
	FileType    string `json:"file_type,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	RecordCount int    `json:"record_count"`
	DownloadURL string `json:"download_url"`
	APIURL      string `json:"api_url"`
}

func summaryFileInfo(d store.Summary) fileInfo {
	return fileInfo{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		CreatedAt:   d.CreatedAt.Format(timeLayout),
		FileType:    d.FileType,
		FileSize:    d.FileSize,
		RecordCount: d.RecordCount,
		DownloadURL: "/file-api/download/" + d.ID,
		APIURL:      "/rest-api/" + d.Name,
	}
}

// handleFiles resolves /file-api/{action}/{file_id?}.
//
// Actions: list, info, download, history, upload, plus bare DELETE by id.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request, user identity.User, segs []string) {
	var action, fileID string
	if len(segs) >= 1 {
		action = segs[0]
	}
	if len(segs) >= 2 {
		fileID = segs[1]
	}

	switch r.Method {
	case http.MethodGet:
		switch {
		case action == "list":
			s.listFiles(w, r, user)
		case action == "download" && fileID != "":
			s.downloadFile(w, r, user, fileID)
		case action == "info" && fileID != "":
			s.fileInfo(w, r, user, fileID)
		case action == "history":
			s.fileHistory(w, r, user)
		default:
			writeError(w, http.StatusNotFound, "Invalid endpoint")
		}

	case http.MethodPost:
		if action != "upload" {
			writeError(w, http.StatusNotFound, "Invalid endpoint")
			return
		}
		s.uploadFile(w, r, user)

	case http.MethodDelete:
		// Both DELETE /file-api/{id} and DELETE /file-api/delete/{id} work;
		// the id is always the last segment.
		if len(segs) == 0 {
			writeError(w, http.StatusNotFound, "Invalid endpoint")
			return
		}
		s.deleteFile(w, r, user, segs[len(segs)-1])

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request, user identity.User) {
	sums, err := s.store.List(r.Context(), user.ID)
	if err != nil {
		writeStoreError(w, err, "File not found")
		return
	}

	files := make([]fileInfo, 0, len(sums))
	for _, d := range sums {
		files = append(files, summaryFileInfo(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) fileInfo(w http.ResponseWriter, r *http.Request, user identity.User, fileID string) {
	ds, err := s.store.GetByID(r.Context(), user.ID, fileID)
	if err != nil {
		writeStoreError(w, err, "File not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file": fileInfo{
			ID:          ds.ID,
			Name:        ds.Name,
			Description: ds.Description,
			CreatedAt:   ds.CreatedAt.Format(timeLayout),
			FileType:    ds.FileType,
			FileSize:    ds.FileSize,
			RecordCount: ds.RecordCount,
			DownloadURL: "/file-api/download/" + ds.ID,
			APIURL:      "/rest-api/" + ds.Name,
		},
	})
}

// downloadFile streams the dataset's records as pretty-printed JSON with an
// attachment disposition, and records the download in the file history.
func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request, user identity.User, fileID string) {
	ctx := r.Context()

	ds, err := s.store.GetByID(ctx, user.ID, fileID)
	if err != nil {
		writeStoreError(w, err, "File not found")
		return
	}

	payload, err := json.MarshalIndent(ds.Data, "", "  ")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// History is best-effort display data; the download still succeeds.
	if err := s.store.AppendHistory(ctx, store.HistoryEntry{
		UserID:   user.ID,
		FileName: ds.Name,
		Action:   store.ActionDownload,
	}); err != nil {
		log.Printf("api: append download history for %s: %v", ds.ID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ds.Name+".json"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) fileHistory(w http.ResponseWriter, r *http.Request, user identity.User) {
	entries, err := s.store.ListHistory(r.Context(), user.ID)
	if err != nil {
		writeStoreError(w, err, "File not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// uploadFile ingests a multipart upload: parse the content into records,
// persist them as a new dataset, and record the upload in the history.
//
// Defaults when form fields are omitted:
//   - name: the file name minus its extension
//   - description: "Uploaded via API (X.XX KB)"
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request, user identity.User) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusInternalServerError, "No file provided")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "No file provided")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ext := fileExt(header.Filename)
	recs, err := parser.Parse(content, ext)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Invalid file format")
		return
	}

	size := int64(len(content))
	metrics.IncCounter(metrics.RecordsParsedTotal, float64(len(recs)), metrics.Labels{"format": fileType(ext)})
	metrics.ObserveHistogram(metrics.UploadBytes, float64(size), nil)

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	name = trimExt(name)

	description := r.FormValue("description")
	if description == "" {
		description = fmt.Sprintf("Uploaded via API (%.2f KB)", float64(size)/1024)
	}

	ds := &store.Dataset{
		UserID:      user.ID,
		Name:        name,
		Description: description,
		Data:        recs,
		FileType:    fileType(ext),
		FileSize:    size,
	}
	if err := s.store.Insert(ctx, ds); err != nil {
		writeStoreError(w, err, "File not found")
		return
	}

	if err := s.store.AppendHistory(ctx, store.HistoryEntry{
		UserID:   user.ID,
		FileName: header.Filename,
		Action:   store.ActionUpload,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "File uploaded successfully",
		"file": map[string]any{
			"id":           ds.ID,
			"name":         ds.Name,
			"record_count": ds.RecordCount,
			"api_url":      "/rest-api/" + ds.Name,
			"download_url": "/file-api/download/" + ds.ID,
		},
	})
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request, user identity.User, fileID string) {
	if err := s.store.Delete(r.Context(), user.ID, fileID); err != nil {
		writeStoreError(w, err, "File not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "File deleted successfully"})
}

// fileExt returns the lowercased extension of a file name, without the dot.
func fileExt(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// fileType is the stored file_type value; unknown extensions default to json.
func fileType(ext string) string {
	if ext == "" {
		return "json"
	}
	return ext
}

// trimExt strips a trailing ".ext" suffix, keeping dotfiles intact.
func trimExt(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return name
	}
	return name[:i]
}
