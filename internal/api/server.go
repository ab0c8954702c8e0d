// Package api implements the HTTP surface: dataset management, file
// upload/download, and the dynamic per-dataset REST resolver.
//
// Routing is positional: the first path segment selects the API group, the
// rest is interpreted by the group handler. Every response carries permissive
// CORS headers; OPTIONS preflights short-circuit before authentication.
package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"datarest/internal/identity"
	"datarest/internal/metrics"
	"datarest/internal/store"
)

// timeLayout is the wire format for timestamps in response bodies.
const timeLayout = time.RFC3339

// Server handles all API traffic. It is safe for concurrent use.
type Server struct {
	store     store.Store
	identity  identity.Provider
	maxUpload int64
}

// New builds a Server. maxUpload caps upload request bodies in bytes; <= 0
// means a 16 MiB default.
func New(st store.Store, idp identity.Provider, maxUpload int64) *Server {
	if maxUpload <= 0 {
		maxUpload = 16 << 20
	}
	return &Server{store: st, identity: idp, maxUpload: maxUpload}
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
}

// statusRecorder captures the status code written downstream so the request
// log and metrics see the real outcome.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())

	// CORS preflight: no auth, no body.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	segs := splitPath(r.URL.Path)
	route := "unknown"
	if len(segs) > 0 {
		route = segs[0]
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		elapsed := time.Since(start)
		labels := metrics.Labels{
			"route":  route,
			"method": r.Method,
			"status": strconv.Itoa(rec.status),
		}
		metrics.IncCounter(metrics.HTTPRequestsTotal, 1, labels)
		if rec.status >= 400 {
			metrics.IncCounter(metrics.HTTPErrorsTotal, 1, labels)
		}
		metrics.ObserveHistogram(metrics.HTTPRequestDurationSeconds, elapsed.Seconds(), labels)
		log.Printf("api: %s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, elapsed.Round(time.Millisecond))
	}()

	user, err := s.authenticate(r)
	if err != nil {
		writeError(rec, http.StatusUnauthorized, err.Error())
		return
	}

	switch route {
	case "rest-api":
		s.handleRest(rec, r, user, segs[1:])
	case "datasets-api":
		s.handleDatasets(rec, r, user, segs[1:])
	case "file-api":
		s.handleFiles(rec, r, user, segs[1:])
	default:
		writeError(rec, http.StatusNotFound, "Invalid endpoint")
	}
}

// authenticate resolves the caller from the Authorization header.
//
// A missing header and a rejected token produce distinct messages (matching
// the API contract) but the same 401 status.
func (s *Server) authenticate(r *http.Request) (identity.User, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return identity.User{}, errAuthRequired
	}

	token := identity.TokenFromHeader(header)
	user, err := s.identity.Authenticate(r.Context(), token)
	if err != nil {
		return identity.User{}, errInvalidAuth
	}
	return user, nil
}
