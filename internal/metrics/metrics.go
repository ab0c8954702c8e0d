// Package metrics is a minimal instrumentation facade.
//
// Handlers record counters and histogram observations through package-level
// functions; the process wires a concrete Backend at startup (or leaves the
// default nop backend in place). This keeps request-path code free of any
// vendor SDK import.
package metrics

import "sync/atomic"

// Labels are free-form metric dimensions (e.g. route, method, status).
type Labels map[string]string

// Backend receives metric updates. Implementations must be safe for
// concurrent use; request handlers call these from many goroutines.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// nopBackend drops everything. It is the default so that instrumented code
// never has to nil-check.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend atomic.Value

func init() {
	backend.Store(Backend(nopBackend{}))
}

// SetBackend installs the process-wide backend. Call once at startup before
// serving traffic.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	backend.Store(b)
}

func current() Backend {
	return backend.Load().(Backend)
}

// IncCounter adds delta to a named counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample of a named distribution.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush forces the backend to submit buffered metrics.
func Flush() error {
	return current().Flush()
}

// Metric names used across the server. Centralized so backends can switch on
// them without string drift.
const (
	HTTPRequestsTotal          = "datarest_http_requests_total"
	HTTPErrorsTotal            = "datarest_http_errors_total"
	HTTPRequestDurationSeconds = "datarest_http_request_duration_seconds"
	RecordsParsedTotal         = "datarest_records_parsed_total"
	UploadBytes                = "datarest_upload_bytes"
)
