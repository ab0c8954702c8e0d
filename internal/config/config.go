// Package config loads server configuration from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the server needs to start. Values come from
// DATAREST_* environment variables; command-line flags may override a subset.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string `default:":8080" split_words:"true"`

	// StoreKind selects the storage backend ("sqlite", "postgres", "mssql").
	StoreKind string `default:"sqlite" split_words:"true"`

	// StoreDSN is the backend-specific connection string.
	StoreDSN string `default:"datarest.db" split_words:"true"`

	// IdentityURL is the base URL of the identity service that validates
	// bearer tokens. Empty disables remote auth (every request is rejected
	// unless a static provider is wired, which only tests do).
	IdentityURL string `split_words:"true"`

	// IdentityAPIKey is an optional API key sent alongside user tokens.
	IdentityAPIKey string `split_words:"true"`

	// MetricsBackend selects the metrics sink ("datadog" or "none").
	MetricsBackend string `default:"none" split_words:"true"`

	// MetricsJobName tags every metric with job:<name>.
	MetricsJobName string `default:"datarest" split_words:"true"`

	// MetricsTags are extra comma-separated tags, e.g. "env:prod,team:data".
	MetricsTags string `split_words:"true"`

	// MetricsFlushEvery controls the metrics submission interval.
	MetricsFlushEvery time.Duration `default:"60s" split_words:"true"`

	// ShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `default:"15s" split_words:"true"`

	// MaxUploadBytes caps the size of uploaded files.
	MaxUploadBytes int64 `default:"16777216" split_words:"true"`
}

// Load reads configuration from DATAREST_* environment variables.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("datarest", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
