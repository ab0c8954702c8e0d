package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"datarest/internal/api"
	"datarest/internal/config"
	"datarest/internal/identity"
	"datarest/internal/metrics"
	"datarest/internal/metrics/datadog"
	"datarest/internal/store"

	// register all backends with the store factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "datarest/internal/store/all"
)

// main is the entry point for the datarest server. It loads configuration,
// optionally initializes a metrics backend, opens the dataset store, and
// serves HTTP until interrupted.
func main() {
	var (
		addrFlg           string
		storeKindFlg      string
		storeDSNFlg       string
		metricsBackendFlg string
	)

	flag.StringVar(&addrFlg, "addr", "", "listen address (overrides env DATAREST_ADDR)")
	flag.StringVar(&storeKindFlg, "store-kind", "", "storage backend: sqlite, postgres, mssql (overrides env DATAREST_STORE_KIND)")
	flag.StringVar(&storeDSNFlg, "store-dsn", "", "storage connection string (overrides env DATAREST_STORE_DSN)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (e.g. datadog, none)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatalf("load config: %v", err)
	}

	// Flags win over environment.
	if addrFlg != "" {
		cfg.Addr = addrFlg
	}
	if storeKindFlg != "" {
		cfg.StoreKind = storeKindFlg
	}
	if storeDSNFlg != "" {
		cfg.StoreDSN = storeDSNFlg
	}
	if metricsBackendFlg != "" {
		cfg.MetricsBackend = metricsBackendFlg
	}

	switch cfg.MetricsBackend {
	case "datadog":
		extraTags := datadog.ParseTagsCSV(cfg.MetricsTags)

		// The backend starts its own periodic flush goroutine; Close() stops
		// it and performs a final Flush().
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    cfg.MetricsJobName,
			Tags:       extraTags,
			FlushEvery: cfg.MetricsFlushEvery,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			log.Printf("metrics: backend=%v job_name=%v tags=%v", cfg.MetricsBackend, cfg.MetricsJobName, extraTags)
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}

	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", cfg.MetricsBackend)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", cfg.MetricsBackend)
	}

	if cfg.IdentityURL == "" {
		fatalf("DATAREST_IDENTITY_URL is required")
	}
	idp := identity.NewHTTPProvider(cfg.IdentityURL, cfg.IdentityAPIKey)

	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{Kind: cfg.StoreKind, DSN: cfg.StoreDSN})
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer st.Close()

	if *verbose {
		log.Printf("store: kind=%s dsn=%s", cfg.StoreKind, cfg.StoreDSN)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.New(st, idp, cfg.MaxUploadBytes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalf("serve: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
