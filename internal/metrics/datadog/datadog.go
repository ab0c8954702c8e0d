// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Submission model:
//   - request handlers buffer metrics in-memory (fast, lock-protected)
//   - a background loop calls Flush() on a ticker (default: once per minute)
//   - Close() stops the loop and performs one final Flush()
//
// Flush snapshots and resets the buffers under a mutex, then submits
// out-of-lock, so handlers never block on network I/O.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"datarest/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "datarest".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:datarest"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them; unit tests use
	// them to avoid real network submission and nondeterministic clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal slice of the Datadog SDK needed to submit
// metrics. The SDK only exposes a concrete *datadogV2.MetricsApi; depending on
// this interface instead lets tests install a fake submitter.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	reqCounts    map[string]float64 // route\x00method\x00status -> count
	errCounts    map[string]float64 // route\x00method\x00status -> count
	reqDurations map[string][]float64
	parsedCounts map[string]float64 // format -> records
	uploadBytes  []float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its background flush loop.
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "datarest".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "datarest"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		cfg := dd.NewConfiguration()
		client := dd.NewAPIClient(cfg)
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		reqCounts:    make(map[string]float64),
		errCounts:    make(map[string]float64),
		reqDurations: make(map[string][]float64),
		parsedCounts: make(map[string]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
// Close must be called at most once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.HTTPRequestsTotal:
		b.reqCounts[routeKey(labels)] += delta

	case metrics.HTTPErrorsTotal:
		b.errCounts[routeKey(labels)] += delta

	case metrics.RecordsParsedTotal:
		format := labels["format"]
		if format == "" {
			format = "unknown"
		}
		b.parsedCounts[format] += delta

	default:
		// Unknown counters are dropped.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.HTTPRequestDurationSeconds:
		k := routeKey(labels)
		b.reqDurations[k] = append(b.reqDurations[k], value)

	case metrics.UploadBytes:
		b.uploadBytes = append(b.uploadBytes, value)

	default:
		// Unknown histograms are dropped.
	}
}

// snapshot is the detached buffered state used to build one flush payload.
// Flush resets buffers under the lock and submits from the snapshot
// out-of-lock.
type snapshot struct {
	reqCounts    map[string]float64
	errCounts    map[string]float64
	reqDurations map[string][]float64
	parsedCounts map[string]float64
	uploadBytes  []float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		reqCounts:    b.reqCounts,
		errCounts:    b.errCounts,
		reqDurations: b.reqDurations,
		parsedCounts: b.parsedCounts,
		uploadBytes:  b.uploadBytes,
	}

	b.reqCounts = make(map[string]float64)
	b.errCounts = make(map[string]float64)
	b.reqDurations = make(map[string][]float64)
	b.parsedCounts = make(map[string]float64)
	b.uploadBytes = nil

	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.reqCounts) == 0 &&
		len(s.errCounts) == 0 &&
		len(s.reqDurations) == 0 &&
		len(s.parsedCounts) == 0 &&
		len(s.uploadBytes) == 0
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Buffers are reset even if submission fails; losing a window of metrics is
// preferred over blocking request handlers behind retries.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	nowUnix := b.now().Unix()
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, nowUnix)}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs Datadog series for a snapshot at a fixed timestamp.
// It is pure (no locks, no network, no clocks), which keeps it unit-testable.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.reqCounts)+len(s.errCounts)+16)

	for k, v := range s.reqCounts {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("datarest.http.requests.total", v, b.routeTags(k), nowUnix))
	}
	for k, v := range s.errCounts {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("datarest.http.errors.total", v, b.routeTags(k), nowUnix))
	}
	for format, v := range s.parsedCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "format:"+format)
		series = append(series, countSeries("datarest.records.parsed.total", v, tags, nowUnix))
	}

	for k, samples := range s.reqDurations {
		addPercentiles(&series, "datarest.http.request_duration_seconds", b.routeTags(k), samples, nowUnix)
	}
	addPercentiles(&series, "datarest.upload_bytes", b.baseTags, s.uploadBytes, nowUnix)

	return series
}

// addPercentiles appends a fixed set of percentile gauges for a sample set.
// Empty sample sets produce nothing; the input slice is never mutated.
func addPercentiles(series *[]datadogV2.MetricSeries, metricPrefix string, tags []string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func routeKey(labels metrics.Labels) string {
	route := labels["route"]
	if route == "" {
		route = "unknown"
	}
	method := labels["method"]
	if method == "" {
		method = "unknown"
	}
	status := labels["status"]
	if status == "" {
		status = "unknown"
	}
	return route + "\x00" + method + "\x00" + status
}

func (b *Backend) routeTags(key string) []string {
	parts := strings.SplitN(key, "\x00", 3)
	for len(parts) < 3 {
		parts = append(parts, "unknown")
	}
	return withTags(b.baseTags, "route:"+parts[0], "method:"+parts[1], "status:"+parts[2])
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:datarest".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
