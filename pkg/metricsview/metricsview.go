// Package metricsview implements the Metrics View (C2): a snapshot of
// per-instance telemetry queried from an external PromQL-compatible store,
// circuit-broken and single-flight-cached. Grounded on the teacher's
// pkg/probe.ProbeBackend (an HTTP GET against a backend's /metrics endpoint,
// JSON-decoded into a typed response) generalized to eight PromQL instant
// queries per instance against a real time-series store, per spec §4.2/§6.
package metricsview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/Pranshu258/rl-proxy/pkg/contracts"
)

// podLabels are tried in order when templating a PromQL query, per spec §6.
var podLabels = []string{"pod_name", "application", "job", "service"}

type cacheEntry struct {
	at      time.Time
	metrics map[string]contracts.InstanceMetrics
}

// MetricsView fetches and caches per-instance InstanceMetrics snapshots.
type MetricsView struct {
	baseURL    string
	httpClient *http.Client
	cacheTTL   time.Duration

	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
}

// Config bundles the circuit breaker and cache tunables from spec §6.
type Config struct {
	BaseURL            string
	CacheTTL           time.Duration
	FailureThreshold   uint32
	OpenDuration       time.Duration
	RequestTimeout     time.Duration
}

// New builds a MetricsView. The circuit breaker opens after
// cfg.FailureThreshold consecutive failures and stays open for
// cfg.OpenDuration before allowing a single half-open probe, matching the
// CLOSED -> OPEN -> HALF_OPEN state machine in spec §4.11.
func New(cfg Config) *MetricsView {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	mv := &MetricsView{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cacheTTL:   cfg.CacheTTL,
		cache:      make(map[string]cacheEntry),
	}
	mv.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "metrics-view",
		Timeout: cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	})
	return mv
}

// FetchMetrics returns a snapshot for the given instance names. While the
// breaker is open it returns an empty map immediately (interpreted
// downstream as "unknown -> explore"), satisfying the <1ms short-circuit
// property from spec §8.
func (mv *MetricsView) FetchMetrics(ctx context.Context, serviceName string, instanceNames []string) map[string]contracts.InstanceMetrics {
	if cached, ok := mv.cached(serviceName); ok {
		return cached
	}

	v, err, _ := mv.group.Do(serviceName, func() (interface{}, error) {
		result, err := mv.breaker.Execute(func() (interface{}, error) {
			return mv.fetchAll(ctx, serviceName, instanceNames)
		})
		if err != nil {
			return map[string]contracts.InstanceMetrics{}, err
		}
		return result, nil
	})

	metrics, _ := v.(map[string]contracts.InstanceMetrics)
	if metrics == nil {
		metrics = map[string]contracts.InstanceMetrics{}
	}
	mv.store(serviceName, metrics)
	_ = err // a fetch error already yields the empty map above; callers treat it as "unavailable"
	return metrics
}

func (mv *MetricsView) cached(serviceName string) (map[string]contracts.InstanceMetrics, bool) {
	mv.cacheMu.Lock()
	defer mv.cacheMu.Unlock()
	entry, ok := mv.cache[serviceName]
	if !ok || time.Since(entry.at) > mv.cacheTTL {
		return nil, false
	}
	return entry.metrics, true
}

func (mv *MetricsView) store(serviceName string, metrics map[string]contracts.InstanceMetrics) {
	mv.cacheMu.Lock()
	defer mv.cacheMu.Unlock()
	mv.cache[serviceName] = cacheEntry{at: time.Now(), metrics: metrics}
}

// IsOpen reports whether the circuit breaker is currently open; the serve
// command polls it to announce breaker trips.
func (mv *MetricsView) IsOpen() bool {
	return mv.breaker.State() == gobreaker.StateOpen
}

func (mv *MetricsView) fetchAll(ctx context.Context, serviceName string, instanceNames []string) (map[string]contracts.InstanceMetrics, error) {
	out := make(map[string]contracts.InstanceMetrics, len(instanceNames))
	var firstErr error
	for _, name := range instanceNames {
		m, err := mv.fetchOne(ctx, serviceName, name)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out[name] = m
	}
	// A single instance's query failing doesn't count as a circuit-breaker
	// failure; only a total, all-instance failure does, since PromQL being
	// down affects every query in the same way.
	if firstErr != nil && len(out) == 0 {
		return nil, firstErr
	}
	return out, nil
}

func (mv *MetricsView) fetchOne(ctx context.Context, serviceName, podName string) (contracts.InstanceMetrics, error) {
	cpu, err := mv.queryInstant(ctx, "process_cpu_usage", podName, serviceName)
	if err != nil {
		return contracts.InstanceMetrics{}, err
	}
	heapUsed, _ := mv.queryInstant(ctx, `jvm_memory_used_bytes{area="heap"}`, podName, serviceName)
	heapMax, _ := mv.queryInstant(ctx, `jvm_memory_max_bytes{area="heap"}`, podName, serviceName)
	uptime, _ := mv.queryInstant(ctx, "process_uptime_seconds", podName, serviceName)
	rate5m, _ := mv.queryInstant(ctx, "rate(http_server_requests_seconds_count[5m])", podName, serviceName)
	total, _ := mv.queryInstant(ctx, "http_server_requests_seconds_count", podName, serviceName)
	sum, _ := mv.queryInstant(ctx, "http_server_requests_seconds_sum", podName, serviceName)
	errs, _ := mv.queryInstant(ctx, `http_server_requests_seconds_count{status=~"4..|5.."}`, podName, serviceName)

	m := contracts.InstanceMetrics{
		CPUPct:     cpu * 100,
		UptimeSec:  uptime,
		ReqsPerSec: rate5m,
	}
	if heapMax > 0 {
		m.MemPct = heapUsed / heapMax * 100
	}
	if total > 0 {
		m.AvgLatencyMs = sum / total * 1000
		m.ErrorRatePct = errs / total * 100
	}
	return m, nil
}

// promQueryResponse is the subset of the PromQL instant-query response this
// view reads: data.result[0].value[1], per spec §6.
type promQueryResponse struct {
	Data struct {
		Result []struct {
			Value [2]interface{} `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

func (mv *MetricsView) queryInstant(ctx context.Context, metric, podName, serviceName string) (float64, error) {
	var lastErr error
	for _, label := range podLabels {
		query := fmt.Sprintf(`%s{%s="%s"}`, metric, label, podName)
		if v, err := mv.runQuery(ctx, query); err == nil {
			return v, nil
		} else {
			lastErr = err
		}
	}
	// fall back to service-wide label if no per-pod label matched.
	query := fmt.Sprintf(`%s{service="%s"}`, metric, serviceName)
	if v, err := mv.runQuery(ctx, query); err == nil {
		return v, nil
	}
	return 0, lastErr
}

func (mv *MetricsView) runQuery(ctx context.Context, query string) (float64, error) {
	endpoint := mv.baseURL + "/api/v1/query?" + url.Values{"query": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := mv.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("metricsview: prometheus returned %d", resp.StatusCode)
	}

	var decoded promQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, err
	}
	if len(decoded.Data.Result) == 0 {
		return 0, fmt.Errorf("metricsview: no series for query %q", query)
	}
	raw, ok := decoded.Data.Result[0].Value[1].(string)
	if !ok {
		return 0, fmt.Errorf("metricsview: unexpected value shape for query %q", query)
	}
	return strconv.ParseFloat(raw, 64)
}
