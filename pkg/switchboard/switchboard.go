// Package switchboard implements the Algorithm Switchboard (C9): the
// dispatch point between three routing strategies (round-robin,
// least-connections, and the RL agent), plus the benchmark accumulator used
// to A/B them. Grounded on the teacher's pkg/loadbalancer package, which
// defines one Selector type per strategy behind a common interface; this
// keeps that three-strategy shape but adds runtime switching and
// measurement instead of picking one strategy at process start.
package switchboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"gonum.org/v1/gonum/stat"

	"github.com/Pranshu258/rl-proxy/pkg/contracts"
	"github.com/Pranshu258/rl-proxy/pkg/notify"
	"github.com/Pranshu258/rl-proxy/pkg/registry"
)

// Algorithm names one of the three routing strategies the switchboard can
// dispatch through.
type Algorithm string

const (
	RoundRobin      Algorithm = "round_robin"
	LeastConnections Algorithm = "least_connections"
	RLAgent         Algorithm = "rl_agent"
)

// ConnectionCounter reports in-flight request counts per instance, matching
// proxy.Dispatcher's ActiveConnections.
type ConnectionCounter interface {
	ActiveConnections(instanceName string) int64
}

// Switchboard chooses a backend instance for one request using whichever
// Algorithm is currently active, and accumulates per-algorithm benchmark
// statistics.
type Switchboard struct {
	reg        registry.View
	counters   ConnectionCounter
	decideURL  string
	httpClient *http.Client

	mu      sync.RWMutex
	current Algorithm

	bench    benchmarkState
	notifier notify.Notifier
}

// SetNotifier attaches an operational notifier used to announce benchmark
// stop summaries. A nil notifier (the default) disables announcements.
func (s *Switchboard) SetNotifier(n notify.Notifier) {
	s.notifier = n
}

type benchmarkState struct {
	mu      sync.Mutex
	running bool
	started time.Time
	stats   map[Algorithm]*accumulator
}

type accumulator struct {
	requests      int64
	errors        int64
	responseTimes []float64
}

// New builds a Switchboard defaulting to round-robin, per spec §4.9.
func New(reg registry.View, counters ConnectionCounter, decideURL string) *Switchboard {
	return &Switchboard{
		reg:        reg,
		counters:   counters,
		decideURL:  decideURL,
		httpClient: &http.Client{Timeout: 2 * time.Second},
		current:    RoundRobin,
		bench: benchmarkState{
			stats: map[Algorithm]*accumulator{
				RoundRobin:       {},
				LeastConnections: {},
				RLAgent:          {},
			},
		},
	}
}

// SetAlgorithm switches the active routing strategy.
func (s *Switchboard) SetAlgorithm(a Algorithm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = a
}

// CurrentAlgorithm reports the active routing strategy.
func (s *Switchboard) CurrentAlgorithm() Algorithm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Choice is what Choose returns: the selected instance, the algorithm that
// produced it (which may differ from CurrentAlgorithm() when RLAgent falls
// back), a decision ID for feedback correlation, and the decision type.
type Choice struct {
	Instance   contracts.Instance
	Algorithm  Algorithm
	DecisionID string
	Type       contracts.DecisionType
}

// Choose selects an instance for serviceName using the active algorithm,
// falling back to round-robin when the RL agent times out, errors, or
// returns a low-confidence decision, per spec §4.9.
func (s *Switchboard) Choose(ctx context.Context, serviceName string) (Choice, bool) {
	switch s.CurrentAlgorithm() {
	case LeastConnections:
		return s.chooseLeastConnections(serviceName)
	case RLAgent:
		if choice, ok := s.chooseRLAgent(ctx, serviceName); ok {
			return choice, true
		}
		return s.chooseRoundRobinFallback(serviceName)
	default:
		return s.chooseRoundRobin(serviceName)
	}
}

func (s *Switchboard) chooseRoundRobin(serviceName string) (Choice, bool) {
	inst, ok := s.reg.NextRoundRobin(serviceName)
	if !ok {
		return Choice{}, false
	}
	return Choice{Instance: inst, Algorithm: RoundRobin, Type: contracts.DecisionExploit}, true
}

func (s *Switchboard) chooseRoundRobinFallback(serviceName string) (Choice, bool) {
	choice, ok := s.chooseRoundRobin(serviceName)
	if !ok {
		return Choice{}, false
	}
	choice.Algorithm = RLAgent
	choice.Type = contracts.DecisionFallback
	return choice, true
}

func (s *Switchboard) chooseLeastConnections(serviceName string) (Choice, bool) {
	instances := s.reg.HealthyInstances(serviceName)
	if len(instances) == 0 {
		return Choice{}, false
	}
	best := instances[0]
	bestConns := s.counters.ActiveConnections(best.Name)
	for _, inst := range instances[1:] {
		c := s.counters.ActiveConnections(inst.Name)
		if c < bestConns {
			bestConns = c
			best = inst
		}
	}
	return Choice{Instance: best, Algorithm: LeastConnections, Type: contracts.DecisionExploit}, true
}

type decideResult struct {
	contracts.DecideResponse
}

func (s *Switchboard) chooseRLAgent(ctx context.Context, serviceName string) (Choice, bool) {
	if s.decideURL == "" {
		return Choice{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	body, _ := json.Marshal(contracts.DecideRequest{ServiceName: serviceName})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.decideURL, bytes.NewReader(body))
	if err != nil {
		return Choice{}, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Choice{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Choice{}, false
	}

	var decoded decideResult
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Choice{}, false
	}
	if decoded.Confidence < 0.3 {
		return Choice{}, false
	}

	instances := s.reg.HealthyInstances(serviceName)
	for _, inst := range instances {
		if inst.Name == decoded.SelectedPod {
			return Choice{Instance: inst, Algorithm: RLAgent, DecisionID: decoded.DecisionID, Type: decoded.DecisionType}, true
		}
	}
	return Choice{}, false
}

// RecordOutcome accumulates one completed request into the benchmark stats
// for algorithm, when a benchmark run is active. Requests to /health and
// /actuator/* are excluded from accounting, per spec §4.9.
func (s *Switchboard) RecordOutcome(algorithm Algorithm, path string, statusCode int, latencyMs float64) {
	if path == "/health" || strings.HasPrefix(path, "/actuator/") {
		return
	}

	s.bench.mu.Lock()
	defer s.bench.mu.Unlock()
	if !s.bench.running {
		return
	}
	acc, ok := s.bench.stats[algorithm]
	if !ok {
		return
	}
	acc.requests++
	if statusCode >= 500 {
		acc.errors++
	}
	acc.responseTimes = append(acc.responseTimes, latencyMs)
}

// BenchmarkStart begins accumulating statistics, resetting any prior run.
func (s *Switchboard) BenchmarkStart() {
	s.bench.mu.Lock()
	defer s.bench.mu.Unlock()
	s.bench.running = true
	s.bench.started = time.Now()
	s.bench.stats = map[Algorithm]*accumulator{RoundRobin: {}, LeastConnections: {}, RLAgent: {}}
}

// BenchmarkStop ends accumulation without clearing the collected stats.
func (s *Switchboard) BenchmarkStop() {
	s.bench.mu.Lock()
	defer s.bench.mu.Unlock()
	s.bench.running = false
}

// BenchmarkReset clears accumulated stats and stops the run.
func (s *Switchboard) BenchmarkReset() {
	s.bench.mu.Lock()
	defer s.bench.mu.Unlock()
	s.bench.running = false
	s.bench.stats = map[Algorithm]*accumulator{RoundRobin: {}, LeastConnections: {}, RLAgent: {}}
}

// BenchmarkStatus reports whether a run is active and, if so, its duration.
func (s *Switchboard) BenchmarkStatus() (running bool, elapsed time.Duration) {
	s.bench.mu.Lock()
	defer s.bench.mu.Unlock()
	if !s.bench.running {
		return false, 0
	}
	return true, time.Since(s.bench.started)
}

// AlgorithmResult is one algorithm's benchmark summary.
type AlgorithmResult struct {
	Requests   int64   `json:"requests"`
	Errors     int64   `json:"errors"`
	ErrorRate  float64 `json:"errorRatePct"`
	ThroughputRPS float64 `json:"throughputRps"`
	P50Ms      float64 `json:"p50Ms"`
	P95Ms      float64 `json:"p95Ms"`
	P99Ms      float64 `json:"p99Ms"`
}

// BenchmarkResults summarizes every algorithm's accumulated stats, using
// gonum/stat's quantile estimator for p50/p95/p99, matching the teacher's
// pkg/probe latency-quantile usage.
func (s *Switchboard) BenchmarkResults() map[Algorithm]AlgorithmResult {
	s.bench.mu.Lock()
	defer s.bench.mu.Unlock()

	elapsed := time.Since(s.bench.started).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	out := make(map[Algorithm]AlgorithmResult, len(s.bench.stats))
	for algo, acc := range s.bench.stats {
		sorted := append([]float64(nil), acc.responseTimes...)
		sort.Float64s(sorted)

		result := AlgorithmResult{Requests: acc.requests, Errors: acc.errors}
		if acc.requests > 0 {
			result.ErrorRate = float64(acc.errors) / float64(acc.requests) * 100
			result.ThroughputRPS = float64(acc.requests) / elapsed
		}
		if len(sorted) > 0 {
			result.P50Ms = stat.Quantile(0.50, stat.Empirical, sorted, nil)
			result.P95Ms = stat.Quantile(0.95, stat.Empirical, sorted, nil)
			result.P99Ms = stat.Quantile(0.99, stat.Empirical, sorted, nil)
		}
		out[algo] = result
	}
	return out
}

// switchRequest is the body of POST /benchmark/switch.
type switchRequest struct {
	Algorithm Algorithm `json:"algorithm"`
}

// Router builds the gorilla/mux router exposing the benchmark control
// surface: /benchmark/start|stop|switch|reset|status|results.
func (s *Switchboard) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/benchmark/start", func(w http.ResponseWriter, r *http.Request) {
		s.BenchmarkStart()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	r.HandleFunc("/benchmark/stop", func(w http.ResponseWriter, r *http.Request) {
		s.BenchmarkStop()
		if s.notifier != nil {
			for algo, result := range s.BenchmarkResults() {
				s.notifier.Notify(notify.BenchmarkStopped(string(algo), result.Requests, result.Errors))
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	r.HandleFunc("/benchmark/reset", func(w http.ResponseWriter, r *http.Request) {
		s.BenchmarkReset()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	r.HandleFunc("/benchmark/switch", func(w http.ResponseWriter, r *http.Request) {
		var req switchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Algorithm == "" {
			http.Error(w, "invalid algorithm", http.StatusBadRequest)
			return
		}
		s.SetAlgorithm(req.Algorithm)
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	r.HandleFunc("/benchmark/status", func(w http.ResponseWriter, r *http.Request) {
		running, elapsed := s.BenchmarkStatus()
		writeJSON(w, map[string]interface{}{
			"running":       running,
			"elapsedMs":     float64(elapsed.Microseconds()) / 1000,
			"algorithm":     s.CurrentAlgorithm(),
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/benchmark/results", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.BenchmarkResults())
	}).Methods(http.MethodGet)

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
