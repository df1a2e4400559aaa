// Package decision implements the Decision Service (C7): the HTTP surface
// the Proxy Dispatcher calls into for POST /decide and POST /feedback, plus
// GET /health and GET /stats. Grounded on the teacher's cmd/proxy main.go
// HTTP wiring (one handler per concern, registered against a mux), switched
// here from the stdlib ServeMux to gorilla/mux so path handling matches the
// rest of the module's HTTP surfaces.
package decision

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Pranshu258/rl-proxy/pkg/contracts"
	"github.com/Pranshu258/rl-proxy/pkg/metricsview"
	"github.com/Pranshu258/rl-proxy/pkg/qtable"
	"github.com/Pranshu258/rl-proxy/pkg/registry"
	"github.com/Pranshu258/rl-proxy/pkg/reward"
	"github.com/Pranshu258/rl-proxy/pkg/selector"
	"github.com/Pranshu258/rl-proxy/pkg/stateencoder"
)

type pendingDecision struct {
	ServiceName string
	PreState    contracts.State
	Action      contracts.Action
	CreatedAt   time.Time
}

type cachedResponse struct {
	resp contracts.DecideResponse
	at   time.Time
}

// Service wires the Registry View, Metrics View, State Encoder, Action
// Selector, Reward Calculator, and Q-Table Store behind the decision HTTP
// API.
type Service struct {
	log      *zap.Logger
	reg      registry.View
	metrics  *metricsview.MetricsView
	encoder  *stateencoder.Encoder
	sel      *selector.Selector
	table    *qtable.Table
	rewardCalc *reward.Calculator

	decisionCacheTTL time.Duration

	mu      sync.Mutex
	pending map[string]pendingDecision
	cache   map[string]cachedResponse

	episodeCount   int64
	totalDecisions int64
	rewardSum      float64
}

// New builds a decision Service from its component dependencies.
func New(log *zap.Logger, reg registry.View, metrics *metricsview.MetricsView, encoder *stateencoder.Encoder, sel *selector.Selector, table *qtable.Table, rewardCalc *reward.Calculator, decisionCacheTTL time.Duration) *Service {
	return &Service{
		log:              log,
		reg:              reg,
		metrics:          metrics,
		encoder:          encoder,
		sel:              sel,
		table:            table,
		rewardCalc:       rewardCalc,
		decisionCacheTTL: decisionCacheTTL,
		pending:          make(map[string]pendingDecision),
		cache:            make(map[string]cachedResponse),
	}
}

// Router builds the gorilla/mux router exposing /decide, /feedback,
// /health, and /stats.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/decide", s.handleDecide).Methods(http.MethodPost)
	r.HandleFunc("/feedback", s.handleFeedback).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	return r
}

func (s *Service) handleDecide(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req contracts.DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServiceName == "" {
		writeError(w, http.StatusBadRequest, contracts.ErrInvalidState, req.ServiceName)
		return
	}

	instances := s.reg.HealthyInstances(req.ServiceName)
	if len(instances) == 0 {
		writeError(w, http.StatusServiceUnavailable, contracts.ErrNoInstances, req.ServiceName)
		return
	}

	names := make([]string, len(instances))
	for i, inst := range instances {
		names[i] = inst.Name
	}
	sort.Strings(names)

	if cached, ok := s.cachedDecision(req.ServiceName, names); ok {
		cached.DecisionID = uuid.NewString()
		cached.DecisionTimeMs = float64(time.Since(start).Microseconds()) / 1000
		writeJSON(w, http.StatusOK, cached)
		return
	}

	snapshot := s.metrics.FetchMetrics(r.Context(), req.ServiceName, names)

	candidates := make([]selector.Candidate, 0, len(instances))
	states := make(map[contracts.Action]contracts.State, len(instances))
	for _, inst := range instances {
		m, ok := snapshot[inst.Name]
		if !ok {
			m = contracts.InstanceMetrics{Unavailable: true}
		}
		state := s.encoder.Encode(m)
		states[contracts.Action(inst.Name)] = state
		candidates = append(candidates, selector.Candidate{
			Action:       contracts.Action(inst.Name),
			CPUPct:       m.CPUPct,
			MemPct:       m.MemPct,
			ErrorRatePct: m.ErrorRatePct,
		})
	}

	// Every candidate is scored under one state, the first candidate's, in
	// both encoding modes; the encoder's mode is not consulted. The pre-state
	// recorded below for feedback is the chosen candidate's own state.
	var anchorState contracts.State
	if len(candidates) > 0 {
		anchorState = states[candidates[0].Action]
	}

	d := s.sel.Select(anchorState, req.ServiceName, candidates)
	if d.Action == "" {
		writeError(w, http.StatusServiceUnavailable, contracts.ErrNoInstances, req.ServiceName)
		return
	}

	decisionID := uuid.NewString()
	s.mu.Lock()
	s.pending[decisionID] = pendingDecision{
		ServiceName: req.ServiceName,
		PreState:    states[d.Action],
		Action:      d.Action,
		CreatedAt:   time.Now(),
	}
	s.totalDecisions++
	s.mu.Unlock()

	resp := contracts.DecideResponse{
		SelectedPod:    string(d.Action),
		Confidence:     d.Confidence,
		DecisionType:   d.Type,
		DecisionTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		AvailablePods:  names,
		DecisionID:     decisionID,
	}
	s.cacheDecision(req.ServiceName, names, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req contracts.FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServiceName == "" {
		writeError(w, http.StatusBadRequest, contracts.ErrInvalidState, req.ServiceName)
		return
	}

	s.mu.Lock()
	pending, ok := s.pending[req.DecisionID]
	if ok {
		delete(s.pending, req.DecisionID)
	}
	s.mu.Unlock()

	action := contracts.Action(req.SelectedPod)
	preState := pending.PreState

	instances := s.reg.HealthyInstances(req.ServiceName)
	names := make([]string, 0, len(instances))
	peerLoads := make([]float64, 0, len(instances))
	for _, inst := range instances {
		names = append(names, inst.Name)
	}
	snapshot := s.metrics.FetchMetrics(r.Context(), req.ServiceName, names)
	for _, m := range snapshot {
		peerLoads = append(peerLoads, m.CPUPct)
	}

	postMetrics := snapshot[req.SelectedPod]
	postState := s.encoder.Encode(postMetrics)
	if !ok {
		// No matching /decide call (e.g. the proxy restarted mid-flight);
		// treat the current metrics as both pre- and post-state rather than
		// dropping the signal entirely.
		preState = postState
	}

	r2 := s.rewardCalc.Compute(reward.Outcome{
		ResponseTimeMs: req.ResponseTimeMs,
		ErrorOccurred:  req.ErrorOccurred,
		ReqsPerSec:     postMetrics.ReqsPerSec,
		PeerLoads:      peerLoads,
		Action:         action,
	})

	nextCandidates := make([]contracts.Action, 0, len(instances))
	for _, inst := range instances {
		nextCandidates = append(nextCandidates, contracts.Action(inst.Name))
	}

	s.table.Update(preState, action, r2, postState, nextCandidates)

	s.mu.Lock()
	s.episodeCount++
	s.rewardSum += r2
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// QTableSize reports the number of learned state-action entries, for
// self-observability gauges.
func (s *Service) QTableSize() int {
	return s.table.Size()
}

// Epsilon reports the Action Selector's current exploration rate, for
// self-observability gauges.
func (s *Service) Epsilon() float64 {
	return s.sel.Epsilon()
}

// Stats reports the running decision counters for self-observability
// gauges, the same figures handleStats serves over HTTP.
func (s *Service) Stats() (episodeCount, totalDecisions int64, averageReward float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.episodeCount > 0 {
		averageReward = s.rewardSum / float64(s.episodeCount)
	}
	return s.episodeCount, s.totalDecisions, averageReward
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, contracts.HealthResponse{
		Status:       "ok",
		RLAgentReady: s.table.Size() > 0,
		QTableSize:   s.table.Size(),
	})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	episodeCount := s.episodeCount
	totalDecisions := s.totalDecisions
	avgReward := 0.0
	if episodeCount > 0 {
		avgReward = s.rewardSum / float64(episodeCount)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, contracts.StatsResponse{
		QTableSize:     s.table.Size(),
		CurrentEpsilon: s.sel.Epsilon(),
		EpisodeCount:   episodeCount,
		TotalDecisions: totalDecisions,
		AverageReward:  avgReward,
	})
}

func (s *Service) cachedDecision(serviceName string, names []string) (contracts.DecideResponse, bool) {
	key := cacheKey(serviceName, names)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok || time.Since(entry.at) > s.decisionCacheTTL {
		return contracts.DecideResponse{}, false
	}
	return entry.resp, true
}

func (s *Service) cacheDecision(serviceName string, names []string, resp contracts.DecideResponse) {
	key := cacheKey(serviceName, names)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cachedResponse{resp: resp, at: time.Now()}
}

func cacheKey(serviceName string, names []string) string {
	h := sha1.New()
	h.Write([]byte(serviceName))
	h.Write([]byte(strings.Join(names, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind contracts.ErrorKind, service string) {
	writeJSON(w, status, contracts.ErrorBody{Error: string(kind), Service: service})
}
