package switchboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Pranshu258/rl-proxy/pkg/contracts"
)

type fakeRegistry struct {
	instances map[string][]contracts.Instance
	rrIndex   int
}

func (f *fakeRegistry) Instances(service string) []contracts.Instance { return f.instances[service] }
func (f *fakeRegistry) HealthyInstances(service string) []contracts.Instance {
	return f.instances[service]
}
func (f *fakeRegistry) AllServices() []string { return nil }
func (f *fakeRegistry) NextRoundRobin(service string) (contracts.Instance, bool) {
	insts := f.instances[service]
	if len(insts) == 0 {
		return contracts.Instance{}, false
	}
	inst := insts[f.rrIndex%len(insts)]
	f.rrIndex++
	return inst, true
}
func (f *fakeRegistry) SnapshotAge() time.Duration { return 0 }

type fakeCounters struct{ counts map[string]int64 }

func (f *fakeCounters) ActiveConnections(name string) int64 { return f.counts[name] }

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{instances: map[string][]contracts.Instance{
		"cart": {{ServiceName: "cart", Name: "cart-1"}, {ServiceName: "cart", Name: "cart-2"}},
	}}
}

func TestChooseRoundRobinCyclesInstances(t *testing.T) {
	sb := New(newFakeRegistry(), &fakeCounters{}, "")
	first, _ := sb.Choose(context.Background(), "cart")
	second, _ := sb.Choose(context.Background(), "cart")
	if first.Instance.Name == second.Instance.Name {
		t.Fatalf("expected round robin to alternate instances, got %s twice", first.Instance.Name)
	}
}

func TestChooseLeastConnectionsPicksLeastLoaded(t *testing.T) {
	sb := New(newFakeRegistry(), &fakeCounters{counts: map[string]int64{"cart-1": 5, "cart-2": 1}}, "")
	sb.SetAlgorithm(LeastConnections)

	choice, ok := sb.Choose(context.Background(), "cart")
	if !ok || choice.Instance.Name != "cart-2" {
		t.Fatalf("expected cart-2 (fewer active connections), got %+v", choice)
	}
}

func TestChooseRLAgentFallsBackOnLowConfidence(t *testing.T) {
	decideSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(contracts.DecideResponse{SelectedPod: "cart-1", Confidence: 0.1})
	}))
	defer decideSrv.Close()

	sb := New(newFakeRegistry(), &fakeCounters{}, decideSrv.URL)
	sb.SetAlgorithm(RLAgent)

	choice, ok := sb.Choose(context.Background(), "cart")
	if !ok {
		t.Fatalf("expected a fallback choice, got none")
	}
	if choice.Type != contracts.DecisionFallback {
		t.Fatalf("expected low confidence to trigger a fallback decision, got %v", choice.Type)
	}
}

func TestChooseRLAgentUsesDecisionOnHighConfidence(t *testing.T) {
	decideSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(contracts.DecideResponse{SelectedPod: "cart-2", Confidence: 0.9, DecisionID: "d1"})
	}))
	defer decideSrv.Close()

	sb := New(newFakeRegistry(), &fakeCounters{}, decideSrv.URL)
	sb.SetAlgorithm(RLAgent)

	choice, ok := sb.Choose(context.Background(), "cart")
	if !ok || choice.Instance.Name != "cart-2" || choice.DecisionID != "d1" {
		t.Fatalf("expected the RL agent's pick to be honored, got %+v", choice)
	}
}

func TestBenchmarkAccumulatesExcludingHealthAndActuatorPaths(t *testing.T) {
	sb := New(newFakeRegistry(), &fakeCounters{}, "")
	sb.BenchmarkStart()

	sb.RecordOutcome(RoundRobin, "/cart/123", 200, 12)
	sb.RecordOutcome(RoundRobin, "/health", 200, 1)
	sb.RecordOutcome(RoundRobin, "/actuator/info", 200, 1)
	sb.RecordOutcome(RoundRobin, "/cart/456", 500, 30)

	results := sb.BenchmarkResults()
	rr := results[RoundRobin]
	if rr.Requests != 2 {
		t.Fatalf("expected /health and /actuator paths excluded, got %d requests", rr.Requests)
	}
	if rr.Errors != 1 {
		t.Fatalf("expected 1 error recorded, got %d", rr.Errors)
	}
}

func TestBenchmarkResetClearsStats(t *testing.T) {
	sb := New(newFakeRegistry(), &fakeCounters{}, "")
	sb.BenchmarkStart()
	sb.RecordOutcome(RoundRobin, "/cart/1", 200, 5)
	sb.BenchmarkReset()

	running, _ := sb.BenchmarkStatus()
	if running {
		t.Fatalf("expected reset to stop the run")
	}
	if sb.BenchmarkResults()[RoundRobin].Requests != 0 {
		t.Fatalf("expected reset to clear accumulated stats")
	}
}
