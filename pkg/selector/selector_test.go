package selector

import (
	"testing"

	"github.com/Pranshu258/rl-proxy/pkg/contracts"
	"github.com/Pranshu258/rl-proxy/pkg/qtable"
)

func TestSelectFiltersUnsafeCandidates(t *testing.T) {
	tbl := qtable.New(0.3, 0.95)
	sel := New(tbl, 0, 0, 1, 0) // epsilon 0 forces pure exploitation, confidence gate disabled

	state := contracts.State{}
	candidates := []Candidate{
		{Action: "overloaded", CPUPct: 99},
		{Action: "healthy", CPUPct: 10},
	}

	d := sel.Select(state, "svc", candidates)
	if d.Action != "healthy" {
		t.Fatalf("expected the overloaded candidate to be filtered out, got %v", d.Action)
	}
}

func TestSelectDegradesWhenEveryCandidateIsUnsafe(t *testing.T) {
	tbl := qtable.New(0.3, 0.95)
	sel := New(tbl, 0, 0, 1, 0)

	candidates := []Candidate{{Action: "a", CPUPct: 99}, {Action: "b", MemPct: 99}}
	d := sel.Select(contracts.State{}, "svc", candidates)
	if d.Action == "" {
		t.Fatalf("expected a degraded pick rather than no decision at all")
	}
}

func TestAntiConcentrationForcesRotationAfterRepeats(t *testing.T) {
	tbl := qtable.New(0.3, 0.95)
	sel := New(tbl, 0, 0, 1, 0)

	candidates := []Candidate{{Action: "a"}, {Action: "b"}}
	var seen []contracts.Action
	for i := 0; i < 4; i++ {
		d := sel.Select(contracts.State{}, "caller", candidates)
		seen = append(seen, d.Action)
	}
	// after 3 consecutive picks of the same action, the 4th must rotate away.
	if seen[3] == seen[0] && seen[0] == seen[1] && seen[1] == seen[2] {
		t.Fatalf("expected rotation after repeated picks, got %v", seen)
	}
}

func TestConfidenceGateTriggersFallback(t *testing.T) {
	tbl := qtable.New(0.3, 0.95)
	sel := New(tbl, 0, 0, 1, 0.99) // an unreachable confidence threshold on a cold table

	d := sel.Select(contracts.State{}, "svc", []Candidate{{Action: "a"}, {Action: "b"}})
	if d.Type != contracts.DecisionFallback {
		t.Fatalf("expected a cold table with a near-impossible threshold to fall back, got %v", d.Type)
	}
}

func TestExploitPrefersHigherQValue(t *testing.T) {
	tbl := qtable.New(0.3, 0.95)
	state := contracts.State{}
	tbl.Update(state, "a", 10.0, contracts.State{}, nil)
	tbl.Update(state, "b", -10.0, contracts.State{}, nil)

	sel := New(tbl, 0, 0, 1, 0) // epsilon 0: always exploit
	d := sel.Select(state, "svc", []Candidate{{Action: "a"}, {Action: "b"}})
	if d.Action != "a" {
		t.Fatalf("expected the higher Q-value action to win, got %v", d.Action)
	}
}
