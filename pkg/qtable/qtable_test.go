package qtable

import (
	"bytes"
	"sync"
	"testing"

	"github.com/Pranshu258/rl-proxy/pkg/contracts"
)

func TestGetDefaultsToZero(t *testing.T) {
	tbl := New(0.3, 0.95)
	if v := tbl.Get(contracts.QKey{Action: "a"}); v != 0 {
		t.Fatalf("expected default 0, got %v", v)
	}
}

func TestUpdateAppliesBellmanEquation(t *testing.T) {
	tbl := New(0.3, 0.95)
	state := contracts.State{CPUBin: 1}
	next := contracts.State{CPUBin: 2}

	got := tbl.Update(state, "a", 1.0, next, nil)
	want := 0.0 + 0.3*(1.0+0.95*0.0-0.0)
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}

	// second update should bootstrap off the max over nextCandidates.
	tbl.Update(next, "b", 2.0, contracts.State{}, nil)
	got2 := tbl.Update(state, "a", 1.0, next, []contracts.Action{"b"})
	current := want
	maxNext := tbl.Get(contracts.QKey{State: next, Action: "b"})
	want2 := current + 0.3*(1.0+0.95*maxNext-current)
	if got2 != want2 {
		t.Fatalf("got %v want %v", got2, want2)
	}
}

func TestBestActionPicksHighestValue(t *testing.T) {
	tbl := New(0.3, 0.95)
	state := contracts.State{}
	tbl.Update(state, "a", 5.0, contracts.State{}, nil)
	tbl.Update(state, "b", -5.0, contracts.State{}, nil)

	best, _, ok := tbl.BestAction(state, []contracts.Action{"a", "b"})
	if !ok || best != "a" {
		t.Fatalf("expected best action 'a', got %v (ok=%v)", best, ok)
	}
}

func TestSnapshotRestoreRoundTrips(t *testing.T) {
	tbl := New(0.3, 0.95)
	state := contracts.State{CPUBin: 3}
	tbl.Update(state, "a", 1.0, contracts.State{}, nil)

	var buf bytes.Buffer
	if err := tbl.Snapshot(&buf); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored := New(0.3, 0.95)
	if err := restored.Restore(&buf); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Get(contracts.QKey{State: state, Action: "a"}) != tbl.Get(contracts.QKey{State: state, Action: "a"}) {
		t.Fatalf("expected restored table to match original")
	}
}

func TestUpdateIsSafeForConcurrentUse(t *testing.T) {
	tbl := New(0.3, 0.95)
	state := contracts.State{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl.Update(state, "a", 1.0, contracts.State{}, nil)
		}()
	}
	wg.Wait()
	if tbl.Size() != 1 {
		t.Fatalf("expected a single key after concurrent updates to the same key, got %d", tbl.Size())
	}
}
