// Package qtable implements the Q-Table Store (C6): a concurrent
// (State, Action) -> float64 map with the Bellman update at its core.
// Grounded on the teacher's pkg/metrics pattern of one mutex-guarded map
// per key space (there: per-instance latency history; here: per-(state,
// action) value), generalized to the learning update spec §4.6 specifies.
package qtable

import (
	"encoding/gob"
	"io"
	"sync"

	"github.com/Pranshu258/rl-proxy/pkg/contracts"
)

// Table is a thread-safe (State, Action) -> Q-value store. Reads default an
// absent key to 0.0; keys are never deleted during a run.
type Table struct {
	alpha float64 // learning rate
	gamma float64 // discount factor

	mu     sync.RWMutex
	values map[contracts.QKey]float64
	locks  map[contracts.QKey]*sync.Mutex
}

// New builds an empty Table with the given learning rate and discount
// factor, per spec §6 defaults (alpha=0.3, gamma=0.95).
func New(alpha, gamma float64) *Table {
	return &Table{
		alpha:  alpha,
		gamma:  gamma,
		values: make(map[contracts.QKey]float64),
		locks:  make(map[contracts.QKey]*sync.Mutex),
	}
}

// Get returns the current value for key, defaulting to 0.0.
func (t *Table) Get(key contracts.QKey) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values[key]
}

// Size reports how many (state, action) pairs have been observed.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}

// BestAction returns the action with the highest Q-value among candidates
// for state, and that value. Ties are broken by the order candidates are
// given (first one wins), leaving tie-break policy to the caller (the
// Action Selector's UCB pass).
func (t *Table) BestAction(state contracts.State, candidates []contracts.Action) (contracts.Action, float64, bool) {
	if len(candidates) == 0 {
		return "", 0, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	best := candidates[0]
	bestVal := t.values[contracts.QKey{State: state, Action: best}]
	for _, a := range candidates[1:] {
		v := t.values[contracts.QKey{State: state, Action: a}]
		if v > bestVal {
			bestVal = v
			best = a
		}
	}
	return best, bestVal, true
}

// Values returns every candidate action's current Q-value for state, in the
// order given, for UCB scoring and near-optimal-set construction upstream.
func (t *Table) Values(state contracts.State, candidates []contracts.Action) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]float64, len(candidates))
	for i, a := range candidates {
		out[i] = t.values[contracts.QKey{State: state, Action: a}]
	}
	return out
}

// keyLock returns (creating if necessary) the per-key mutex used to
// serialize concurrent updates to the same (state, action) pair, satisfying
// the per-key mutual exclusion discipline from spec §5.
func (t *Table) keyLock(key contracts.QKey) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

// Update applies one Bellman step:
//
//	Q(s,a) <- Q(s,a) + alpha * (reward + gamma * max_a' Q(s',a') - Q(s,a))
//
// nextCandidates is the set of actions available from postState (the
// currently healthy instances at update time); if empty, the bootstrap term
// is treated as 0.
func (t *Table) Update(preState contracts.State, action contracts.Action, rewardValue float64, postState contracts.State, nextCandidates []contracts.Action) float64 {
	key := contracts.QKey{State: preState, Action: action}
	lock := t.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	var maxNext float64
	if len(nextCandidates) > 0 {
		_, maxNext, _ = t.BestAction(postState, nextCandidates)
	}

	t.mu.RLock()
	current := t.values[key]
	t.mu.RUnlock()

	updated := current + t.alpha*(rewardValue+t.gamma*maxNext-current)

	t.mu.Lock()
	t.values[key] = updated
	t.mu.Unlock()

	return updated
}

// gobEntry is the on-disk shape for one (state, action) -> value row.
type gobEntry struct {
	Key   contracts.QKey
	Value float64
}

// Snapshot writes every (state, action) -> value pair to w via encoding/gob,
// for the qtable export CLI subcommand.
func (t *Table) Snapshot(w io.Writer) error {
	t.mu.RLock()
	entries := make([]gobEntry, 0, len(t.values))
	for k, v := range t.values {
		entries = append(entries, gobEntry{Key: k, Value: v})
	}
	t.mu.RUnlock()
	return gob.NewEncoder(w).Encode(entries)
}

// Restore replaces the table's contents with the entries read from r,
// for the qtable import CLI subcommand. Existing per-key locks are kept as
// is; only the value map is replaced.
func (t *Table) Restore(r io.Reader) error {
	var entries []gobEntry
	if err := gob.NewDecoder(r).Decode(&entries); err != nil {
		return err
	}
	values := make(map[contracts.QKey]float64, len(entries))
	for _, e := range entries {
		values[e.Key] = e.Value
	}
	t.mu.Lock()
	t.values = values
	t.mu.Unlock()
	return nil
}
