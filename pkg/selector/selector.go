// Package selector implements the Action Selector (C5): epsilon-greedy
// action selection over the Q-table, with the safe-exploration filter,
// UCB tie-break, anti-concentration rotation, and confidence gate spec §4.5
// describes. Grounded on the teacher's load-balancer Selector interface
// (pkg/loadbalancer): one Choose(candidates) -> chosen method per
// algorithm, generalized here to a single epsilon-greedy policy backed by
// the Q-table instead of a fixed formula.
package selector

import (
	"math"
	"math/rand"
	"sync"

	"github.com/Pranshu258/rl-proxy/pkg/contracts"
	"github.com/Pranshu258/rl-proxy/pkg/qtable"
)

const (
	ucbExploreConstant  = 2.0
	nearOptimalFraction = 0.95 // candidates within 5% of the best value are "near-optimal"
	rotateAfterRepeats  = 3
)

// Candidate is one routable instance together with the metrics needed for
// the safe-exploration filter.
type Candidate struct {
	Action       contracts.Action
	CPUPct       float64
	MemPct       float64
	ErrorRatePct float64
}

// Selector holds the epsilon schedule and per-caller rotation history.
type Selector struct {
	table *qtable.Table

	mu          sync.Mutex
	epsilon     float64
	epsilonMin  float64
	epsilonDecay float64
	confMin     float64

	lastAction map[string]contracts.Action
	repeats    map[string]int

	visits map[contracts.QKey]int64
}

// New builds a Selector over table with the given epsilon schedule and
// confidence gate threshold from spec §6.
func New(table *qtable.Table, epsilonStart, epsilonMin, epsilonDecay, confidenceThreshold float64) *Selector {
	return &Selector{
		table:        table,
		epsilon:      epsilonStart,
		epsilonMin:   epsilonMin,
		epsilonDecay: epsilonDecay,
		confMin:      confidenceThreshold,
		lastAction:   make(map[string]contracts.Action),
		repeats:      make(map[string]int),
		visits:       make(map[contracts.QKey]int64),
	}
}

// Decision is what Select returns: the chosen action, how it was chosen,
// and a confidence score in [0, 1].
type Decision struct {
	Action     contracts.Action
	Type       contracts.DecisionType
	Confidence float64
}

// Epsilon returns the current exploration rate, for self-observability gauges.
func (s *Selector) Epsilon() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epsilon
}

// Select applies the safe-exploration filter, then epsilon-greedy selection
// with a UCB tie-break among near-optimal candidates, anti-concentration
// rotation, and a confidence gate. callerKey scopes the per-caller rotation
// bookkeeping (typically the service name); epsilon decays once per call and
// is shared by all callers.
func (s *Selector) Select(state contracts.State, callerKey string, candidates []Candidate) Decision {
	safe := filterSafe(candidates)
	pool := safe
	if len(pool) == 0 {
		pool = candidates // every candidate is over threshold; degrade rather than refuse
	}
	if len(pool) == 0 {
		return Decision{}
	}

	actions := make([]contracts.Action, len(pool))
	for i, c := range pool {
		actions[i] = c.Action
	}

	s.mu.Lock()
	eps := s.epsilon
	s.epsilon = math.Max(s.epsilonMin, s.epsilon*s.epsilonDecay)
	s.mu.Unlock()

	var decision Decision
	if rand.Float64() < eps {
		decision = Decision{Action: actions[rand.Intn(len(actions))], Type: contracts.DecisionExplore}
	} else {
		decision = Decision{Action: s.exploit(state, actions), Type: contracts.DecisionExploit}
	}

	decision.Action = s.applyAntiConcentration(callerKey, decision.Action, actions)
	decision.Confidence = s.confidence(state, decision.Action, actions)

	if decision.Confidence < s.confMin {
		decision.Type = contracts.DecisionFallback
	}

	s.recordVisit(state, decision.Action)
	return decision
}

// exploit picks the UCB-adjusted best action among the near-optimal set:
// every action within nearOptimalFraction of the table's best value for
// state, tie-broken by least-visited (UCB-style) rather than collapsing to
// a single fixed "best" pick every time.
func (s *Selector) exploit(state contracts.State, actions []contracts.Action) contracts.Action {
	values := s.table.Values(state, actions)
	best := values[0]
	for _, v := range values[1:] {
		if v > best {
			best = v
		}
	}

	threshold := best * nearOptimalFraction
	if best <= 0 {
		threshold = best // a non-positive best only tolerates an exact tie
	}

	var nearOptimal []contracts.Action
	for i, a := range actions {
		if values[i] >= threshold {
			nearOptimal = append(nearOptimal, a)
		}
	}
	if len(nearOptimal) == 0 {
		nearOptimal = actions
	}

	return s.ucbPick(state, nearOptimal)
}

// ucbPick scores each near-optimal action with Q(s,a) + c*sqrt(ln(N)/n_a)
// and returns the highest scorer, favoring less-visited actions as ties.
func (s *Selector) ucbPick(state contracts.State, actions []contracts.Action) contracts.Action {
	s.mu.Lock()
	totalVisits := int64(0)
	for _, a := range actions {
		totalVisits += s.visits[contracts.QKey{State: state, Action: a}]
	}
	s.mu.Unlock()

	logTotal := math.Log(float64(totalVisits) + 1)

	best := actions[0]
	bestScore := math.Inf(-1)
	for _, a := range actions {
		q := s.table.Get(contracts.QKey{State: state, Action: a})
		s.mu.Lock()
		n := s.visits[contracts.QKey{State: state, Action: a}]
		s.mu.Unlock()
		bonus := ucbExploreConstant * math.Sqrt(logTotal/(float64(n)+1))
		score := q + bonus
		if score > bestScore {
			bestScore = score
			best = a
		}
	}
	return best
}

// applyAntiConcentration forces a rotation to a different candidate when the
// same action would be picked again after rotateAfterRepeats consecutive
// picks for the same caller, per spec §4.5.
func (s *Selector) applyAntiConcentration(callerKey string, chosen contracts.Action, pool []contracts.Action) contracts.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastAction[callerKey] == chosen {
		s.repeats[callerKey]++
	} else {
		s.repeats[callerKey] = 1
	}

	if s.repeats[callerKey] > rotateAfterRepeats && len(pool) > 1 {
		for _, a := range pool {
			if a != chosen {
				s.lastAction[callerKey] = a
				s.repeats[callerKey] = 1
				return a
			}
		}
	}

	s.lastAction[callerKey] = chosen
	return chosen
}

// confidence estimates how much the table "knows" about this state: the
// mean of the fraction of candidate actions visited at least once in this
// state and tanh of the spread (max minus min) of their Q-values. The
// spread term is the same whichever action was chosen. It is in [0, 1];
// Select marks a decision below confMin as DecisionFallback.
func (s *Selector) confidence(state contracts.State, chosen contracts.Action, actions []contracts.Action) float64 {
	values := s.table.Values(state, actions)

	s.mu.Lock()
	visited := 0
	for _, a := range actions {
		if s.visits[contracts.QKey{State: state, Action: a}] > 0 {
			visited++
		}
	}
	s.mu.Unlock()
	coverage := float64(visited) / float64(len(actions))

	spread := valueSpread(values)
	peaked := math.Tanh(spread)

	return clamp01(0.5*coverage + 0.5*peaked)
}

func (s *Selector) recordVisit(state contracts.State, action contracts.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits[contracts.QKey{State: state, Action: action}]++
}

// filterSafe drops candidates whose CPU, memory, or error rate exceeds the
// safe-exploration thresholds from spec §4.5 (cpu>95, mem>95, err>10).
func filterSafe(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.CPUPct > 95 || c.MemPct > 95 || c.ErrorRatePct > 10 {
			continue
		}
		out = append(out, c)
	}
	return out
}

func valueSpread(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	max, min := values[0], values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return max - min
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
