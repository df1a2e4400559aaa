// Package reward implements the Reward Calculator (C4): it turns a
// completed request's outcome into the scalar signal the Bellman update
// consumes, per spec §4.4. Grounded on the teacher's pkg/metrics latency
// tracking (the raw ingredients: per-instance latency and in-flight load)
// but recombined into the five-component weighted signal the policy
// learns from instead of feeding a hand-tuned load-balancing formula.
package reward

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Pranshu258/rl-proxy/pkg/config"
	"github.com/Pranshu258/rl-proxy/pkg/contracts"
)

// Scale constants bound each component's tanh input to a sensible dynamic
// range; they are not part of spec §6's tunable set because no example in
// the corpus exposes them as env vars, only as engineering constants.
const (
	latencyScaleMs  = 200.0
	errorScalePct   = 10.0
	throughputScale = 100.0
	balanceScale    = 500.0
)

// Calculator computes the weighted reward from spec §4.4's five components:
// latency, error, throughput, balance, stability.
type Calculator struct {
	weights config.RewardWeights
	mode    string // "adaptive" | "always_simple"
}

// New builds a Calculator from the configured weights and reward mode.
func New(weights config.RewardWeights, mode string) *Calculator {
	return &Calculator{weights: weights, mode: mode}
}

// Outcome bundles everything the calculator needs about one completed,
// proxied request.
type Outcome struct {
	ResponseTimeMs float64
	ErrorOccurred  bool
	ReqsPerSec     float64
	// PeerLoads is the current CPU% of every instance behind the same
	// service, used for the inter-instance balance term.
	PeerLoads []float64
	// PrevAction and Action let the stability term penalize thrashing
	// between actions across consecutive decisions for the same caller.
	PrevAction, Action contracts.Action
}

// Compute returns a reward in [-1, 1]. In "always_simple" mode it is +1 on
// success and -1 when ErrorOccurred is set; Outcome carries no status code,
// so the simple signal does not grade 3xx, 4xx and 5xx apart. In "adaptive"
// mode (the default) it blends all five weighted components.
func (c *Calculator) Compute(o Outcome) float64 {
	if c.mode == "always_simple" {
		return c.simple(o)
	}
	return c.adaptive(o)
}

func (c *Calculator) simple(o Outcome) float64 {
	if o.ErrorOccurred {
		return -1.0
	}
	return 1.0
}

func (c *Calculator) adaptive(o Outcome) float64 {
	latencyTerm := -math.Tanh(o.ResponseTimeMs / latencyScaleMs)

	errorTerm := 1.0
	if o.ErrorOccurred {
		errorTerm = -1.0
	}

	throughputTerm := math.Tanh(o.ReqsPerSec / throughputScale)

	balanceTerm := -math.Tanh(loadVariance(o.PeerLoads) / balanceScale)

	stabilityTerm := 1.0
	if o.PrevAction != "" && o.PrevAction != o.Action {
		stabilityTerm = -1.0
	}

	w := c.weights
	reward := w.Latency*latencyTerm +
		w.Error*errorTerm +
		w.Throughput*throughputTerm +
		w.Balance*balanceTerm +
		w.Stability*stabilityTerm

	return clamp(reward, -1, 1)
}

// loadVariance reports the population variance of per-instance load, used as
// an imbalance proxy: the more loads diverge, the larger (worse) the
// balance penalty.
func loadVariance(loads []float64) float64 {
	if len(loads) < 2 {
		return 0
	}
	_, variance := stat.MeanVariance(loads, nil)
	return variance
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
