// Package stateencoder implements the State Encoder (C3): a pure function
// from a telemetry snapshot to the fixed-arity bin tuple the Q-table keys
// on, per spec §4.3. Adapted from the teacher's RIF-bucketing idea in
// pkg/metrics (one metric, one width, saturating top bin) and generalized
// to five metrics with independently configured widths.
package stateencoder

import (
	"math"
	"sync"
	"time"

	"github.com/Pranshu258/rl-proxy/pkg/config"
	"github.com/Pranshu258/rl-proxy/pkg/contracts"
)

// Mode names the configured encoding granularity: per-action (one state per
// instance) or per-service (one aggregate state per service), the
// encodingMode setting in SPEC_FULL.md §3. Encode bins whatever metrics it
// is given the same way in both modes; the mode is only stored and reported
// by Encoder.Mode.
type Mode string

const (
	ModePerAction  Mode = "per_action"
	ModePerService Mode = "per_service"
)

type cacheKey struct {
	cpu, mem, lat, err, rps float64
}

type cacheEntry struct {
	state State
	at    time.Time
}

// State is an alias of contracts.State, so values pass between the two
// packages without conversion.
type State = contracts.State

// Encoder bins InstanceMetrics into a State and caches recent results for
// 5 seconds, keyed on the metrics rounded to 4 decimals, per spec §4.3.
type Encoder struct {
	widths config.BinWidths
	mode   Mode
	ttl    time.Duration

	mu            sync.Mutex
	cache         map[cacheKey]cacheEntry
	outOfRangeCnt int64
}

// New builds an Encoder from the configured bin widths and encoding mode.
func New(widths config.BinWidths, mode Mode) *Encoder {
	return &Encoder{
		widths: widths,
		mode:   mode,
		ttl:    5 * time.Second,
		cache:  make(map[cacheKey]cacheEntry),
	}
}

// Mode reports the encoder's configured granularity.
func (e *Encoder) Mode() Mode { return e.mode }

// OutOfRangeCount returns how many inputs fell back to bin 0 due to being
// NaN, infinite, or negative, for the observability counter spec §4.3 calls
// for.
func (e *Encoder) OutOfRangeCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outOfRangeCnt
}

// Encode bins m into a State, rounding inputs to 4 decimals for a 5s cache
// lookup before doing the (cheap but non-free, under high QPS) bin math.
func (e *Encoder) Encode(m contracts.InstanceMetrics) State {
	key := cacheKey{
		cpu: round4(m.CPUPct),
		mem: round4(m.MemPct),
		lat: round4(m.AvgLatencyMs),
		err: round4(m.ErrorRatePct),
		rps: round4(m.ReqsPerSec),
	}

	e.mu.Lock()
	if entry, ok := e.cache[key]; ok && time.Since(entry.at) < e.ttl {
		e.mu.Unlock()
		return entry.state
	}
	e.mu.Unlock()

	s := State{
		CPUBin: e.bin(m.CPUPct, e.widths.CPUWidth, e.widths.CPUBins),
		MemBin: e.bin(m.MemPct, e.widths.MemWidth, e.widths.MemBins),
		LatBin: e.bin(m.AvgLatencyMs, e.widths.LatWidth, e.widths.LatBins),
		ErrBin: e.bin(m.ErrorRatePct, e.widths.ErrWidth, e.widths.ErrBins),
		RPSBin: e.bin(m.ReqsPerSec, e.widths.RPSWidth, e.widths.RPSBins),
	}

	e.mu.Lock()
	e.cache[key] = cacheEntry{state: s, at: time.Now()}
	e.mu.Unlock()
	return s
}

// bin maps a raw value to [0, numBins-1], saturating at the top bin and
// falling back to bin 0 for NaN, Inf, or negative values.
func (e *Encoder) bin(value, width float64, numBins int) int {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		e.mu.Lock()
		e.outOfRangeCnt++
		e.mu.Unlock()
		return 0
	}
	idx := int(value / width)
	if idx >= numBins {
		idx = numBins - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
