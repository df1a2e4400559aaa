package stateencoder

import (
	"math"
	"testing"

	"github.com/Pranshu258/rl-proxy/pkg/config"
	"github.com/Pranshu258/rl-proxy/pkg/contracts"
)

func testWidths() config.BinWidths {
	return config.Default().BinWidths
}

func TestEncodeBinsWithinRange(t *testing.T) {
	e := New(testWidths(), ModePerAction)
	s := e.Encode(contracts.InstanceMetrics{CPUPct: 30, MemPct: 10, AvgLatencyMs: 150, ErrorRatePct: 1, ReqsPerSec: 60})
	if s.CPUBin != 1 || s.MemBin != 0 || s.LatBin != 1 || s.ErrBin != 0 || s.RPSBin != 1 {
		t.Fatalf("unexpected bins: %+v", s)
	}
}

func TestEncodeSaturatesTopBin(t *testing.T) {
	e := New(testWidths(), ModePerAction)
	s := e.Encode(contracts.InstanceMetrics{CPUPct: 999, MemPct: 999, AvgLatencyMs: 999, ErrorRatePct: 999, ReqsPerSec: 999})
	if s.CPUBin != 4 || s.MemBin != 4 || s.LatBin != 4 || s.ErrBin != 2 || s.RPSBin != 4 {
		t.Fatalf("expected saturation at the top bin, got %+v", s)
	}
}

func TestEncodeFallsBackToBinZeroOnInvalidInput(t *testing.T) {
	e := New(testWidths(), ModePerAction)
	s := e.Encode(contracts.InstanceMetrics{CPUPct: math.NaN(), MemPct: -5, AvgLatencyMs: math.Inf(1)})
	if s.CPUBin != 0 || s.MemBin != 0 || s.LatBin != 0 {
		t.Fatalf("expected bin 0 fallback, got %+v", s)
	}
	if e.OutOfRangeCount() != 3 {
		t.Fatalf("expected 3 out-of-range observations, got %d", e.OutOfRangeCount())
	}
}

func TestEncodeCachesWithinTTL(t *testing.T) {
	e := New(testWidths(), ModePerAction)
	m := contracts.InstanceMetrics{CPUPct: 12.00001, MemPct: 5}
	s1 := e.Encode(m)
	s2 := e.Encode(contracts.InstanceMetrics{CPUPct: 12.00002, MemPct: 5}) // rounds to same cache key
	if s1 != s2 {
		t.Fatalf("expected identical rounded inputs to hit the same cache entry")
	}
}
