package reward

import (
	"testing"

	"github.com/Pranshu258/rl-proxy/pkg/config"
)

func TestSimpleModeIsStatusOnly(t *testing.T) {
	c := New(config.Default().RewardWeights, "always_simple")
	if r := c.Compute(Outcome{ErrorOccurred: false}); r != 1.0 {
		t.Fatalf("expected +1 on success, got %v", r)
	}
	if r := c.Compute(Outcome{ErrorOccurred: true}); r != -1.0 {
		t.Fatalf("expected -1 on error, got %v", r)
	}
}

func TestAdaptiveRewardPenalizesHighLatencyAndErrors(t *testing.T) {
	c := New(config.Default().RewardWeights, "adaptive")
	fast := c.Compute(Outcome{ResponseTimeMs: 10, ReqsPerSec: 50})
	slow := c.Compute(Outcome{ResponseTimeMs: 2000, ReqsPerSec: 50})
	if !(fast > slow) {
		t.Fatalf("expected faster response to score higher: fast=%v slow=%v", fast, slow)
	}

	ok := c.Compute(Outcome{ResponseTimeMs: 50, ReqsPerSec: 50})
	failed := c.Compute(Outcome{ResponseTimeMs: 50, ReqsPerSec: 50, ErrorOccurred: true})
	if !(ok > failed) {
		t.Fatalf("expected a successful request to score higher than an error: ok=%v failed=%v", ok, failed)
	}
}

func TestAdaptiveRewardStaysBounded(t *testing.T) {
	c := New(config.Default().RewardWeights, "adaptive")
	r := c.Compute(Outcome{ResponseTimeMs: 100000, ReqsPerSec: 100000, PeerLoads: []float64{0, 100000}})
	if r < -1 || r > 1 {
		t.Fatalf("expected reward clamped to [-1, 1], got %v", r)
	}
}

func TestAdaptiveRewardPenalizesActionThrash(t *testing.T) {
	c := New(config.Default().RewardWeights, "adaptive")
	stable := c.Compute(Outcome{ResponseTimeMs: 50, ReqsPerSec: 50, PrevAction: "a", Action: "a"})
	thrash := c.Compute(Outcome{ResponseTimeMs: 50, ReqsPerSec: 50, PrevAction: "a", Action: "b"})
	if !(stable > thrash) {
		t.Fatalf("expected stable action to score higher than thrashing: stable=%v thrash=%v", stable, thrash)
	}
}
