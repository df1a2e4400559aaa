package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("LEARNING_RATE")
	os.Unsetenv("CONFIG_FILE")
	os.Unsetenv("PROXY_ADDR")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.LearningRate != 0.3 {
		t.Fatalf("unexpected LearningRate default: %v", c.LearningRate)
	}
	if c.ProxyAddr != ":8080" {
		t.Fatalf("unexpected ProxyAddr default: %v", c.ProxyAddr)
	}
	sum := c.RewardWeights.Latency + c.RewardWeights.Error + c.RewardWeights.Throughput +
		c.RewardWeights.Balance + c.RewardWeights.Stability
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("expected reward weights to sum to 1.0, got %v", sum)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	os.Setenv("LEARNING_RATE", "0.5")
	defer os.Unsetenv("LEARNING_RATE")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.LearningRate != 0.5 {
		t.Fatalf("expected env override to win, got %v", c.LearningRate)
	}
}

func TestNormalizeWeights(t *testing.T) {
	w := normalizeWeights(RewardWeights{Latency: 1, Error: 1, Throughput: 1, Balance: 1, Stability: 1})
	if w.Latency != 0.2 {
		t.Fatalf("expected equal weights to normalize to 0.2 each, got %v", w.Latency)
	}
}
