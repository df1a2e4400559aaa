// Package config loads the tunables from spec §6: environment variables
// override an optional YAML file, which overrides the built-in defaults.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RewardWeights are the five non-negative reals from spec §4.4, renormalized
// to sum to 1.0 at load time.
type RewardWeights struct {
	Latency    float64 `yaml:"latency"`
	Error      float64 `yaml:"error"`
	Throughput float64 `yaml:"throughput"`
	Balance    float64 `yaml:"balance"`
	Stability  float64 `yaml:"stability"`
}

// BinWidths are the per-metric fixed-width bin configurations from spec §4.3.
type BinWidths struct {
	CPUWidth   float64 `yaml:"cpuWidth"`
	CPUBins    int     `yaml:"cpuBins"`
	MemWidth   float64 `yaml:"memWidth"`
	MemBins    int     `yaml:"memBins"`
	LatWidth   float64 `yaml:"latWidth"`
	LatBins    int     `yaml:"latBins"`
	ErrWidth   float64 `yaml:"errWidth"`
	ErrBins    int     `yaml:"errBins"`
	RPSWidth   float64 `yaml:"rpsWidth"`
	RPSBins    int     `yaml:"rpsBins"`
}

// Config holds every tunable from spec §6 plus the ambient wiring
// (addresses, backing stores, encoding/reward mode switches).
type Config struct {
	// Learning
	LearningRate         float64       `yaml:"learningRate"`
	DiscountFactor       float64       `yaml:"discountFactor"`
	EpsilonStart         float64       `yaml:"epsilonStart"`
	EpsilonMin           float64       `yaml:"epsilonMin"`
	EpsilonDecay         float64       `yaml:"epsilonDecay"`
	ConfidenceThreshold  float64       `yaml:"confidenceThreshold"`
	BinWidths            BinWidths     `yaml:"binWidths"`
	RewardWeights        RewardWeights `yaml:"rewardWeights"`
	EncodingMode         string        `yaml:"encodingMode"` // "per_action" | "per_service"
	RewardMode           string        `yaml:"rewardMode"`   // "adaptive" | "always_simple"
	FeedbackRetryEnabled bool          `yaml:"feedbackRetryEnabled"`

	// Timing
	MetricsCacheTTL    time.Duration `yaml:"-"`
	DecisionCacheTTL   time.Duration `yaml:"-"`
	RegistryPollPeriod time.Duration `yaml:"-"`
	HealthProbePeriod  time.Duration `yaml:"-"`
	UpstreamTimeout    time.Duration `yaml:"-"`
	DecisionTimeout    time.Duration `yaml:"-"`
	CBFailureThreshold int           `yaml:"cbFailureThreshold"`
	CBOpenDuration     time.Duration `yaml:"-"`

	// Addresses and backing stores
	ProxyAddr        string `yaml:"proxyAddr"`
	DecisionAddr     string `yaml:"decisionAddr"`
	RedisAddr        string `yaml:"redisAddr"`
	PrometheusBase   string `yaml:"prometheusBase"`
	FeedbackQueueCap int    `yaml:"feedbackQueueCap"`
	QTableSnapshotPath string `yaml:"qTableSnapshotPath"`
	SlackWebhookURL  string `yaml:"slackWebhookURL"`
	LogFile          string `yaml:"logFile"`
	LogLevel         string `yaml:"logLevel"`
}

const (
	defaultLogLevel = "INFO"
	defaultLogFile  = "logs/rl-proxy.log"
)

// Default returns the configuration with every spec §6 default applied.
func Default() *Config {
	return &Config{
		LearningRate:        0.3,
		DiscountFactor:      0.95,
		EpsilonStart:        0.25,
		EpsilonMin:          0.01,
		EpsilonDecay:        0.99,
		ConfidenceThreshold: 0.3,
		BinWidths: BinWidths{
			CPUWidth: 25, CPUBins: 5,
			MemWidth: 25, MemBins: 5,
			LatWidth: 100, LatBins: 5,
			ErrWidth: 5, ErrBins: 3,
			RPSWidth: 50, RPSBins: 5,
		},
		RewardWeights: RewardWeights{
			Latency: 0.35, Error: 0.35, Throughput: 0.15, Balance: 0.10, Stability: 0.05,
		},
		EncodingMode:         "per_action",
		RewardMode:           "adaptive",
		FeedbackRetryEnabled: true,

		MetricsCacheTTL:    time.Second,
		DecisionCacheTTL:   100 * time.Millisecond,
		RegistryPollPeriod: 15 * time.Second,
		HealthProbePeriod:  5 * time.Second,
		UpstreamTimeout:    30 * time.Second,
		DecisionTimeout:    2 * time.Second,
		CBFailureThreshold: 5,
		CBOpenDuration:     30 * time.Second,

		ProxyAddr:          ":8080",
		DecisionAddr:       ":8090",
		RedisAddr:          "localhost:6379",
		PrometheusBase:     "http://localhost:9090",
		FeedbackQueueCap:   10000,
		QTableSnapshotPath: "",
		SlackWebhookURL:    "",
		LogFile:            defaultLogFile,
		LogLevel:           defaultLogLevel,
	}
}

// Load applies, in order: built-in defaults, an optional YAML file named by
// CONFIG_FILE, then environment variable overrides. This mirrors the
// teacher's NewFromEnv but adds the file layer ahead of the env layer.
func Load() (*Config, error) {
	c := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, err
		}
	}

	c.LearningRate = getenvFloat("LEARNING_RATE", c.LearningRate)
	c.DiscountFactor = getenvFloat("DISCOUNT_FACTOR", c.DiscountFactor)
	c.EpsilonStart = getenvFloat("EPSILON_START", c.EpsilonStart)
	c.EpsilonMin = getenvFloat("EPSILON_MIN", c.EpsilonMin)
	c.EpsilonDecay = getenvFloat("EPSILON_DECAY", c.EpsilonDecay)
	c.ConfidenceThreshold = getenvFloat("CONFIDENCE_THRESHOLD", c.ConfidenceThreshold)
	c.EncodingMode = getenv("ENCODING_MODE", c.EncodingMode)
	c.RewardMode = getenv("REWARD_MODE", c.RewardMode)
	c.FeedbackRetryEnabled = getenvBool("FEEDBACK_RETRY_ENABLED", c.FeedbackRetryEnabled)

	c.MetricsCacheTTL = getenvDurationMs("METRICS_CACHE_TTL_MS", c.MetricsCacheTTL)
	c.DecisionCacheTTL = getenvDurationMs("DECISION_CACHE_TTL_MS", c.DecisionCacheTTL)
	c.RegistryPollPeriod = getenvDurationMs("REGISTRY_POLL_MS", c.RegistryPollPeriod)
	c.HealthProbePeriod = getenvDurationMs("HEALTH_PROBE_MS", c.HealthProbePeriod)
	c.UpstreamTimeout = getenvDurationMs("UPSTREAM_TIMEOUT_MS", c.UpstreamTimeout)
	c.DecisionTimeout = getenvDurationMs("DECISION_TIMEOUT_MS", c.DecisionTimeout)
	c.CBFailureThreshold = getenvInt("CB_FAILURE_THRESHOLD", c.CBFailureThreshold)
	c.CBOpenDuration = getenvDurationMs("CB_OPEN_DURATION_MS", c.CBOpenDuration)

	c.ProxyAddr = getenv("PROXY_ADDR", c.ProxyAddr)
	c.DecisionAddr = getenv("DECISION_ADDR", c.DecisionAddr)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.PrometheusBase = getenv("PROMETHEUS_BASE", c.PrometheusBase)
	c.FeedbackQueueCap = getenvInt("FEEDBACK_QUEUE_CAP", c.FeedbackQueueCap)
	c.QTableSnapshotPath = getenv("QTABLE_SNAPSHOT_PATH", c.QTableSnapshotPath)
	c.SlackWebhookURL = getenv("SLACK_WEBHOOK_URL", c.SlackWebhookURL)
	c.LogFile = getenv("LOG_FILE", c.LogFile)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)

	c.RewardWeights = normalizeWeights(c.RewardWeights)

	return c, nil
}

// normalizeWeights renormalizes the reward weights to sum to 1.0, per spec §4.4.
func normalizeWeights(w RewardWeights) RewardWeights {
	sum := w.Latency + w.Error + w.Throughput + w.Balance + w.Stability
	if sum <= 0 {
		return w
	}
	return RewardWeights{
		Latency:    w.Latency / sum,
		Error:      w.Error / sum,
		Throughput: w.Throughput / sum,
		Balance:    w.Balance / sum,
		Stability:  w.Stability / sum,
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDurationMs(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
