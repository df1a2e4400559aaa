package decision

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics installs self-observability gauges for the decision
// service's Q-table size, exploration rate, episode count, total decisions,
// and average reward against reg, matching the cmd/backend fixture's
// pattern of GaugeFunc collectors reading live state rather than pushed
// samples. The caller is expected to expose reg through promhttp.Handler.
func (s *Service) RegisterMetrics(reg *prometheus.Registry) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rlproxy_qtable_size",
		Help: "Number of learned state-action entries in the Q-table.",
	}, func() float64 { return float64(s.QTableSize()) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rlproxy_epsilon",
		Help: "Current exploration rate of the action selector.",
	}, func() float64 { return s.Epsilon() }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rlproxy_episode_count",
		Help: "Number of feedback episodes applied to the Q-table.",
	}, func() float64 {
		episodes, _, _ := s.Stats()
		return float64(episodes)
	}))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rlproxy_decisions_total",
		Help: "Number of /decide calls served.",
	}, func() float64 {
		_, decisions, _ := s.Stats()
		return float64(decisions)
	}))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rlproxy_average_reward",
		Help: "Running average reward across all feedback episodes.",
	}, func() float64 {
		_, _, avg := s.Stats()
		return avg
	}))
}
