package switchboard

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics installs self-observability gauges for each routing
// algorithm's accumulated benchmark requests and errors against reg, one
// GaugeFunc pair per algorithm so each scrape reads the live accumulator
// rather than a stale pushed sample.
func (s *Switchboard) RegisterMetrics(reg *prometheus.Registry) {
	for _, algo := range []Algorithm{RoundRobin, LeastConnections, RLAgent} {
		algo := algo
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "rlproxy_benchmark_requests_total",
			Help:        "Requests accumulated by the active benchmark run, per algorithm.",
			ConstLabels: prometheus.Labels{"algorithm": string(algo)},
		}, func() float64 { return float64(s.BenchmarkResults()[algo].Requests) }))

		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "rlproxy_benchmark_errors_total",
			Help:        "5xx responses accumulated by the active benchmark run, per algorithm.",
			ConstLabels: prometheus.Labels{"algorithm": string(algo)},
		}, func() float64 { return float64(s.BenchmarkResults()[algo].Errors) }))
	}
}
