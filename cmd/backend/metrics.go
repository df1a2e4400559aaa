package main

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// simulatedMetrics exposes a backend instance's synthetic telemetry as real
// Prometheus collectors, in the metric names the Metrics View's PromQL
// queries expect (process_cpu_usage, jvm_memory_*, process_uptime_seconds,
// http_server_requests_seconds_*), so a local Prometheus scraping this
// fixture produces a realistic end-to-end demo.
type simulatedMetrics struct {
	startedAt time.Time
	inFlight  atomic.Int64

	cpu      prometheus.Gauge
	heapUsed prometheus.Gauge
	heapMax  prometheus.Gauge
	uptime   prometheus.GaugeFunc
	reqCount *prometheus.CounterVec
	reqSum   prometheus.Counter
}

func newSimulatedMetrics(podName string) *simulatedMetrics {
	m := &simulatedMetrics{startedAt: time.Now()}

	labels := prometheus.Labels{"pod_name": podName}
	m.cpu = prometheus.NewGauge(prometheus.GaugeOpts{Name: "process_cpu_usage", ConstLabels: labels})
	m.heapUsed = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jvm_memory_used_bytes", ConstLabels: mergeLabels(labels, "area", "heap")})
	m.heapMax = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jvm_memory_max_bytes", ConstLabels: mergeLabels(labels, "area", "heap")})
	m.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "process_uptime_seconds", ConstLabels: labels}, func() float64 {
		return time.Since(m.startedAt).Seconds()
	})
	m.reqCount = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "http_server_requests_seconds_count", ConstLabels: labels}, []string{"status"})
	m.reqSum = prometheus.NewCounter(prometheus.CounterOpts{Name: "http_server_requests_seconds_sum", ConstLabels: labels})

	prometheus.MustRegister(m.cpu, m.heapUsed, m.heapMax, m.uptime, m.reqCount, m.reqSum)

	m.heapMax.Set(512 * 1024 * 1024) // fixed 512MiB simulated heap ceiling
	go m.simulateResourceUsage()
	return m
}

func mergeLabels(base prometheus.Labels, k, v string) prometheus.Labels {
	out := prometheus.Labels{k: v}
	for bk, bv := range base {
		out[bk] = bv
	}
	return out
}

// simulateResourceUsage drifts CPU and heap usage with the in-flight
// request count, so a loaded instance looks loaded to the Metrics View.
func (m *simulatedMetrics) simulateResourceUsage() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		load := float64(m.inFlight.Load())
		cpu := 0.05 + load*0.03 + rand.Float64()*0.02
		if cpu > 1 {
			cpu = 1
		}
		m.cpu.Set(cpu)
		m.heapUsed.Set((100 + load*20 + rand.Float64()*10) * 1024 * 1024)
	}
}

func (m *simulatedMetrics) recordRequest(d time.Duration, statusCode int) {
	status := "200"
	if statusCode >= 400 {
		status = "500"
	}
	m.reqCount.WithLabelValues(status).Inc()
	m.reqSum.Add(d.Seconds())
}
