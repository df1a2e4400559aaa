// Command backend is a local simulation fixture standing in for a real
// service instance: it registers itself into the Redis-backed registry,
// simulates request latency proportional to its current load, answers a
// plain-text health check, and exposes its telemetry as Prometheus metrics
// so the Metrics View's PromQL queries have something real to hit end to end.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	baseLatencyMs   = 50.0
	latencyStddevMs = 10.0
	latencyPerInFlight = 1.0
)

type instanceRecord struct {
	ServiceName     string `json:"serviceName"`
	InstanceName    string `json:"instanceName"`
	URL             string `json:"url"`
	HealthURL       string `json:"healthUrl"`
	Healthy         bool   `json:"healthy"`
	LastHealthCheck string `json:"lastHealthCheck"`
	ResponseTime    int64  `json:"responseTime"`
}

func main() {
	serviceName := getenv("SERVICE_NAME", "cart")
	instanceName := getenv("INSTANCE_NAME", "cart-"+getenv("PORT", "8081"))
	port := getenv("PORT", "8081")
	host := getenv("HOST", "localhost")
	selfURL := fmt.Sprintf("http://%s:%s", host, port)
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")

	metrics := newSimulatedMetrics(instanceName)
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})

	go registerLoop(redisClient, serviceName, instanceName, selfURL)

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.inFlight.Add(1)
		inFlight := metrics.inFlight.Load()
		defer metrics.inFlight.Add(-1)

		latency := simulateLatency(inFlight)
		time.Sleep(latency)

		w.Header().Set("X-Backend-Instance", instanceName)
		fmt.Fprintf(w, "served by %s in %.2fms (in-flight=%d)\n", instanceName, float64(latency.Microseconds())/1000, inFlight)
		metrics.recordRequest(time.Since(start), http.StatusOK)
	})

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	http.Handle("/metrics", promhttp.Handler())

	log.Printf("backend %s listening at %s (service=%s)", instanceName, selfURL, serviceName)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("backend server failed: %v", err)
	}
}

// simulateLatency produces a gaussian base latency plus load-proportional
// jitter, so heavier in-flight counts look slower to the Reward Calculator.
func simulateLatency(inFlight int64) time.Duration {
	base := math.Max(0, rand.NormFloat64()*latencyStddevMs+baseLatencyMs)
	jitter := float64(inFlight) * latencyPerInFlight
	return time.Duration((base + jitter) * float64(time.Millisecond))
}

// registerLoop writes this instance's registry record to Redis on startup
// and refreshes it on a heartbeat, matching the "service:<instanceName>"
// key shape the Registry View polls for.
func registerLoop(client *redis.Client, serviceName, instanceName, url string) {
	ctx := context.Background()
	rec := instanceRecord{
		ServiceName:  serviceName,
		InstanceName: instanceName,
		URL:          url,
		HealthURL:    url + "/health",
		Healthy:      true,
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		rec.LastHealthCheck = time.Now().Format(time.RFC3339)
		data, err := json.Marshal(rec)
		if err != nil {
			log.Printf("registration marshal error: %v", err)
		} else if err := client.Set(ctx, "service:"+instanceName, string(data), 0).Err(); err != nil {
			log.Printf("registration failed: %v", err)
		}
		<-ticker.C
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
