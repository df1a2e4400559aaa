package cmd

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Pranshu258/rl-proxy/pkg/config"
	"github.com/Pranshu258/rl-proxy/pkg/decision"
	"github.com/Pranshu258/rl-proxy/pkg/health"
	"github.com/Pranshu258/rl-proxy/pkg/logging"
	"github.com/Pranshu258/rl-proxy/pkg/metricsview"
	"github.com/Pranshu258/rl-proxy/pkg/notify"
	"github.com/Pranshu258/rl-proxy/pkg/proxy"
	"github.com/Pranshu258/rl-proxy/pkg/qtable"
	"github.com/Pranshu258/rl-proxy/pkg/registry"
	"github.com/Pranshu258/rl-proxy/pkg/reward"
	"github.com/Pranshu258/rl-proxy/pkg/selector"
	"github.com/Pranshu258/rl-proxy/pkg/stateencoder"
	"github.com/Pranshu258/rl-proxy/pkg/switchboard"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy, decision service, switchboard, and health prober",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := registry.NewRedisStore(cfg.RedisAddr)
	reg := registry.NewRegistryView(store, cfg.RegistryPollPeriod)
	go reg.Run(ctx, func(err error) { log.Warn("registry poll error", zap.Error(err)) })

	prober := health.New(log, reg, cfg.HealthProbePeriod)
	go prober.Run(ctx)

	mv := metricsview.New(metricsview.Config{
		BaseURL:          cfg.PrometheusBase,
		CacheTTL:         cfg.MetricsCacheTTL,
		FailureThreshold: uint32(cfg.CBFailureThreshold),
		OpenDuration:     cfg.CBOpenDuration,
	})

	encoder := stateencoder.New(cfg.BinWidths, stateencoder.Mode(cfg.EncodingMode))
	table := qtable.New(cfg.LearningRate, cfg.DiscountFactor)
	loadQTableSnapshot(log, table, cfg.QTableSnapshotPath)

	sel := selector.New(table, cfg.EpsilonStart, cfg.EpsilonMin, cfg.EpsilonDecay, cfg.ConfidenceThreshold)
	rewardCalc := reward.New(cfg.RewardWeights, cfg.RewardMode)

	decisionSvc := decision.New(log, reg, mv, encoder, sel, table, rewardCalc, cfg.DecisionCacheTTL)
	go func() {
		log.Info("decision service listening", zap.String("addr", cfg.DecisionAddr))
		if err := http.ListenAndServe(cfg.DecisionAddr, decisionSvc.Router()); err != nil {
			log.Error("decision service stopped", zap.Error(err))
		}
	}()

	notifier := notify.New(cfg.SlackWebhookURL)

	dispatcher := proxy.New(ctx, log, proxy.Config{
		UpstreamTimeout:      cfg.UpstreamTimeout,
		FeedbackURL:          "http://" + trimScheme(cfg.DecisionAddr) + "/feedback",
		FeedbackQueueCap:     cfg.FeedbackQueueCap,
		FeedbackRetryEnabled: cfg.FeedbackRetryEnabled,
	})

	sb := switchboard.New(reg, dispatcher, "http://"+trimScheme(cfg.DecisionAddr)+"/decide")
	sb.SetNotifier(notifier)
	go watchCircuitBreaker(ctx, log, mv, notifier)

	if cfg.QTableSnapshotPath != "" {
		go periodicSnapshot(ctx, log, table, cfg.QTableSnapshotPath)
	}

	selfMetrics := prometheus.NewRegistry()
	decisionSvc.RegisterMetrics(selfMetrics)
	sb.RegisterMetrics(selfMetrics)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(selfMetrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.PathPrefix("/benchmark/").Handler(sb.Router())
	router.PathPrefix("/").HandlerFunc(proxyHandler(sb, dispatcher))

	log.Info("proxy listening", zap.String("addr", cfg.ProxyAddr))

	srv := &http.Server{Addr: cfg.ProxyAddr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("proxy server failed", zap.Error(err))
		}
	}()

	waitForShutdown()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// proxyHandler extracts a leading "/{service}" path segment to identify the
// target service, asks the switchboard to choose an instance, and forwards
// the remainder of the path through the dispatcher.
func proxyHandler(sb *switchboard.Switchboard, dispatcher *proxy.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceName, rest := splitServicePath(r.URL.Path)
		if serviceName == "" {
			http.NotFound(w, r)
			return
		}

		choice, ok := sb.Choose(r.Context(), serviceName)
		if !ok {
			http.Error(w, "no healthy instances", http.StatusServiceUnavailable)
			return
		}

		target, err := url.Parse(choice.Instance.URL)
		if err != nil {
			http.Error(w, "bad instance url", http.StatusInternalServerError)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.URL.Path = rest
		dispatcher.Forward(rec, r, target, serviceName, choice.Instance.Name, choice.DecisionID)

		sb.RecordOutcome(choice.Algorithm, r.URL.Path, rec.status, float64(time.Since(start).Microseconds())/1000)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func splitServicePath(path string) (service, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "/"
	}
	if len(parts) == 1 {
		return parts[0], "/"
	}
	return parts[0], "/" + parts[1]
}

func trimScheme(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func loadQTableSnapshot(log *zap.Logger, table *qtable.Table, path string) {
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return // no prior snapshot; start cold
	}
	defer f.Close()
	if err := table.Restore(f); err != nil {
		log.Warn("failed to restore q-table snapshot", zap.Error(err))
	}
}

func periodicSnapshot(ctx context.Context, log *zap.Logger, table *qtable.Table, path string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f, err := os.Create(path)
			if err != nil {
				log.Warn("failed to open q-table snapshot for writing", zap.Error(err))
				continue
			}
			if err := table.Snapshot(f); err != nil {
				log.Warn("failed to write q-table snapshot", zap.Error(err))
			}
			f.Close()
		}
	}
}

func watchCircuitBreaker(ctx context.Context, log *zap.Logger, mv *metricsview.MetricsView, notifier notify.Notifier) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	wasOpen := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			open := mv.IsOpen()
			if open && !wasOpen {
				log.Warn("metrics view circuit breaker opened")
				notifier.Notify(notify.CircuitBreakerTripped("metrics-view"))
			}
			wasOpen = open
		}
	}
}
