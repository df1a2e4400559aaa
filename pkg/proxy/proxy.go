// Package proxy implements the Proxy Dispatcher (C8): the reverse-proxy
// forwarder that ships every inbound request to the instance the Algorithm
// Switchboard chose, then reports the outcome back to the Decision Service
// asynchronously. Grounded on the teacher's cmd/proxy main.go, which wraps
// httputil.NewSingleHostReverseProxy per request; this keeps that shape and
// adds the per-instance connection accounting and async feedback delivery
// spec §4.8 requires.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Pranshu258/rl-proxy/pkg/contracts"
)

// hopByHopHeaders are stripped before forwarding, per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Config bundles the Dispatcher's tunables from spec §6.
type Config struct {
	UpstreamTimeout      time.Duration
	FeedbackURL          string
	FeedbackQueueCap     int
	FeedbackRetryEnabled bool
}

// Dispatcher forwards requests to a chosen backend instance and reports the
// outcome to the Decision Service over a bounded, best-effort queue.
type Dispatcher struct {
	log    *zap.Logger
	client *http.Client
	cfg    Config

	feedbackClient *http.Client
	feedbackCh     chan contracts.FeedbackRequest
	dropped        atomic.Int64

	connMu sync.Mutex
	active map[string]*atomic.Int64
}

// New builds a Dispatcher and starts its background feedback-delivery
// worker. Callers should cancel ctx to stop the worker during shutdown.
func New(ctx context.Context, log *zap.Logger, cfg Config) *Dispatcher {
	if cfg.FeedbackQueueCap <= 0 {
		cfg.FeedbackQueueCap = 10000
	}
	d := &Dispatcher{
		log:            log,
		client:         &http.Client{}, // per-request timeout is applied via context, not a shared Client.Timeout
		cfg:            cfg,
		feedbackClient: &http.Client{Timeout: 2 * time.Second},
		feedbackCh:     make(chan contracts.FeedbackRequest, cfg.FeedbackQueueCap),
		active:         make(map[string]*atomic.Int64),
	}
	go d.runFeedbackWorker(ctx)
	return d
}

// ActiveConnections reports the current in-flight request count for an
// instance, used by the Algorithm Switchboard's least-connections path.
func (d *Dispatcher) ActiveConnections(instanceName string) int64 {
	d.connMu.Lock()
	counter, ok := d.active[instanceName]
	d.connMu.Unlock()
	if !ok {
		return 0
	}
	return counter.Load()
}

// DroppedFeedback reports how many feedback reports were dropped because the
// queue was full, for the self-observability surface.
func (d *Dispatcher) DroppedFeedback() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) counterFor(instanceName string) *atomic.Int64 {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	c, ok := d.active[instanceName]
	if !ok {
		c = &atomic.Int64{}
		d.active[instanceName] = c
	}
	return c
}

// Forward proxies r to target, preserving method, headers, body, and query
// string. It reports the outcome (status code, latency, error) to the
// feedback queue, tagged with serviceName/instanceName/decisionID so the
// Decision Service can attribute it to the right (state, action) pair.
func (d *Dispatcher) Forward(w http.ResponseWriter, r *http.Request, target *url.URL, serviceName, instanceName, decisionID string) {
	counter := d.counterFor(instanceName)
	counter.Add(1)
	defer counter.Add(-1)

	timeout := d.cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	start := time.Now()
	statusCode := 0
	var upstreamErr error

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.Transport = d.client.Transport
	originalDirector := rp.Director
	rp.Director = func(req *http.Request) {
		originalDirector(req)
		stripHopByHop(req.Header)
	}
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	rp.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		upstreamErr = err
		if ctx.Err() == context.DeadlineExceeded {
			writeError(w, http.StatusGatewayTimeout, contracts.ErrUpstreamTimeout, serviceName)
			statusCode = http.StatusGatewayTimeout
			return
		}
		writeError(w, http.StatusBadGateway, contracts.ErrUpstreamError, serviceName)
		statusCode = http.StatusBadGateway
	}

	rp.ServeHTTP(rec, r.WithContext(ctx))
	if statusCode == 0 {
		statusCode = rec.status
	}

	latencyMs := float64(time.Since(start).Microseconds()) / 1000
	d.enqueueFeedback(contracts.FeedbackRequest{
		ServiceName:    serviceName,
		SelectedPod:    instanceName,
		ResponseTimeMs: latencyMs,
		StatusCode:     statusCode,
		ErrorOccurred:  upstreamErr != nil || statusCode >= 500,
		DecisionID:     decisionID,
	})
}

// enqueueFeedback drops the oldest queued report and counts the drop when
// the queue is full, per spec §4.8's backpressure policy, rather than
// blocking the request path on a slow Decision Service.
func (d *Dispatcher) enqueueFeedback(fb contracts.FeedbackRequest) {
	select {
	case d.feedbackCh <- fb:
	default:
		select {
		case <-d.feedbackCh:
			d.dropped.Add(1)
			if d.log != nil {
				d.log.Warn("feedback queue full, dropped oldest report")
			}
		default:
		}
		select {
		case d.feedbackCh <- fb:
		default:
			d.dropped.Add(1)
		}
	}
}

func (d *Dispatcher) runFeedbackWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fb := <-d.feedbackCh:
			d.deliverFeedback(fb)
		}
	}
}

func (d *Dispatcher) deliverFeedback(fb contracts.FeedbackRequest) {
	if d.cfg.FeedbackURL == "" {
		return
	}
	body, err := json.Marshal(fb)
	if err != nil {
		return
	}

	if d.post(body) {
		return
	}
	if d.cfg.FeedbackRetryEnabled {
		time.Sleep(10 * time.Millisecond)
		if d.post(body) {
			return
		}
	}
	if d.log != nil {
		d.log.Warn("feedback delivery failed", zap.String("service", fb.ServiceName), zap.String("pod", fb.SelectedPod))
	}
}

func (d *Dispatcher) post(body []byte) bool {
	resp, err := d.feedbackClient.Post(d.cfg.FeedbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func stripHopByHop(h http.Header) {
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}

func writeError(w http.ResponseWriter, status int, kind contracts.ErrorKind, service string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(contracts.ErrorBody{Error: string(kind), Service: service})
}
