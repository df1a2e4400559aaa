package metricsview

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrometheus answers every query with a fixed value, or 500s when
// failAll is set, to exercise both the happy path and the circuit breaker.
type fakePrometheus struct {
	failAll bool
	calls   int
}

func (f *fakePrometheus) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.calls++
		if f.failAll {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		q := r.URL.Query().Get("query")
		value := "1"
		if q != "" {
			value = "42"
		}
		fmt.Fprintf(w, `{"data":{"result":[{"value":[0,%q]}]}}`, value)
	}
}

func newServer(t *testing.T, f *fakePrometheus) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchMetricsHappyPath(t *testing.T) {
	f := &fakePrometheus{}
	srv := newServer(t, f)

	mv := New(Config{
		BaseURL:          srv.URL,
		CacheTTL:         10 * time.Millisecond,
		FailureThreshold: 5,
		OpenDuration:     time.Second,
	})

	metrics := mv.FetchMetrics(context.Background(), "cart", []string{"cart-1"})
	require.Contains(t, metrics, "cart-1")
	assert.Equal(t, float64(4200), metrics["cart-1"].CPUPct)
}

func TestFetchMetricsUsesCacheWithinTTL(t *testing.T) {
	f := &fakePrometheus{}
	srv := newServer(t, f)

	mv := New(Config{BaseURL: srv.URL, CacheTTL: time.Minute, FailureThreshold: 5, OpenDuration: time.Second})

	mv.FetchMetrics(context.Background(), "cart", []string{"cart-1"})
	firstCalls := f.calls
	mv.FetchMetrics(context.Background(), "cart", []string{"cart-1"})
	assert.Equal(t, firstCalls, f.calls, "expected second call to be served from cache")
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	f := &fakePrometheus{failAll: true}
	srv := newServer(t, f)

	mv := New(Config{BaseURL: srv.URL, CacheTTL: time.Nanosecond, FailureThreshold: 2, OpenDuration: time.Minute})

	for i := 0; i < 2; i++ {
		metrics := mv.FetchMetrics(context.Background(), "cart", []string{"cart-1"})
		assert.Empty(t, metrics)
		time.Sleep(time.Millisecond)
	}
	assert.True(t, mv.IsOpen(), "breaker should be open after repeated failures")

	callsBeforeOpenCheck := f.calls
	mv.FetchMetrics(context.Background(), "cart", []string{"cart-1"})
	assert.Equal(t, callsBeforeOpenCheck, f.calls, "an open breaker must short-circuit without hitting the server")
}

func TestQueryInstantTriesPodLabelsInOrder(t *testing.T) {
	var sawLabels []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		parsed, _ := url.QueryUnescape(q)
		sawLabels = append(sawLabels, parsed)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mv := New(Config{BaseURL: srv.URL, CacheTTL: time.Millisecond, FailureThreshold: 100, OpenDuration: time.Second})
	_, err := mv.queryInstant(context.Background(), "process_cpu_usage", "cart-1", "cart")
	require.Error(t, err)
	require.Len(t, sawLabels, len(podLabels)+1)
	assert.Contains(t, sawLabels[0], `pod_name="cart-1"`)
}
