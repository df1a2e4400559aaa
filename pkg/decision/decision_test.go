package decision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Pranshu258/rl-proxy/pkg/config"
	"github.com/Pranshu258/rl-proxy/pkg/contracts"
	"github.com/Pranshu258/rl-proxy/pkg/metricsview"
	"github.com/Pranshu258/rl-proxy/pkg/qtable"
	"github.com/Pranshu258/rl-proxy/pkg/reward"
	"github.com/Pranshu258/rl-proxy/pkg/selector"
	"github.com/Pranshu258/rl-proxy/pkg/stateencoder"
)

type fakeRegistry struct {
	instances map[string][]contracts.Instance
}

func (f *fakeRegistry) Instances(service string) []contracts.Instance { return f.instances[service] }
func (f *fakeRegistry) HealthyInstances(service string) []contracts.Instance {
	return f.instances[service]
}
func (f *fakeRegistry) AllServices() []string { return nil }
func (f *fakeRegistry) NextRoundRobin(service string) (contracts.Instance, bool) {
	insts := f.instances[service]
	if len(insts) == 0 {
		return contracts.Instance{}, false
	}
	return insts[0], true
}
func (f *fakeRegistry) SnapshotAge() time.Duration { return 0 }

func newTestService(t *testing.T) (*Service, *fakeRegistry) {
	t.Helper()
	prom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"result":[{"value":[0,"1"]}]}}`)
	}))
	t.Cleanup(prom.Close)

	reg := &fakeRegistry{instances: map[string][]contracts.Instance{
		"cart": {
			{ServiceName: "cart", Name: "cart-1", Healthy: true},
			{ServiceName: "cart", Name: "cart-2", Healthy: true},
		},
	}}

	mv := metricsview.New(metricsview.Config{BaseURL: prom.URL, CacheTTL: time.Millisecond, FailureThreshold: 5, OpenDuration: time.Second})
	enc := stateencoder.New(config.Default().BinWidths, stateencoder.ModePerAction)
	tbl := qtable.New(0.3, 0.95)
	sel := selector.New(tbl, 0, 0, 1, 0)
	rc := reward.New(config.Default().RewardWeights, "adaptive")

	svc := New(zap.NewNop(), reg, mv, enc, sel, tbl, rc, 100*time.Millisecond)
	return svc, reg
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestDecideReturnsAvailablePod(t *testing.T) {
	svc, _ := newTestService(t)

	body, _ := json.Marshal(contracts.DecideRequest{ServiceName: "cart"})
	req := httptest.NewRequest(http.MethodPost, "/decide", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	svc.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp contracts.DecideResponse
	decodeBody(t, rec, &resp)
	if resp.SelectedPod != "cart-1" && resp.SelectedPod != "cart-2" {
		t.Fatalf("unexpected selected pod: %s", resp.SelectedPod)
	}
	if resp.DecisionID == "" {
		t.Fatalf("expected a decision id")
	}
}

func TestDecideReturns503WhenNoInstances(t *testing.T) {
	svc, reg := newTestService(t)
	reg.instances["cart"] = nil

	body, _ := json.Marshal(contracts.DecideRequest{ServiceName: "cart"})
	req := httptest.NewRequest(http.MethodPost, "/decide", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	svc.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestFeedbackUpdatesQTable(t *testing.T) {
	svc, _ := newTestService(t)

	decideBody, _ := json.Marshal(contracts.DecideRequest{ServiceName: "cart"})
	decideReq := httptest.NewRequest(http.MethodPost, "/decide", bytes.NewReader(decideBody))
	decideRec := httptest.NewRecorder()
	svc.Router().ServeHTTP(decideRec, decideReq)

	var decideResp contracts.DecideResponse
	decodeBody(t, decideRec, &decideResp)

	before := svc.table.Size()

	fbBody, _ := json.Marshal(contracts.FeedbackRequest{
		ServiceName:    "cart",
		SelectedPod:    decideResp.SelectedPod,
		ResponseTimeMs: 20,
		StatusCode:     200,
		DecisionID:     decideResp.DecisionID,
	})
	fbReq := httptest.NewRequest(http.MethodPost, "/feedback", bytes.NewReader(fbBody))
	fbRec := httptest.NewRecorder()
	svc.Router().ServeHTTP(fbRec, fbReq)

	if fbRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", fbRec.Code, fbRec.Body.String())
	}
	if svc.table.Size() <= before {
		t.Fatalf("expected the q-table to grow after feedback")
	}
}

func TestHealthAndStatsEndpoints(t *testing.T) {
	svc, _ := newTestService(t)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 from /stats, got %d", rec2.Code)
	}
}
