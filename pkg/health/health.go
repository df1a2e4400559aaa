// Package health implements the Health Prober (C10): a background loop that
// actively GETs each registered instance's health endpoint and reports the
// outcome into the Registry View. Adapted from the teacher's
// pkg/probe.ProbeBackend (an HTTP GET against a backend with the result
// logged and decoded), repurposed here from decoding a bespoke /metrics
// payload to a plain health-endpoint status check feeding SetHealth instead
// of the old PreQual RIF/latency history.
package health

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Pranshu258/rl-proxy/pkg/registry"
)

// Prober periodically checks every known instance's HealthURL and reports
// the result to a *registry.RegistryView.
type Prober struct {
	log    *zap.Logger
	reg    *registry.RegistryView
	client *http.Client
	period time.Duration
}

// New builds a Prober polling every period (default 5s per spec §6).
func New(log *zap.Logger, reg *registry.RegistryView, period time.Duration) *Prober {
	if period <= 0 {
		period = 5 * time.Second
	}
	return &Prober{
		log:    log,
		reg:    reg,
		client: &http.Client{Timeout: 2 * time.Second},
		period: period,
	}
}

// Run probes every instance of every known service on p.period until ctx is
// cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	p.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	for _, svc := range p.reg.AllServices() {
		for _, inst := range p.reg.Instances(svc) {
			go p.probeOne(ctx, inst.Name, inst.HealthURL)
		}
	}
}

func (p *Prober) probeOne(ctx context.Context, instanceName, healthURL string) {
	if healthURL == "" {
		return
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		p.reg.SetHealth(instanceName, false, 0)
		return
	}

	resp, err := p.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		if p.log != nil {
			p.log.Debug("health probe failed", zap.String("instance", instanceName), zap.Error(err))
		}
		p.reg.SetHealth(instanceName, false, elapsed)
		return
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	p.reg.SetHealth(instanceName, healthy, elapsed)
}
