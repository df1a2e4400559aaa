// Package registry implements the Registry View (C1): an
// eventually-consistent snapshot of {service -> []Instance} pulled from an
// external key-value store, replaced atomically after every poll so
// readers never observe a torn snapshot. Adapted from the teacher's
// InMemoryBackendRegistry, generalized to the multi-service, Redis-backed
// shape spec §4.1/§6 describe.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Pranshu258/rl-proxy/pkg/contracts"
)

// ErrNoSnapshot describes a view that has not completed an initial poll yet.
// No View method returns it: before the first poll the readers return nil.
var ErrNoSnapshot = errors.New("registry: no snapshot yet")

// instanceRecord is the JSON shape stored at key service:<instanceId> in the
// backing store, per spec §6.
type instanceRecord struct {
	ServiceName     string `json:"serviceName"`
	InstanceName    string `json:"instanceName"`
	URL             string `json:"url"`
	HealthURL       string `json:"healthUrl"`
	Healthy         bool   `json:"healthy"`
	LastHealthCheck string `json:"lastHealthCheck"`
	ResponseTime    int64  `json:"responseTime"`
}

// serviceSnapshot is one service's view: its ordered instance list plus an
// atomic round-robin cursor, modulo |healthyInstances| at read time.
type serviceSnapshot struct {
	instances []contracts.Instance
	healthy   []contracts.Instance
	cursor    int32
}

// View is the read surface every other component depends on.
type View interface {
	Instances(serviceName string) []contracts.Instance
	HealthyInstances(serviceName string) []contracts.Instance
	AllServices() []string
	NextRoundRobin(serviceName string) (contracts.Instance, bool)
	SnapshotAge() time.Duration
}

// Store is a minimal key-value backing store abstraction so the view can be
// exercised against either a real Redis client or miniredis in tests.
type Store interface {
	Keys(ctx context.Context, pattern string) ([]string, error)
	Get(ctx context.Context, key string) (string, error)
}

// RedisStore adapts *redis.Client to Store.
type RedisStore struct {
	Client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{Client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.Client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	return s.Client.Get(ctx, key).Result()
}

// RegistryView polls a Store every pollPeriod for all keys matching
// "service:*" and replaces its snapshot atomically. Store errors are passed
// to the onErr callback given to Run: a failed key listing keeps the
// previous snapshot, while a key that fails to load or decode is left out of
// the new one. No error propagates to readers.
type RegistryView struct {
	store      Store
	pollPeriod time.Duration

	snapshot   atomic.Pointer[map[string]*serviceSnapshot]
	lastPollAt atomic.Int64 // unix nano

	healthMu    sync.Mutex
	healthState map[string]healthOverride // instanceName -> override
}

type healthOverride struct {
	healthy        bool
	lastCheck      time.Time
	responseTimeMs int64
}

// NewRegistryView constructs a view with an empty initial snapshot.
func NewRegistryView(store Store, pollPeriod time.Duration) *RegistryView {
	v := &RegistryView{
		store:       store,
		pollPeriod:  pollPeriod,
		healthState: make(map[string]healthOverride),
	}
	empty := map[string]*serviceSnapshot{}
	v.snapshot.Store(&empty)
	return v
}

// Run polls the backing store on pollPeriod until ctx is cancelled, passing
// each poll error to onErr when onErr is non-nil.
func (v *RegistryView) Run(ctx context.Context, onErr func(error)) {
	ticker := time.NewTicker(v.pollPeriod)
	defer ticker.Stop()

	v.poll(ctx, onErr)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.poll(ctx, onErr)
		}
	}
}

func (v *RegistryView) poll(ctx context.Context, onErr func(error)) {
	keys, err := v.store.Keys(ctx, "service:*")
	if err != nil {
		if onErr != nil {
			onErr(fmt.Errorf("registry poll: list keys: %w", err))
		}
		return
	}

	byService := make(map[string][]contracts.Instance)
	for _, key := range keys {
		raw, err := v.store.Get(ctx, key)
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("registry poll: get %s: %w", key, err))
			}
			continue
		}
		var rec instanceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("registry poll: decode %s: %w", key, err))
			}
			continue
		}
		inst := v.applyHealthOverride(recordToInstance(rec))
		byService[rec.ServiceName] = append(byService[rec.ServiceName], inst)
	}

	next := make(map[string]*serviceSnapshot, len(byService))
	old := *v.snapshot.Load()
	for svc, instances := range byService {
		sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })
		healthy := make([]contracts.Instance, 0, len(instances))
		for _, inst := range instances {
			if inst.Healthy {
				healthy = append(healthy, inst)
			}
		}
		cursor := int32(0)
		if prev, ok := old[svc]; ok {
			cursor = prev.cursor
		}
		next[svc] = &serviceSnapshot{instances: instances, healthy: healthy, cursor: cursor}
	}

	v.snapshot.Store(&next)
	v.lastPollAt.Store(time.Now().UnixNano())
}

func (v *RegistryView) applyHealthOverride(inst contracts.Instance) contracts.Instance {
	v.healthMu.Lock()
	defer v.healthMu.Unlock()
	if o, ok := v.healthState[inst.Name]; ok {
		inst.Healthy = o.healthy
		inst.LastHealthCheck = o.lastCheck
		inst.ResponseTimeMs = o.responseTimeMs
	}
	return inst
}

// SetHealth is called by the Health Prober (C10) to record the outcome of an
// active probe. It is merged into instances on the next poll and does not
// itself trigger a snapshot replace.
func (v *RegistryView) SetHealth(instanceName string, healthy bool, responseTimeMs int64) {
	v.healthMu.Lock()
	defer v.healthMu.Unlock()
	v.healthState[instanceName] = healthOverride{
		healthy:        healthy,
		lastCheck:      time.Now(),
		responseTimeMs: responseTimeMs,
	}
}

func recordToInstance(rec instanceRecord) contracts.Instance {
	lastCheck, _ := time.Parse(time.RFC3339, rec.LastHealthCheck)
	return contracts.Instance{
		ServiceName:     rec.ServiceName,
		Name:            rec.InstanceName,
		URL:             rec.URL,
		HealthURL:       rec.HealthURL,
		Healthy:         rec.Healthy,
		LastHealthCheck: lastCheck,
		ResponseTimeMs:  rec.ResponseTime,
	}
}

// Instances never blocks on the store; it returns the most recent snapshot,
// possibly empty.
func (v *RegistryView) Instances(serviceName string) []contracts.Instance {
	snap := *v.snapshot.Load()
	s, ok := snap[serviceName]
	if !ok {
		return nil
	}
	out := make([]contracts.Instance, len(s.instances))
	copy(out, s.instances)
	return out
}

// HealthyInstances returns only the currently-healthy subset, satisfying the
// healthyInstances ⊆ instances invariant from spec §3.
func (v *RegistryView) HealthyInstances(serviceName string) []contracts.Instance {
	snap := *v.snapshot.Load()
	s, ok := snap[serviceName]
	if !ok {
		return nil
	}
	out := make([]contracts.Instance, len(s.healthy))
	copy(out, s.healthy)
	return out
}

// AllServices lists every service name currently present in the snapshot.
func (v *RegistryView) AllServices() []string {
	snap := *v.snapshot.Load()
	out := make([]string, 0, len(snap))
	for svc := range snap {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

// NextRoundRobin advances the per-service cursor modulo |healthyInstances|
// and returns the instance it now points at.
func (v *RegistryView) NextRoundRobin(serviceName string) (contracts.Instance, bool) {
	snap := *v.snapshot.Load()
	s, ok := snap[serviceName]
	if !ok || len(s.healthy) == 0 {
		return contracts.Instance{}, false
	}
	n := int32(len(s.healthy))
	idx := atomic.AddInt32(&s.cursor, 1) - 1
	idx = ((idx % n) + n) % n
	return s.healthy[idx], true
}

// SnapshotAge reports how long ago the last successful poll completed; used
// to detect the REGISTRY_STALE condition (snapshot older than 3x poll
// period) from spec §7.
func (v *RegistryView) SnapshotAge() time.Duration {
	last := v.lastPollAt.Load()
	if last == 0 {
		return time.Duration(1<<63 - 1) // effectively "never polled"
	}
	return time.Since(time.Unix(0, last))
}

// IsStale reports whether the snapshot age exceeds 3x the poll period.
func (v *RegistryView) IsStale() bool {
	return v.SnapshotAge() > 3*v.pollPeriod
}
