// Package poolmgr implements the Pool Manager (spec §4.6, C6): a
// process-wide registry mapping a PoolKey to its pool.Pool, constructed
// lazily and exactly once per key, and torn down together on shutdown.
//
// Grounded on the teacher's internal/pool/pool.go top-level sync.Map
// keyed by function id, generalized here to key by domain.PoolKey
// (the content hash of a CapabilityProfile) instead of a function name,
// since multiple functions sharing a profile must share one pool
// (spec §4.6 "Multiple functions with an identical profile share a
// pool").
package poolmgr

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/pool"
	"github.com/hyperclast/firebreak/internal/profile"
	"github.com/hyperclast/firebreak/internal/rpc"
	"github.com/hyperclast/firebreak/internal/runner"
)

// Manager owns every profile's pool for one daemon process.
type Manager struct {
	rt     runner.Runner
	dialer runner.Dialer
	codec  rpc.Codec
	cfg    func(profile *domain.CapabilityProfile) pool.Config
	store  pool.SnapshotStore

	mu    sync.RWMutex
	pools map[domain.PoolKey]*pool.Pool

	construct singleflight.Group

	shuttingDown bool
}

// New builds a Manager. cfg derives a per-profile pool.Config (e.g. from
// static daemon configuration plus the profile's own resource
// declarations); it is called once per pool construction, i.e. once per
// distinct PoolKey and again after each Rebuild of that key. store
// may be nil, meaning pools never persist or recover snapshots across
// restarts.
func New(rt runner.Runner, dialer runner.Dialer, codec rpc.Codec, cfg func(*domain.CapabilityProfile) pool.Config, store pool.SnapshotStore) *Manager {
	return &Manager{
		rt:     rt,
		dialer: dialer,
		codec:  codec,
		cfg:    cfg,
		store:  store,
		pools:  make(map[domain.PoolKey]*pool.Pool),
	}
}

// GetOrCreate returns the pool for p's canonical profile, constructing
// it on first use. Concurrent callers with the same profile are
// coalesced onto a single construction (spec §4.6 "GetOrCreate is
// idempotent under concurrent first use").
func (m *Manager) GetOrCreate(cp *domain.CapabilityProfile) (*pool.Pool, domain.PoolKey, error) {
	key := profile.Hash(cp)

	m.mu.RLock()
	if existing, ok := m.pools[key]; ok {
		m.mu.RUnlock()
		return existing, key, nil
	}
	shuttingDown := m.shuttingDown
	m.mu.RUnlock()
	if shuttingDown {
		return nil, key, pool.ErrShutdown
	}

	v, err, _ := m.construct.Do(key.String(), func() (any, error) {
		m.mu.RLock()
		if existing, ok := m.pools[key]; ok {
			m.mu.RUnlock()
			return existing, nil
		}
		m.mu.RUnlock()

		var opts []pool.Option
		if m.store != nil {
			opts = append(opts, pool.WithSnapshotStore(m.store))
		}
		p := pool.New(key, cp, m.rt, m.dialer, m.codec, m.cfg(cp), opts...)

		m.mu.Lock()
		m.pools[key] = p
		m.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, key, err
	}
	return v.(*pool.Pool), key, nil
}

// Lookup returns the pool already registered under key, if any, without
// constructing one.
func (m *Manager) Lookup(key domain.PoolKey) (*pool.Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[key]
	return p, ok
}

// Rebuild tears down and discards the pool for cp's profile, if one
// exists, so the next GetOrCreate constructs a fresh one. This is the
// only recovery path for a poisoned pool (spec §4.5): provisioning
// failure never self-heals, an operator must explicitly ask for a
// rebuild.
func (m *Manager) Rebuild(cp *domain.CapabilityProfile) {
	key := profile.Hash(cp)

	m.mu.Lock()
	old, ok := m.pools[key]
	delete(m.pools, key)
	m.mu.Unlock()

	if ok {
		old.Shutdown()
	}
	if deleter, ok := m.store.(interface {
		Delete(ctx context.Context, key domain.PoolKey) error
	}); ok {
		_ = deleter.Delete(context.Background(), key)
	}
}

// Keys returns every currently registered PoolKey, for stats/CLI use.
func (m *Manager) Keys() []domain.PoolKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]domain.PoolKey, 0, len(m.pools))
	for k := range m.pools {
		keys = append(keys, k)
	}
	return keys
}

// Shutdown stops accepting new pool construction and drains every pool
// concurrently (spec §4.6 "global Shutdown tears down every pool").
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.shuttingDown = true
	pools := make([]*pool.Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *pool.Pool) {
			defer wg.Done()
			p.Shutdown()
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
