// Package pool implements the VM Worker Pool (spec §4.5, C5): one pool
// per capability profile, owning a set of warm VMs with lifecycle,
// admission, recycling, and maintenance.
//
// # Design rationale
//
// Booting a micro-VM costs tens to hundreds of milliseconds even with a
// snapshot restore. To amortize that cost across calls, a Pool keeps VMs
// alive between invocations and only tears one down when it is tainted,
// idle past MaxIdle, or has served MaxCallsPerVM calls.
//
// # Concurrency model
//
// Pool state (ready/in-use/booting sets, waiter count) is protected by a
// single sync.RWMutex; a sync.Cond bound to its write side wakes
// goroutines waiting for a VM to free up (see acquisition.go). Hot-path
// counters that maintenance and metrics read frequently are atomics so
// they never contend with the acquire/release critical section.
//
// # Invariants
//
//   - len(ready)+len(inUse)+boot <= MaxSize at all times.
//   - Snapshot is created at most once per pool (guarded by a
//     singleflight group, not just a boolean, so concurrent first-use
//     acquisitions cannot race two provisioning attempts).
//   - A WorkerVM is in ready iff it is not currently checked out.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/logging"
	"github.com/hyperclast/firebreak/internal/metrics"
	"github.com/hyperclast/firebreak/internal/rpc"
	"github.com/hyperclast/firebreak/internal/runner"
)

var (
	ErrPoolExhausted        = errors.New("pool exhausted")
	ErrProvisioningPoisoned = errors.New("pool poisoned: provisioning failed")
	ErrShutdown             = errors.New("pool is shutting down")

	// ErrInflightLimit and ErrQueueFull are the capacity-policy
	// supplement's finer-grained sentinels (SPEC_FULL.md §C); both fold
	// into domain.FailurePoolExhausted at the Sandbox Manager boundary
	// (spec §7 names only one pool-acquisition failure kind), but callers
	// of Pool.Acquire directly (tests, operator tooling) can still tell
	// them apart with errors.Is.
	ErrInflightLimit    = errors.New("inflight limit reached")
	ErrQueueFull        = errors.New("queue depth limit reached")
	ErrQueueWaitTimeout = errors.New("queue wait limit exceeded")
)

const (
	DefaultMaxIdle         = 60 * time.Second
	DefaultCleanupInterval = 10 * time.Second
	DefaultAcquireSlack    = 250 * time.Millisecond
	installFunctionRef     = domain.ProvisionInstallFunctionRef
)

// Config parameterizes one profile's pool (spec §4.5 "State", plus the
// capacity-policy supplement from SPEC_FULL.md §C).
type Config struct {
	MinSize         int
	MaxSize         int
	MaxCallsPerVM   int // 0 = unlimited
	MaxIdle         time.Duration
	CleanupInterval time.Duration
	AcquireSlack    time.Duration // added to cpu_ms to form the acquire deadline (spec §4.7 step 2)

	MaxInflight   int           // 0 = unlimited
	MaxQueueDepth int           // 0 = unlimited
	MaxQueueWait  time.Duration // 0 = unbounded (bounded by caller's deadline instead)
}

func (c *Config) setDefaults() {
	if c.MaxIdle == 0 {
		c.MaxIdle = DefaultMaxIdle
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.AcquireSlack == 0 {
		c.AcquireSlack = DefaultAcquireSlack
	}
	if c.MaxSize == 0 {
		c.MaxSize = 1
	}
}

// WorkerVM is a handle to a live, pool-owned VM plus its persistent RPC
// client. It must be returned via Pool.Release when the call completes.
type WorkerVM struct {
	Handle *domain.VMHandle
	Client *rpc.Client
}

// SnapshotStore persists the one snapshot a pool produces so a daemon
// restart can restore from it instead of re-running the provisioning
// pipeline (SPEC_FULL.md §C's snapshot registry). Implemented by
// internal/registry.Registry; nil is a valid value meaning "no durable
// store configured".
type SnapshotStore interface {
	Get(ctx context.Context, key domain.PoolKey) (*domain.Snapshot, bool, error)
	Put(ctx context.Context, key domain.PoolKey, snap *domain.Snapshot) error
	IncrementRestoreCount(ctx context.Context, key domain.PoolKey) error
}

// Option configures optional Pool behavior not carried by Config.
type Option func(*Pool)

// WithSnapshotStore attaches a durable snapshot store. On construction
// the pool checks it for an existing snapshot before ever provisioning;
// after a successful provisioning run it writes the result back.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(p *Pool) { p.store = store }
}

// Pool owns every VM for one capability profile (one PoolKey). The zero
// value is not usable; construct with New.
type Pool struct {
	key     domain.PoolKey
	profile *domain.CapabilityProfile
	rt      runner.Runner
	dialer  runner.Dialer
	codec   rpc.Codec
	cfg     Config

	mu    sync.RWMutex
	cond  *sync.Cond
	ready []*WorkerVM
	inUse map[*WorkerVM]struct{}
	boot  int // count of in-flight boot/restore attempts

	snapshot  *domain.Snapshot
	poisonErr error
	waiters   int
	store     SnapshotStore

	provisionOnce singleflight.Group

	closing atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	totalVMs atomic.Int32
}

// New constructs a pool for profile/key using rt as the VM Runner and
// dialer as the RPC stream source. cfg's zero fields are
// filled with defaults (spec §4.5's MinSize/MaxSize/... state).
func New(key domain.PoolKey, profile *domain.CapabilityProfile, rt runner.Runner, dialer runner.Dialer, codec rpc.Codec, cfg Config, opts ...Option) *Pool {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		key:     key,
		profile: profile,
		rt:      rt,
		dialer:  dialer,
		codec:   codec,
		cfg:     cfg,
		inUse:   make(map[*WorkerVM]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cond = sync.NewCond(&p.mu)

	if p.store != nil {
		if snap, ok, err := p.store.Get(ctx, key); err == nil && ok {
			p.snapshot = snap
		}
	}

	p.wg.Add(1)
	go p.maintenanceLoop()
	return p
}

// Key returns the profile's PoolKey.
func (p *Pool) Key() domain.PoolKey { return p.key }

// AcquireSlack returns the configured deadline padding sandbox.Manager
// adds to a profile's CallDeadline when bounding Acquire (spec §4.7
// step 2).
func (p *Pool) AcquireSlack() time.Duration { return p.cfg.AcquireSlack }

// Stats is a point-in-time snapshot of pool occupancy (spec §8's
// counting invariants), exported for metrics and tests.
type Stats struct {
	Ready   int
	InUse   int
	Booting int
	Total   int
}

func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Ready:   len(p.ready),
		InUse:   len(p.inUse),
		Booting: p.boot,
		Total:   len(p.ready) + len(p.inUse) + p.boot,
	}
}

// Shutdown drains the pool: stop accepting acquisitions, wake all
// waiters with ErrShutdown, hard-kill every VM, and drop the snapshot
// reference (spec §4.6's per-pool half of global shutdown).
func (p *Pool) Shutdown() {
	if !p.closing.CompareAndSwap(false, true) {
		return
	}
	p.cancel()

	p.mu.Lock()
	toKill := make([]*WorkerVM, 0, len(p.ready)+len(p.inUse))
	toKill = append(toKill, p.ready...)
	for vm := range p.inUse {
		toKill = append(toKill, vm)
	}
	p.ready = nil
	p.inUse = make(map[*WorkerVM]struct{})
	p.snapshot = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, vm := range toKill {
		_ = vm.Client.Close()
		_ = p.rt.HardKill(vm.Handle)
		p.totalVMs.Add(-1)
	}
	logging.Op().Info("pool shut down", "pool_key", p.key.String(), "vms_killed", len(toKill))
	metrics.SetPoolOccupancy(p.key.String(), 0, 0, 0)
	p.wg.Wait()
}

