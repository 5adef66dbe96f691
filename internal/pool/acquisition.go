package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/logging"
	"github.com/hyperclast/firebreak/internal/metrics"
	"github.com/hyperclast/firebreak/internal/rpc"
)

// Acquire returns a ready WorkerVM for the caller's exclusive use, or an
// error once ctx's deadline passes or the pool is shut down (spec §4.5
// "Acquire"). It blocks on a sync.Cond rather than polling, and runs the
// first-use provisioning pipeline transparently when the profile
// declares dependencies.
//
// The capacity-policy supplement (SPEC_FULL.md §C) rejects immediately,
// before ever waiting, when MaxInflight or MaxQueueDepth is already
// saturated: a caller that cannot possibly be served within the
// configured bound gets an error wrapping both ErrPoolExhausted and the
// specific limit's sentinel fast, instead of consuming a
// context-cancellation wait.
func (p *Pool) Acquire(ctx context.Context) (*WorkerVM, error) {
	if p.closing.Load() {
		return nil, ErrShutdown
	}

	if err := p.ensureProvisioned(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.cfg.MaxInflight > 0 && len(p.inUse) >= p.cfg.MaxInflight {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, ErrInflightLimit)
	}

	if vm := p.takeWarmLocked(); vm != nil {
		p.mu.Unlock()
		stampAcquired(vm)
		return vm, nil
	}

	if p.cfg.MaxQueueDepth > 0 && p.waiters >= p.cfg.MaxQueueDepth {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, ErrQueueFull)
	}

	if !p.canBootLocked() {
		p.mu.Unlock()
		return p.waitForVM(ctx)
	}
	p.boot++
	p.mu.Unlock()

	vm, err := p.bootOne(ctx)

	p.mu.Lock()
	p.boot--
	if err != nil {
		p.mu.Unlock()
		p.cond.Broadcast()
		return nil, err
	}
	p.totalVMs.Add(1)
	p.inUse[vm] = struct{}{}
	p.mu.Unlock()
	stampAcquired(vm)
	return vm, nil
}

// canBootLocked reports whether another VM may be started without
// breaching MaxSize. Must be called with p.mu held.
func (p *Pool) canBootLocked() bool {
	total := len(p.ready) + len(p.inUse) + p.boot
	return total < p.cfg.MaxSize
}

// takeWarmLocked pops a ready VM into inUse and returns it, or nil if
// none are ready. Must be called with p.mu held.
func (p *Pool) takeWarmLocked() *WorkerVM {
	if len(p.ready) == 0 {
		return nil
	}
	n := len(p.ready)
	vm := p.ready[n-1]
	p.ready = p.ready[:n-1]
	p.inUse[vm] = struct{}{}
	return vm
}

// waitForVM blocks on the pool's condition variable until a VM frees up,
// a boot slot becomes available, ctx is done, or the pool is shut down.
// It tracks p.waiters so capacity policy can see the queue depth.
func (p *Pool) waitForVM(ctx context.Context) (*WorkerVM, error) {
	waitCtx := ctx
	if p.cfg.MaxQueueWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.cfg.MaxQueueWait)
		defer cancel()
	}

	cancelled := make(chan struct{})
	stop := context.AfterFunc(waitCtx, func() {
		close(cancelled)
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	p.waiters++
	for {
		select {
		case <-cancelled:
			p.waiters--
			p.mu.Unlock()
			if ctx.Err() == nil {
				// waitCtx expired but the caller's own ctx has not: the
				// capacity policy's MaxQueueWait fired, not the caller.
				return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, ErrQueueWaitTimeout)
			}
			return nil, ctx.Err()
		default:
		}
		if p.closing.Load() {
			p.waiters--
			p.mu.Unlock()
			return nil, ErrShutdown
		}
		if vm := p.takeWarmLocked(); vm != nil {
			p.waiters--
			p.mu.Unlock()
			stampAcquired(vm)
			return vm, nil
		}
		if p.canBootLocked() {
			p.boot++
			p.waiters--
			p.mu.Unlock()

			vm, err := p.bootOne(ctx)

			p.mu.Lock()
			p.boot--
			if err != nil {
				p.mu.Unlock()
				p.cond.Broadcast()
				return nil, err
			}
			p.totalVMs.Add(1)
			p.inUse[vm] = struct{}{}
			p.mu.Unlock()
			stampAcquired(vm)
			return vm, nil
		}
		p.cond.Wait()
	}
}

// bootOne boots (or restores, if a snapshot exists) a new VM and dials
// its stream endpoint. Caller owns p.boot bookkeeping; this does not
// touch pool state itself.
func (p *Pool) bootOne(ctx context.Context) (*WorkerVM, error) {
	start := time.Now()

	p.mu.RLock()
	snap := p.snapshot
	p.mu.RUnlock()

	var handle *domain.VMHandle
	var err error
	if snap != nil {
		handle, err = p.rt.Restore(ctx, snap)
	} else {
		handle, err = p.rt.Boot(ctx, p.vmConfig(nil))
	}
	if err != nil {
		return nil, err
	}

	if snap != nil && p.store != nil {
		if err := p.store.IncrementRestoreCount(ctx, p.key); err != nil {
			logging.Op().Warn("failed to record snapshot restore", "pool_key", p.key.String(), "err", err)
		}
	}

	conn, err := p.dialer.Dial(ctx, handle)
	if err != nil {
		_ = p.rt.HardKill(handle)
		return nil, err
	}

	metrics.RecordVMBoot(float64(time.Since(start).Milliseconds()))
	metrics.IncVMsBooted()
	logging.Op().Debug("vm booted", "pool_key", p.key.String(), "vm_id", handle.ID, "restored", snap != nil)

	return &WorkerVM{Handle: handle, Client: rpc.NewClient(conn)}, nil
}

// stampAcquired marks a VM's handle state/timestamp as it leaves the
// pool for caller use. Every call site invokes it after releasing p.mu.
func stampAcquired(vm *WorkerVM) {
	vm.Handle.State = domain.VMInUse
	vm.Handle.LastUsedAt = time.Now()
}

// ReleaseOutcome classifies how a call using a WorkerVM ended, so
// Release can decide whether the VM returns to the ready set or is
// torn down (spec §4.5 "Release").
type ReleaseOutcome int

const (
	// ReleaseOK means the call completed normally; the VM is healthy.
	ReleaseOK ReleaseOutcome = iota
	// ReleaseTainted means the call timed out, the stream protocol was
	// violated, or the guest crashed: the VM must never be reused.
	ReleaseTainted
)

// Release returns vm to the pool. A RemoteException or a well-formed
// error response from the guest is not tainting (spec §4.5: "An
// application-level exception ... does not taint the VM"); only
// ReleaseTainted callers (timeout, protocol error, remote crash) cause
// teardown, as does exceeding MaxCallsPerVM.
func (p *Pool) Release(vm *WorkerVM, outcome ReleaseOutcome) {
	p.mu.Lock()
	delete(p.inUse, vm)

	if p.closing.Load() {
		p.mu.Unlock()
		_ = vm.Client.Close()
		_ = p.rt.HardKill(vm.Handle)
		return
	}

	vm.Handle.CallCount++
	exceeded := p.cfg.MaxCallsPerVM > 0 && vm.Handle.CallCount >= p.cfg.MaxCallsPerVM

	if outcome == ReleaseTainted || exceeded {
		vm.Handle.State = domain.VMTainted
		p.totalVMs.Add(-1)
		p.mu.Unlock()
		if outcome == ReleaseTainted {
			metrics.IncVMsTainted()
		} else {
			metrics.IncVMsDead()
		}
		_ = vm.Client.Close()
		_ = p.rt.HardKill(vm.Handle)
		p.cond.Broadcast()
		return
	}

	vm.Handle.State = domain.VMReady
	p.ready = append(p.ready, vm)
	p.mu.Unlock()
	p.cond.Broadcast()
}
