package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/guestexec"
	"github.com/hyperclast/firebreak/internal/rpc"
	"github.com/hyperclast/firebreak/internal/runner"
)

func testProfile(deps ...domain.Dependency) *domain.CapabilityProfile {
	return &domain.CapabilityProfile{
		Net:          domain.NetNone,
		CPUMillis:    1000,
		MemMB:        128,
		Dependencies: deps,
	}
}

func testKey(p *domain.CapabilityProfile) domain.PoolKey {
	var k domain.PoolKey
	k[0] = 1
	return k
}

// TestWarmAcquireIncrementsCallCount covers spec §8 scenario 2: a warm
// call against an already-ready VM succeeds and its call_count grows.
func TestWarmAcquireIncrementsCallCount(t *testing.T) {
	reg := guestexec.NewRegistry()
	reg.Register("m:echo", func(args, kwargs rpc.Value) (rpc.Value, error) { return args, nil })
	m := runner.NewMock(reg, rpc.NewJSONCodec())

	profile := testProfile()
	p := New(testKey(profile), profile, m, m, rpc.NewJSONCodec(), Config{MinSize: 0, MaxSize: 2})
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vm, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if vm.Handle.CallCount != 0 {
		t.Fatalf("expected fresh vm to have zero calls, got %d", vm.Handle.CallCount)
	}
	p.Release(vm, ReleaseOK)

	vm2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if vm2 != vm {
		t.Fatalf("expected to reacquire the same warm vm")
	}
	if vm2.Handle.CallCount != 1 {
		t.Fatalf("expected call_count 1 after one release, got %d", vm2.Handle.CallCount)
	}
	p.Release(vm2, ReleaseOK)
}

// TestTaintedReleaseDestroysVM covers spec §8 scenario 3: releasing with
// ReleaseTainted (as Sandbox does on timeout) tears the VM down instead
// of returning it to the ready set, and the pool can still serve a
// subsequent acquisition with a fresh VM.
func TestTaintedReleaseDestroysVM(t *testing.T) {
	reg := guestexec.NewRegistry()
	m := runner.NewMock(reg, rpc.NewJSONCodec())

	profile := testProfile()
	p := New(testKey(profile), profile, m, m, rpc.NewJSONCodec(), Config{MinSize: 0, MaxSize: 2})
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vm, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(vm, ReleaseTainted)

	stats := p.Stats()
	if stats.Ready != 0 {
		t.Fatalf("expected no ready vms after tainted release, got %d", stats.Ready)
	}

	vm2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after taint: %v", err)
	}
	if vm2 == vm {
		t.Fatalf("expected a fresh vm after the tainted one was destroyed")
	}
	p.Release(vm2, ReleaseOK)
}

// TestRemoteExceptionDoesNotTaint covers spec §8 scenario 4: an
// application-level exception from the guest is not itself a reason to
// taint; the sandbox layer releases with ReleaseOK and the VM stays
// reusable.
func TestRemoteExceptionDoesNotTaint(t *testing.T) {
	reg := guestexec.NewRegistry()
	reg.Register("m:boom", func(args, kwargs rpc.Value) (rpc.Value, error) {
		return nil, &guestexec.RemoteException{Kind: "ValueError", Msg: "boom"}
	})
	m := runner.NewMock(reg, rpc.NewJSONCodec())

	profile := testProfile()
	p := New(testKey(profile), profile, m, m, rpc.NewJSONCodec(), Config{MinSize: 0, MaxSize: 1})
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vm, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	resp, err := vm.Client.Call(ctx, "m:boom", nil, nil, time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Ok {
		t.Fatalf("expected application-level failure response")
	}
	// Sandbox would release with ReleaseOK here: a RemoteException is not
	// a taint condition.
	p.Release(vm, ReleaseOK)

	stats := p.Stats()
	if stats.Ready != 1 {
		t.Fatalf("expected the vm to return to ready, got %+v", stats)
	}
}

// TestProvisioningRunsExactlyOnce covers spec §8 scenario 5: concurrent
// first-use acquisitions against a pool with dependencies trigger
// exactly one Snapshot call, and every VM they receive descends from it.
func TestProvisioningRunsExactlyOnce(t *testing.T) {
	reg := guestexec.NewRegistry()
	reg.Register(installFunctionRef, func(args, kwargs rpc.Value) (rpc.Value, error) { return true, nil })
	m := runner.NewMock(reg, rpc.NewJSONCodec())

	profile := testProfile(domain.Dependency{Name: "numpy", Constraint: ">=1.0"})
	p := New(testKey(profile), profile, m, m, rpc.NewJSONCodec(), Config{MinSize: 0, MaxSize: 4})
	defer p.Shutdown()

	const n = 4
	results := make(chan *WorkerVM, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			vm, err := p.Acquire(ctx)
			if err != nil {
				errs <- err
				return
			}
			results <- vm
		}()
	}

	vms := make([]*WorkerVM, 0, n)
	for i := 0; i < n; i++ {
		select {
		case vm := <-results:
			vms = append(vms, vm)
		case err := <-errs:
			t.Fatalf("acquire: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for acquisitions")
		}
	}

	if m.SnapshotCallCount() != 1 {
		t.Fatalf("expected exactly one snapshot call, got %d", m.SnapshotCallCount())
	}
	for _, vm := range vms {
		if vm.Handle.SnapshotOrigin == nil {
			t.Fatalf("expected vm to be restored from the pool's snapshot")
		}
		p.Release(vm, ReleaseOK)
	}
}

// TestAcquireExhaustedAtCapacity covers spec §8 scenario 6: once MaxSize
// VMs are checked out and no queue bound is set, a further acquisition
// waits in the queue until its own deadline and then fails with the
// context's deadline error (which Sandbox reports as PoolExhausted).
func TestAcquireExhaustedAtCapacity(t *testing.T) {
	reg := guestexec.NewRegistry()
	m := runner.NewMock(reg, rpc.NewJSONCodec())

	profile := testProfile()
	p := New(testKey(profile), profile, m, m, rpc.NewJSONCodec(), Config{MinSize: 0, MaxSize: 1, MaxQueueDepth: 0})
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vm, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	_, err = p.Acquire(shortCtx)
	if err == nil {
		t.Fatalf("expected second acquisition to fail while the single vm is checked out")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error, got %v", err)
	}

	p.Release(vm, ReleaseOK)
}

// TestAcquireFailsFastWhenQueueSaturated exercises the capacity-policy
// supplement: once MaxQueueDepth waiters are already parked, a new
// acquisition is rejected immediately with ErrPoolExhausted rather than
// joining the queue.
func TestAcquireFailsFastWhenQueueSaturated(t *testing.T) {
	reg := guestexec.NewRegistry()
	m := runner.NewMock(reg, rpc.NewJSONCodec())
	m.BootDelay = 100 * time.Millisecond

	profile := testProfile()
	p := New(testKey(profile), profile, m, m, rpc.NewJSONCodec(), Config{MinSize: 0, MaxSize: 1, MaxQueueDepth: 1})
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	vm, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	go func() {
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer waitCancel()
		_, _ = p.Acquire(waitCtx)
	}()
	time.Sleep(50 * time.Millisecond) // let the waiter register

	_, err = p.Acquire(context.Background())
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	p.Release(vm, ReleaseOK)
}

// TestAcquireFailsFastWhenInflightSaturated exercises the MaxInflight
// half of the capacity-policy supplement: even when MaxSize would allow
// booting another VM, a pool with all of MaxInflight's budget already
// checked out rejects immediately.
func TestAcquireFailsFastWhenInflightSaturated(t *testing.T) {
	reg := guestexec.NewRegistry()
	m := runner.NewMock(reg, rpc.NewJSONCodec())

	profile := testProfile()
	p := New(testKey(profile), profile, m, m, rpc.NewJSONCodec(), Config{MinSize: 0, MaxSize: 4, MaxInflight: 1})
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vm, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err = p.Acquire(ctx)
	if !errors.Is(err, ErrPoolExhausted) || !errors.Is(err, ErrInflightLimit) {
		t.Fatalf("expected ErrPoolExhausted wrapping ErrInflightLimit, got %v", err)
	}

	p.Release(vm, ReleaseOK)
}

// TestAcquireQueueWaitTimeout exercises MaxQueueWait: a waiter parked
// longer than the configured bound fails even though its own context
// deadline has not yet passed.
func TestAcquireQueueWaitTimeout(t *testing.T) {
	reg := guestexec.NewRegistry()
	m := runner.NewMock(reg, rpc.NewJSONCodec())

	profile := testProfile()
	p := New(testKey(profile), profile, m, m, rpc.NewJSONCodec(), Config{MinSize: 0, MaxSize: 1, MaxQueueWait: 50 * time.Millisecond})
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vm, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	waiterCtx, waiterCancel := context.WithTimeout(context.Background(), time.Second)
	defer waiterCancel()
	_, err = p.Acquire(waiterCtx)
	if !errors.Is(err, ErrQueueWaitTimeout) {
		t.Fatalf("expected ErrQueueWaitTimeout, got %v", err)
	}

	p.Release(vm, ReleaseOK)
}

// TestAcquireReturnsCanceledWhenCallerCancelsInQueue covers spec §5: a
// caller that cancels its own context while still parked in the
// acquisition queue gets context.Canceled back, distinct from the
// capacity-policy sentinels above, with no VM side effects.
func TestAcquireReturnsCanceledWhenCallerCancelsInQueue(t *testing.T) {
	reg := guestexec.NewRegistry()
	m := runner.NewMock(reg, rpc.NewJSONCodec())

	profile := testProfile()
	p := New(testKey(profile), profile, m, m, rpc.NewJSONCodec(), Config{MinSize: 0, MaxSize: 1})
	defer p.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vm, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	waiterCtx, waiterCancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(waiterCtx)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond) // let the waiter register
	waiterCancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancelled acquire to return")
	}

	p.Release(vm, ReleaseOK)
}
