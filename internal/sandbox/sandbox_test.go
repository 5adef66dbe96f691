package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/guestexec"
	"github.com/hyperclast/firebreak/internal/pool"
	"github.com/hyperclast/firebreak/internal/poolmgr"
	"github.com/hyperclast/firebreak/internal/rpc"
	"github.com/hyperclast/firebreak/internal/runner"
)

func testManager(reg *guestexec.Registry) *Manager {
	m := runner.NewMock(reg, rpc.NewJSONCodec())
	mgr := poolmgr.New(m, m, rpc.NewJSONCodec(), func(*domain.CapabilityProfile) pool.Config {
		return pool.Config{MinSize: 0, MaxSize: 2}
	}, nil)
	return New(mgr, rpc.NewJSONCodec())
}

func TestExecuteReturnsDecodedResult(t *testing.T) {
	reg := guestexec.NewRegistry()
	reg.Register("m:double", func(args, kwargs rpc.Value) (rpc.Value, error) {
		n := args.(int64)
		return n * 2, nil
	})
	sb := testManager(reg)

	cp := &domain.CapabilityProfile{Net: domain.NetNone, CPUMillis: 1000, MemMB: 128}
	result, err := sb.Execute(context.Background(), "m:double", int64(21), nil, cp)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.(int64) != 42 {
		t.Fatalf("expected 42, got %v", result)
	}
}

func TestExecuteSurfacesRemoteException(t *testing.T) {
	reg := guestexec.NewRegistry()
	reg.Register("m:boom", func(args, kwargs rpc.Value) (rpc.Value, error) {
		return nil, &guestexec.RemoteException{Kind: "ValueError", Msg: "bad input"}
	})
	sb := testManager(reg)

	cp := &domain.CapabilityProfile{Net: domain.NetNone, CPUMillis: 1000, MemMB: 128}
	_, err := sb.Execute(context.Background(), "m:boom", nil, nil, cp)
	if err == nil {
		t.Fatalf("expected an error")
	}
	var f *domain.Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected a *domain.Failure, got %T", err)
	}
	if f.Kind != domain.FailureRemoteException {
		t.Fatalf("expected RemoteException, got %s", f.Kind)
	}
}

func TestExecuteRejectsInvalidProfile(t *testing.T) {
	sb := testManager(guestexec.NewRegistry())
	cp := &domain.CapabilityProfile{CPUMillis: 0, MemMB: 128}
	_, err := sb.Execute(context.Background(), "m:anything", nil, nil, cp)
	var f *domain.Failure
	if !errors.As(err, &f) || f.Kind != domain.FailureUnencodableArgument {
		t.Fatalf("expected UnencodableArgument for an invalid profile, got %v", err)
	}
}

func TestExecuteReturnsCancelledWhenCallerCancelsInQueue(t *testing.T) {
	reg := guestexec.NewRegistry()
	reg.Register("m:hold", func(args, kwargs rpc.Value) (rpc.Value, error) {
		time.Sleep(time.Second)
		return true, nil
	})
	m := runner.NewMock(reg, rpc.NewJSONCodec())
	mgr := poolmgr.New(m, m, rpc.NewJSONCodec(), func(*domain.CapabilityProfile) pool.Config {
		return pool.Config{MinSize: 0, MaxSize: 1}
	}, nil)
	sb := New(mgr, rpc.NewJSONCodec())

	cp := &domain.CapabilityProfile{Net: domain.NetNone, CPUMillis: 5000, MemMB: 128}

	holderDone := make(chan struct{})
	go func() {
		defer close(holderDone)
		_, _ = sb.Execute(context.Background(), "m:hold", nil, nil, cp)
	}()
	time.Sleep(50 * time.Millisecond) // let the holder check the single VM out

	waiterCtx, waiterCancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := sb.Execute(waiterCtx, "m:hold", nil, nil, cp)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond) // let the waiter park in the queue
	waiterCancel()

	select {
	case err := <-done:
		var f *domain.Failure
		if !errors.As(err, &f) || f.Kind != domain.FailureCancelled {
			t.Fatalf("expected Cancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancelled execute to return")
	}
	<-holderDone
}

func TestExecuteTimeoutTaintsVM(t *testing.T) {
	reg := guestexec.NewRegistry()
	reg.Register("m:slow", func(args, kwargs rpc.Value) (rpc.Value, error) {
		time.Sleep(200 * time.Millisecond)
		return true, nil
	})
	sb := testManager(reg)

	cp := &domain.CapabilityProfile{Net: domain.NetNone, CPUMillis: 20, MemMB: 128}
	_, err := sb.Execute(context.Background(), "m:slow", nil, nil, cp)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	var f *domain.Failure
	if !errors.As(err, &f) || f.Kind != domain.FailureTimeout {
		t.Fatalf("expected Timeout, got %v", err)
	}

	p, ok := sb.pools.Lookup(HashProfile(cp))
	if !ok {
		t.Fatalf("expected the profile's pool to exist")
	}
	if s := p.Stats(); s.Ready != 0 || s.InUse != 0 {
		t.Fatalf("expected the timed-out vm to be torn down, got %+v", s)
	}
}
