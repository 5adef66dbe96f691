// Package runner defines the VM Runner backend contract (spec §4.2, C2):
// start, stop, snapshot, and restore a single micro-VM, exposing its
// control socket and host↔guest stream endpoint. The real hypervisor
// backend is out of scope for this repo (spec §1); Mock satisfies the
// same contract deterministically for tests and for the reference
// cmd/firebreakd daemon.
package runner

import (
	"context"
	"errors"
	"net"

	"github.com/hyperclast/firebreak/internal/domain"
)

var (
	ErrBootFailure        = errors.New("boot failure")
	ErrSnapshotUnsupported = errors.New("snapshot unsupported")
	ErrRestoreFailure     = errors.New("restore failure")
	ErrControlUnreachable = errors.New("control endpoint unreachable")
)

// Runner boots, snapshots, restores, and tears down VMHandles. A single
// VMHandle must never be used concurrently by two callers; pool.Pool
// enforces that on top of this interface.
type Runner interface {
	// Boot starts a new VM from a base image and returns only once the
	// stream endpoint accepts connections (spec §4.2: "a handshake byte
	// is received").
	Boot(ctx context.Context, cfg domain.VMConfig) (*domain.VMHandle, error)

	// Snapshot captures memory + disk state of a running VM. Returns
	// ErrSnapshotUnsupported if the backend cannot snapshot.
	Snapshot(ctx context.Context, vm *domain.VMHandle) (*domain.Snapshot, error)

	// Restore boots a new VM from a previously captured snapshot.
	Restore(ctx context.Context, snap *domain.Snapshot) (*domain.VMHandle, error)

	// Shutdown stops a VM gracefully.
	Shutdown(ctx context.Context, vm *domain.VMHandle) error

	// HardKill forcibly terminates a VM. Idempotent: killing an already
	// dead VM returns nil. Must return within a bounded time regardless
	// of guest state.
	HardKill(vm *domain.VMHandle) error
}

// Dialer connects to a VMHandle's stream endpoint, yielding the raw
// conn an rpc.Client wraps. Backends implement both Runner and Dialer;
// kept separate because the RPC layer only ever needs the latter.
type Dialer interface {
	Dial(ctx context.Context, vm *domain.VMHandle) (net.Conn, error)
}
