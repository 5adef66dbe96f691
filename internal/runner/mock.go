package runner

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/guestexec"
	"github.com/hyperclast/firebreak/internal/rpc"
)

// Mock is a deterministic in-memory VM Runner backend (spec §4.2: "a
// mock backend satisfies the same contract with deterministic in-memory
// VMs for tests"). Each "VM" is a goroutine running guestexec.Serve over
// one half of a net.Pipe; the other half is handed to rpc.Client by the
// pool/sandbox layers via Dial.
//
// Grounded on internal/firecracker/vm.go's VMState machine and
// internal/backend.Backend's CreateVM/StopVM shape, collapsed to an
// in-process pipe since there is no real hypervisor in this pack.
type Mock struct {
	mu          sync.Mutex
	conns       map[string]net.Conn // vmID -> host-side conn
	reg         *guestexec.Registry
	codec       rpc.Codec
	BootDelay    time.Duration // simulated cold-start latency
	snapshotCalls int          // total Snapshot invocations, for the "exactly one snapshot" property
}

// NewMock builds a mock backend whose guests resolve functions against
// reg using codec for argument/result encoding.
func NewMock(reg *guestexec.Registry, codec rpc.Codec) *Mock {
	return &Mock{
		conns: make(map[string]net.Conn),
		reg:   reg,
		codec: codec,
	}
}

func (m *Mock) Boot(ctx context.Context, cfg domain.VMConfig) (*domain.VMHandle, error) {
	if m.BootDelay > 0 {
		select {
		case <-time.After(m.BootDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	id := uuid.NewString()
	guestConn, hostConn := net.Pipe()

	m.mu.Lock()
	m.conns[id] = hostConn
	m.mu.Unlock()

	go guestexec.Serve(guestConn, m.codec, m.reg)

	now := time.Now()
	handle := &domain.VMHandle{
		ID:              id,
		State:           domain.VMReady,
		CreatedAt:       now,
		LastUsedAt:      now,
		ControlEndpoint: "mock://" + id,
		StreamEndpoint:  "mock://" + id,
	}
	if cfg.RestoreFrom != nil {
		handle.SnapshotOrigin = cfg.RestoreFrom
		cfg.RestoreFrom.RestoreCnt++
	}
	return handle, nil
}

// Dial returns the host-side endpoint for vm, implementing the Dialer
// seam for this backend.
func (m *Mock) Dial(ctx context.Context, vm *domain.VMHandle) (net.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[vm.ID]
	if !ok {
		return nil, fmt.Errorf("mock runner: no connection for vm %s", vm.ID)
	}
	return conn, nil
}

func (m *Mock) Snapshot(ctx context.Context, vm *domain.VMHandle) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{
		Path:      "mock-snapshot://" + vm.ID,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.snapshotCalls++
	m.mu.Unlock()
	return snap, nil
}

// SnapshotCallCount reports the total number of Snapshot invocations
// across all pools, used to verify spec §8's "exactly-one-snapshot"
// property in pool tests.
func (m *Mock) SnapshotCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotCalls
}

func (m *Mock) Restore(ctx context.Context, snap *domain.Snapshot) (*domain.VMHandle, error) {
	return m.Boot(ctx, domain.VMConfig{RestoreFrom: snap})
}

func (m *Mock) Shutdown(ctx context.Context, vm *domain.VMHandle) error {
	return m.HardKill(vm)
}

func (m *Mock) HardKill(vm *domain.VMHandle) error {
	m.mu.Lock()
	conn, ok := m.conns[vm.ID]
	delete(m.conns, vm.ID)
	m.mu.Unlock()
	if !ok {
		return nil // idempotent, per spec §4.2
	}
	return conn.Close()
}
