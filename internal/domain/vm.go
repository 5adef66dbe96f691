package domain

import "time"

// VMState is the lifecycle state of a VMHandle, as laid out in spec §3
// and the state machine in §4.5.
type VMState string

const (
	VMBooting      VMState = "booting"
	VMProvisioning VMState = "provisioning"
	VMReady        VMState = "ready"
	VMInUse        VMState = "in_use"
	VMTainted      VMState = "tainted"
	VMDead         VMState = "dead"
)

// VMConfig derives from a CapabilityProfile and parameterizes a single
// Runner.Boot or Runner.Restore call.
type VMConfig struct {
	MemMB         uint32
	VCPUs         int
	Mounts        []Mount
	Net           NetPolicy
	KernelImage   string
	RestoreFrom   *Snapshot // set when booting is actually a restore
}

// VMHandle is owned by exactly one pool at a time. Fields below State are
// mutated only by the pool holding it; the Runner never mutates a handle
// after returning it from Boot/Restore.
type VMHandle struct {
	ID              string
	State           VMState
	CallCount       int
	CreatedAt       time.Time
	LastUsedAt      time.Time
	ControlEndpoint string
	StreamEndpoint  string
	SnapshotOrigin  *Snapshot
}

// Snapshot is a per-profile artifact captured after dependency
// provisioning. It is created at most once per pool and outlives the
// individual VMs that restore from it.
type Snapshot struct {
	PoolKey    PoolKey
	Path       string
	CreatedAt  time.Time
	RestoreCnt int
}
