package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/logging"
	"github.com/hyperclast/firebreak/internal/metrics"
	"github.com/hyperclast/firebreak/internal/rpc"
)

// ensureProvisioned runs the provisioning pipeline at most once per pool
// (spec §4.5 "Provisioning protocol"):
//
//  1. boot a provisioner VM from the base image,
//  2. send an install command listing the dependency set,
//  3. on success, snapshot it and store the result as p.snapshot,
//  4. shut down the provisioner VM.
//
// Pools with no dependencies skip provisioning entirely: new VMs boot
// directly from the base image (no snapshot is ever created for them).
// A failed install poisons the pool: every subsequent call returns
// ErrProvisioningPoisoned without retrying (spec §4.5 "Installation
// failure is fatal to the pool").
//
// The singleflight group ensures N concurrent first-use acquisitions
// trigger exactly one provisioning attempt, not N racing attempts.
func (p *Pool) ensureProvisioned(ctx context.Context) error {
	if len(p.profile.Dependencies) == 0 {
		return nil
	}

	p.mu.RLock()
	if p.snapshot != nil {
		p.mu.RUnlock()
		return nil
	}
	if p.poisonErr != nil {
		err := p.poisonErr
		p.mu.RUnlock()
		return err
	}
	p.mu.RUnlock()

	_, err, _ := p.provisionOnce.Do("provision", func() (any, error) {
		// Re-check under the singleflight critical section: another
		// caller may have finished provisioning or poisoning between
		// our optimistic read above and this call.
		p.mu.RLock()
		if p.snapshot != nil {
			p.mu.RUnlock()
			return nil, nil
		}
		if p.poisonErr != nil {
			err := p.poisonErr
			p.mu.RUnlock()
			return nil, err
		}
		p.mu.RUnlock()

		snap, err := p.provision(ctx)
		if err != nil {
			p.mu.Lock()
			p.poisonErr = fmt.Errorf("%w: %v", ErrProvisioningPoisoned, err)
			p.mu.Unlock()
			metrics.RecordProvisioning("failure")
			return nil, p.poisonErr
		}
		p.mu.Lock()
		p.snapshot = snap
		p.mu.Unlock()
		metrics.RecordProvisioning("success")
		metrics.IncSnapshots()

		if p.store != nil {
			if err := p.store.Put(ctx, p.key, snap); err != nil {
				logging.Op().Warn("failed to persist snapshot", "pool_key", p.key.String(), "err", err)
			}
		}
		return nil, nil
	})
	return err
}

func (p *Pool) provision(ctx context.Context) (*domain.Snapshot, error) {
	logging.Op().Info("provisioning pool", "pool_key", p.key.String(), "deps", len(p.profile.Dependencies))

	cfg := p.vmConfig(nil)
	vm, err := p.rt.Boot(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("boot provisioner: %w", err)
	}
	defer func() { _ = p.rt.Shutdown(context.Background(), vm) }()

	conn, err := p.dialer.Dial(ctx, vm)
	if err != nil {
		return nil, fmt.Errorf("dial provisioner: %w", err)
	}
	client := rpc.NewClient(conn)
	defer client.Close()

	// The dependency set is host-authored and host-consumed: it never
	// comes from or returns to guest code, so it travels as an opaque
	// TrustedCodec blob (spec §6's secondary codec) instead of the
	// tagged Value envelope regular function calls use.
	rawDeps, err := json.Marshal(p.profile.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("encode dependency set: %w", err)
	}
	depsEncoded, err := rpc.TrustedCodec{}.Marshal(rawDeps)
	if err != nil {
		return nil, fmt.Errorf("encode dependency set: %w", err)
	}

	resp, err := client.Call(ctx, installFunctionRef, depsEncoded, nil, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("install dependencies: %w", err)
	}
	if !resp.Ok {
		return nil, fmt.Errorf("install dependencies: %s: %s", resp.Kind, resp.Message)
	}

	snap, err := p.rt.Snapshot(ctx, vm)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	snap.PoolKey = p.key
	return snap, nil
}

// vmConfig derives a VMConfig from the profile (spec §4.2). restoreFrom
// is nil for a direct boot, non-nil for a snapshot restore.
func (p *Pool) vmConfig(restoreFrom *domain.Snapshot) domain.VMConfig {
	return domain.VMConfig{
		MemMB:       p.profile.MemMB,
		VCPUs:       1,
		Mounts:      p.profile.FS,
		Net:         p.profile.Net,
		RestoreFrom: restoreFrom,
	}
}
