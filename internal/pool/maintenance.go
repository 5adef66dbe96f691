package pool

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/logging"
	"github.com/hyperclast/firebreak/internal/metrics"
)

// maintenanceLoop runs for the lifetime of the pool, replenishing MinSize
// and reaping VMs idle past MaxIdle (spec §4.5 "Maintenance"). It never
// holds p.mu across a boot or network call, so it cannot stall
// Acquire/Release. reapIdle and replenish run concurrently via errgroup
// since each takes p.mu for only the slice/counter it touches; occupancy
// is published once both have settled so the reported numbers reflect
// this tick's work.
func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			var g errgroup.Group
			g.Go(func() error { p.reapIdle(); return nil })
			g.Go(func() error { p.replenish(); return nil })
			_ = g.Wait()
			p.publishOccupancy()
		}
	}
}

// reapIdle removes ready VMs that have sat idle past MaxIdle, so long as
// doing so does not drop the pool below MinSize.
func (p *Pool) reapIdle() {
	now := time.Now()

	p.mu.Lock()
	if len(p.ready) == 0 {
		p.mu.Unlock()
		return
	}
	keep := p.ready[:0:0]
	var reap []*WorkerVM
	for _, vm := range p.ready {
		total := len(p.ready) - len(reap) + len(p.inUse) + p.boot
		if now.Sub(vm.Handle.LastUsedAt) > p.cfg.MaxIdle && total > p.cfg.MinSize {
			reap = append(reap, vm)
			continue
		}
		keep = append(keep, vm)
	}
	p.ready = keep
	p.mu.Unlock()

	for _, vm := range reap {
		_ = vm.Client.Close()
		_ = p.rt.HardKill(vm.Handle)
		p.totalVMs.Add(-1)
		logging.Op().Debug("reaped idle vm", "pool_key", p.key.String(), "vm_id", vm.Handle.ID)
	}
}

// replenish boots fresh VMs until ready+inUse+booting reaches MinSize.
// Boot failures are logged and retried on the next tick rather than
// panicking the maintenance goroutine.
func (p *Pool) replenish() {
	for {
		p.mu.Lock()
		total := len(p.ready) + len(p.inUse) + p.boot
		if total >= p.cfg.MinSize || total >= p.cfg.MaxSize {
			p.mu.Unlock()
			return
		}
		p.boot++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
		vm, err := p.bootOne(ctx)
		cancel()

		p.mu.Lock()
		p.boot--
		if err != nil {
			p.mu.Unlock()
			logging.Op().Warn("replenish boot failed", "pool_key", p.key.String(), "err", err)
			return
		}
		p.totalVMs.Add(1)
		vm.Handle.State = domain.VMReady
		p.ready = append(p.ready, vm)
		p.mu.Unlock()
		p.cond.Broadcast()
	}
}

func (p *Pool) publishOccupancy() {
	s := p.Stats()
	metrics.SetPoolOccupancy(p.key.String(), s.Ready, s.InUse, s.Booting)
}
