// Package sandbox implements the Sandbox Manager (spec §4.7, C7): the
// single entry point a caller's dispatch stub invokes. It resolves a
// capability profile to its pool via poolmgr, acquires a warm VM,
// performs the RPC call, and translates the outcome into either a
// decoded result or a *domain.Failure, releasing the VM with the
// correct taint decision in every path.
//
// Grounded on the teacher's internal/executor/executor.go Invoke
// pipeline: acquire from pool, call over vsock, classify the outcome to
// decide evict-vs-reuse, always release.
package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/logging"
	"github.com/hyperclast/firebreak/internal/metrics"
	"github.com/hyperclast/firebreak/internal/pool"
	"github.com/hyperclast/firebreak/internal/poolmgr"
	"github.com/hyperclast/firebreak/internal/profile"
	"github.com/hyperclast/firebreak/internal/rpc"
)

// Manager dispatches calls through a Pool Manager using a fixed codec
// for argument/result encoding.
type Manager struct {
	pools *poolmgr.Manager
	codec rpc.Codec
}

// New builds a Manager over an already-constructed poolmgr.Manager.
func New(pools *poolmgr.Manager, codec rpc.Codec) *Manager {
	return &Manager{pools: pools, codec: codec}
}

// Execute runs functionRef under cp's capability profile (spec §4.7
// "Execute"):
//
//  1. resolve (or construct) the profile's pool,
//  2. acquire a VM within cp.CallDeadline()+AcquireSlack,
//  3. call with a deadline of cp.CallDeadline(),
//  4. decode the result, or translate the guest/transport failure,
//  5. release the VM with the matching taint decision.
func (m *Manager) Execute(ctx context.Context, functionRef string, args, kwargs rpc.Value, cp *domain.CapabilityProfile) (rpc.Value, error) {
	callID := uuid.NewString()
	log := logging.Op().With("call_id", callID, "function_ref", functionRef)

	if err := cp.Validate(); err != nil {
		return nil, domain.NewFailure(domain.FailureUnencodableArgument, err.Error())
	}

	p, key, err := m.pools.GetOrCreate(cp)
	if err != nil {
		if errors.Is(err, pool.ErrShutdown) {
			return nil, domain.NewFailure(domain.FailureShutdown, err.Error())
		}
		return nil, domain.NewFailure(domain.FailureProvisioningError, err.Error())
	}

	acquireDeadline := cp.CallDeadline() + p.AcquireSlack()
	acquireCtx, cancel := context.WithTimeout(ctx, acquireDeadline)
	defer cancel()

	vm, err := p.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(err, pool.ErrShutdown) {
			metrics.RecordInvocation("shutdown")
			return nil, domain.NewFailure(domain.FailureShutdown, err.Error())
		}
		if errors.Is(err, context.Canceled) {
			// Caller gave up while still in the acquisition queue (spec
			// §5): no VM side effects occurred, so this is Cancelled, not
			// PoolExhausted.
			metrics.RecordInvocation("cancelled")
			return nil, domain.NewFailure(domain.FailureCancelled, err.Error())
		}
		if errors.Is(err, pool.ErrProvisioningPoisoned) {
			metrics.RecordInvocation("provisioning_error")
			return nil, domain.NewFailure(domain.FailureProvisioningError, err.Error())
		}
		metrics.RecordInvocation("pool_exhausted")
		return nil, domain.NewFailure(domain.FailurePoolExhausted, err.Error())
	}

	encodedArgs, err := encodeOrEmpty(m.codec, args)
	if err != nil {
		p.Release(vm, pool.ReleaseOK)
		metrics.RecordInvocation("unencodable_argument")
		return nil, domain.NewFailure(domain.FailureUnencodableArgument, err.Error())
	}
	encodedKwargs, err := encodeOrEmpty(m.codec, kwargs)
	if err != nil {
		p.Release(vm, pool.ReleaseOK)
		metrics.RecordInvocation("unencodable_argument")
		return nil, domain.NewFailure(domain.FailureUnencodableArgument, err.Error())
	}

	start := time.Now()
	resp, callErr := vm.Client.Call(ctx, functionRef, encodedArgs, encodedKwargs, cp.CallDeadline())
	elapsed := float64(time.Since(start).Milliseconds())

	if callErr != nil {
		outcome := releaseOutcomeForTransportError(callErr)
		p.Release(vm, outcome)
		kind := failureKindFor(callErr)
		metrics.RecordRPCLatency(string(kind), elapsed)
		metrics.RecordInvocation(string(kind))
		log.Warn("call failed", "kind", kind, "err", callErr)
		return nil, callErr
	}

	if !resp.Ok {
		// An application-level exception is not a taint condition (spec
		// §4.7 "Release"): the guest served the request and returned
		// cleanly, it just raised.
		p.Release(vm, pool.ReleaseOK)
		metrics.RecordRPCLatency("remote_exception", elapsed)
		metrics.RecordInvocation("remote_exception")
		return nil, &domain.Failure{Kind: domain.FailureRemoteException, Message: resp.Message, RemoteTrace: resp.RemoteTrace}
	}

	result, err := decodeOrNil(m.codec, resp.Result)
	if err != nil {
		p.Release(vm, pool.ReleaseTainted)
		metrics.RecordInvocation("protocol_error")
		return nil, domain.NewFailure(domain.FailureProtocolError, err.Error())
	}

	p.Release(vm, pool.ReleaseOK)
	metrics.RecordRPCLatency("ok", elapsed)
	metrics.RecordInvocation("ok")
	log.Debug("call ok", "pool_key", key.String(), "elapsed_ms", elapsed)
	return result, nil
}

// HashProfile exposes the canonical pool key for a profile, used by
// cmd/firebreakctl's "hash" subcommand.
func HashProfile(cp *domain.CapabilityProfile) domain.PoolKey {
	return profile.Hash(cp)
}

func encodeOrEmpty(codec rpc.Codec, v rpc.Value) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return codec.Encode(v)
}

func decodeOrNil(codec rpc.Codec, b []byte) (rpc.Value, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return codec.Decode(b)
}

// releaseOutcomeForTransportError maps any transport-level *domain.Failure
// to the release decision (spec §4.7 "Release"). Timeout, ProtocolError,
// and RemoteCrash leave the VM in an unknown or corrupted state by
// definition; Cancelled taints too, since the guest may still be
// mid-call and the client is about to stop reading its stream.
func releaseOutcomeForTransportError(err error) pool.ReleaseOutcome {
	return pool.ReleaseTainted
}

func failureKindFor(err error) domain.FailureKind {
	var f *domain.Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return domain.FailureProtocolError
}
