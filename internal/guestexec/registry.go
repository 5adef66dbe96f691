// Package guestexec is the contract-only in-guest executor (spec §4.4,
// C4): out of scope as a production component (spec §1 names "the
// in-guest executor's choice of language runtime" external), but its
// wire contract is load-bearing for every other subsystem, so this
// package provides a reference implementation used by the mock Runner
// and by every test in this repo that needs a guest to talk to.
package guestexec

import (
	"fmt"
	"sync"

	"github.com/hyperclast/firebreak/internal/rpc"
)

// Func is a guest-resident function reachable by "module:qualname".
// kwargs may be nil when the caller passed none.
type Func func(args, kwargs rpc.Value) (rpc.Value, error)

// Registry resolves module:qualname identifiers to Funcs, the guest-side
// half of spec §4.4 step 2 ("Resolves module:qualname by importing the
// module and looking up the name").
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register binds a qualified name to a function. Re-registering the
// same name overwrites the previous binding, modeling a guest module
// reload.
func (r *Registry) Register(ref string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[ref] = fn
}

// ErrImportError is returned by Resolve when ref is not bound, standing
// in for the guest's ImportError response (spec §4.4 step 2).
var ErrImportError = fmt.Errorf("guestexec: import error")

// Resolve looks up ref, returning ErrImportError if unbound.
func (r *Registry) Resolve(ref string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportError, ref)
	}
	return fn, nil
}
