package domain

// ProvisionInstallFunctionRef is the reserved function ref the
// provisioning pipeline calls on a freshly booted provisioner VM (spec
// §4.5 "Provisioning protocol"). The in-guest executor resolves it
// through its Registry like any other ref, so a guest must register an
// install handler under this name; what differs is that its argument is
// decoded via the secondary host-trusted codec (spec §6) rather than the
// guest-facing Value codec, since the payload is authored by the host.
const ProvisionInstallFunctionRef = "__provision__:install"

// RPCRequest is the host-to-guest call envelope (spec §3).
type RPCRequest struct {
	CallID      uint64
	FunctionRef string // "module:qualname"
	Args        []byte // codec-encoded
	Kwargs      []byte // codec-encoded
	DeadlineMs  uint32
}

// RPCResponse is the guest-to-host response envelope. Exactly one of the
// two branches is meaningful, selected by Ok.
type RPCResponse struct {
	CallID      uint64
	Ok          bool
	Result      []byte // set when Ok
	Kind        string // set when !Ok: original exception type name
	Message     string // set when !Ok
	RemoteTrace string // set when !Ok
}

// FailureKind is the taxonomy from spec §7. The host never re-imports a
// guest exception class: a guest exception surfaces as a Failure of kind
// FailureRemoteException carrying the guest's Message and RemoteTrace.
// The guest's own exception type name is not kept in a separate field.
type FailureKind string

const (
	FailureUnencodableArgument FailureKind = "UnencodableArgument"
	FailurePoolExhausted       FailureKind = "PoolExhausted"
	FailureProvisioningError   FailureKind = "ProvisioningError"
	FailureTimeout             FailureKind = "Timeout"
	FailureProtocolError       FailureKind = "ProtocolError"
	FailureRemoteCrash         FailureKind = "RemoteCrash"
	FailureCancelled           FailureKind = "Cancelled"
	FailureRemoteException     FailureKind = "RemoteException"
	FailureShutdown            FailureKind = "Shutdown"
)

// Failure is the error value surfaced to sandbox callers. It implements
// error so it composes with errors.Is/errors.As via Kind comparisons.
type Failure struct {
	Kind        FailureKind
	Message     string
	RemoteTrace string
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Message
}

// Is lets errors.Is(err, &Failure{Kind: X}) match any Failure of kind X,
// regardless of Message/RemoteTrace.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Kind == f.Kind
}

// NewFailure builds a Failure of the given kind with a message.
func NewFailure(kind FailureKind, msg string) *Failure {
	return &Failure{Kind: kind, Message: msg}
}
