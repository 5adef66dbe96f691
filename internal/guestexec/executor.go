package guestexec

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/rpc"
)

// RemoteException models a user-raised failure, serialized in the guest
// and rematerialized host-side as a single error value (spec §4.4 step
// 6, spec §7). A Func should return one to signal a "handled" user
// error as opposed to a protocol-level fault.
type RemoteException struct {
	Kind  string
	Msg   string
	Trace string
}

func (e *RemoteException) Error() string { return e.Kind + ": " + e.Msg }

// Serve runs the guest-side daemon loop on one connection: read a
// framed request, resolve, decode, invoke under a soft timer, write the
// response, and repeat (spec §4.4). Serve returns when conn is closed
// or a read/write fails; per spec, "a protocol violation or crash
// inside the guest causes the stream to close" — Serve's return is that
// closure from the guest's point of view.
//
// codec decodes Args/Kwargs and encodes the result; it must be the same
// codec the host-side rpc.Client was constructed with.
func Serve(conn net.Conn, codec rpc.Codec, reg *Registry) error {
	defer conn.Close()
	for {
		req, err := rpc.ReadRequest(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		resp := handleOne(req, codec, reg)
		if err := rpc.WriteResponse(conn, resp); err != nil {
			return err
		}
	}
}

func handleOne(req *domain.RPCRequest, codec rpc.Codec, reg *Registry) *domain.RPCResponse {
	fn, err := reg.Resolve(req.FunctionRef)
	if err != nil {
		return errorResponse(req.CallID, "ImportError", err.Error())
	}

	args, err := decodeArgs(req.FunctionRef, codec, req.Args)
	if err != nil {
		return errorResponse(req.CallID, "ArgumentError", err.Error())
	}
	kwargs, err := decodeOrNil(codec, req.Kwargs)
	if err != nil {
		return errorResponse(req.CallID, "ArgumentError", err.Error())
	}

	type outcome struct {
		result rpc.Value
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &RemoteException{Kind: "PanicError", Msg: fmt.Sprint(r)}}
			}
		}()
		result, err := fn(args, kwargs)
		done <- outcome{result: result, err: err}
	}()

	var timer <-chan time.Time
	if req.DeadlineMs > 0 {
		t := time.NewTimer(time.Duration(req.DeadlineMs) * time.Millisecond)
		defer t.Stop()
		timer = t.C
	}

	select {
	case o := <-done:
		if o.err != nil {
			var re *RemoteException
			if errors.As(o.err, &re) {
				return errorResponse(req.CallID, re.Kind, re.Msg)
			}
			return errorResponse(req.CallID, "Exception", o.err.Error())
		}
		encoded, err := codec.Encode(o.result)
		if err != nil {
			return errorResponse(req.CallID, "EncodeError", err.Error())
		}
		return &domain.RPCResponse{CallID: req.CallID, Ok: true, Result: encoded}
	case <-timer:
		// The guest-side soft timer (spec §4.4 step 4); the host-side
		// deadline in rpc.Client.Call is authoritative and independent
		// of this one (spec §5 "Timeouts").
		return errorResponse(req.CallID, "TimeoutError", "guest soft timer expired")
	}
}

func decodeOrNil(codec rpc.Codec, b []byte) (rpc.Value, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return codec.Decode(b)
}

// decodeArgs decodes a call's args, routing the provisioning handshake
// through the host-trusted codec (spec §6) instead of the stream's
// regular Value codec: its payload is an opaque, host-authored blob,
// never guest-originated data.
func decodeArgs(functionRef string, codec rpc.Codec, b []byte) (rpc.Value, error) {
	if functionRef == domain.ProvisionInstallFunctionRef {
		if len(b) == 0 {
			return nil, nil
		}
		raw, err := rpc.TrustedCodec{}.Unmarshal(b)
		if err != nil {
			return nil, err
		}
		return rpc.Value(raw), nil
	}
	return decodeOrNil(codec, b)
}

func errorResponse(callID uint64, kind, msg string) *domain.RPCResponse {
	return &domain.RPCResponse{
		CallID:      callID,
		Ok:          false,
		Kind:        kind,
		Message:     msg,
		RemoteTrace: fmt.Sprintf("%s: %s", kind, msg),
	}
}
