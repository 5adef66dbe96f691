package rpc

import (
	"encoding/binary"
	"fmt"

	"github.com/hyperclast/firebreak/internal/domain"
)

// encodeRequest renders an RPCRequest into the self-delimiting wire form
// carried inside one frame: call_id, then length-prefixed function_ref,
// args, kwargs, then deadline_ms. Args/Kwargs are already codec-encoded
// opaque bytes by the time they reach here (spec §3).
func encodeRequest(req *domain.RPCRequest) []byte {
	var buf []byte
	buf = appendUint64(buf, req.CallID)
	buf = appendBytes(buf, []byte(req.FunctionRef))
	buf = appendBytes(buf, req.Args)
	buf = appendBytes(buf, req.Kwargs)
	buf = appendUint32(buf, req.DeadlineMs)
	return buf
}

func decodeRequest(b []byte) (*domain.RPCRequest, error) {
	r := &reader{buf: b}
	callID, err := r.uint64()
	if err != nil {
		return nil, err
	}
	ref, err := r.bytes()
	if err != nil {
		return nil, err
	}
	args, err := r.bytes()
	if err != nil {
		return nil, err
	}
	kwargs, err := r.bytes()
	if err != nil {
		return nil, err
	}
	deadline, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return &domain.RPCRequest{
		CallID:      callID,
		FunctionRef: string(ref),
		Args:        args,
		Kwargs:      kwargs,
		DeadlineMs:  deadline,
	}, nil
}

// encodeResponse renders an RPCResponse. The ok flag selects which
// branch follows: result, or kind+message+remote_trace (spec §3).
func encodeResponse(resp *domain.RPCResponse) []byte {
	var buf []byte
	buf = appendUint64(buf, resp.CallID)
	if resp.Ok {
		buf = append(buf, 1)
		buf = appendBytes(buf, resp.Result)
	} else {
		buf = append(buf, 0)
		buf = appendBytes(buf, []byte(resp.Kind))
		buf = appendBytes(buf, []byte(resp.Message))
		buf = appendBytes(buf, []byte(resp.RemoteTrace))
	}
	return buf
}

func decodeResponse(b []byte) (*domain.RPCResponse, error) {
	r := &reader{buf: b}
	callID, err := r.uint64()
	if err != nil {
		return nil, err
	}
	okByte, err := r.byte()
	if err != nil {
		return nil, err
	}
	resp := &domain.RPCResponse{CallID: callID, Ok: okByte == 1}
	if resp.Ok {
		result, err := r.bytes()
		if err != nil {
			return nil, err
		}
		resp.Result = result
		return resp, nil
	}
	kind, err := r.bytes()
	if err != nil {
		return nil, err
	}
	msg, err := r.bytes()
	if err != nil {
		return nil, err
	}
	trace, err := r.bytes()
	if err != nil {
		return nil, err
	}
	resp.Kind, resp.Message, resp.RemoteTrace = string(kind), string(msg), string(trace)
	return resp, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBytes(buf []byte, data []byte) []byte {
	buf = appendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

// reader sequentially decodes fixed- and length-prefixed fields out of a
// byte slice, returning a malformed-frame error on truncation instead of
// panicking on an out-of-range slice.
type reader struct {
	buf []byte
	pos int
}

var errMalformedFrame = fmt.Errorf("rpc: malformed frame")

func (r *reader) uint64() (uint64, error) {
	if len(r.buf)-r.pos < 8 {
		return 0, errMalformedFrame
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if len(r.buf)-r.pos < 4 {
		return 0, errMalformedFrame
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) byte() (byte, error) {
	if len(r.buf)-r.pos < 1 {
		return 0, errMalformedFrame
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if uint32(len(r.buf)-r.pos) < n {
		return nil, errMalformedFrame
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}
