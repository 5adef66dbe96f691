// Package rpc implements the RPC Client (spec §4.3, C3): a framed,
// length-prefixed request/response protocol over a single host↔guest
// stream, with per-call deadline and cancellation. Exactly one call is
// in flight on a stream at a time; parallelism comes from multiple VMs,
// not multiplexing (spec §4.3 "Ordering").
package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single frame, mirroring the teacher's 8MB cap
// on both its JSON and protobuf vsock codecs (internal/firecracker/vsock.go,
// internal/pkg/vsockpb/codec.go).
const maxFrameBytes = 8 * 1024 * 1024

// writeFrame writes a 4-byte big-endian length prefix followed by
// payload, batched into a single write to reduce syscalls (matching the
// teacher's sendLocked).
func writeFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// readFrame reads one length-prefixed frame. A short read or EOF is
// reported to the caller unwrapped so it can be classified as
// ProtocolError vs RemoteCrash depending on context.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("rpc: frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
