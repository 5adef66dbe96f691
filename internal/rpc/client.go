package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/hyperclast/firebreak/internal/domain"
)

// Client performs framed calls over a single host↔guest stream. A
// Client is bound to exactly one net.Conn for its lifetime; the pool
// layer is responsible for not handing the same Client/VM to two
// concurrent callers (spec §4.3 "Ordering").
type Client struct {
	conn    net.Conn
	nextID  atomic.Uint64
}

// NewClient wraps an already-connected stream. The connection is
// expected to have completed the boot handshake already (spec §4.2).
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Close closes the underlying stream.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call performs exactly one request/response round trip per spec §4.3:
//
//   - assigns a monotonic call_id,
//   - writes the framed request and starts the deadline timer,
//   - reads the framed response,
//   - on call_id mismatch: ProtocolError,
//   - on deadline expiry: stops reading and returns Timeout,
//   - on EOF / short read / malformed frame: ProtocolError (or
//     RemoteCrash, see below),
//   - on ctx cancellation: Cancelled.
//
// The caller (pool.Pool, via sandbox.Manager) is responsible for
// tainting the VM on any non-nil *domain.Failure other than
// RemoteException.
func (c *Client) Call(ctx context.Context, functionRef string, args, kwargs []byte, deadline time.Duration) (*domain.RPCResponse, error) {
	callID := c.nextID.Add(1)
	req := &domain.RPCRequest{
		CallID:      callID,
		FunctionRef: functionRef,
		Args:        args,
		Kwargs:      kwargs,
		DeadlineMs:  uint32(deadline.Milliseconds()),
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	if err := c.conn.SetDeadline(time.Time{}); err != nil {
		return nil, domain.NewFailure(domain.FailureProtocolError, err.Error())
	}
	if err := writeFrame(c.conn, encodeRequest(req)); err != nil {
		return nil, classifyIOError(err)
	}

	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := readFrame(c.conn)
		done <- result{payload, err}
	}()

	select {
	case <-callCtx.Done():
		_ = c.conn.SetDeadline(time.Now())
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, domain.NewFailure(domain.FailureTimeout, "deadline exceeded waiting for response")
		}
		return nil, domain.NewFailure(domain.FailureCancelled, "call cancelled")
	case r := <-done:
		if r.err != nil {
			return nil, classifyIOError(r.err)
		}
		resp, err := decodeResponse(r.payload)
		if err != nil {
			return nil, domain.NewFailure(domain.FailureProtocolError, err.Error())
		}
		if resp.CallID != callID {
			return nil, domain.NewFailure(domain.FailureProtocolError, "call_id mismatch")
		}
		return resp, nil
	}
}

// classifyIOError distinguishes a clean EOF (guest stream closed, i.e.
// a crash) from any other I/O failure (treated as protocol corruption).
func classifyIOError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.NewFailure(domain.FailureRemoteCrash, err.Error())
	}
	return domain.NewFailure(domain.FailureProtocolError, err.Error())
}
