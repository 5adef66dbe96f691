//go:build linux

package runner

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/mdlayher/vsock"
)

// VsockDialer dials the real hypervisor's stream endpoint over AF_VSOCK,
// the out-of-scope hypervisor's control surface (spec §1, §6). It is not
// used by the mock backend; a real Runner implementation (not part of
// this repo — see spec §1 "out of scope: ... the underlying hypervisor
// binary") would construct VMHandle.StreamEndpoint as "cid:port" and
// hand dialing off to this type.
//
// Grounded on internal/firecracker/vsock.go's dialVsock, adapted to the
// standalone github.com/mdlayher/vsock package instead of a syscall
// wrapper local to the teacher's firecracker package.
type VsockDialer struct{}

// Dial parses vm.StreamEndpoint as "cid:port" and connects.
func (VsockDialer) Dial(ctx context.Context, vm *domain.VMHandle) (net.Conn, error) {
	cid, port, err := parseVsockEndpoint(vm.StreamEndpoint)
	if err != nil {
		return nil, err
	}
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := vsock.Dial(cid, port, nil)
		done <- result{conn, err}
	}()
	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func parseVsockEndpoint(endpoint string) (cid, port uint32, err error) {
	parts := strings.SplitN(endpoint, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("runner: malformed vsock endpoint %q", endpoint)
	}
	c, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("runner: bad cid in %q: %w", endpoint, err)
	}
	p, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("runner: bad port in %q: %w", endpoint, err)
	}
	return uint32(c), uint32(p), nil
}
