package rpc

import (
	"io"

	"github.com/hyperclast/firebreak/internal/domain"
)

// ReadRequest reads and decodes one framed RPCRequest from the guest
// side of a stream. It is the mirror of Client.Call's write half and is
// used by internal/guestexec's reference daemon.
func ReadRequest(r io.Reader) (*domain.RPCRequest, error) {
	payload, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	return decodeRequest(payload)
}

// WriteResponse frames and writes an RPCResponse to the guest side of a
// stream.
func WriteResponse(w io.Writer, resp *domain.RPCResponse) error {
	return writeFrame(w, encodeResponse(resp))
}
