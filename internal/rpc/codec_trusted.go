package rpc

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TrustedCodec is the secondary codec named in spec §6: "a secondary
// codec for host-trusted payloads may carry opaque pickled objects; it
// is never used for guest-originated data." It is used only when the
// host itself is both producer and consumer (e.g. replaying a recorded
// argument blob into a provisioning command), never for values returned
// by the guest.
//
// Grounded on the teacher's internal/pkg/vsockpb.Codec, which frames a
// protobuf message the same way the JSON codec frames its envelope; here
// the payload is wrapped in wrapperspb.BytesValue rather than a
// hand-authored generated message, since the opaque payload has no
// internal structure the host needs to address field-by-field.
type TrustedCodec struct{}

// Marshal wraps an opaque byte blob in a protobuf BytesValue.
func (TrustedCodec) Marshal(payload []byte) ([]byte, error) {
	return proto.Marshal(wrapperspb.Bytes(payload))
}

// Unmarshal recovers the opaque byte blob from a protobuf BytesValue.
func (TrustedCodec) Unmarshal(data []byte) ([]byte, error) {
	msg := &wrapperspb.BytesValue{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg.GetValue(), nil
}
