package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Value is the permitted value space for user args/returns (spec §6):
// integers, floats, booleans, strings, byte strings, ordered sequences,
// string-keyed mappings, and a tagged null. Go's dynamic typing stands
// in for the tagged union; Codec.Encode rejects anything outside it.
//
// Concretely a Value is one of: nil, bool, int64, float64, string,
// []byte, []Value, map[string]Value.
type Value any

// ErrUnencodableArgument is returned by Codec.Encode when v contains a
// type outside the permitted value space (spec §7, UnencodableArgument).
var ErrUnencodableArgument = fmt.Errorf("value outside permitted codec space")

// Codec is the pluggable serialization boundary named in spec §1 and §6.
// The guest and every host-side caller must agree on one Codec per
// stream.
type Codec interface {
	Encode(v Value) ([]byte, error)
	Decode(b []byte) (Value, error)
}

// jsonCodec is the default codec (spec §4.3 "compact binary tagged
// format" — here realized, like the teacher's own primary vsock channel
// in internal/firecracker/vsock.go, as length-prefixed JSON). Byte
// strings are carried as base64 text since JSON has no native bytes
// type; wrapForJSON rejects any type outside the permitted value space
// (e.g. maps with non-string keys, which Go's json package would
// silently stringify).
type jsonCodec struct{}

// NewJSONCodec returns the default guest-facing codec.
func NewJSONCodec() Codec { return jsonCodec{} }

func (jsonCodec) Encode(v Value) ([]byte, error) {
	wrapped, err := wrapForJSON(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wrapped)
}

func (jsonCodec) Decode(b []byte) (Value, error) {
	var wrapped jsonEnvelope
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodableArgument, err)
	}
	return unwrapFromJSON(wrapped)
}

// jsonEnvelope tags every value with its permitted-space type so decode
// can distinguish, e.g., a byte string from a plain string, and an
// integer from a float, both of which plain JSON would otherwise blur.
type jsonEnvelope struct {
	Tag   string          `json:"t"`
	Value json.RawMessage `json:"v,omitempty"`
}

func wrapForJSON(v Value) (jsonEnvelope, error) {
	switch t := v.(type) {
	case nil:
		return jsonEnvelope{Tag: "null"}, nil
	case bool:
		raw, _ := json.Marshal(t)
		return jsonEnvelope{Tag: "bool", Value: raw}, nil
	case int:
		return wrapForJSON(int64(t))
	case int64:
		raw, _ := json.Marshal(t)
		return jsonEnvelope{Tag: "int", Value: raw}, nil
	case float64:
		raw, _ := json.Marshal(t)
		return jsonEnvelope{Tag: "float", Value: raw}, nil
	case string:
		raw, _ := json.Marshal(t)
		return jsonEnvelope{Tag: "str", Value: raw}, nil
	case []byte:
		raw, _ := json.Marshal(base64.StdEncoding.EncodeToString(t))
		return jsonEnvelope{Tag: "bytes", Value: raw}, nil
	case []Value:
		items := make([]jsonEnvelope, len(t))
		for i, item := range t {
			wrapped, err := wrapForJSON(item)
			if err != nil {
				return jsonEnvelope{}, err
			}
			items[i] = wrapped
		}
		raw, _ := json.Marshal(items)
		return jsonEnvelope{Tag: "seq", Value: raw}, nil
	case map[string]Value:
		out := make(map[string]jsonEnvelope, len(t))
		for k, item := range t {
			wrapped, err := wrapForJSON(item)
			if err != nil {
				return jsonEnvelope{}, err
			}
			out[k] = wrapped
		}
		raw, _ := json.Marshal(out)
		return jsonEnvelope{Tag: "map", Value: raw}, nil
	default:
		return jsonEnvelope{}, fmt.Errorf("%w: %T", ErrUnencodableArgument, v)
	}
}

func unwrapFromJSON(e jsonEnvelope) (Value, error) {
	switch e.Tag {
	case "null":
		return nil, nil
	case "bool":
		var b bool
		if err := json.Unmarshal(e.Value, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "int":
		var i int64
		if err := json.Unmarshal(e.Value, &i); err != nil {
			return nil, err
		}
		return i, nil
	case "float":
		var f float64
		if err := json.Unmarshal(e.Value, &f); err != nil {
			return nil, err
		}
		return f, nil
	case "str":
		var s string
		if err := json.Unmarshal(e.Value, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "bytes":
		var s string
		if err := json.Unmarshal(e.Value, &s); err != nil {
			return nil, err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, err
		}
		return decoded, nil
	case "seq":
		var items []jsonEnvelope
		if err := json.Unmarshal(e.Value, &items); err != nil {
			return nil, err
		}
		out := make([]Value, len(items))
		for i, item := range items {
			v, err := unwrapFromJSON(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case "map":
		var fields map[string]jsonEnvelope
		if err := json.Unmarshal(e.Value, &fields); err != nil {
			return nil, err
		}
		out := make(map[string]Value, len(fields))
		for k, item := range fields {
			v, err := unwrapFromJSON(item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("rpc: unknown wire tag %q", e.Tag)
	}
}
