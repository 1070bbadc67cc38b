package rpcwire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding package and selected via
// grpc.CallContentSubtype / grpc.ForceCodec so every call on a connection
// dialed for this package uses JSON framing instead of protobuf, without
// requiring a .proto-generated message implementing proto.Message.
const codecName = "xrplreport-json"

// jsonCodec implements encoding.Codec (previously encoding.CodecV2 in
// newer grpc releases; both satisfy the same Marshal/Unmarshal/Name
// surface used here) over encoding/json. Every message type in this
// package is a plain struct, so reflection-based JSON marshaling round-
// trips them exactly.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcwire: marshaling %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcwire: unmarshaling into %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CodecName is the content-subtype to pass to grpc.CallContentSubtype on
// every call made through a connection dialed for this package's service.
func CodecName() string { return codecName }
