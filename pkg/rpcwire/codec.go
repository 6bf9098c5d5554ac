// Package rpcwire registers the gob-based gRPC codec shared by every
// hand-modeled RPC client/server pair in this module (pkg/store/grpcstore,
// pkg/scheduler/grpcscheduler): remoteexec's REv2 message types are plain Go
// structs rather than protoc-generated ones (see pkg/remoteexec's package
// doc), so these packages can't ride grpc-go's default proto codec. gob is
// the standard library's own answer to "serialize a Go struct graph",
// registered once here through grpc-go's documented custom-codec extension
// point (google.golang.org/grpc/encoding.RegisterCodec) rather than reaching
// for a third encoding dependency or duplicating the registration per
// package.
package rpcwire

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype this package registers its codec
// under (content-type "application/grpc+gob"); pass it to
// grpc.CallContentSubtype on every Invoke/NewStream call.
const CodecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

type gobCodec struct{}

func (gobCodec) Name() string { return CodecName }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
