package remoteexec

import (
	"bytes"
	"encoding/gob"
)

// EncodeActionResult and DecodeActionResult are the wire format an Action
// Cache entry is stored under: the serialized bytes of an ActionResult,
// the way a real REv2 AC entry holds a serialized ActionResult proto. Since
// this package hand-models REv2 messages as plain structs instead of
// running protoc (see package doc), gob stands in for proto marshaling
// here — consistent with pkg/store/grpcstore's choice of the same codec
// for the same reason.
func EncodeActionResult(r *ActionResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeActionResult(data []byte) (*ActionResult, error) {
	var r ActionResult
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}
