package remoteexec

import (
	"bytes"
	"encoding/gob"
)

// EncodeCommand and DecodeCommand are the wire format a Command blob is
// stored under in the CAS, gob standing in for proto marshaling the same
// way EncodeActionResult does for Action Cache entries.
func EncodeCommand(c *Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeCommand(data []byte) (*Command, error) {
	var c Command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// EncodeDirectory and DecodeDirectory are the wire format a Directory blob
// (one level of an input root's Merkle tree) is stored under in the CAS.
func EncodeDirectory(d *Directory) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeDirectory(data []byte) (*Directory, error) {
	var d Directory
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// EncodeTree is the wire format an output directory's fully inlined Tree
// blob is stored under, uploaded once by upload_results alongside the
// individual Directory blobs it was built from.
func EncodeTree(t *Tree) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
