// Package commands carries the HID-IO command catalog: typed payload
// codecs for every standard command ID and handler adapters that plug into
// the hidio dispatch core. Consumers fill in the function fields of the
// command they support and register the struct with a Catalog.
package commands

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrShortPayload reports a payload truncated below its fixed fields.
	ErrShortPayload = errors.New("payload too short")

	// ErrBadPayload reports a payload that violates the command schema.
	ErrBadPayload = errors.New("malformed payload")
)

func appendU16s(dst []byte, vals []uint16) []byte {
	for _, v := range vals {
		dst = binary.LittleEndian.AppendUint16(dst, v)
	}
	return dst
}

func parseU16s(p []byte) ([]uint16, error) {
	if len(p)%2 != 0 {
		return nil, ErrBadPayload
	}
	out := make([]uint16, 0, len(p)/2)
	for i := 0; i < len(p); i += 2 {
		out = append(out, binary.LittleEndian.Uint16(p[i:]))
	}
	return out, nil
}
