package wire

import "encoding/binary"

// Fixed-width values are little-endian on the wire. encoding/binary's
// LittleEndian reads and writes by byte shifts, so results do not depend on
// host byte order.

// ConsumeFixed32 decodes a little-endian 32-bit value from the start of b.
func ConsumeFixed32(b []byte) (uint32, int, error) {
	if len(b) < 4 {
		return 0, 0, ErrTruncated
	}
	return binary.LittleEndian.Uint32(b), 4, nil
}

// ConsumeFixed64 decodes a little-endian 64-bit value from the start of b.
func ConsumeFixed64(b []byte) (uint64, int, error) {
	if len(b) < 8 {
		return 0, 0, ErrTruncated
	}
	return binary.LittleEndian.Uint64(b), 8, nil
}

// AppendFixed32 appends the little-endian encoding of v to b.
func AppendFixed32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

// AppendFixed64 appends the little-endian encoding of v to b.
func AppendFixed64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}

// Fixed32Size returns the size of a fixed32 value (always 4 bytes)
func Fixed32Size() int {
	return 4
}

// Fixed64Size returns the size of a fixed64 value (always 8 bytes)
func Fixed64Size() int {
	return 8
}
