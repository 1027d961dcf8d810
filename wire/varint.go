package wire

// Varint primitives operate on plain byte slices so that the Reader, the
// Writer and the message pipe share one implementation.

// ConsumeVarint decodes a base-128 varint from the start of b and returns the
// value and the number of bytes consumed. At most ten bytes are read; a
// tenth byte with any bit above the lowest set is an overflow.
func ConsumeVarint(b []byte) (uint64, int, error) {
	// Fast path for single-byte varints (values 0-127)
	if len(b) > 0 && b[0] < 0x80 {
		return uint64(b[0]), 1, nil
	}

	var v uint64
	var shift uint
	for i := 0; i < maxVarintLen64; i++ {
		if i >= len(b) {
			return 0, 0, ErrTruncated
		}
		c := b[i]
		if i == maxVarintLen64-1 && c > 1 {
			return 0, 0, ErrMalformedVarint
		}
		v |= uint64(c&0x7F) << shift
		if c < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrMalformedVarint
}

// ConsumeVarint32 decodes a varint holding a 32-bit value. Negative int32
// values are sign-extended to ten bytes on the wire, so continuation past the
// fifth byte is tolerated as long as the whole varint is a valid 64-bit
// encoding; the result is truncated to its low 32 bits.
func ConsumeVarint32(b []byte) (uint32, int, error) {
	var v uint32
	var shift uint
	for i := 0; i < maxVarintLen32; i++ {
		if i >= len(b) {
			return 0, 0, ErrTruncated
		}
		c := b[i]
		v |= uint32(c&0x7F) << shift
		if c < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	_, n, err := ConsumeVarint(b)
	if err != nil {
		return 0, 0, err
	}
	return v, n, nil
}

// AppendVarint appends the minimal varint encoding of v to b.
func AppendVarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// PutVarint writes the varint encoding of v into b, which must be large
// enough, and returns the number of bytes written.
func PutVarint(b []byte, v uint64) int {
	i := 0
	for v >= 0x80 {
		b[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	b[i] = byte(v)
	return i + 1
}

// DecodeZigZag32 decodes a zigzag-encoded 32-bit integer
func DecodeZigZag32(encoded uint64) int32 {
	return int32((uint32(encoded) >> 1) ^ uint32(-int32(encoded&1)))
}

// DecodeZigZag64 decodes a zigzag-encoded 64-bit integer
func DecodeZigZag64(encoded uint64) int64 {
	return int64((encoded >> 1) ^ uint64(-int64(encoded&1)))
}

// EncodeZigZag32 encodes a signed 32-bit integer using zigzag encoding
func EncodeZigZag32(v int32) uint64 {
	return uint64((uint32(v) << 1) ^ uint32(v>>31))
}

// EncodeZigZag64 encodes a signed 64-bit integer using zigzag encoding
func EncodeZigZag64(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

// VarintSize returns the number of bytes needed to encode the given varint
func VarintSize(v uint64) int {
	switch {
	case v < 1<<7:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<21:
		return 3
	case v < 1<<28:
		return 4
	case v < 1<<35:
		return 5
	case v < 1<<42:
		return 6
	case v < 1<<49:
		return 7
	case v < 1<<56:
		return 8
	case v < 1<<63:
		return 9
	default:
		return 10
	}
}

// TagSize returns the encoded size of the tag for fieldNumber.
func TagSize(fieldNumber FieldNumber) int {
	return VarintSize(uint64(MakeTag(fieldNumber, WireVarint)))
}
