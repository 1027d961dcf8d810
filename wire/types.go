package wire

import "fmt"

// ===== PROTOBUF WIRE FORMAT TYPES =====

// WireType represents protobuf wire format types
type WireType int8

const (
	WireVarint     WireType = 0 // int32, int64, uint32, uint64, sint32, sint64, bool, enum
	WireFixed64    WireType = 1 // fixed64, sfixed64, double
	WireBytes      WireType = 2 // string, bytes, embedded messages, packed repeated fields
	WireStartGroup WireType = 3 // legacy group opening tag
	WireEndGroup   WireType = 4 // legacy group closing tag
	WireFixed32    WireType = 5 // fixed32, sfixed32, float
)

// Valid reports whether t is one of the six wire types legal on the wire.
func (t WireType) Valid() bool {
	return t >= WireVarint && t <= WireFixed32
}

func (t WireType) String() string {
	switch t {
	case WireVarint:
		return "varint"
	case WireFixed64:
		return "fixed64"
	case WireBytes:
		return "bytes"
	case WireStartGroup:
		return "start_group"
	case WireEndGroup:
		return "end_group"
	case WireFixed32:
		return "fixed32"
	default:
		return fmt.Sprintf("wiretype(%d)", int8(t))
	}
}

// FieldNumber represents a protobuf field number
type FieldNumber int32

const (
	MinFieldNumber         FieldNumber = 1
	MaxFieldNumber         FieldNumber = 1<<29 - 1
	FirstReservedNumber    FieldNumber = 19000
	LastReservedNumber     FieldNumber = 19999
	maxVarintLen64                     = 10
	maxVarintLen32                     = 5
	defaultMaxMessageSize              = 64 << 20
	defaultMaxDepth                    = 100
	maxLengthPrefix                    = 1<<31 - 1
)

// Valid reports whether n may be used as a field number: inside [1, 2^29-1]
// and outside the reserved 19000-19999 range.
func (n FieldNumber) Valid() bool {
	return n >= MinFieldNumber && n <= MaxFieldNumber && !n.Reserved()
}

// Reserved reports whether n falls in the implementation-reserved range.
func (n FieldNumber) Reserved() bool {
	return n >= FirstReservedNumber && n <= LastReservedNumber
}

// Tag represents a protobuf field tag (field number + wire type)
type Tag uint64

// MakeTag creates a tag from field number and wire type
func MakeTag(fieldNumber FieldNumber, wireType WireType) Tag {
	return Tag(uint64(fieldNumber)<<3 | uint64(wireType))
}

// ParseTag parses a tag into field number and wire type
func ParseTag(tag Tag) (FieldNumber, WireType) {
	return FieldNumber(tag >> 3), WireType(tag & 0x7)
}

// RawValue represents a raw (undecoded) protobuf field. For length-delimited
// fields RawData holds the payload without its length prefix; for groups it
// holds the group content without the start and end tags.
type RawValue struct {
	FieldNumber FieldNumber
	WireType    WireType
	Varint      uint64 // varint, fixed32 and fixed64 payloads
	RawData     []byte // bytes and group payloads
}
