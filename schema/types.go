// Package schema holds the plain schema description the codec consumes: per
// message type, the ordered set of fields with their numbers, value kinds and
// framing. Descriptions are produced by a Provider (hand registration, parsed
// .proto files or protoreflect descriptors) and are immutable once compiled.
package schema

import "sync"

// ProtoRepo represents a collection of .proto files and their definitions.
type ProtoRepo struct {
	ProtoFiles map[string]*ProtoFile `json:"proto_files"`
}

// ProtoFile represents a single .proto file
type ProtoFile struct {
	Name     string     `json:"name"`     // file.proto
	Package  string     `json:"package"`  // package name
	Syntax   Syntax     `json:"syntax"`   // proto2 or proto3
	Imports  []*Import  `json:"imports"`  // imported files
	Messages []*Message `json:"messages"` // message definitions
	Enums    []*Enum    `json:"enums"`    // enum definitions
}

// Import represents an import statement
type Import struct {
	Path   string `json:"path"`   // "google/protobuf/timestamp.proto"
	Public bool   `json:"public"` // public import
	Weak   bool   `json:"weak"`   // weak import
}

// Syntax is the schema language revision a message was declared in.
type Syntax string

const (
	SyntaxProto2 Syntax = "proto2"
	SyntaxProto3 Syntax = "proto3"
)

// Message represents a protobuf message definition
type Message struct {
	Name        string     `json:"name"`         // "User"
	Fields      []*Field   `json:"fields"`       // message fields, oneof members excluded
	NestedTypes []*Message `json:"nested_types"` // nested messages
	NestedEnums []*Enum    `json:"nested_enums"` // nested enums
	OneofGroups []*Oneof   `json:"oneof_groups"` // oneof groups
	MapEntry    bool       `json:"map_entry"`    // is this a map entry?
	Syntax      Syntax     `json:"syntax"`

	once   sync.Once
	layout *Layout
	err    error
}

// Field represents a message field
type Field struct {
	Name         string     `json:"name"`          // "user_name"
	Number       int32      `json:"number"`        // 1
	Label        FieldLabel `json:"label"`         // optional, required, repeated
	Type         FieldType  `json:"type"`          // field type information
	DefaultValue string     `json:"default_value"` // default value (proto2)
	JsonName     string     `json:"json_name"`     // JSON field name
	Packed       bool       `json:"packed"`        // repeated scalars written as one packed run
	Group        bool       `json:"group"`         // message written with start/end group tags
}

// Oneof represents a oneof group
type Oneof struct {
	Name   string   `json:"name"`   // "user_info"
	Fields []*Field `json:"fields"` // fields in this oneof
}

// FieldLabel represents field labels
type FieldLabel string

const (
	LabelOptional FieldLabel = "optional"
	LabelRequired FieldLabel = "required"
	LabelRepeated FieldLabel = "repeated"
)

// FieldType represents field type information
type FieldType struct {
	Kind          TypeKind      `json:"kind"`                     // primitive, message, enum, map
	PrimitiveType PrimitiveType `json:"primitive_type,omitempty"` // for primitive types
	MessageType   string        `json:"message_type,omitempty"`   // for message types: "User", "google.protobuf.Timestamp"
	EnumType      string        `json:"enum_type,omitempty"`      // for enum types
	MapKey        *FieldType    `json:"map_key,omitempty"`        // for map key type
	MapValue      *FieldType    `json:"map_value,omitempty"`      // for map value type
}

// TypeKind represents the kind of field type
type TypeKind string

const (
	KindPrimitive TypeKind = "primitive"
	KindMessage   TypeKind = "message"
	KindEnum      TypeKind = "enum"
	KindMap       TypeKind = "map"
)

// PrimitiveType represents protobuf primitive types
type PrimitiveType string

const (
	TypeDouble   PrimitiveType = "double"
	TypeFloat    PrimitiveType = "float"
	TypeInt64    PrimitiveType = "int64"
	TypeUint64   PrimitiveType = "uint64"
	TypeInt32    PrimitiveType = "int32"
	TypeFixed64  PrimitiveType = "fixed64"
	TypeFixed32  PrimitiveType = "fixed32"
	TypeBool     PrimitiveType = "bool"
	TypeString   PrimitiveType = "string"
	TypeBytes    PrimitiveType = "bytes"
	TypeUint32   PrimitiveType = "uint32"
	TypeSfixed32 PrimitiveType = "sfixed32"
	TypeSfixed64 PrimitiveType = "sfixed64"
	TypeSint32   PrimitiveType = "sint32"
	TypeSint64   PrimitiveType = "sint64"
)

var packedEligible = map[PrimitiveType]struct{}{
	TypeDouble:   {},
	TypeFloat:    {},
	TypeInt64:    {},
	TypeUint64:   {},
	TypeInt32:    {},
	TypeFixed64:  {},
	TypeFixed32:  {},
	TypeBool:     {},
	TypeUint32:   {},
	TypeSfixed32: {},
	TypeSfixed64: {},
	TypeSint32:   {},
	TypeSint64:   {},
}

// IsPackedType checks and returns if the Primitive type is packed for repeated label
func IsPackedType(t PrimitiveType) bool {
	_, ok := packedEligible[t]
	return ok
}

// IsPrimitiveType reports whether name is one of the scalar type keywords.
func IsPrimitiveType(name string) bool {
	if name == string(TypeString) || name == string(TypeBytes) {
		return true
	}
	return IsPackedType(PrimitiveType(name))
}

// IsRepeated reports whether the field holds a list. Map fields are not lists.
func (f *Field) IsRepeated() bool {
	return f.Label == LabelRepeated && f.Type.Kind != KindMap
}

// IsRequired reports whether the field carries the proto2 required label.
func (f *Field) IsRequired() bool {
	return f.Label == LabelRequired
}

// IsPackable reports whether the field's values may appear in a packed run.
// Decoders accept both forms for such fields regardless of Packed.
func (f *Field) IsPackable() bool {
	if !f.IsRepeated() {
		return false
	}
	switch f.Type.Kind {
	case KindEnum:
		return true
	case KindPrimitive:
		return IsPackedType(f.Type.PrimitiveType)
	}
	return false
}

// Enum represents an enum definition
type Enum struct {
	Name       string       `json:"name"`        // "Status"
	Values     []*EnumValue `json:"values"`      // enum values
	AllowAlias bool         `json:"allow_alias"` // allow_alias option

	once     sync.Once
	byNumber map[int32]*EnumValue
	byName   map[string]*EnumValue
}

// EnumValue represents an enum value
type EnumValue struct {
	Name     string `json:"name"`      // "ACTIVE"
	Number   int32  `json:"number"`    // 1
	JsonName string `json:"json_name"` // JSON field name
}

func (e *Enum) index() {
	e.once.Do(func() {
		e.byNumber = make(map[int32]*EnumValue, len(e.Values))
		e.byName = make(map[string]*EnumValue, len(e.Values))
		for _, v := range e.Values {
			// the first name declared for an aliased number is canonical
			if _, ok := e.byNumber[v.Number]; !ok {
				e.byNumber[v.Number] = v
			}
			e.byName[v.Name] = v
		}
	})
}

// ValueByNumber returns the canonical value for n.
func (e *Enum) ValueByNumber(n int32) (*EnumValue, bool) {
	e.index()
	v, ok := e.byNumber[n]
	return v, ok
}

// ValueByName returns the value called name.
func (e *Enum) ValueByName(name string) (*EnumValue, bool) {
	e.index()
	v, ok := e.byName[name]
	return v, ok
}

// Default returns the value used when an enum field is absent: the first
// declared value, which proto3 requires to be zero.
func (e *Enum) Default() *EnumValue {
	if len(e.Values) == 0 {
		return nil
	}
	return e.Values[0]
}
