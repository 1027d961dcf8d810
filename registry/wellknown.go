package registry

import (
	"github.com/anirudhraja/protocodec/schema"
)

const wellKnownPackage = "google.protobuf"

// wrapperTypes maps each google.protobuf wrapper message to the scalar it wraps.
var wrapperTypes = []struct {
	name string
	typ  schema.PrimitiveType
}{
	{"DoubleValue", schema.TypeDouble},
	{"FloatValue", schema.TypeFloat},
	{"Int64Value", schema.TypeInt64},
	{"UInt64Value", schema.TypeUint64},
	{"Int32Value", schema.TypeInt32},
	{"UInt32Value", schema.TypeUint32},
	{"BoolValue", schema.TypeBool},
	{"StringValue", schema.TypeString},
	{"BytesValue", schema.TypeBytes},
}

// IsWrapperType reports whether name is one of the google.protobuf scalar wrappers.
func IsWrapperType(name string) bool {
	for _, w := range wrapperTypes {
		if name == wellKnownPackage+"."+w.name {
			return true
		}
	}
	return false
}

// wellKnownFiles describes the well-known types as ordinary proto3 messages.
// They travel on the wire as plain messages; no special JSON-style mapping applies.
func wellKnownFiles() []*schema.ProtoFile {
	wrappers := &schema.ProtoFile{Name: "google/protobuf/wrappers.proto", Package: wellKnownPackage, Syntax: schema.SyntaxProto3}
	for _, w := range wrapperTypes {
		wrappers.Messages = append(wrappers.Messages, &schema.Message{
			Name:   w.name,
			Syntax: schema.SyntaxProto3,
			Fields: []*schema.Field{scalarField("value", 1, w.typ)},
		})
	}
	secondsNanos := func(name string) *schema.Message {
		return &schema.Message{
			Name:   name,
			Syntax: schema.SyntaxProto3,
			Fields: []*schema.Field{
				scalarField("seconds", 1, schema.TypeInt64),
				scalarField("nanos", 2, schema.TypeInt32),
			},
		}
	}
	return []*schema.ProtoFile{
		wrappers,
		{Name: "google/protobuf/timestamp.proto", Package: wellKnownPackage, Syntax: schema.SyntaxProto3, Messages: []*schema.Message{secondsNanos("Timestamp")}},
		{Name: "google/protobuf/duration.proto", Package: wellKnownPackage, Syntax: schema.SyntaxProto3, Messages: []*schema.Message{secondsNanos("Duration")}},
		{Name: "google/protobuf/empty.proto", Package: wellKnownPackage, Syntax: schema.SyntaxProto3, Messages: []*schema.Message{{Name: "Empty", Syntax: schema.SyntaxProto3}}},
	}
}

func scalarField(name string, number int32, typ schema.PrimitiveType) *schema.Field {
	return &schema.Field{
		Name:   name,
		Number: number,
		Label:  schema.LabelOptional,
		Type:   schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: typ},
	}
}

func registerWellKnown(r *Registry) {
	for _, file := range wellKnownFiles() {
		if err := r.registerFile(file); err != nil {
			panic("registry: invalid built-in schema: " + err.Error())
		}
		r.repo.ProtoFiles[file.Name] = file
	}
}
