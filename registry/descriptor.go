package registry

import (
	"strconv"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/anirudhraja/protocodec/schema"
)

// RegisterFile registers the messages and enums of a compiled file
// descriptor, such as the File_x_proto variable of generated code or a
// descriptor built with protodesc. Imports are registered first; files
// already known (including the built-in well-known types) are skipped.
func (r *Registry) RegisterFile(fd protoreflect.FileDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerDescriptorFile(fd)
}

func (r *Registry) registerDescriptorFile(fd protoreflect.FileDescriptor) error {
	if _, ok := r.repo.ProtoFiles[fd.Path()]; ok {
		return nil
	}
	imports := fd.Imports()
	for i := 0; i < imports.Len(); i++ {
		imp := imports.Get(i)
		if imp.IsPlaceholder() {
			continue
		}
		if err := r.registerDescriptorFile(imp.FileDescriptor); err != nil {
			return err
		}
	}

	syntax := schema.SyntaxProto2
	if fd.Syntax() == protoreflect.Proto3 {
		syntax = schema.SyntaxProto3
	}
	file := &schema.ProtoFile{
		Name:    fd.Path(),
		Package: string(fd.Package()),
		Syntax:  syntax,
	}
	for i := 0; i < imports.Len(); i++ {
		imp := imports.Get(i)
		file.Imports = append(file.Imports, &schema.Import{Path: imp.Path(), Public: imp.IsPublic, Weak: imp.IsWeak})
	}
	messages := fd.Messages()
	for i := 0; i < messages.Len(); i++ {
		file.Messages = append(file.Messages, messageFromDescriptor(messages.Get(i), syntax))
	}
	enums := fd.Enums()
	for i := 0; i < enums.Len(); i++ {
		file.Enums = append(file.Enums, enumFromDescriptor(enums.Get(i)))
	}

	if err := r.registerFile(file); err != nil {
		return errors.Wrapf(err, "register %s", fd.Path())
	}
	r.repo.ProtoFiles[fd.Path()] = file
	return nil
}

func messageFromDescriptor(md protoreflect.MessageDescriptor, syntax schema.Syntax) *schema.Message {
	msg := &schema.Message{
		Name:     string(md.Name()),
		MapEntry: md.IsMapEntry(),
		Syntax:   syntax,
	}

	oneofs := md.Oneofs()
	groups := make(map[protoreflect.FullName]*schema.Oneof, oneofs.Len())
	for i := 0; i < oneofs.Len(); i++ {
		od := oneofs.Get(i)
		if od.IsSynthetic() {
			continue
		}
		oneof := &schema.Oneof{Name: string(od.Name())}
		groups[od.FullName()] = oneof
		msg.OneofGroups = append(msg.OneofGroups, oneof)
	}

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		field := fieldFromDescriptor(fd)
		if od := fd.ContainingOneof(); od != nil && !od.IsSynthetic() {
			oneof := groups[od.FullName()]
			oneof.Fields = append(oneof.Fields, field)
			continue
		}
		msg.Fields = append(msg.Fields, field)
	}

	nested := md.Messages()
	for i := 0; i < nested.Len(); i++ {
		msg.NestedTypes = append(msg.NestedTypes, messageFromDescriptor(nested.Get(i), syntax))
	}
	enums := md.Enums()
	for i := 0; i < enums.Len(); i++ {
		msg.NestedEnums = append(msg.NestedEnums, enumFromDescriptor(enums.Get(i)))
	}
	return msg
}

func fieldFromDescriptor(fd protoreflect.FieldDescriptor) *schema.Field {
	field := &schema.Field{
		Name:     string(fd.Name()),
		Number:   int32(fd.Number()),
		Label:    schema.LabelOptional,
		Type:     fieldTypeFromDescriptor(fd),
		JsonName: fd.JSONName(),
		Packed:   fd.IsPacked(),
		Group:    fd.Kind() == protoreflect.GroupKind,
	}
	switch fd.Cardinality() {
	case protoreflect.Required:
		field.Label = schema.LabelRequired
	case protoreflect.Repeated:
		field.Label = schema.LabelRepeated
	}
	if fd.HasDefault() {
		field.DefaultValue = defaultString(fd)
	}
	return field
}

func fieldTypeFromDescriptor(fd protoreflect.FieldDescriptor) schema.FieldType {
	if fd.IsMap() {
		key := fieldTypeFromDescriptor(fd.MapKey())
		value := fieldTypeFromDescriptor(fd.MapValue())
		return schema.FieldType{Kind: schema.KindMap, MapKey: &key, MapValue: &value}
	}
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return schema.FieldType{Kind: schema.KindMessage, MessageType: string(fd.Message().FullName())}
	case protoreflect.EnumKind:
		return schema.FieldType{Kind: schema.KindEnum, EnumType: string(fd.Enum().FullName())}
	}
	// protoreflect kind names match the scalar keywords
	return schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.PrimitiveType(fd.Kind().String())}
}

// defaultString renders an explicit default in the textual form
// schema.ParseDefault reads back. Enum defaults are value names.
func defaultString(fd protoreflect.FieldDescriptor) string {
	v := fd.Default()
	switch fd.Kind() {
	case protoreflect.EnumKind:
		return string(fd.DefaultEnumValue().Name())
	case protoreflect.BoolKind:
		return strconv.FormatBool(v.Bool())
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return strconv.FormatInt(v.Int(), 10)
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return strconv.FormatUint(v.Uint(), 10)
	case protoreflect.FloatKind:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case protoreflect.DoubleKind:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case protoreflect.BytesKind:
		return string(v.Bytes())
	}
	return v.String()
}

func enumFromDescriptor(ed protoreflect.EnumDescriptor) *schema.Enum {
	enum := &schema.Enum{Name: string(ed.Name())}
	values := ed.Values()
	seen := make(map[int32]struct{}, values.Len())
	for i := 0; i < values.Len(); i++ {
		vd := values.Get(i)
		n := int32(vd.Number())
		if _, ok := seen[n]; ok {
			// protodesc has already checked allow_alias
			enum.AllowAlias = true
		}
		seen[n] = struct{}{}
		enum.Values = append(enum.Values, &schema.EnumValue{Name: string(vd.Name()), Number: n})
	}
	return enum
}
