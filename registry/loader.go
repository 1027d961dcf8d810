package registry

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	protoparserparser "github.com/yoheimuta/go-protoparser/v4/parser"

	"github.com/anirudhraja/protocodec/schema"
)

// LoadSchema loads a .proto file, or every .proto file under a directory,
// together with the files they import. Imports are resolved against
// ProtoDirectories and then against the loaded directory (or the file's own
// directory). Type references are resolved to fully qualified names.
func (r *Registry) LoadSchema(protoPath string) error {
	info, err := os.Stat(protoPath)
	if err != nil {
		return errors.Wrapf(err, "path does not exist: %s", protoPath)
	}

	var (
		roots   []string
		entries []string
	)
	if info.IsDir() {
		roots = []string{protoPath}
		err = filepath.WalkDir(protoPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".proto") {
				return nil
			}
			entries = append(entries, filepath.Clean(path))
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "failed to walk directory")
		}
	} else {
		if !strings.HasSuffix(protoPath, ".proto") {
			return errors.Errorf("file %s is not a .proto file", protoPath)
		}
		roots = []string{filepath.Dir(protoPath)}
		entries = []string{filepath.Clean(protoPath)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsedProtoBody = make(map[string]*protoparserparser.Proto)
	r.protoEntities = make(map[string]*protoFileEntity)
	defer func() {
		r.parsedProtoBody = nil
		r.protoEntities = nil
	}()

	var ordered []string
	seen := make(map[string]struct{})
	for _, entry := range entries {
		files, err := r.getAllProtoInfo(entry, roots)
		if err != nil {
			return err
		}
		for _, f := range files {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				ordered = append(ordered, f)
			}
		}
	}

	entities := r.knownEntities()
	for _, path := range ordered {
		collectEntities(r.parsedProtoBody[path], entities)
	}
	for _, path := range ordered {
		r.logger.Debug().Str("file", path).Strs("imports", r.protoEntities[path].imports).Msg("converting proto file")
		file, err := convertFile(path, r.parsedProtoBody[path], entities)
		if err != nil {
			return errors.Wrapf(err, "failed to load proto file %s", path)
		}
		if err := r.registerFile(file); err != nil {
			return errors.Wrapf(err, "failed to load proto file %s", path)
		}
		r.repo.ProtoFiles[path] = file
	}

	r.logger.Info().Str("path", protoPath).Int("files", len(ordered)).Int("messages", len(r.messages)).Msg("loaded proto schema")
	return nil
}

func (r *Registry) registerFile(file *schema.ProtoFile) error {
	for _, msg := range file.Messages {
		if err := r.registerMessage(file.Package, "", msg); err != nil {
			return err
		}
	}
	for _, enum := range file.Enums {
		if err := r.registerEnum(getFullName(file.Package, enum.Name), enum); err != nil {
			return err
		}
	}
	return nil
}

// knownEntities snapshots the names already registered. The caller holds r.mu.
func (r *Registry) knownEntities() map[string]entityKind {
	entities := make(map[string]entityKind, len(r.messages)+len(r.enums))
	for name := range r.messages {
		entities[name] = entityMessage
	}
	for name := range r.enums {
		entities[name] = entityEnum
	}
	return entities
}

// collectEntities records every message, group and enum a file declares.
func collectEntities(proto *protoparserparser.Proto, entities map[string]entityKind) {
	pkg := packageOf(proto)
	var walk func(scope string, body []protoparserparser.Visitee)
	walk = func(scope string, body []protoparserparser.Visitee) {
		for _, item := range body {
			switch b := item.(type) {
			case *protoparserparser.Message:
				name := getFullName(scope, b.MessageName)
				entities[name] = entityMessage
				walk(name, b.MessageBody)
			case *protoparserparser.GroupField:
				name := getFullName(scope, b.GroupName)
				entities[name] = entityMessage
				walk(name, b.MessageBody)
			case *protoparserparser.Enum:
				entities[getFullName(scope, b.EnumName)] = entityEnum
			}
		}
	}
	walk(pkg, proto.ProtoBody)
}

func packageOf(proto *protoparserparser.Proto) string {
	for _, item := range proto.ProtoBody {
		if p, ok := item.(*protoparserparser.Package); ok {
			return p.Name
		}
	}
	return ""
}

func syntaxOf(proto *protoparserparser.Proto) schema.Syntax {
	if proto.Syntax != nil && strings.Trim(proto.Syntax.ProtobufVersion, `"'`) == string(schema.SyntaxProto3) {
		return schema.SyntaxProto3
	}
	return schema.SyntaxProto2
}

// fileConverter carries the per-file state of a conversion.
type fileConverter struct {
	syntax   schema.Syntax
	entities map[string]entityKind
}

func convertFile(path string, proto *protoparserparser.Proto, entities map[string]entityKind) (*schema.ProtoFile, error) {
	c := &fileConverter{syntax: syntaxOf(proto), entities: entities}
	file := &schema.ProtoFile{
		Name:    filepath.Base(path),
		Package: packageOf(proto),
		Syntax:  c.syntax,
	}
	for _, item := range proto.ProtoBody {
		switch b := item.(type) {
		case *protoparserparser.Import:
			file.Imports = append(file.Imports, &schema.Import{
				Path:   strings.Trim(b.Location, `"'`),
				Public: b.Modifier == protoparserparser.ImportModifierPublic,
				Weak:   b.Modifier == protoparserparser.ImportModifierWeak,
			})
		case *protoparserparser.Message:
			msg, err := c.convertMessage(b.MessageName, getFullName(file.Package, b.MessageName), b.MessageBody)
			if err != nil {
				return nil, err
			}
			file.Messages = append(file.Messages, msg)
		case *protoparserparser.Enum:
			enum, err := convertEnum(b)
			if err != nil {
				return nil, err
			}
			file.Enums = append(file.Enums, enum)
		}
	}
	return file, nil
}

// convertMessage converts one message body; scope is its fully qualified name.
func (c *fileConverter) convertMessage(name, scope string, body []protoparserparser.Visitee) (*schema.Message, error) {
	msg := &schema.Message{Name: name, Syntax: c.syntax}
	for _, item := range body {
		switch b := item.(type) {
		case *protoparserparser.Field:
			label := labelOf(b.IsRepeated, b.IsRequired)
			field, err := c.convertField(scope, b.FieldName, b.FieldNumber, b.Type, label, b.FieldOptions)
			if err != nil {
				return nil, err
			}
			msg.Fields = append(msg.Fields, field)

		case *protoparserparser.MapField:
			field, entry, err := c.convertMapField(scope, b)
			if err != nil {
				return nil, err
			}
			msg.Fields = append(msg.Fields, field)
			msg.NestedTypes = append(msg.NestedTypes, entry)

		case *protoparserparser.Oneof:
			oneof := &schema.Oneof{Name: b.OneofName}
			for _, of := range b.OneofFields {
				field, err := c.convertField(scope, of.FieldName, of.FieldNumber, of.Type, schema.LabelOptional, of.FieldOptions)
				if err != nil {
					return nil, err
				}
				oneof.Fields = append(oneof.Fields, field)
			}
			msg.OneofGroups = append(msg.OneofGroups, oneof)

		case *protoparserparser.GroupField:
			groupScope := scope + "." + b.GroupName
			nested, err := c.convertMessage(b.GroupName, groupScope, b.MessageBody)
			if err != nil {
				return nil, err
			}
			number, err := parseFieldNumber(b.FieldNumber)
			if err != nil {
				return nil, errors.Wrapf(err, "group %s.%s", scope, b.GroupName)
			}
			msg.NestedTypes = append(msg.NestedTypes, nested)
			msg.Fields = append(msg.Fields, &schema.Field{
				Name:   strings.ToLower(b.GroupName),
				Number: number,
				Label:  labelOf(b.IsRepeated, b.IsRequired),
				Type:   schema.FieldType{Kind: schema.KindMessage, MessageType: groupScope},
				Group:  true,
			})

		case *protoparserparser.Message:
			nested, err := c.convertMessage(b.MessageName, scope+"."+b.MessageName, b.MessageBody)
			if err != nil {
				return nil, err
			}
			msg.NestedTypes = append(msg.NestedTypes, nested)

		case *protoparserparser.Enum:
			enum, err := convertEnum(b)
			if err != nil {
				return nil, err
			}
			msg.NestedEnums = append(msg.NestedEnums, enum)
		}
	}
	return msg, nil
}

func (c *fileConverter) convertField(scope, name, number, typeName string, label schema.FieldLabel, options []*protoparserparser.FieldOption) (*schema.Field, error) {
	fieldNumber, err := parseFieldNumber(number)
	if err != nil {
		return nil, errors.Wrapf(err, "field %s.%s", scope, name)
	}
	ft, err := c.resolveType(scope, typeName)
	if err != nil {
		return nil, errors.Wrapf(err, "field %s.%s", scope, name)
	}
	field := &schema.Field{
		Name:   name,
		Number: fieldNumber,
		Label:  label,
		Type:   ft,
	}

	packed, packedSet := false, false
	for _, opt := range options {
		switch opt.OptionName {
		case "packed":
			packed, packedSet = opt.Constant == "true", true
		case "default":
			field.DefaultValue = unquoteConstant(opt.Constant)
		case "json_name":
			field.JsonName = unquoteConstant(opt.Constant)
		}
	}
	switch {
	case packedSet:
		field.Packed = packed && field.IsPackable()
	case c.syntax == schema.SyntaxProto3:
		field.Packed = field.IsPackable()
	}
	return field, nil
}

func (c *fileConverter) convertMapField(scope string, m *protoparserparser.MapField) (*schema.Field, *schema.Message, error) {
	number, err := parseFieldNumber(m.FieldNumber)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "map field %s.%s", scope, m.MapName)
	}
	if !schema.IsPrimitiveType(m.KeyType) {
		return nil, nil, errors.Errorf("map field %s.%s: key type %s is not a scalar", scope, m.MapName, m.KeyType)
	}
	keyType := schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.PrimitiveType(m.KeyType)}
	valueType, err := c.resolveType(scope, m.Type)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "map field %s.%s", scope, m.MapName)
	}
	field := &schema.Field{
		Name:   m.MapName,
		Number: number,
		Label:  schema.LabelRepeated,
		Type: schema.FieldType{
			Kind:     schema.KindMap,
			MapKey:   &keyType,
			MapValue: &valueType,
		},
	}
	return field, mapEntryMessage(m.MapName, &keyType, &valueType), nil
}

func (c *fileConverter) resolveType(scope, typeName string) (schema.FieldType, error) {
	if schema.IsPrimitiveType(typeName) {
		return schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.PrimitiveType(typeName)}, nil
	}
	fullName, kind, err := getReferencedType(typeName, scope, c.entities)
	if err != nil {
		return schema.FieldType{}, err
	}
	if kind == entityEnum {
		return schema.FieldType{Kind: schema.KindEnum, EnumType: fullName}, nil
	}
	return schema.FieldType{Kind: schema.KindMessage, MessageType: fullName}, nil
}

func convertEnum(e *protoparserparser.Enum) (*schema.Enum, error) {
	enum := &schema.Enum{Name: e.EnumName}
	for _, item := range e.EnumBody {
		switch b := item.(type) {
		case *protoparserparser.EnumField:
			n, err := strconv.ParseInt(b.Number, 0, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "enum %s value %s", e.EnumName, b.Ident)
			}
			enum.Values = append(enum.Values, &schema.EnumValue{Name: b.Ident, Number: int32(n)})
		case *protoparserparser.Option:
			if b.OptionName == "allow_alias" && b.Constant == "true" {
				enum.AllowAlias = true
			}
		}
	}
	return enum, nil
}

func labelOf(repeated, required bool) schema.FieldLabel {
	switch {
	case repeated:
		return schema.LabelRepeated
	case required:
		return schema.LabelRequired
	}
	return schema.LabelOptional
}

func parseFieldNumber(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid field number %q", s)
	}
	return int32(n), nil
}

// unquoteConstant strips the quoting of a string constant; other constants
// (numbers, identifiers) pass through unchanged.
func unquoteConstant(s string) string {
	if len(s) < 2 {
		return s
	}
	switch {
	case s[0] == '"' && s[len(s)-1] == '"':
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	case s[0] == '\'' && s[len(s)-1] == '\'':
		return s[1 : len(s)-1]
	}
	return s
}
