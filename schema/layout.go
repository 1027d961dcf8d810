package schema

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	minFieldNumber      = 1
	maxFieldNumber      = 1<<29 - 1
	firstReservedNumber = 19000
	lastReservedNumber  = 19999
)

// Layout is the compiled, read-only view of a Message used on the hot path.
// It is safe for concurrent use.
type Layout struct {
	msg      *Message
	ordered  []*Field
	byNumber map[int32]*Field
	byName   map[string]*Field
	oneofOf  map[int32]*Oneof
	defaults map[int32]interface{}
	required []*Field
}

// Compile validates m and builds its Layout. The result is computed once;
// m must not be modified afterwards.
func (m *Message) Compile() (*Layout, error) {
	m.once.Do(func() {
		m.layout, m.err = compile(m)
	})
	return m.layout, m.err
}

func compile(m *Message) (*Layout, error) {
	l := &Layout{
		msg:      m,
		byNumber: make(map[int32]*Field),
		byName:   make(map[string]*Field),
		oneofOf:  make(map[int32]*Oneof),
		defaults: make(map[int32]interface{}),
	}

	add := func(f *Field, oneof *Oneof) error {
		if err := validateField(f, oneof != nil); err != nil {
			return fmt.Errorf("message %s: field %s: %w", m.Name, f.Name, err)
		}
		if prev, ok := l.byNumber[f.Number]; ok {
			return fmt.Errorf("message %s: field number %d used by %s and %s", m.Name, f.Number, prev.Name, f.Name)
		}
		if _, ok := l.byName[f.Name]; ok {
			return fmt.Errorf("message %s: duplicate field name %s", m.Name, f.Name)
		}
		l.byNumber[f.Number] = f
		l.byName[f.Name] = f
		l.ordered = append(l.ordered, f)
		if oneof != nil {
			l.oneofOf[f.Number] = oneof
		}
		if f.IsRequired() {
			l.required = append(l.required, f)
		}
		if f.DefaultValue != "" && f.Type.Kind == KindPrimitive {
			v, err := ParseDefault(f.Type.PrimitiveType, f.DefaultValue)
			if err != nil {
				return fmt.Errorf("message %s: field %s: %w", m.Name, f.Name, err)
			}
			l.defaults[f.Number] = v
		}
		return nil
	}

	for _, f := range m.Fields {
		if err := add(f, nil); err != nil {
			return nil, err
		}
	}
	for _, o := range m.OneofGroups {
		for _, f := range o.Fields {
			if err := add(f, o); err != nil {
				return nil, err
			}
		}
	}
	if m.MapEntry {
		if l.byNumber[1] == nil || l.byNumber[2] == nil || len(l.ordered) != 2 {
			return nil, fmt.Errorf("message %s: map entry must have exactly fields 1 and 2", m.Name)
		}
	}

	sort.SliceStable(l.ordered, func(i, j int) bool {
		return l.ordered[i].Number < l.ordered[j].Number
	})
	return l, nil
}

func validateField(f *Field, inOneof bool) error {
	if f.Name == "" {
		return fmt.Errorf("missing name")
	}
	if f.Number < minFieldNumber || f.Number > maxFieldNumber {
		return fmt.Errorf("field number %d out of range [%d, %d]", f.Number, minFieldNumber, maxFieldNumber)
	}
	if f.Number >= firstReservedNumber && f.Number <= lastReservedNumber {
		return fmt.Errorf("field number %d is in the reserved range %d-%d", f.Number, firstReservedNumber, lastReservedNumber)
	}
	switch f.Type.Kind {
	case KindPrimitive:
		if !IsPrimitiveType(string(f.Type.PrimitiveType)) {
			return fmt.Errorf("unknown primitive type %q", f.Type.PrimitiveType)
		}
	case KindMessage:
		if f.Type.MessageType == "" {
			return fmt.Errorf("missing message type")
		}
	case KindEnum:
		if f.Type.EnumType == "" {
			return fmt.Errorf("missing enum type")
		}
	case KindMap:
		if inOneof {
			return fmt.Errorf("map fields cannot be oneof members")
		}
		if err := validateMapTypes(f.Type.MapKey, f.Type.MapValue); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown type kind %q", f.Type.Kind)
	}
	if inOneof && f.Label == LabelRepeated {
		return fmt.Errorf("oneof members cannot be repeated")
	}
	if f.Packed && !f.IsPackable() {
		return fmt.Errorf("packed is only allowed on repeated scalar and enum fields")
	}
	if f.Group && f.Type.Kind != KindMessage {
		return fmt.Errorf("group framing is only allowed on message fields")
	}
	return nil
}

func validateMapTypes(key, value *FieldType) error {
	if key == nil || value == nil {
		return fmt.Errorf("map field needs key and value types")
	}
	if key.Kind != KindPrimitive {
		return fmt.Errorf("map key must be a scalar type")
	}
	switch key.PrimitiveType {
	case TypeFloat, TypeDouble, TypeBytes:
		return fmt.Errorf("%s is not a valid map key type", key.PrimitiveType)
	}
	if !IsPrimitiveType(string(key.PrimitiveType)) {
		return fmt.Errorf("unknown primitive type %q", key.PrimitiveType)
	}
	if value.Kind == KindMap {
		return fmt.Errorf("map values cannot be maps")
	}
	return nil
}

// Message returns the description the layout was compiled from.
func (l *Layout) Message() *Message {
	return l.msg
}

// Fields returns every field, oneof members included, in field-number order.
func (l *Layout) Fields() []*Field {
	return l.ordered
}

// FieldByNumber returns the field with number n, or nil.
func (l *Layout) FieldByNumber(n int32) *Field {
	return l.byNumber[n]
}

// FieldByName returns the field called name, or nil.
func (l *Layout) FieldByName(name string) *Field {
	return l.byName[name]
}

// OneofOf returns the oneof that field number n belongs to, or nil.
func (l *Layout) OneofOf(n int32) *Oneof {
	return l.oneofOf[n]
}

// Required returns the required fields.
func (l *Layout) Required() []*Field {
	return l.required
}

// Default returns the parsed explicit default of a scalar field.
func (l *Layout) Default(n int32) (interface{}, bool) {
	v, ok := l.defaults[n]
	return v, ok
}

// ParseDefault converts a textual default value into the Go type the codec
// uses for t.
func ParseDefault(t PrimitiveType, s string) (interface{}, error) {
	switch t {
	case TypeBool:
		return strconv.ParseBool(s)
	case TypeInt32, TypeSint32, TypeSfixed32:
		v, err := strconv.ParseInt(s, 0, 32)
		return int32(v), err
	case TypeInt64, TypeSint64, TypeSfixed64:
		return strconv.ParseInt(s, 0, 64)
	case TypeUint32, TypeFixed32:
		v, err := strconv.ParseUint(s, 0, 32)
		return uint32(v), err
	case TypeUint64, TypeFixed64:
		return strconv.ParseUint(s, 0, 64)
	case TypeFloat:
		v, err := parseFloat(s, 32)
		return float32(v), err
	case TypeDouble:
		return parseFloat(s, 64)
	case TypeString:
		return s, nil
	case TypeBytes:
		return []byte(s), nil
	}
	return nil, fmt.Errorf("unsupported default for type %s", t)
}

func parseFloat(s string, bits int) (float64, error) {
	switch strings.ToLower(s) {
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	case "nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, bits)
}
