package wire

import (
	"fmt"

	"github.com/anirudhraja/protocodec/pool"
	"github.com/anirudhraja/protocodec/schema"
)

// Encoder drives the schema-directed encode loop over a Writer. Every
// message is encoded twice: once in measuring mode to fill the Writer's
// size cache, and once for real into a buffer of exactly the measured size.
type Encoder struct {
	w        *Writer
	provider schema.Provider
	opts     *Options
}

// NewEncoder creates an encoder. provider resolves nested message and enum
// types and may be nil when the schema has none. A nil opts means
// DefaultOptions.
func NewEncoder(provider schema.Provider, opts *Options) *Encoder {
	if opts == nil {
		o := DefaultOptions()
		opts = &o
	}
	return &Encoder{
		w:        NewWriterWithOptions(opts),
		provider: provider,
		opts:     opts,
	}
}

// EncodeMessage encodes a message using schema - main entry point
func EncodeMessage(data map[string]interface{}, msg *schema.Message, provider schema.Provider, opts *Options) ([]byte, error) {
	return NewEncoder(provider, opts).Append(nil, data, msg)
}

// MessageSize returns the number of bytes EncodeMessage would produce.
func MessageSize(data map[string]interface{}, msg *schema.Message, provider schema.Provider, opts *Options) (int, error) {
	e := NewEncoder(provider, opts)
	defer e.w.Release()
	return e.Measure(data, msg)
}

// Measure runs the measuring pass for data and returns the encoded size.
func (e *Encoder) Measure(data map[string]interface{}, msg *schema.Message) (int, error) {
	layout, err := msg.Compile()
	if err != nil {
		return 0, err
	}
	e.w.Reset()
	size, err := e.w.Measure(func(*Writer) error {
		return e.encodeFields(data, layout)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode message %s: %w", msg.Name, err)
	}
	return size, nil
}

// Append encodes data as msg and appends it to dst. On failure dst is
// returned unchanged together with the error; the partial output is
// discarded.
func (e *Encoder) Append(dst []byte, data map[string]interface{}, msg *schema.Message) ([]byte, error) {
	defer e.w.Release()
	size, err := e.Measure(data, msg)
	if err != nil {
		return dst, err
	}
	buf := dst
	if cap(buf)-len(buf) < size {
		buf = make([]byte, len(dst), len(dst)+size)
		copy(buf, dst)
	}
	out, err := e.writeMeasured(buf, data, msg, size)
	if err != nil {
		return dst, err
	}
	return out, nil
}

// EncodeLease encodes data as msg into a slab rented from the options' pool.
// The caller owns the returned lease and must release it once the bytes have
// been consumed.
func (e *Encoder) EncodeLease(data map[string]interface{}, msg *schema.Message) (*pool.Lease, error) {
	defer e.w.Release()
	size, err := e.Measure(data, msg)
	if err != nil {
		return nil, err
	}
	lease := e.opts.pool().Rent(size)
	out, err := e.writeMeasured(lease.Bytes()[:0], data, msg, size)
	if err != nil {
		lease.Release()
		return nil, err
	}
	lease.SetLen(len(out))
	return lease, nil
}

// writeMeasured runs the write pass after Measure into buf, which must have
// room for size more bytes.
func (e *Encoder) writeMeasured(buf []byte, data map[string]interface{}, msg *schema.Message, size int) ([]byte, error) {
	layout, _ := msg.Compile()
	base := len(buf)
	e.w.SetBuffer(buf)
	if err := e.encodeFields(data, layout); err != nil {
		return nil, fmt.Errorf("failed to encode message %s: %w", msg.Name, err)
	}
	if err := e.w.Finish(); err != nil {
		return nil, fmt.Errorf("failed to encode message %s: %w", msg.Name, err)
	}
	out := e.w.Bytes()
	if got := len(out) - base; got != size {
		return nil, fmt.Errorf("%w: message %s measured %d bytes, wrote %d", ErrLengthMismatch, msg.Name, size, got)
	}
	return out, nil
}

// encodeFields writes every set field of data in field-number order.
func (e *Encoder) encodeFields(data map[string]interface{}, layout *schema.Layout) error {
	if err := checkOneofs(data, layout); err != nil {
		return err
	}
	for _, field := range layout.Fields() {
		value, ok := data[field.Name]
		if !ok || value == nil {
			if field.IsRequired() {
				return wrapWithField(ErrRequiredFieldMissing, field.Name)
			}
			continue
		}
		if err := e.encodeField(layout, field, value); err != nil {
			return wrapWithField(err, field.Name)
		}
	}
	if e.opts.PreserveUnknown {
		if raw, ok := data[UnknownFieldsKey].([]byte); ok {
			e.w.WriteRaw(raw)
		}
	}
	return e.w.Err()
}

func (e *Encoder) encodeField(layout *schema.Layout, field *schema.Field, value interface{}) error {
	fn := FieldNumber(field.Number)
	switch {
	case field.Type.Kind == schema.KindMap:
		return e.encodeMap(fn, field.Type.MapKey, field.Type.MapValue, value)
	case field.IsRepeated():
		return e.encodeRepeated(field, value)
	}

	// oneof members are written even when zero so the choice survives
	if !field.IsRequired() && layout.OneofOf(field.Number) == nil {
		def, err := e.isDefault(layout, field, value)
		if err != nil {
			return err
		}
		if def {
			return nil
		}
	}
	return e.encodeValue(&field.Type, fn, value, field.Group)
}

// encodeValue writes header and payload of one value.
func (e *Encoder) encodeValue(ft *schema.FieldType, fn FieldNumber, value interface{}, group bool) error {
	switch ft.Kind {
	case schema.KindPrimitive:
		if err := e.w.WriteFieldHeader(fn, wireTypeOf(ft)); err != nil {
			return err
		}
		return e.writeScalar(ft.PrimitiveType, value)
	case schema.KindEnum:
		n, err := e.enumNumber(ft.EnumType, value)
		if err != nil {
			return err
		}
		if err := e.w.WriteFieldHeader(fn, WireVarint); err != nil {
			return err
		}
		e.w.WriteInt32(n)
		return e.w.Err()
	case schema.KindMessage:
		return e.encodeMessageValue(ft.MessageType, fn, value, group)
	default:
		return fmt.Errorf("unsupported field type: %s", ft.Kind)
	}
}

// writeScalar writes the payload of a primitive value.
func (e *Encoder) writeScalar(t schema.PrimitiveType, value interface{}) error {
	v, err := normalizeScalar(t, value)
	if err != nil {
		return err
	}
	w := e.w
	switch t {
	case schema.TypeInt32:
		w.WriteInt32(v.(int32))
	case schema.TypeInt64:
		w.WriteInt64(v.(int64))
	case schema.TypeUint32:
		w.WriteUint32(v.(uint32))
	case schema.TypeUint64:
		w.WriteUint64(v.(uint64))
	case schema.TypeSint32:
		w.WriteSint32(v.(int32))
	case schema.TypeSint64:
		w.WriteSint64(v.(int64))
	case schema.TypeBool:
		w.WriteBool(v.(bool))
	case schema.TypeFixed32:
		w.WriteFixed32(v.(uint32))
	case schema.TypeSfixed32:
		w.WriteSfixed32(v.(int32))
	case schema.TypeFloat:
		w.WriteFloat(v.(float32))
	case schema.TypeFixed64:
		w.WriteFixed64(v.(uint64))
	case schema.TypeSfixed64:
		w.WriteSfixed64(v.(int64))
	case schema.TypeDouble:
		w.WriteDouble(v.(float64))
	case schema.TypeString:
		w.WriteString(v.(string))
	case schema.TypeBytes:
		w.WriteBytes(v.([]byte))
	}
	return w.Err()
}

// encodeRepeated writes a list either as one packed run or as one header
// and payload per element.
func (e *Encoder) encodeRepeated(field *schema.Field, value interface{}) error {
	list, err := toSlice(value)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}
	fn := FieldNumber(field.Number)
	if !field.Packed {
		for i, element := range list {
			if err := e.encodeValue(&field.Type, fn, element, field.Group); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		return nil
	}

	tok, err := e.w.StartSubItem(fn, FramingLengthPrefixed)
	if err != nil {
		return err
	}
	for i, element := range list {
		if field.Type.Kind == schema.KindEnum {
			n, err := e.enumNumber(field.Type.EnumType, element)
			if err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
			e.w.WriteInt32(n)
			continue
		}
		if err := e.writeScalar(field.Type.PrimitiveType, element); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return e.w.EndSubItem(tok)
}

// encodeMessageValue writes a nested message. value is either a field map
// or an already encoded payload.
func (e *Encoder) encodeMessageValue(messageType string, fn FieldNumber, value interface{}, group bool) error {
	framing := FramingLengthPrefixed
	if group {
		framing = FramingGroup
	}
	switch v := value.(type) {
	case []byte:
		tok, err := e.w.StartSubItem(fn, framing)
		if err != nil {
			return err
		}
		e.w.WriteRaw(v)
		return e.w.EndSubItem(tok)
	case map[string]interface{}:
		if e.provider == nil {
			return fmt.Errorf("schema provider is required to encode message %s", messageType)
		}
		msg, err := e.provider.GetMessage(messageType)
		if err != nil {
			return fmt.Errorf("failed to get message schema for %s: %w", messageType, err)
		}
		layout, err := msg.Compile()
		if err != nil {
			return err
		}
		tok, err := e.w.StartSubItem(fn, framing)
		if err != nil {
			return err
		}
		if err := e.encodeFields(v, layout); err != nil {
			return err
		}
		return e.w.EndSubItem(tok)
	default:
		return fmt.Errorf("message value must be map[string]interface{} or []byte, got %T", value)
	}
}

// enumNumber resolves an enum value given either as a member name or as a
// number. Numbers are written as is, declared or not.
func (e *Encoder) enumNumber(enumType string, value interface{}) (int32, error) {
	if name, ok := value.(string); ok {
		if e.provider == nil {
			return 0, fmt.Errorf("schema provider is required to resolve enum %s", enumType)
		}
		enum, err := e.provider.GetEnum(enumType)
		if err != nil {
			return 0, err
		}
		ev, ok := enum.ValueByName(name)
		if !ok {
			return 0, fmt.Errorf("%w: %q is not a member of %s", ErrUnknownEnumValue, name, enumType)
		}
		return ev.Number, nil
	}
	n, err := normalizeScalar(schema.TypeInt32, value)
	if err != nil {
		return 0, err
	}
	return n.(int32), nil
}

// isDefault reports whether value equals the field's default and can be
// omitted.
func (e *Encoder) isDefault(layout *schema.Layout, field *schema.Field, value interface{}) (bool, error) {
	switch field.Type.Kind {
	case schema.KindPrimitive:
		v, err := normalizeScalar(field.Type.PrimitiveType, value)
		if err != nil {
			return false, err
		}
		// A declared default replaces the zero value, so an explicit zero
		// must still be written.
		if def, ok := layout.Default(field.Number); ok {
			return scalarEqual(v, def), nil
		}
		return scalarEqual(v, zeroValue(field.Type.PrimitiveType)), nil
	case schema.KindEnum:
		n, err := e.enumNumber(field.Type.EnumType, value)
		if err != nil {
			return false, err
		}
		if ev := enumDefault(e.provider, field); ev != nil {
			return n == ev.Number, nil
		}
		return n == 0, nil
	}
	return false, nil
}

// checkOneofs rejects data that sets more than one member of a oneof.
func checkOneofs(data map[string]interface{}, layout *schema.Layout) error {
	for _, oneof := range layout.Message().OneofGroups {
		set := ""
		for _, f := range oneof.Fields {
			if v, ok := data[f.Name]; !ok || v == nil {
				continue
			}
			if set != "" {
				return fmt.Errorf("%w: %s has both %s and %s", ErrOneofConflict, oneof.Name, set, f.Name)
			}
			set = f.Name
		}
	}
	return nil
}
