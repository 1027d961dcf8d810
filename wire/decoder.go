package wire

import (
	"fmt"

	"github.com/anirudhraja/protocodec/pool"
	"github.com/anirudhraja/protocodec/schema"
)

// Decoder drives the schema-directed decode loop over a Reader
type Decoder struct {
	r        *Reader
	provider schema.Provider
	opts     *Options

	lease   *pool.Lease // set when bytes fields may alias the input
	aliased bool
}

// NewDecoder creates a decoder over data. provider resolves nested message
// and enum types and may be nil when the schema has none. A nil opts means
// DefaultOptions.
func NewDecoder(data []byte, provider schema.Provider, opts *Options) *Decoder {
	if opts == nil {
		o := DefaultOptions()
		opts = &o
	}
	return &Decoder{
		r:        NewReaderWithOptions(data, opts),
		provider: provider,
		opts:     opts,
	}
}

// DecodeMessage decodes protobuf bytes using schema - main entry point
func DecodeMessage(data []byte, msg *schema.Message, provider schema.Provider, opts *Options) (map[string]interface{}, error) {
	decoder := NewDecoder(data, provider, opts)
	return decoder.DecodeWithSchema(msg)
}

// DecodeLease decodes the message held in lease. Bytes fields alias the slab
// instead of being copied. When at least one does, the returned lease is an
// extra reference that keeps the slab alive and must be released once the
// result is no longer used; otherwise it is nil. The caller keeps its own
// reference to lease either way.
func DecodeLease(lease *pool.Lease, msg *schema.Message, provider schema.Provider, opts *Options) (map[string]interface{}, *pool.Lease, error) {
	d := NewDecoder(lease.Bytes(), provider, opts)
	d.lease = lease
	result, err := d.DecodeWithSchema(msg)
	if err != nil {
		return nil, nil, err
	}
	if !d.aliased {
		return result, nil, nil
	}
	return result, lease.Retain(), nil
}

// DecodeWithSchema decodes the whole input as one message of type msg.
func (d *Decoder) DecodeWithSchema(msg *schema.Message) (map[string]interface{}, error) {
	if size := len(d.r.buf); size > d.opts.maxMessageSize() {
		return nil, fmt.Errorf("failed to decode message %s: %d bytes exceeds limit of %d: %w",
			msg.Name, size, d.opts.maxMessageSize(), newDecodeError(ErrMessageTooLarge, 0, 0))
	}
	result := make(map[string]interface{})
	if err := d.decodeInto(result, msg); err != nil {
		return nil, fmt.Errorf("failed to decode message %s: %w", msg.Name, err)
	}
	return result, nil
}

// decodeInto reads fields until the end of the current frame and stores them
// into result. result may already hold values from an earlier occurrence of
// the same message, which are merged.
func (d *Decoder) decodeInto(result map[string]interface{}, msg *schema.Message) error {
	layout, err := msg.Compile()
	if err != nil {
		return err
	}
	var unknown []byte
	for {
		fn, err := d.r.ReadFieldHeader()
		if err != nil {
			return err
		}
		if fn == 0 {
			break
		}
		field := layout.FieldByNumber(int32(fn))
		if field == nil {
			d.opts.Logger.Trace().
				Str("message", msg.Name).
				Int32("field", int32(fn)).
				Stringer("wire_type", d.r.WireType()).
				Int("offset", d.r.tagStart).
				Msg("skipping unknown field")
			if !d.opts.PreserveUnknown {
				if err := d.r.SkipField(); err != nil {
					return err
				}
				continue
			}
			raw, err := d.r.SkipFieldRaw()
			if err != nil {
				return err
			}
			unknown = append(unknown, raw...)
			continue
		}
		if err := d.decodeField(result, layout, field); err != nil {
			return wrapWithField(err, field.Name)
		}
	}

	if unknown != nil {
		prev, _ := result[UnknownFieldsKey].([]byte)
		result[UnknownFieldsKey] = append(prev, unknown...)
	}
	for _, f := range layout.Required() {
		if _, ok := result[f.Name]; !ok {
			return wrapWithField(ErrRequiredFieldMissing, f.Name)
		}
	}
	if d.opts.PopulateDefaults {
		d.populateDefaults(result, layout)
	}
	return nil
}

// decodeField decodes one occurrence of field and stores it into result:
// map entries are inserted, repeated values appended, singular scalars
// overwritten and singular messages merged.
func (d *Decoder) decodeField(result map[string]interface{}, layout *schema.Layout, field *schema.Field) error {
	switch {
	case field.Type.Kind == schema.KindMap:
		if err := d.expectWireType(WireBytes); err != nil {
			return err
		}
		key, value, err := d.decodeMapEntry(field.Type.MapKey, field.Type.MapValue)
		if err != nil {
			return err
		}
		entries, _ := result[field.Name].(map[interface{}]interface{})
		if entries == nil {
			entries = make(map[interface{}]interface{})
			result[field.Name] = entries
		}
		entries[key] = value

	case field.IsRepeated():
		list, _ := result[field.Name].([]interface{})
		if field.IsPackable() && d.r.WireType() == WireBytes {
			var err error
			if list, err = d.decodePacked(&field.Type, list); err != nil {
				return err
			}
		} else {
			value, err := d.decodeValue(&field.Type, nil)
			if err != nil {
				return err
			}
			list = append(list, value)
		}
		result[field.Name] = list

	default:
		var existing map[string]interface{}
		if field.Type.Kind == schema.KindMessage {
			existing, _ = result[field.Name].(map[string]interface{})
		}
		value, err := d.decodeValue(&field.Type, existing)
		if err != nil {
			return err
		}
		if oneof := layout.OneofOf(field.Number); oneof != nil {
			for _, member := range oneof.Fields {
				if member != field {
					delete(result, member.Name)
				}
			}
		}
		result[field.Name] = value
	}
	return nil
}

// decodeValue decodes a single value of type ft at the current field.
func (d *Decoder) decodeValue(ft *schema.FieldType, existing map[string]interface{}) (interface{}, error) {
	switch ft.Kind {
	case schema.KindPrimitive:
		if err := d.expectWireType(wireTypeOf(ft)); err != nil {
			return nil, err
		}
		return d.readScalar(ft.PrimitiveType)
	case schema.KindEnum:
		if err := d.expectWireType(WireVarint); err != nil {
			return nil, err
		}
		n, err := d.r.ReadInt32()
		if err != nil {
			return nil, err
		}
		return d.enumValue(ft.EnumType, n)
	case schema.KindMessage:
		return d.decodeMessageValue(ft.MessageType, existing)
	default:
		return nil, fmt.Errorf("unsupported field type: %s", ft.Kind)
	}
}

// readScalar reads a primitive value without checking the wire type. Packed
// runs carry no per-element header.
func (d *Decoder) readScalar(t schema.PrimitiveType) (interface{}, error) {
	r := d.r
	switch t {
	case schema.TypeInt32:
		return r.ReadInt32()
	case schema.TypeInt64:
		return r.ReadInt64()
	case schema.TypeUint32:
		return r.ReadUint32()
	case schema.TypeUint64:
		return r.ReadUint64()
	case schema.TypeSint32:
		return r.ReadSint32()
	case schema.TypeSint64:
		return r.ReadSint64()
	case schema.TypeBool:
		return r.ReadBool()
	case schema.TypeFixed32:
		return r.ReadFixed32()
	case schema.TypeSfixed32:
		return r.ReadSfixed32()
	case schema.TypeFloat:
		return r.ReadFloat()
	case schema.TypeFixed64:
		return r.ReadFixed64()
	case schema.TypeSfixed64:
		return r.ReadSfixed64()
	case schema.TypeDouble:
		return r.ReadDouble()
	case schema.TypeString:
		return r.ReadString()
	case schema.TypeBytes:
		return d.readBytes()
	default:
		return nil, fmt.Errorf("unsupported primitive type: %s", t)
	}
}

// readBytes copies a bytes payload, or aliases it when decoding from a lease.
func (d *Decoder) readBytes() ([]byte, error) {
	if d.lease == nil {
		return d.r.ReadBytes()
	}
	d.aliased = true
	return d.r.ReadBytesAlias()
}

// decodePacked appends every element of a packed run to list.
func (d *Decoder) decodePacked(ft *schema.FieldType, list []interface{}) ([]interface{}, error) {
	tok, err := d.r.StartSubItem()
	if err != nil {
		return nil, err
	}
	for d.r.HasMore() {
		var value interface{}
		if ft.Kind == schema.KindEnum {
			n, err := d.r.ReadInt32()
			if err != nil {
				return nil, err
			}
			if value, err = d.enumValue(ft.EnumType, n); err != nil {
				return nil, err
			}
		} else {
			if value, err = d.readScalar(ft.PrimitiveType); err != nil {
				return nil, err
			}
		}
		list = append(list, value)
	}
	if err := d.r.EndSubItem(tok); err != nil {
		return nil, err
	}
	return list, nil
}

// decodeMessageValue decodes a nested message framed either by a length
// prefix or by group tags. Without a schema for messageType the payload is
// returned as raw bytes.
func (d *Decoder) decodeMessageValue(messageType string, existing map[string]interface{}) (interface{}, error) {
	wt := d.r.WireType()
	if wt != WireBytes && wt != WireStartGroup {
		return nil, d.unexpectedWireType(WireBytes)
	}

	msg, err := d.lookupMessage(messageType)
	if err != nil {
		d.opts.Logger.Debug().Str("type", messageType).Err(err).Msg("no schema for nested message, keeping raw bytes")
		if wt == WireBytes {
			return d.readBytes()
		}
		raw, err := d.r.ReadRawField()
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), raw.RawData...), nil
	}

	tok, err := d.r.StartSubItem()
	if err != nil {
		return nil, err
	}
	result := existing
	if result == nil {
		result = make(map[string]interface{})
	}
	if err := d.decodeInto(result, msg); err != nil {
		return nil, err
	}
	if err := d.r.EndSubItem(tok); err != nil {
		return nil, err
	}
	return result, nil
}

// enumValue maps n to its symbolic name when the enum declares it.
func (d *Decoder) enumValue(enumType string, n int32) (interface{}, error) {
	if d.provider == nil {
		return n, nil
	}
	enum, err := d.provider.GetEnum(enumType)
	if err != nil {
		return n, nil
	}
	if v, ok := enum.ValueByNumber(n); ok {
		return v.Name, nil
	}
	if d.opts.UnknownEnums == EnumFail {
		return nil, newDecodeError(fmt.Errorf("%w: %d for enum %s", ErrUnknownEnumValue, n, enumType), d.r.tagStart, d.r.field)
	}
	return n, nil
}

func (d *Decoder) lookupMessage(name string) (*schema.Message, error) {
	if d.provider == nil {
		return nil, fmt.Errorf("no schema provider for message %s", name)
	}
	return d.provider.GetMessage(name)
}

func (d *Decoder) expectWireType(want WireType) error {
	if d.r.WireType() != want {
		return d.unexpectedWireType(want)
	}
	return nil
}

func (d *Decoder) unexpectedWireType(want WireType) error {
	err := fmt.Errorf("%w: got %s, want %s", ErrUnexpectedWireType, d.r.WireType(), want)
	return newDecodeError(err, d.r.tagStart, d.r.field)
}

// populateDefaults fills absent singular scalar and enum fields that are not
// oneof members.
func (d *Decoder) populateDefaults(result map[string]interface{}, layout *schema.Layout) {
	for _, f := range layout.Fields() {
		if f.Label == schema.LabelRepeated || layout.OneofOf(f.Number) != nil {
			continue
		}
		if _, ok := result[f.Name]; ok {
			continue
		}
		switch f.Type.Kind {
		case schema.KindPrimitive:
			if v, ok := layout.Default(f.Number); ok {
				result[f.Name] = v
			} else {
				result[f.Name] = zeroValue(f.Type.PrimitiveType)
			}
		case schema.KindEnum:
			if ev := enumDefault(d.provider, f); ev != nil {
				result[f.Name] = ev.Name
			} else {
				result[f.Name] = int32(0)
			}
		}
	}
}

// DecodeRaw splits data into its top-level fields without a schema. Payloads
// of length-delimited fields and groups alias data.
func DecodeRaw(data []byte) ([]RawValue, error) {
	r := NewReader(data)
	var fields []RawValue
	for {
		fn, err := r.ReadFieldHeader()
		if err != nil {
			return nil, err
		}
		if fn == 0 {
			return fields, nil
		}
		rv, err := r.ReadRawField()
		if err != nil {
			return nil, err
		}
		fields = append(fields, rv)
	}
}
