package wire

import (
	"bytes"
	"fmt"
	"math"
	"reflect"

	"github.com/anirudhraja/protocodec/schema"
)

// wireTypeOf returns the wire type used for a single value of ft.
func wireTypeOf(ft *schema.FieldType) WireType {
	switch ft.Kind {
	case schema.KindPrimitive:
		switch ft.PrimitiveType {
		case schema.TypeString, schema.TypeBytes:
			return WireBytes
		case schema.TypeFloat, schema.TypeFixed32, schema.TypeSfixed32:
			return WireFixed32
		case schema.TypeDouble, schema.TypeFixed64, schema.TypeSfixed64:
			return WireFixed64
		default:
			return WireVarint
		}
	case schema.KindEnum:
		return WireVarint
	default:
		return WireBytes
	}
}

// zeroValue returns the implicit default of t in the Go type the decoder
// produces for it.
func zeroValue(t schema.PrimitiveType) interface{} {
	switch t {
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32:
		return int32(0)
	case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
		return int64(0)
	case schema.TypeUint32, schema.TypeFixed32:
		return uint32(0)
	case schema.TypeUint64, schema.TypeFixed64:
		return uint64(0)
	case schema.TypeBool:
		return false
	case schema.TypeFloat:
		return float32(0)
	case schema.TypeDouble:
		return float64(0)
	case schema.TypeString:
		return ""
	case schema.TypeBytes:
		return []byte{}
	}
	return nil
}

// enumDefault returns the value an absent enum field takes: its declared
// default, else the enum's first value. It returns nil when the enum cannot
// be resolved.
func enumDefault(provider schema.Provider, f *schema.Field) *schema.EnumValue {
	if provider == nil {
		return nil
	}
	enum, err := provider.GetEnum(f.Type.EnumType)
	if err != nil {
		return nil
	}
	if f.DefaultValue != "" {
		if v, ok := enum.ValueByName(f.DefaultValue); ok {
			return v
		}
	}
	return enum.Default()
}

// scalarEqual compares two normalized scalars. Floats compare by bit
// pattern so that -0 and NaN payloads are not mistaken for defaults.
func scalarEqual(a, b interface{}) bool {
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case float32:
		y, ok := b.(float32)
		return ok && math.Float32bits(x) == math.Float32bits(y)
	case float64:
		y, ok := b.(float64)
		return ok && math.Float64bits(x) == math.Float64bits(y)
	}
	return a == b
}

// toSlice converts the value of a repeated field to []interface{}.
func toSlice(value interface{}) ([]interface{}, error) {
	var slice []interface{}
	switch v := value.(type) {
	case []interface{}:
		return v, nil
	case []map[string]interface{}:
		slice = make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
	case []string:
		slice = make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
	case []int32:
		slice = make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
	case []int64:
		slice = make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
	case []uint32:
		slice = make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
	case []uint64:
		slice = make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
	case []bool:
		slice = make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
	case []float32:
		slice = make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
	case []float64:
		slice = make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, fmt.Errorf("repeated field value must be a slice, got %T", value)
		}
		slice = make([]interface{}, rv.Len())
		for i := range slice {
			slice[i] = rv.Index(i).Interface()
		}
	}
	return slice, nil
}
