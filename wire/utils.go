package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/anirudhraja/protocodec/schema"
)

// normalizeScalar converts a caller-supplied value to the Go type the
// decoder produces for t, checking range. Integers of any width, integral
// floats, json.Number and numeric strings are accepted for numeric types.
func normalizeScalar(t schema.PrimitiveType, v interface{}) (interface{}, error) {
	switch t {
	case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32:
		n, err := coerceToInt64(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("value %d overflows %s", n, t)
		}
		return int32(n), nil
	case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
		return coerceToInt64(v)
	case schema.TypeUint32, schema.TypeFixed32:
		n, err := coerceToUint64(v)
		if err != nil {
			return nil, err
		}
		if n > math.MaxUint32 {
			return nil, fmt.Errorf("value %d overflows %s", n, t)
		}
		return uint32(n), nil
	case schema.TypeUint64, schema.TypeFixed64:
		return coerceToUint64(v)
	case schema.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case schema.TypeFloat:
		f, err := coerceToFloat64(v)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case schema.TypeDouble:
		return coerceToFloat64(v)
	case schema.TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	case schema.TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
		return nil, fmt.Errorf("expected []byte, got %T", v)
	}
	return nil, fmt.Errorf("unsupported primitive type: %s", t)
}

// Helpers to coerce inputs to integers (accept exponent/float forms if integral)
func coerceToInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", t)
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", t)
		}
		return int64(t), nil
	case json.Number:
		// Try integer first
		if iv, err := t.Int64(); err == nil {
			return iv, nil
		}
		return integralFloat(t.String())
	case float32:
		return integralToInt64(float64(t))
	case float64:
		return integralToInt64(t)
	case string:
		if strings.ContainsAny(t, ".eE") {
			return integralFloat(t)
		}
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("expected integer-like, got %T", v)
	}
}

func coerceToUint64(v interface{}) (uint64, error) {
	switch t := v.(type) {
	case uint64:
		return t, nil
	case uint32:
		return uint64(t), nil
	case uint:
		return uint64(t), nil
	case uint16:
		return uint64(t), nil
	case uint8:
		return uint64(t), nil
	case json.Number:
		if uv, err := strconv.ParseUint(t.String(), 10, 64); err == nil {
			return uv, nil
		}
		n, err := integralFloat(t.String())
		if err != nil {
			return 0, err
		}
		return nonNegative(n)
	case string:
		if !strings.ContainsAny(t, ".eE") {
			return strconv.ParseUint(t, 10, 64)
		}
		n, err := integralFloat(t)
		if err != nil {
			return 0, err
		}
		return nonNegative(n)
	default:
		n, err := coerceToInt64(v)
		if err != nil {
			return 0, fmt.Errorf("expected unsigned-integer-like, got %T", v)
		}
		return nonNegative(n)
	}
}

func coerceToFloat64(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(t, 64)
	case uint64:
		return float64(t), nil
	default:
		n, err := coerceToInt64(v)
		if err != nil {
			return 0, fmt.Errorf("expected float-like, got %T", v)
		}
		return float64(n), nil
	}
}

func integralFloat(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return integralToInt64(f)
}

func integralToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("non-integer numeric for integer field: %v", f)
	}
	return int64(f), nil
}

func nonNegative(n int64) (uint64, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative value %d for unsigned field", n)
	}
	return uint64(n), nil
}
