package wire

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/anirudhraja/protocodec/schema"
)

// mapEntry is one key/value pair of a map field with the key normalized to
// its schema type.
type mapEntry struct {
	key   interface{}
	value interface{}
}

// DECODER METHODS

// decodeMapEntry decodes one entry message. A missing key or value takes its
// type's default.
func (d *Decoder) decodeMapEntry(keyType, valueType *schema.FieldType) (interface{}, interface{}, error) {
	tok, err := d.r.StartSubItem()
	if err != nil {
		return nil, nil, err
	}

	var key, value interface{}
	for {
		fn, err := d.r.ReadFieldHeader()
		if err != nil {
			return nil, nil, err
		}
		if fn == 0 {
			break
		}
		switch fn {
		case 1: // Key field
			key, err = d.decodeValue(keyType, nil)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to decode map key: %w", err)
			}
		case 2: // Value field
			existing, _ := value.(map[string]interface{})
			value, err = d.decodeValue(valueType, existing)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to decode map value: %w", err)
			}
		default:
			// Skip unknown fields
			if err := d.r.SkipField(); err != nil {
				return nil, nil, err
			}
		}
	}
	if err := d.r.EndSubItem(tok); err != nil {
		return nil, nil, err
	}

	if key == nil {
		key = zeroValue(keyType.PrimitiveType)
	}
	if value == nil {
		value = d.mapValueDefault(valueType)
	}
	return key, value, nil
}

func (d *Decoder) mapValueDefault(ft *schema.FieldType) interface{} {
	switch ft.Kind {
	case schema.KindPrimitive:
		return zeroValue(ft.PrimitiveType)
	case schema.KindEnum:
		if d.provider == nil {
			return int32(0)
		}
		if enum, err := d.provider.GetEnum(ft.EnumType); err == nil && enum.Default() != nil {
			return enum.Default().Name
		}
		return int32(0)
	default:
		return make(map[string]interface{})
	}
}

// ENCODER METHODS

// encodeMap writes one entry message per key, in ascending key order so that
// output is deterministic.
func (e *Encoder) encodeMap(fn FieldNumber, keyType, valueType *schema.FieldType, value interface{}) error {
	entries, err := mapEntries(value, keyType.PrimitiveType)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		tok, err := e.w.StartSubItem(fn, FramingLengthPrefixed)
		if err != nil {
			return err
		}
		if err := e.encodeValue(keyType, 1, entry.key, false); err != nil {
			return fmt.Errorf("map key %v: %w", entry.key, err)
		}
		v := entry.value
		if v == nil {
			v = e.mapValueZero(valueType)
		}
		if err := e.encodeValue(valueType, 2, v, false); err != nil {
			return fmt.Errorf("map value for key %v: %w", entry.key, err)
		}
		if err := e.w.EndSubItem(tok); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) mapValueZero(ft *schema.FieldType) interface{} {
	switch ft.Kind {
	case schema.KindPrimitive:
		return zeroValue(ft.PrimitiveType)
	case schema.KindEnum:
		return int32(0)
	default:
		return map[string]interface{}{}
	}
}

// mapEntries collects the pairs of any Go map and sorts them by key.
func mapEntries(value interface{}, keyType schema.PrimitiveType) ([]mapEntry, error) {
	var entries []mapEntry
	add := func(k, v interface{}) error {
		nk, err := normalizeScalar(keyType, k)
		if err != nil {
			return fmt.Errorf("map key: %w", err)
		}
		entries = append(entries, mapEntry{key: nk, value: v})
		return nil
	}

	switch m := value.(type) {
	case map[interface{}]interface{}:
		for k, v := range m {
			if err := add(k, v); err != nil {
				return nil, err
			}
		}
	case map[string]interface{}:
		for k, v := range m {
			if err := add(k, v); err != nil {
				return nil, err
			}
		}
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Map {
			return nil, fmt.Errorf("unsupported map type: %T", value)
		}
		iter := rv.MapRange()
		for iter.Next() {
			if err := add(iter.Key().Interface(), iter.Value().Interface()); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return lessKey(entries[i].key, entries[j].key)
	})
	return entries, nil
}

// lessKey orders two normalized map keys of the same type.
func lessKey(a, b interface{}) bool {
	switch x := a.(type) {
	case string:
		return x < b.(string)
	case int32:
		return x < b.(int32)
	case int64:
		return x < b.(int64)
	case uint32:
		return x < b.(uint32)
	case uint64:
		return x < b.(uint64)
	case bool:
		return !x && b.(bool)
	}
	return false
}
