package wire

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/anirudhraja/protocodec/pool"
	"github.com/anirudhraja/protocodec/schema"
)

func TestEncoder_VarintField(t *testing.T) {
	msg := &schema.Message{Name: "Test", Fields: []*schema.Field{scalarField("a", 1, schema.TypeInt32)}}

	out, err := EncodeMessage(map[string]interface{}{"a": int32(150)}, msg, nil, nil)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	if diff := cmp.Diff([]byte{0x08, 0x96, 0x01}, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	out, err = EncodeMessage(map[string]interface{}{"a": int32(-1)}, msg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x08, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("negative int32 must take ten bytes (-want +got):\n%s", diff)
	}
}

func TestEncoder_DefaultOmission(t *testing.T) {
	provider := schema.NewStatic()
	provider.AddEnum(colorEnum())
	limit := scalarField("limit", 8, schema.TypeInt32)
	limit.DefaultValue = "25"
	msg := &schema.Message{
		Name: "Test",
		Fields: []*schema.Field{
			scalarField("i", 1, schema.TypeInt32),
			scalarField("s", 2, schema.TypeString),
			scalarField("b", 3, schema.TypeBool),
			scalarField("raw", 4, schema.TypeBytes),
			scalarField("f", 5, schema.TypeFloat),
			scalarField("d", 6, schema.TypeDouble),
			enumField("color", 7, "Color"),
			limit,
			repeatedField("list", 9, schema.TypeInt32, true),
		},
	}

	tests := []struct {
		name string
		data map[string]interface{}
		want []byte
	}{
		{"zero int", map[string]interface{}{"i": int32(0)}, nil},
		{"empty string", map[string]interface{}{"s": ""}, nil},
		{"false", map[string]interface{}{"b": false}, nil},
		{"empty bytes", map[string]interface{}{"raw": []byte{}}, nil},
		{"zero float", map[string]interface{}{"f": float32(0)}, nil},
		{"zero double", map[string]interface{}{"d": 0.0}, nil},
		{"first enum value by name", map[string]interface{}{"color": "RED"}, nil},
		{"first enum value by number", map[string]interface{}{"color": 0}, nil},
		{"declared default", map[string]interface{}{"limit": 25}, nil},
		{"empty list", map[string]interface{}{"list": []int32{}}, nil},
		{"nil value", map[string]interface{}{"s": nil}, nil},
		{"zero with a declared default is written", map[string]interface{}{"limit": 0}, []byte{0x40, 0x00}},
		{"negative zero is written", map[string]interface{}{"d": math.Copysign(0, -1)}, []byte{0x31, 0, 0, 0, 0, 0, 0, 0, 0x80}},
		{"non-default", map[string]interface{}{"limit": 26}, []byte{0x40, 0x1A}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := EncodeMessage(tt.data, msg, provider, nil)
			if err != nil {
				t.Fatalf("EncodeMessage failed: %v", err)
			}
			if len(out) != len(tt.want) || (len(tt.want) > 0 && string(out) != string(tt.want)) {
				t.Errorf("got % x, want % x", out, tt.want)
			}
		})
	}
}

func TestEncoder_DeclaredDefaultsRoundTrip(t *testing.T) {
	enabled := scalarField("enabled", 1, schema.TypeBool)
	enabled.DefaultValue = "true"
	retries := scalarField("retries", 2, schema.TypeInt32)
	retries.DefaultValue = "5"
	label := scalarField("label", 3, schema.TypeString)
	label.DefaultValue = "none"
	msg := &schema.Message{
		Name:   "Settings",
		Syntax: schema.SyntaxProto2,
		Fields: []*schema.Field{enabled, retries, label},
	}

	tests := []struct {
		name string
		data map[string]interface{}
		want []byte
	}{
		{
			name: "explicit zeros",
			data: map[string]interface{}{"enabled": false, "retries": int32(0), "label": ""},
			want: []byte{0x08, 0x00, 0x10, 0x00, 0x1A, 0x00},
		},
		{
			name: "declared defaults",
			data: map[string]interface{}{"enabled": true, "retries": int32(5), "label": "none"},
			want: []byte{},
		},
		{
			name: "other values",
			data: map[string]interface{}{"enabled": false, "retries": int32(3), "label": "x"},
			want: []byte{0x08, 0x00, 0x10, 0x03, 0x1A, 0x01, 'x'},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := EncodeMessage(tt.data, msg, nil, nil)
			if err != nil {
				t.Fatalf("EncodeMessage failed: %v", err)
			}
			if string(out) != string(tt.want) {
				t.Errorf("got % x, want % x", out, tt.want)
			}
			decoded, err := DecodeMessage(out, msg, nil, nil)
			if err != nil {
				t.Fatalf("DecodeMessage failed: %v", err)
			}
			if diff := cmp.Diff(tt.data, decoded); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncoder_RequiredFields(t *testing.T) {
	id := scalarField("id", 1, schema.TypeInt32)
	id.Label = schema.LabelRequired
	msg := &schema.Message{Name: "Test", Syntax: schema.SyntaxProto2, Fields: []*schema.Field{id}}

	out, err := EncodeMessage(map[string]interface{}{"id": 0}, msg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x08, 0x00}, out); diff != "" {
		t.Errorf("required zero must be written (-want +got):\n%s", diff)
	}

	_, err = EncodeMessage(map[string]interface{}{}, msg, nil, nil)
	if !errors.Is(err, ErrRequiredFieldMissing) {
		t.Errorf("expected ErrRequiredFieldMissing, got %v", err)
	}
}

func TestEncoder_FieldNumberOrder(t *testing.T) {
	msg := &schema.Message{
		Name: "Test",
		Fields: []*schema.Field{
			scalarField("c", 30, schema.TypeBool),
			scalarField("b", 2, schema.TypeString),
			scalarField("a", 1, schema.TypeInt32),
		},
	}
	out, err := EncodeMessage(map[string]interface{}{"a": 1, "b": "x", "c": true}, msg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x08, 0x01, 0x12, 0x01, 'x', 0xF0, 0x01, 0x01}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestEncoder_Repeated(t *testing.T) {
	values := []interface{}{int32(1), int32(2), int32(300)}

	t.Run("packed", func(t *testing.T) {
		msg := &schema.Message{Name: "Test", Fields: []*schema.Field{repeatedField("values", 1, schema.TypeInt32, true)}}
		out, err := EncodeMessage(map[string]interface{}{"values": values}, msg, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]byte{0x0A, 0x04, 0x01, 0x02, 0xAC, 0x02}, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unpacked", func(t *testing.T) {
		msg := &schema.Message{Name: "Test", Fields: []*schema.Field{repeatedField("values", 1, schema.TypeInt32, false)}}
		out, err := EncodeMessage(map[string]interface{}{"values": []int{1, 2, 300}}, msg, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]byte{0x08, 0x01, 0x08, 0x02, 0x08, 0xAC, 0x02}, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("strings keep zero elements", func(t *testing.T) {
		msg := &schema.Message{Name: "Test", Fields: []*schema.Field{repeatedField("tags", 1, schema.TypeString, false)}}
		out, err := EncodeMessage(map[string]interface{}{"tags": []string{"a", ""}}, msg, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]byte{0x0A, 0x01, 'a', 0x0A, 0x00}, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("bad element reports index", func(t *testing.T) {
		msg := &schema.Message{Name: "Test", Fields: []*schema.Field{repeatedField("values", 1, schema.TypeInt32, true)}}
		_, err := EncodeMessage(map[string]interface{}{"values": []interface{}{1, "x"}}, msg, nil, nil)
		if err == nil || !strings.Contains(err.Error(), "element 1") {
			t.Errorf("expected element error, got %v", err)
		}
	})
}

func TestEncoder_GroupFraming(t *testing.T) {
	outer, provider := groupSchema()

	out, err := EncodeMessage(map[string]interface{}{"inner": map[string]interface{}{"a": 150}}, outer, provider, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x1B, 0x08, 0x96, 0x01, 0x1C}, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	out, err = EncodeMessage(map[string]interface{}{"inner": map[string]interface{}{}}, outer, provider, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x1B, 0x1C}, out); diff != "" {
		t.Errorf("empty group should still be framed (-want +got):\n%s", diff)
	}
}

func TestEncoder_NestedLengths(t *testing.T) {
	leaf := &schema.Message{Name: "Leaf", Fields: []*schema.Field{scalarField("text", 1, schema.TypeString)}}
	mid := &schema.Message{Name: "Mid", Fields: []*schema.Field{messageField("leaf", 1, "Leaf"), scalarField("n", 2, schema.TypeInt32)}}
	root := &schema.Message{Name: "Root", Fields: []*schema.Field{messageField("mid", 1, "Mid"), messageField("other", 2, "Leaf")}}
	provider := schema.NewStatic(leaf, mid, root)

	long := strings.Repeat("x", 200)
	data := map[string]interface{}{
		"mid": map[string]interface{}{
			"leaf": map[string]interface{}{"text": long},
			"n":    7,
		},
		"other": map[string]interface{}{"text": "hi"},
	}
	out, err := EncodeMessage(data, root, provider, nil)
	if err != nil {
		t.Fatal(err)
	}

	var leafBytes, midBytes, otherBytes, want []byte
	leafBytes = protowire.AppendTag(leafBytes, 1, protowire.BytesType)
	leafBytes = protowire.AppendString(leafBytes, long)
	midBytes = protowire.AppendTag(midBytes, 1, protowire.BytesType)
	midBytes = protowire.AppendBytes(midBytes, leafBytes)
	midBytes = protowire.AppendTag(midBytes, 2, protowire.VarintType)
	midBytes = protowire.AppendVarint(midBytes, 7)
	otherBytes = protowire.AppendTag(otherBytes, 1, protowire.BytesType)
	otherBytes = protowire.AppendString(otherBytes, "hi")
	want = protowire.AppendTag(want, 1, protowire.BytesType)
	want = protowire.AppendBytes(want, midBytes)
	want = protowire.AppendTag(want, 2, protowire.BytesType)
	want = protowire.AppendBytes(want, otherBytes)

	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	size, err := MessageSize(data, root, provider, nil)
	if err != nil {
		t.Fatal(err)
	}
	if size != len(out) {
		t.Errorf("MessageSize = %d, encoded %d bytes", size, len(out))
	}
}

func TestEncoder_RawMessagePayload(t *testing.T) {
	msg := &schema.Message{Name: "Test", Fields: []*schema.Field{messageField("opaque", 1, "Unknown")}}
	out, err := EncodeMessage(map[string]interface{}{"opaque": []byte{0x08, 0x01}}, msg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x0A, 0x02, 0x08, 0x01}, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestEncoder_Oneof(t *testing.T) {
	msg := &schema.Message{
		Name: "Test",
		OneofGroups: []*schema.Oneof{{
			Name: "key",
			Fields: []*schema.Field{
				scalarField("name", 1, schema.TypeString),
				scalarField("id", 2, schema.TypeInt32),
			},
		}},
	}

	_, err := EncodeMessage(map[string]interface{}{"name": "x", "id": 5}, msg, nil, nil)
	if !errors.Is(err, ErrOneofConflict) {
		t.Errorf("expected ErrOneofConflict, got %v", err)
	}

	out, err := EncodeMessage(map[string]interface{}{"id": 0}, msg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x10, 0x00}, out); diff != "" {
		t.Errorf("a set oneof member is written even at zero (-want +got):\n%s", diff)
	}

	out, err = EncodeMessage(map[string]interface{}{"name": nil, "id": 3}, msg, nil, nil)
	if err != nil {
		t.Fatalf("nil members do not count as set: %v", err)
	}
	if diff := cmp.Diff([]byte{0x10, 0x03}, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestEncoder_MapsAreDeterministic(t *testing.T) {
	msg := &schema.Message{
		Name: "Test",
		Fields: []*schema.Field{
			{
				Name:   "counts",
				Number: 1,
				Label:  schema.LabelRepeated,
				Type: schema.FieldType{
					Kind:     schema.KindMap,
					MapKey:   &schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeString},
					MapValue: &schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeInt32},
				},
			},
			{
				Name:   "byID",
				Number: 2,
				Label:  schema.LabelRepeated,
				Type: schema.FieldType{
					Kind:     schema.KindMap,
					MapKey:   &schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeSint32},
					MapValue: &schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeBool},
				},
			},
		},
	}
	data := map[string]interface{}{
		"counts": map[string]int32{"b": 2, "a": 1, "": 0},
		"byID":   map[interface{}]interface{}{int32(1): true, int32(-1): false},
	}

	want := []byte{
		0x0A, 0x04, 0x0A, 0x00, 0x10, 0x00, // "": 0, key and value always written
		0x0A, 0x05, 0x0A, 0x01, 'a', 0x10, 0x01,
		0x0A, 0x05, 0x0A, 0x01, 'b', 0x10, 0x02,
		0x12, 0x04, 0x08, 0x01, 0x10, 0x00, // -1: false
		0x12, 0x04, 0x08, 0x02, 0x10, 0x01, // 1: true
	}
	for i := 0; i < 10; i++ {
		out, err := EncodeMessage(data, msg, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, out); diff != "" {
			t.Fatalf("run %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	decoded, err := DecodeMessage(want, msg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	wantDecoded := map[string]interface{}{
		"counts": map[interface{}]interface{}{"": int32(0), "a": int32(1), "b": int32(2)},
		"byID":   map[interface{}]interface{}{int32(-1): false, int32(1): true},
	}
	if diff := cmp.Diff(wantDecoded, decoded); diff != "" {
		t.Errorf("decode mismatch (-want +got):\n%s", diff)
	}
}

func TestEncoder_Enums(t *testing.T) {
	provider := schema.NewStatic()
	provider.AddEnum(colorEnum())
	msg := &schema.Message{Name: "Test", Fields: []*schema.Field{enumField("color", 1, "Color")}}

	tests := []struct {
		name    string
		value   interface{}
		want    []byte
		wantErr error
	}{
		{"by name", "GREEN", []byte{0x08, 0x01}, nil},
		{"by number", 2, []byte{0x08, 0x02}, nil},
		{"undeclared number", int32(7), []byte{0x08, 0x07}, nil},
		{"unknown name", "PURPLE", nil, ErrUnknownEnumValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := EncodeMessage(map[string]interface{}{"color": tt.value}, msg, provider, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, out); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncoder_Coercion(t *testing.T) {
	msg := &schema.Message{
		Name: "Test",
		Fields: []*schema.Field{
			scalarField("n", 1, schema.TypeInt32),
			scalarField("u", 2, schema.TypeUint32),
			scalarField("f", 3, schema.TypeFloat),
		},
	}

	accepted := []interface{}{5, int8(5), int64(5), uint16(5), float64(5), json.Number("5"), "5", "5e0"}
	for _, v := range accepted {
		out, err := EncodeMessage(map[string]interface{}{"n": v}, msg, nil, nil)
		if err != nil {
			t.Errorf("%T(%v) rejected: %v", v, v, err)
			continue
		}
		if diff := cmp.Diff([]byte{0x08, 0x05}, out); diff != "" {
			t.Errorf("%T(%v) mismatch (-want +got):\n%s", v, v, diff)
		}
	}

	rejected := []struct {
		name  string
		data  map[string]interface{}
		field string
	}{
		{"fractional float", map[string]interface{}{"n": 5.5}, "n"},
		{"int32 overflow", map[string]interface{}{"n": int64(1) << 40}, "n"},
		{"negative unsigned", map[string]interface{}{"u": -1}, "u"},
		{"uint32 overflow", map[string]interface{}{"u": uint64(1) << 33}, "u"},
		{"wrong kind", map[string]interface{}{"f": true}, "f"},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeMessage(tt.data, msg, nil, nil)
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if len(fe.FieldPath) != 1 || fe.FieldPath[0] != tt.field {
				t.Errorf("path = %v, want [%s]", fe.FieldPath, tt.field)
			}
		})
	}
}

func TestEncoder_NestedErrorPath(t *testing.T) {
	inner := &schema.Message{Name: "Inner", Fields: []*schema.Field{scalarField("lat", 1, schema.TypeDouble)}}
	outer := &schema.Message{Name: "Outer", Fields: []*schema.Field{messageField("loc", 1, "Inner")}}
	provider := schema.NewStatic(inner, outer)

	_, err := EncodeMessage(map[string]interface{}{"loc": map[string]interface{}{"lat": "north"}}, outer, provider, nil)
	if err == nil || !strings.Contains(err.Error(), "error at proto path loc.lat") {
		t.Errorf("expected nested path in error, got %v", err)
	}

	_, err = EncodeMessage(map[string]interface{}{"loc": 1.5}, outer, provider, nil)
	if err == nil || !strings.Contains(err.Error(), "error at proto path loc: message value must be") {
		t.Errorf("expected message kind error, got %v", err)
	}
}

func TestEncoder_EncodeLease(t *testing.T) {
	msg := &schema.Message{Name: "Test", Fields: []*schema.Field{
		scalarField("a", 1, schema.TypeInt32),
		scalarField("raw", 2, schema.TypeBytes),
	}}
	p := pool.New()
	opts := DefaultOptions()
	opts.Pool = p
	enc := NewEncoder(nil, &opts)

	lease, err := enc.EncodeLease(map[string]interface{}{"a": int32(150), "raw": []byte("xy")}, msg)
	if err != nil {
		t.Fatalf("EncodeLease failed: %v", err)
	}
	if diff := cmp.Diff([]byte{0x08, 0x96, 0x01, 0x12, 0x02, 'x', 'y'}, lease.Bytes()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	decoded, held, err := DecodeLease(lease, msg, nil, &opts)
	if err != nil {
		t.Fatalf("DecodeLease failed: %v", err)
	}
	if held != lease || lease.Refs() != 2 {
		t.Fatalf("expected the decoded bytes to retain the slab, refs = %d", lease.Refs())
	}
	if string(decoded["raw"].([]byte)) != "xy" {
		t.Errorf("raw = %q", decoded["raw"])
	}
	held.Release()
	lease.Release()

	if _, err := enc.EncodeLease(map[string]interface{}{"a": "nope"}, msg); err == nil {
		t.Error("expected an encode error")
	}
	if st := p.Stats(); st.Rents != 1 || st.Returns != 1 {
		t.Errorf("stats = %+v, want one slab rented and returned", st)
	}

	// without bytes fields nothing is retained
	lease, err = enc.EncodeLease(map[string]interface{}{"a": int32(1)}, msg)
	if err != nil {
		t.Fatal(err)
	}
	if _, held, err := DecodeLease(lease, msg, nil, &opts); err != nil || held != nil {
		t.Errorf("held = %v, err = %v", held, err)
	}
	lease.Release()
	if st := p.Stats(); st.Rents != st.Returns {
		t.Errorf("leases leaked: %+v", st)
	}
}

func TestEncoder_AppendKeepsPrefix(t *testing.T) {
	msg := &schema.Message{Name: "Test", Fields: []*schema.Field{scalarField("a", 1, schema.TypeInt32)}}
	enc := NewEncoder(nil, nil)

	dst := []byte{0xAA}
	out, err := enc.Append(dst, map[string]interface{}{"a": 150}, msg)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0xAA, 0x08, 0x96, 0x01}, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	// the encoder is reusable and a failed call leaves dst as it was
	out, err = enc.Append(out, map[string]interface{}{"a": "nope"}, msg)
	if err == nil {
		t.Fatal("expected error")
	}
	if diff := cmp.Diff([]byte{0xAA, 0x08, 0x96, 0x01}, out); diff != "" {
		t.Errorf("dst changed on failure (-want +got):\n%s", diff)
	}

	out, err = enc.Append(out, map[string]interface{}{"a": 1}, msg)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0xAA, 0x08, 0x96, 0x01, 0x08, 0x01}, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestEncoder_Limits(t *testing.T) {
	msg := &schema.Message{Name: "Test", Fields: []*schema.Field{scalarField("s", 1, schema.TypeString)}}

	opts := DefaultOptions()
	opts.MaxMessageSize = 4
	_, err := EncodeMessage(map[string]interface{}{"s": "too long for the quota"}, msg, nil, &opts)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}

	node := &schema.Message{Name: "Node", Fields: []*schema.Field{messageField("child", 1, "Node")}}
	provider := schema.NewStatic(node)
	deep := map[string]interface{}{}
	for i := 0; i < 5; i++ {
		deep = map[string]interface{}{"child": deep}
	}
	opts = DefaultOptions()
	opts.MaxDepth = 3
	_, err = EncodeMessage(deep, node, provider, &opts)
	if !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestEncoder_RoundTrip(t *testing.T) {
	provider := schema.NewStatic()
	provider.AddEnum(colorEnum())
	point := &schema.Message{
		Name: "Point",
		Fields: []*schema.Field{
			scalarField("x", 1, schema.TypeSint32),
			scalarField("y", 2, schema.TypeSint64),
		},
	}
	colors := enumField("colors", 14, "Color")
	colors.Label = schema.LabelRepeated
	colors.Packed = true
	points := messageField("points", 15, "Point")
	points.Label = schema.LabelRepeated
	msg := &schema.Message{
		Name: "Everything",
		Fields: []*schema.Field{
			scalarField("i32", 1, schema.TypeInt32),
			scalarField("i64", 2, schema.TypeInt64),
			scalarField("u32", 3, schema.TypeUint32),
			scalarField("u64", 4, schema.TypeUint64),
			scalarField("b", 5, schema.TypeBool),
			scalarField("f32", 6, schema.TypeFixed32),
			scalarField("sf64", 7, schema.TypeSfixed64),
			scalarField("flt", 8, schema.TypeFloat),
			scalarField("dbl", 9, schema.TypeDouble),
			scalarField("str", 10, schema.TypeString),
			scalarField("raw", 11, schema.TypeBytes),
			enumField("color", 12, "Color"),
			repeatedField("nums", 13, schema.TypeSint64, true),
			colors,
			points,
			messageField("origin", 16, "Point"),
		},
	}
	provider.AddMessage(point)
	provider.AddMessage(msg)

	data := map[string]interface{}{
		"i32":    int32(math.MinInt32),
		"i64":    int64(math.MaxInt64),
		"u32":    uint32(math.MaxUint32),
		"u64":    uint64(math.MaxUint64),
		"b":      true,
		"f32":    uint32(7),
		"sf64":   int64(-9),
		"flt":    float32(3.25),
		"dbl":    math.Inf(-1),
		"str":    "héllo wörld",
		"raw":    []byte{1, 2, 3},
		"color":  "BLUE",
		"nums":   []interface{}{int64(-1), int64(0), int64(1 << 40)},
		"colors": []interface{}{"RED", "GREEN"},
		"points": []interface{}{
			map[string]interface{}{"x": int32(-1), "y": int64(2)},
			map[string]interface{}{"x": int32(3), "y": int64(-4)},
		},
		"origin": map[string]interface{}{"x": int32(0), "y": int64(0)},
	}

	out, err := EncodeMessage(data, msg, provider, nil)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	decoded, err := DecodeMessage(out, msg, provider, nil)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if diff := cmp.Diff(data, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	again, err := EncodeMessage(decoded, msg, provider, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(out, again); diff != "" {
		t.Errorf("re-encoding is not stable (-first +second):\n%s", diff)
	}
}
