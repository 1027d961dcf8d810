package protocodec

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/anirudhraja/protocodec/pipe"
	"github.com/anirudhraja/protocodec/pool"
	"github.com/anirudhraja/protocodec/registry"
	"github.com/anirudhraja/protocodec/wire"
)

// ===== SCHEMA-AWARE API =====

// Codec provides schema-aware protobuf operations without generated code.
// It is safe for concurrent use once schemas are loaded.
type Codec struct {
	registry  *registry.Registry
	opts      wire.Options
	limits    pipe.Limits
	logger    zerolog.Logger
	protoDirs []string
}

// Option configures a Codec.
type Option func(*Codec)

// WithOptions replaces the codec options. The default is wire.DefaultOptions.
func WithOptions(opts wire.Options) Option {
	return func(c *Codec) { c.opts = opts }
}

// WithLimits sets the frame limits of pipes created by the codec.
func WithLimits(limits pipe.Limits) Option {
	return func(c *Codec) { c.limits = limits }
}

// WithLogger sets the logger shared by the registry, codec and pipes.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Codec) { c.logger = logger }
}

// WithProtoDirectories adds import roots searched when resolving .proto imports.
func WithProtoDirectories(dirs ...string) Option {
	return func(c *Codec) { c.protoDirs = append(c.protoDirs, dirs...) }
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		opts:   wire.DefaultOptions(),
		limits: pipe.DefaultLimits(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.opts.Logger = c.logger
	c.registry = registry.NewRegistry(c.protoDirs, registry.WithLogger(c.logger))
	return c
}

// LoadSchema parses a .proto file, or every .proto file under a directory,
// and registers its types.
func (c *Codec) LoadSchema(path string) error {
	return c.registry.LoadSchema(path)
}

// RegisterFile registers the types of a compiled file descriptor.
func (c *Codec) RegisterFile(fd protoreflect.FileDescriptor) error {
	return c.registry.RegisterFile(fd)
}

// Registry returns the schema registry backing the codec.
func (c *Codec) Registry() *registry.Registry {
	return c.registry
}

// Options returns a copy of the codec options.
func (c *Codec) Options() wire.Options {
	return c.opts
}

// Unmarshal decodes protobuf bytes as messageType.
func (c *Codec) Unmarshal(data []byte, messageType string) (map[string]interface{}, error) {
	msg, err := c.registry.GetMessage(messageType)
	if err != nil {
		return nil, fmt.Errorf("message type not found: %s: %w", messageType, err)
	}
	return wire.DecodeMessage(data, msg, c.registry, &c.opts)
}

// Marshal encodes a map to protobuf bytes using schema information.
func (c *Codec) Marshal(data map[string]interface{}, messageType string) ([]byte, error) {
	return c.MarshalAppend(nil, data, messageType)
}

// MarshalAppend encodes data and appends it to dst. On error dst is returned
// unchanged.
func (c *Codec) MarshalAppend(dst []byte, data map[string]interface{}, messageType string) ([]byte, error) {
	msg, err := c.registry.GetMessage(messageType)
	if err != nil {
		return dst, fmt.Errorf("message type not found: %s: %w", messageType, err)
	}
	return wire.NewEncoder(c.registry, &c.opts).Append(dst, data, msg)
}

// MarshalLease encodes data into a pooled slab. Release the lease once the
// bytes have been written out.
func (c *Codec) MarshalLease(data map[string]interface{}, messageType string) (*pool.Lease, error) {
	msg, err := c.registry.GetMessage(messageType)
	if err != nil {
		return nil, fmt.Errorf("message type not found: %s: %w", messageType, err)
	}
	return wire.NewEncoder(c.registry, &c.opts).EncodeLease(data, msg)
}

// UnmarshalLease decodes the message held in lease without copying bytes
// fields. A non-nil returned lease keeps the slab alive for the result and
// must be released when the result is dropped.
func (c *Codec) UnmarshalLease(lease *pool.Lease, messageType string) (map[string]interface{}, *pool.Lease, error) {
	msg, err := c.registry.GetMessage(messageType)
	if err != nil {
		return nil, nil, fmt.Errorf("message type not found: %s: %w", messageType, err)
	}
	return wire.DecodeLease(lease, msg, c.registry, &c.opts)
}

// Size returns the encoded size of data without producing the bytes.
func (c *Codec) Size(data map[string]interface{}, messageType string) (int, error) {
	msg, err := c.registry.GetMessage(messageType)
	if err != nil {
		return 0, fmt.Errorf("message type not found: %s: %w", messageType, err)
	}
	return wire.MessageSize(data, msg, c.registry, &c.opts)
}

// NewPipeWriter returns a frame writer encoding with this codec's schemas.
func (c *Codec) NewPipeWriter(w io.Writer) *pipe.Writer {
	return pipe.NewWriter(w, c.registry, c.pipeOptions()...)
}

// NewPipeReader returns a frame reader decoding with this codec's schemas.
func (c *Codec) NewPipeReader(r io.Reader) *pipe.Reader {
	return pipe.NewReader(r, c.registry, c.pipeOptions()...)
}

func (c *Codec) pipeOptions() []pipe.Option {
	opts := c.opts
	popts := []pipe.Option{
		pipe.WithLimits(c.limits),
		pipe.WithCodecOptions(&opts),
		pipe.WithLogger(c.logger),
	}
	if opts.Pool != nil {
		popts = append(popts, pipe.WithPool(opts.Pool))
	}
	return popts
}

// ===== STRUCT MAPPING =====

// MessageNamer lets a struct name the message type it is decoded from.
// Without it UnmarshalStruct uses the struct's type name.
type MessageNamer interface {
	MessageName() string
}

// UnmarshalStruct decodes protobuf bytes into a Go struct using reflection.
// Struct fields match message fields by a `proto:"name"` tag, else by name
// ignoring case and underscores.
func (c *Codec) UnmarshalStruct(data []byte, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("unmarshal target must be a pointer to struct")
	}

	messageType := rv.Elem().Type().Name()
	if namer, ok := v.(MessageNamer); ok {
		messageType = namer.MessageName()
	}
	result, err := c.Unmarshal(data, messageType)
	if err != nil {
		return err
	}
	return mapToStruct(result, rv.Elem())
}

// mapToStruct maps decoded result to struct fields
func mapToStruct(data map[string]interface{}, rv reflect.Value) error {
	byKey := make(map[string]interface{}, len(data))
	for name, value := range data {
		byKey[fieldKey(name)] = value
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldValue := rv.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		var (
			value interface{}
			ok    bool
		)
		if tag := field.Tag.Get("proto"); tag != "" {
			if tag == "-" {
				continue
			}
			value, ok = data[tag]
		} else {
			value, ok = byKey[fieldKey(field.Name)]
		}
		if !ok {
			continue
		}
		if err := setFieldValue(fieldValue, value); err != nil {
			return fmt.Errorf("failed to set field %s: %w", field.Name, err)
		}
	}
	return nil
}

func fieldKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// setFieldValue sets a struct field with type conversion
func setFieldValue(fieldValue reflect.Value, value interface{}) error {
	if value == nil {
		return nil
	}

	sourceValue := reflect.ValueOf(value)
	target := fieldValue.Type()
	if sourceValue.Type().AssignableTo(target) {
		fieldValue.Set(sourceValue)
		return nil
	}

	switch target.Kind() {
	case reflect.Ptr:
		elem := reflect.New(target.Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		fieldValue.Set(elem)
		return nil
	case reflect.Struct:
		nested, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("cannot convert %T to %s", value, target)
		}
		return mapToStruct(nested, fieldValue)
	case reflect.Slice:
		list, ok := value.([]interface{})
		if !ok {
			break
		}
		out := reflect.MakeSlice(target, len(list), len(list))
		for i, element := range list {
			if err := setFieldValue(out.Index(i), element); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		fieldValue.Set(out)
		return nil
	case reflect.Map:
		entries, ok := value.(map[interface{}]interface{})
		if !ok {
			break
		}
		out := reflect.MakeMapWithSize(target, len(entries))
		for k, v := range entries {
			key := reflect.New(target.Key()).Elem()
			if err := setFieldValue(key, k); err != nil {
				return fmt.Errorf("map key %v: %w", k, err)
			}
			val := reflect.New(target.Elem()).Elem()
			if err := setFieldValue(val, v); err != nil {
				return fmt.Errorf("map value for %v: %w", k, err)
			}
			out.SetMapIndex(key, val)
		}
		fieldValue.Set(out)
		return nil
	}

	// integers convert to strings as runes, which is never what a field means
	numericToString := target.Kind() == reflect.String && sourceValue.Kind() != reflect.String
	if sourceValue.Type().ConvertibleTo(target) && !numericToString {
		fieldValue.Set(sourceValue.Convert(target))
		return nil
	}

	return fmt.Errorf("cannot convert %T to %s", value, target)
}

// ===== REGISTRY ACCESS =====

func (c *Codec) ListMessages() []string { return c.registry.ListMessages() }
func (c *Codec) ListEnums() []string    { return c.registry.ListEnums() }
