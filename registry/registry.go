package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	protoparserparser "github.com/yoheimuta/go-protoparser/v4/parser"

	"github.com/anirudhraja/protocodec/schema"
)

// Registry allows us to store the schema of the protobuf messages. We look this up when we need to parse or marshal a message.
// It implements schema.Provider and is safe for concurrent use.
type Registry struct {
	// ProtoDirectories are the roots import paths are resolved against, in order.
	ProtoDirectories []string

	mu       sync.RWMutex
	repo     *schema.ProtoRepo
	messages map[string]*schema.Message // fully qualified name -> message
	enums    map[string]*schema.Enum    // fully qualified name -> enum
	logger   zerolog.Logger

	// parse state of the load in progress, guarded by mu
	parsedProtoBody map[string]*protoparserparser.Proto
	protoEntities   map[string]*protoFileEntity
}

// protoFileEntity records the resolved import paths of a parsed file.
type protoFileEntity struct {
	imports []string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for load and registration events.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry resolving imports against protoDirectories.
// The google.protobuf wrapper, Timestamp, Duration and Empty messages are
// registered up front.
func NewRegistry(protoDirectories []string, opts ...Option) *Registry {
	r := &Registry{
		ProtoDirectories: protoDirectories,
		repo:             &schema.ProtoRepo{ProtoFiles: make(map[string]*schema.ProtoFile)},
		messages:         make(map[string]*schema.Message),
		enums:            make(map[string]*schema.Enum),
		logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	registerWellKnown(r)
	return r
}

// Register adds hand-built messages (and their nested types) under package pkg.
func (r *Registry) Register(pkg string, msgs ...*schema.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		if err := r.registerMessage(pkg, "", msg); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEnum adds a hand-built enum under package pkg.
func (r *Registry) RegisterEnum(pkg string, enum *schema.Enum) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerEnum(getFullName(pkg, enum.Name), enum)
}

// registerMessage compiles msg and records it and everything nested in it.
// parent is the fully qualified name of the enclosing message, if any.
func (r *Registry) registerMessage(pkg, parent string, msg *schema.Message) error {
	fullName := getFullName(pkg, msg.Name)
	if parent != "" {
		fullName = parent + "." + msg.Name
	}
	if _, err := msg.Compile(); err != nil {
		return errors.Wrapf(err, "register %s", fullName)
	}
	if existing, ok := r.messages[fullName]; ok && existing != msg {
		return errors.Errorf("message %s already registered", fullName)
	}
	r.messages[fullName] = msg
	r.logger.Debug().Str("message", fullName).Int("fields", len(msg.Fields)).Msg("registered message")

	for _, nested := range msg.NestedTypes {
		if err := r.registerMessage(pkg, fullName, nested); err != nil {
			return err
		}
	}
	for _, enum := range msg.NestedEnums {
		if err := r.registerEnum(fullName+"."+enum.Name, enum); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) registerEnum(fullName string, enum *schema.Enum) error {
	if len(enum.Values) == 0 {
		return errors.Errorf("enum %s has no values", fullName)
	}
	if !enum.AllowAlias {
		seen := make(map[int32]string, len(enum.Values))
		for _, v := range enum.Values {
			if prev, ok := seen[v.Number]; ok {
				return errors.Errorf("enum %s: %s and %s share number %d without allow_alias", fullName, prev, v.Name, v.Number)
			}
			seen[v.Number] = v.Name
		}
	}
	if existing, ok := r.enums[fullName]; ok && existing != enum {
		return errors.Errorf("enum %s already registered", fullName)
	}
	r.enums[fullName] = enum
	r.logger.Debug().Str("enum", fullName).Int("values", len(enum.Values)).Msg("registered enum")
	return nil
}

func getFullName(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}

// GetMessage retrieves a message definition by name. Names without a
// package prefix fall back to a suffix match.
func (r *Registry) GetMessage(name string) (*schema.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = strings.TrimPrefix(name, ".")
	if msg, exists := r.messages[name]; exists {
		return msg, nil
	}
	if fullName, ok := lookupSuffix(r.messages, name); ok {
		return r.messages[fullName], nil
	}
	return nil, errors.Wrapf(schema.ErrNotFound, "message %s", name)
}

// GetEnum retrieves an enum definition by name, with the same fallback as GetMessage.
func (r *Registry) GetEnum(name string) (*schema.Enum, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = strings.TrimPrefix(name, ".")
	if enum, exists := r.enums[name]; exists {
		return enum, nil
	}
	if fullName, ok := lookupSuffix(r.enums, name); ok {
		return r.enums[fullName], nil
	}
	return nil, errors.Wrapf(schema.ErrNotFound, "enum %s", name)
}

// lookupSuffix finds the lexically smallest key ending in "."+name, so that
// ambiguous short names resolve the same way on every call.
func lookupSuffix[T any](entries map[string]T, name string) (string, bool) {
	var found string
	for fullName := range entries {
		if strings.HasSuffix(fullName, "."+name) && (found == "" || fullName < found) {
			found = fullName
		}
	}
	return found, found != ""
}

// ListMessages returns all registered message names, sorted.
func (r *Registry) ListMessages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.messages)
}

// ListEnums returns all registered enum names, sorted.
func (r *Registry) ListEnums() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.enums)
}

// Files returns the .proto files loaded so far, keyed by path.
func (r *Registry) Files() map[string]*schema.ProtoFile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	files := make(map[string]*schema.ProtoFile, len(r.repo.ProtoFiles))
	for k, v := range r.repo.ProtoFiles {
		files[k] = v
	}
	return files
}

func sortedKeys[T any](entries map[string]T) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mapEntryMessage builds the synthetic entry message of a map field, named
// the way protoc names it ("metadata" -> "MetadataEntry").
func mapEntryMessage(fieldName string, keyType, valueType *schema.FieldType) *schema.Message {
	return &schema.Message{
		Name:     mapEntryName(fieldName),
		MapEntry: true,
		Fields: []*schema.Field{
			{Name: "key", Number: 1, Label: schema.LabelOptional, Type: *keyType},
			{Name: "value", Number: 2, Label: schema.LabelOptional, Type: *valueType},
		},
	}
}

func mapEntryName(fieldName string) string {
	var b strings.Builder
	upper := true
	for _, c := range fieldName {
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		b.WriteRune(c)
	}
	b.WriteString("Entry")
	return b.String()
}
