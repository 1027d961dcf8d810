package schema

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by a Provider for names it does not know.
var ErrNotFound = errors.New("schema: type not found")

// Provider resolves fully qualified type names to descriptions. The codec
// depends only on this interface, never on how the schema was derived.
type Provider interface {
	GetMessage(name string) (*Message, error)
	GetEnum(name string) (*Enum, error)
}

// Static is a Provider backed by hand-registered descriptions.
type Static struct {
	mu       sync.RWMutex
	messages map[string]*Message
	enums    map[string]*Enum
}

// NewStatic creates a provider holding msgs, keyed by their Name.
func NewStatic(msgs ...*Message) *Static {
	s := &Static{
		messages: make(map[string]*Message),
		enums:    make(map[string]*Enum),
	}
	for _, m := range msgs {
		s.AddMessage(m)
	}
	return s
}

// AddMessage registers m under m.Name.
func (s *Static) AddMessage(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.Name] = m
}

// AddEnum registers e under e.Name.
func (s *Static) AddEnum(e *Enum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enums[e.Name] = e
}

// GetMessage implements Provider.
func (s *Static) GetMessage(name string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.messages[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: message %s", ErrNotFound, name)
}

// GetEnum implements Provider.
func (s *Static) GetEnum(name string) (*Enum, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.enums[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: enum %s", ErrNotFound, name)
}
