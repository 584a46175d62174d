// Package serializer turns typed payloads into bytes plus a type name and
// back. Strategies are selected by name so callers never change when the
// encoding does.
package serializer

import (
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
)

// Serializer is a reversible payload encoding. Deserialize(Serialize(x))
// yields a value equal to x for every type in the backing TypeRegistry.
type Serializer interface {
	Serialize(payload any) ([]byte, string, error)
	Deserialize(data []byte, typeName string) (any, error)
	Name() string
}

// StrategyFactory builds a serializer bound to a type registry.
type StrategyFactory func(types *TypeRegistry) Serializer

// Built-in strategy names.
const (
	JSON     = "json"
	Protobuf = "protobuf"
)

var (
	strategiesMu sync.RWMutex
	strategies   = map[string]StrategyFactory{
		JSON:     func(types *TypeRegistry) Serializer { return NewJSON(types) },
		Protobuf: func(types *TypeRegistry) Serializer { return NewProto(types) },
	}
)

// RegisterStrategy makes a custom strategy available to New. Registering an
// existing name replaces it.
func RegisterStrategy(name string, factory StrategyFactory) {
	if name == "" || factory == nil {
		panic("eventrelay: serializer strategy needs a name and a factory")
	}
	strategiesMu.Lock()
	defer strategiesMu.Unlock()
	strategies[name] = factory
}

// Strategies lists the registered strategy names.
func Strategies() []string {
	strategiesMu.RLock()
	defer strategiesMu.RUnlock()
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named strategy. An empty name selects JSON.
func New(name string, types *TypeRegistry) (Serializer, error) {
	if name == "" {
		name = JSON
	}
	if types == nil {
		types = NewTypeRegistry()
	}
	strategiesMu.RLock()
	factory, ok := strategies[name]
	strategiesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", errspkg.ErrUnknownSerializer, name, Strategies())
	}
	return factory(types), nil
}
