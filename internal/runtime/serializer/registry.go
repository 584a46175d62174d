package serializer

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
)

// registration knows how to produce a fresh decode target for one payload
// type and how to turn the decoded target back into the registered value.
type registration struct {
	name      string
	typ       reflect.Type
	isProto   bool
	newTarget func() any
	value     func(target any) any
}

// TypeRegistry maps type names to payload types. It is safe for concurrent use
// and shared by every serializer built from it.
type TypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]*registration
	byType map[reflect.Type]*registration
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		byName: make(map[string]*registration),
		byType: make(map[reflect.Type]*registration),
	}
}

// Register adds T under name. An empty name selects the protobuf full name for
// proto.Message types and the Go type string otherwise. Registering the same
// pair twice is a no-op; reusing a name or a type with a different partner
// returns ErrTypeConflict.
func Register[T any](r *TypeRegistry, name string) error {
	reg, err := newRegistration[T](name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[reg.name]; ok {
		if existing.typ == reg.typ {
			return nil
		}
		return fmt.Errorf("%w: %q already maps to %s", errspkg.ErrTypeConflict, reg.name, existing.typ)
	}
	if existing, ok := r.byType[reg.typ]; ok {
		return fmt.Errorf("%w: %s already registered as %q", errspkg.ErrTypeConflict, reg.typ, existing.name)
	}
	r.byName[reg.name] = reg
	r.byType[reg.typ] = reg
	return nil
}

// MustRegister is Register that panics on conflict.
func MustRegister[T any](r *TypeRegistry, name string) {
	if err := Register[T](r, name); err != nil {
		panic(err)
	}
}

// DefaultName returns the name Register uses for T when none is given.
func DefaultName[T any]() string {
	typ := reflect.TypeFor[T]()
	if msg, ok := protoPrototype(typ); ok {
		return string(msg.ProtoReflect().Descriptor().FullName())
	}
	return typ.String()
}

func newRegistration[T any](name string) (*registration, error) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() == reflect.Interface {
		return nil, fmt.Errorf("%w: interface type %s cannot be registered", errspkg.ErrUnsupportedPayload, typ)
	}
	if name == "" {
		name = DefaultName[T]()
	}

	if _, ok := protoPrototype(typ); ok {
		elem := typ.Elem()
		return &registration{
			name:    name,
			typ:     typ,
			isProto: true,
			newTarget: func() any {
				return reflect.New(elem).Interface()
			},
			value: func(target any) any { return target },
		}, nil
	}

	return &registration{
		name:      name,
		typ:       typ,
		newTarget: func() any { return new(T) },
		value:     func(target any) any { return *(target.(*T)) },
	}, nil
}

// protoPrototype reports whether typ is a pointer to a generated protobuf
// message and returns a fresh instance.
func protoPrototype(typ reflect.Type) (proto.Message, bool) {
	if typ.Kind() != reflect.Pointer {
		return nil, false
	}
	msg, ok := reflect.New(typ.Elem()).Interface().(proto.Message)
	return msg, ok
}

// NameOf returns the registered name for payload's dynamic type.
func (r *TypeRegistry) NameOf(payload any) (string, bool) {
	reg, ok := r.byValue(payload)
	if !ok {
		return "", false
	}
	return reg.name, true
}

// Has reports whether name is registered.
func (r *TypeRegistry) Has(name string) bool {
	_, ok := r.byTypeName(name)
	return ok
}

// Names lists the registered type names in sorted order.
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *TypeRegistry) byValue(payload any) (*registration, bool) {
	if payload == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byType[reflect.TypeOf(payload)]
	return reg, ok
}

func (r *TypeRegistry) byTypeName(name string) (*registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	return reg, ok
}

// lookupPayload resolves the registration for an outgoing payload.
func (r *TypeRegistry) lookupPayload(payload any) (*registration, error) {
	reg, ok := r.byValue(payload)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errspkg.ErrUnknownType, payload)
	}
	return reg, nil
}

// lookupName resolves the registration for an incoming type name.
func (r *TypeRegistry) lookupName(name string) (*registration, error) {
	reg, ok := r.byTypeName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownType, name)
	}
	return reg, nil
}
