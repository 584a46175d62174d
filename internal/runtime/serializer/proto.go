package serializer

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
)

// ProtoSerializer is the compact binary strategy. Only protobuf messages are
// supported.
type ProtoSerializer struct {
	types *TypeRegistry
}

// NewProto builds the protobuf strategy over types.
func NewProto(types *TypeRegistry) *ProtoSerializer {
	return &ProtoSerializer{types: types}
}

func (*ProtoSerializer) Name() string { return Protobuf }

func (s *ProtoSerializer) Serialize(payload any) ([]byte, string, error) {
	reg, err := s.types.lookupPayload(payload)
	if err != nil {
		return nil, "", err
	}
	if !reg.isProto {
		return nil, "", fmt.Errorf("%w: %T is not a protobuf message", errspkg.ErrUnsupportedPayload, payload)
	}
	data, err := proto.Marshal(payload.(proto.Message))
	if err != nil {
		return nil, "", fmt.Errorf("serialize %s: %w", reg.name, err)
	}
	return data, reg.name, nil
}

func (s *ProtoSerializer) Deserialize(data []byte, typeName string) (any, error) {
	reg, err := s.types.lookupName(typeName)
	if err != nil {
		return nil, err
	}
	if !reg.isProto {
		return nil, fmt.Errorf("%w: %s is not a protobuf message", errspkg.ErrUnsupportedPayload, typeName)
	}
	target := reg.newTarget().(proto.Message)
	if err := proto.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errspkg.ErrMalformedPayload, typeName, err)
	}
	return target, nil
}
