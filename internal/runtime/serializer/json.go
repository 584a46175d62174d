package serializer

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	"github.com/drblury/eventrelay/internal/runtime/jsoncodec"
)

// JSONSerializer is the textual strategy. Protobuf messages go through
// protojson so their field names match the schema; everything else goes
// through jsoncodec.
type JSONSerializer struct {
	types *TypeRegistry
}

// NewJSON builds the JSON strategy over types.
func NewJSON(types *TypeRegistry) *JSONSerializer {
	return &JSONSerializer{types: types}
}

func (*JSONSerializer) Name() string { return JSON }

func (s *JSONSerializer) Serialize(payload any) ([]byte, string, error) {
	reg, err := s.types.lookupPayload(payload)
	if err != nil {
		return nil, "", err
	}
	var data []byte
	if reg.isProto {
		data, err = protojson.Marshal(payload.(proto.Message))
	} else {
		data, err = jsoncodec.Marshal(payload)
	}
	if err != nil {
		return nil, "", fmt.Errorf("serialize %s: %w", reg.name, err)
	}
	return data, reg.name, nil
}

func (s *JSONSerializer) Deserialize(data []byte, typeName string) (any, error) {
	reg, err := s.types.lookupName(typeName)
	if err != nil {
		return nil, err
	}
	target := reg.newTarget()
	if reg.isProto {
		err = protojson.Unmarshal(data, target.(proto.Message))
	} else {
		err = jsoncodec.Unmarshal(data, target)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errspkg.ErrMalformedPayload, typeName, err)
	}
	return reg.value(target), nil
}
