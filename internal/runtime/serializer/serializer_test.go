package serializer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
)

type orderPlaced struct {
	OrderID  string            `json:"order_id"`
	Amount   int64             `json:"amount"`
	Tags     []string          `json:"tags"`
	Labels   map[string]string `json:"labels"`
	PlacedAt time.Time         `json:"placed_at"`
}

type heartbeat struct {
	Node string `json:"node"`
}

func newRegistry(t *testing.T) *TypeRegistry {
	t.Helper()
	types := NewTypeRegistry()
	require.NoError(t, Register[orderPlaced](types, "orders.placed"))
	require.NoError(t, Register[heartbeat](types, ""))
	require.NoError(t, Register[*wrapperspb.StringValue](types, ""))
	require.NoError(t, Register[*timestamppb.Timestamp](types, ""))
	require.NoError(t, Register[*structpb.Struct](types, ""))
	return types
}

func TestJSONRoundTrip(t *testing.T) {
	s, err := New(JSON, newRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, JSON, s.Name())

	placed := orderPlaced{
		OrderID:  "o-1",
		Amount:   4200,
		Tags:     []string{"priority"},
		Labels:   map[string]string{"region": "eu"},
		PlacedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, name, err := s.Serialize(placed)
	require.NoError(t, err)
	assert.Equal(t, "orders.placed", name)

	decoded, err := s.Deserialize(data, name)
	require.NoError(t, err)
	assert.Equal(t, placed, decoded)
}

func TestJSONRoundTripDefaultName(t *testing.T) {
	s := NewJSON(newRegistry(t))

	data, name, err := s.Serialize(heartbeat{Node: "n1"})
	require.NoError(t, err)
	assert.Equal(t, "serializer.heartbeat", name)

	decoded, err := s.Deserialize(data, name)
	require.NoError(t, err)
	assert.Equal(t, heartbeat{Node: "n1"}, decoded)
}

func TestJSONHandlesProtoMessages(t *testing.T) {
	s := NewJSON(newRegistry(t))

	msg := wrapperspb.String("hello")
	data, name, err := s.Serialize(msg)
	require.NoError(t, err)
	assert.Equal(t, "google.protobuf.StringValue", name)
	assert.JSONEq(t, `"hello"`, string(data))

	decoded, err := s.Deserialize(data, name)
	require.NoError(t, err)
	assert.True(t, proto.Equal(msg, decoded.(proto.Message)))
}

func TestProtoRoundTrip(t *testing.T) {
	s, err := New(Protobuf, newRegistry(t))
	require.NoError(t, err)

	fields, err := structpb.NewStruct(map[string]any{"level": "error", "attempt": 3})
	require.NoError(t, err)

	samples := []proto.Message{
		wrapperspb.String("payload"),
		timestamppb.New(time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)),
		fields,
	}
	for _, sample := range samples {
		data, name, err := s.Serialize(sample)
		require.NoError(t, err)

		decoded, err := s.Deserialize(data, name)
		require.NoError(t, err)
		assert.True(t, proto.Equal(sample, decoded.(proto.Message)), "round trip of %s", name)
	}
}

func TestProtoRejectsPlainStructs(t *testing.T) {
	s := NewProto(newRegistry(t))
	_, _, err := s.Serialize(heartbeat{Node: "n"})
	assert.ErrorIs(t, err, errspkg.ErrUnsupportedPayload)

	_, err = s.Deserialize([]byte("{}"), "orders.placed")
	assert.ErrorIs(t, err, errspkg.ErrUnsupportedPayload)
}

func TestUnknownTypes(t *testing.T) {
	for _, name := range []string{JSON, Protobuf} {
		t.Run(name, func(t *testing.T) {
			s, err := New(name, newRegistry(t))
			require.NoError(t, err)

			_, err = s.Deserialize([]byte("{}"), "does.not.exist")
			assert.ErrorIs(t, err, errspkg.ErrUnknownType)
			assert.Contains(t, err.Error(), "does.not.exist")

			_, _, err = s.Serialize(struct{ X int }{1})
			assert.ErrorIs(t, err, errspkg.ErrUnknownType)

			_, _, err = s.Serialize(nil)
			assert.ErrorIs(t, err, errspkg.ErrUnknownType)
		})
	}
}

func TestMalformedPayloads(t *testing.T) {
	types := newRegistry(t)

	_, err := NewJSON(types).Deserialize([]byte("{not json"), "orders.placed")
	assert.ErrorIs(t, err, errspkg.ErrMalformedPayload)

	_, err = NewProto(types).Deserialize([]byte{0xff, 0xff, 0xff}, "google.protobuf.StringValue")
	assert.ErrorIs(t, err, errspkg.ErrMalformedPayload)
}

func TestRegisterConflicts(t *testing.T) {
	types := NewTypeRegistry()
	require.NoError(t, Register[heartbeat](types, "beat"))
	require.NoError(t, Register[heartbeat](types, "beat"), "same pair is idempotent")

	err := Register[orderPlaced](types, "beat")
	assert.ErrorIs(t, err, errspkg.ErrTypeConflict)

	err = Register[heartbeat](types, "other")
	assert.ErrorIs(t, err, errspkg.ErrTypeConflict)

	assert.Panics(t, func() { MustRegister[orderPlaced](types, "beat") })
	assert.ErrorIs(t, Register[any](types, "anything"), errspkg.ErrUnsupportedPayload)
}

func TestRegistryIntrospection(t *testing.T) {
	types := newRegistry(t)

	name, ok := types.NameOf(orderPlaced{})
	assert.True(t, ok)
	assert.Equal(t, "orders.placed", name)

	_, ok = types.NameOf(&orderPlaced{})
	assert.False(t, ok, "pointer and value types are distinct")

	assert.True(t, types.Has("google.protobuf.Timestamp"))
	assert.Contains(t, types.Names(), "serializer.heartbeat")
}

func TestDefaultName(t *testing.T) {
	assert.Equal(t, "google.protobuf.StringValue", DefaultName[*wrapperspb.StringValue]())
	assert.Equal(t, "serializer.orderPlaced", DefaultName[orderPlaced]())
}

func TestNewUnknownStrategy(t *testing.T) {
	_, err := New("avro", nil)
	assert.ErrorIs(t, err, errspkg.ErrUnknownSerializer)
}

type upperSerializer struct{ *JSONSerializer }

func (upperSerializer) Name() string { return "upper" }

func TestRegisterStrategy(t *testing.T) {
	RegisterStrategy("upper", func(types *TypeRegistry) Serializer {
		return upperSerializer{NewJSON(types)}
	})

	s, err := New("upper", newRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, "upper", s.Name())
	assert.Contains(t, Strategies(), "upper")

	assert.Panics(t, func() { RegisterStrategy("", nil) })
}

func TestNewDefaultsToJSON(t *testing.T) {
	s, err := New("", nil)
	require.NoError(t, err)
	assert.Equal(t, JSON, s.Name())
}
