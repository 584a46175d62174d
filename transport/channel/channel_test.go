package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventrelay/transport"
)

type mockConfig struct{}

func (mockConfig) GetBrokerSystem() string   { return TransportName }
func (mockConfig) GetKafkaBrokers() []string { return nil }
func (mockConfig) GetRabbitMQURL() string    { return "" }
func (mockConfig) GetNATSURL() string        { return "" }
func (mockConfig) GetIOFile() string         { return "" }

type mockPubSub struct{}

func (mockPubSub) Publish(string, ...*message.Message) error { return nil }
func (mockPubSub) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (mockPubSub) Close() error { return nil }

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	assert.True(t, transport.Has(TransportName))
	assert.Equal(t, Capabilities(), transport.GetCapabilities(TransportName))
}

func TestBuildRoundTrip(t *testing.T) {
	tr, err := Build(context.Background(), mockConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := tr.Subscriber.Subscribe(ctx, "records")
	require.NoError(t, err)

	require.NoError(t, tr.Publisher.Publish("records", message.NewMessage("id-1", []byte("hello"))))

	select {
	case msg := <-msgs:
		assert.Equal(t, "id-1", msg.UUID)
		assert.Equal(t, []byte("hello"), []byte(msg.Payload))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBuildUsesFactory(t *testing.T) {
	original := Factory
	defer func() { Factory = original }()

	var gotCfg gochannel.Config
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		gotCfg = cfg
		return mockPubSub{}, mockPubSub{}
	}

	tr, err := Build(context.Background(), mockConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, mockPubSub{}, tr.Publisher)
	assert.Equal(t, int64(OutputBuffer), gotCfg.OutputChannelBuffer)
}
