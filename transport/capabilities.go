package transport

// Capabilities describes what a broker offers a publishing relay.
type Capabilities struct {
	Name string

	// SupportsOrdering means messages published in one call arrive in order.
	SupportsOrdering bool

	// SupportsBatching means one Publish call with many messages is cheaper
	// than many calls with one message each.
	SupportsBatching bool

	// SupportsAck means a nil error from Publish implies the broker accepted
	// the message, not just that it was handed to a client buffer.
	SupportsAck bool

	// SupportsTracing means message metadata travels as broker headers.
	SupportsTracing bool

	// MaxMessageSize is the largest accepted payload in bytes, 0 when unknown.
	MaxMessageSize int64
}

// Durable reports whether publishing is confirmed by the broker, which is
// what the relay needs before committing queue positions.
func (c Capabilities) Durable() bool {
	return c.SupportsAck
}

// Fits reports whether a payload of size bytes may be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsBatching: true,
		SupportsAck:      true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsBatching: true,
		SupportsAck:      true,
		SupportsTracing:  true,
		MaxMessageSize:   1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsTracing:  true,
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576,
	}

	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		SupportsBatching: true,
		SupportsAck:      true,
	}
)
