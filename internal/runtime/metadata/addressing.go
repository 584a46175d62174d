package metadata

import (
	"os"
	"sync"
	"time"

	idspkg "github.com/drblury/eventrelay/internal/runtime/ids"
)

// Metadata keys used when addressing travels as flat headers.
const (
	KeyMessageID      = "message_id"
	KeyExchange       = "exchange"
	KeyRoutingKey     = "routing_key"
	KeyBindingPattern = "binding_pattern"
	KeyQueue          = "queue"
	KeyCorrelationID  = "correlation_id"
	KeySchemaVersion  = "schema_version"
	KeyTimestamp      = "timestamp"
	KeyApplication    = "application"
	KeyHost           = "host"
)

// DefaultSchemaVersion is stamped when no explicit version is given.
const DefaultSchemaVersion = "1"

// Addressing is the routing envelope some messages carry through the hub and
// into persisted records. It is built once by NewAddressing; only the
// timestamp and correlation id may be replaced afterwards, and only through
// the copy-returning With* methods.
type Addressing struct {
	ID             string    `json:"id"`
	Exchange       string    `json:"exchange"`
	RoutingKey     string    `json:"routing_key"`
	BindingPattern string    `json:"binding_pattern,omitempty"`
	Queue          string    `json:"queue,omitempty"`
	CorrelationID  string    `json:"correlation_id"`
	SchemaVersion  string    `json:"schema_version"`
	Timestamp      time.Time `json:"timestamp"`
	Application    string    `json:"application"`
	Host           string    `json:"host"`
}

// Addressed is implemented by payloads that carry Addressing.
type Addressed interface {
	Address() Addressing
}

// AddressingOption customises NewAddressing.
type AddressingOption func(*Addressing)

// WithBindingPattern sets the binding pattern used by topic exchanges.
func WithBindingPattern(pattern string) AddressingOption {
	return func(a *Addressing) { a.BindingPattern = pattern }
}

// WithQueue names the queue the message is bound for.
func WithQueue(queue string) AddressingOption {
	return func(a *Addressing) { a.Queue = queue }
}

// WithCorrelation sets the correlation id at construction time.
func WithCorrelation(id string) AddressingOption {
	return func(a *Addressing) { a.CorrelationID = id }
}

// WithSchemaVersion overrides DefaultSchemaVersion.
func WithSchemaVersion(version string) AddressingOption {
	return func(a *Addressing) { a.SchemaVersion = version }
}

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) AddressingOption {
	return func(a *Addressing) { a.Timestamp = now().UTC() }
}

var hostName = sync.OnceValue(func() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
})

// NewAddressing stamps a fresh ULID, the current UTC time, the host name and
// the application name. The correlation id defaults to the message id.
func NewAddressing(application, exchange, routingKey string, opts ...AddressingOption) Addressing {
	a := Addressing{
		ID:            idspkg.CreateULID(),
		Exchange:      exchange,
		RoutingKey:    routingKey,
		SchemaVersion: DefaultSchemaVersion,
		Timestamp:     time.Now().UTC(),
		Application:   application,
		Host:          hostName(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&a)
		}
	}
	if a.CorrelationID == "" {
		a.CorrelationID = a.ID
	}
	return a
}

// Address lets Addressing be embedded so the outer payload satisfies Addressed.
func (a Addressing) Address() Addressing { return a }

// WithCorrelationID returns a copy carrying a producer supplied correlation id.
func (a Addressing) WithCorrelationID(id string) Addressing {
	a.CorrelationID = id
	return a
}

// WithTimestamp returns a copy with the timestamp replaced.
func (a Addressing) WithTimestamp(ts time.Time) Addressing {
	a.Timestamp = ts.UTC()
	return a
}

// Metadata flattens the addressing into headers. Empty optional fields are
// omitted.
func (a Addressing) Metadata() Metadata {
	md := New(
		KeyMessageID, a.ID,
		KeyExchange, a.Exchange,
		KeyRoutingKey, a.RoutingKey,
		KeyCorrelationID, a.CorrelationID,
		KeySchemaVersion, a.SchemaVersion,
		KeyApplication, a.Application,
		KeyHost, a.Host,
	)
	if !a.Timestamp.IsZero() {
		md[KeyTimestamp] = a.Timestamp.Format(time.RFC3339Nano)
	}
	if a.BindingPattern != "" {
		md[KeyBindingPattern] = a.BindingPattern
	}
	if a.Queue != "" {
		md[KeyQueue] = a.Queue
	}
	return md
}

// AddressingFromMetadata is the inverse of Addressing.Metadata. An unparsable
// timestamp is left zero.
func AddressingFromMetadata(md Metadata) Addressing {
	a := Addressing{
		ID:             md[KeyMessageID],
		Exchange:       md[KeyExchange],
		RoutingKey:     md[KeyRoutingKey],
		BindingPattern: md[KeyBindingPattern],
		Queue:          md[KeyQueue],
		CorrelationID:  md[KeyCorrelationID],
		SchemaVersion:  md[KeySchemaVersion],
		Application:    md[KeyApplication],
		Host:           md[KeyHost],
	}
	if ts, err := time.Parse(time.RFC3339Nano, md[KeyTimestamp]); err == nil {
		a.Timestamp = ts
	}
	return a
}
