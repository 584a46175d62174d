package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventrelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
	"github.com/drblury/eventrelay/internal/runtime/metadata"
	"github.com/drblury/eventrelay/transport"
)

// Metadata keys set on every forwarded message.
const (
	MetadataRecordKey = "record_key"
	MetadataQueue     = "queue"
	MetadataSequence  = "sequence"
	MetadataTypeName  = "type_name"
	MetadataCreatedAt = "created_at"
	MetadataLogLevel  = "log_level"
	MetadataTraceID   = "trace_id"
	MetadataSpanID    = "span_id"
	MetadataLog       = "log"
)

// BrokerRepository publishes records as watermill messages to one topic of a
// broker from the transport registry.
type BrokerRepository struct {
	tr     transport.Transport
	caps   transport.Capabilities
	topic  string
	logger loggingpkg.ServiceLogger
	closed atomic.Bool
}

// BuildBroker builds the transport selected by cfg.GetBrokerSystem and wraps
// its publisher.
func BuildBroker(ctx context.Context, cfg transport.Config, topic string, logger loggingpkg.ServiceLogger) (*BrokerRepository, error) {
	logger = loggingpkg.OrNop(logger)
	tr, err := transport.Build(ctx, cfg, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return nil, err
	}
	repo, err := NewBrokerRepository(tr, transport.GetCapabilities(cfg.GetBrokerSystem()), topic, logger)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	return repo, nil
}

// NewBrokerRepository wraps an already built transport. Close closes it.
func NewBrokerRepository(tr transport.Transport, caps transport.Capabilities, topic string, logger loggingpkg.ServiceLogger) (*BrokerRepository, error) {
	if tr.Publisher == nil {
		return nil, fmt.Errorf("broker publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("broker topic is required")
	}
	logger = loggingpkg.OrNop(logger).With(loggingpkg.LogFields{"repository": "broker", "broker": caps.Name, "topic": topic})
	if !caps.Durable() {
		logger.Info("Broker does not confirm publishes; forwarded records may be lost by the broker", nil)
	}
	return &BrokerRepository{tr: tr, caps: caps, topic: topic, logger: logger}, nil
}

// Topic returns the destination topic.
func (b *BrokerRepository) Topic() string { return b.topic }

// Capabilities returns what the broker reported at registration.
func (b *BrokerRepository) Capabilities() transport.Capabilities { return b.caps }

// CreateTable is a no-op; topics are created by the brokers on demand.
func (b *BrokerRepository) CreateTable(context.Context) error { return nil }

// Add publishes the batch. Brokers that batch get one Publish call; the others
// get one call per record. Records larger than the broker accepts are logged
// and skipped since no retry can deliver them.
func (b *BrokerRepository) Add(ctx context.Context, records []Record) error {
	if b.closed.Load() {
		return errors.New("broker repository is closed")
	}

	msgs := make([]*message.Message, 0, len(records))
	for _, rec := range records {
		if !b.caps.Fits(len(rec.Payload)) {
			b.logger.Error("Record too large for broker, skipped", nil, loggingpkg.LogFields{
				"record_key": rec.Key,
				"size":       len(rec.Payload),
				"max_size":   b.caps.MaxMessageSize,
			})
			continue
		}
		msg, err := toMessage(ctx, rec)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}

	if b.caps.SupportsBatching {
		return b.publish(msgs...)
	}
	for _, msg := range msgs {
		if err := b.publish(msg); err != nil {
			return err
		}
	}
	return nil
}

func (b *BrokerRepository) publish(msgs ...*message.Message) error {
	if err := b.tr.Publisher.Publish(b.topic, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d records to %s: %w", len(msgs), b.topic, err)
	}
	return nil
}

func toMessage(ctx context.Context, rec Record) (*message.Message, error) {
	md := metadata.New(
		MetadataRecordKey, rec.Key,
		MetadataQueue, rec.Queue,
		MetadataSequence, strconv.FormatUint(rec.Sequence, 10),
		MetadataTypeName, rec.TypeName,
		MetadataCreatedAt, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if l := rec.Log; l != nil {
		raw, err := jsoncodec.Marshal(l)
		if err != nil {
			return nil, fmt.Errorf("failed to encode log fields of %s: %w", rec.Key, err)
		}
		md = md.WithAll(metadata.New(
			MetadataLogLevel, l.Level,
			MetadataTraceID, l.TraceID,
			MetadataSpanID, l.SpanID,
			MetadataLog, string(raw),
		))
	}

	msg := message.NewMessage(rec.ID, rec.Payload)
	msg.Metadata = metadata.ToWatermill(md)
	msg.SetContext(ctx)
	return msg, nil
}

// TestConnection reports false once closed. Watermill publishers expose no
// probe, so an open publisher counts as reachable and delivery failures
// surface from Add.
func (b *BrokerRepository) TestConnection(context.Context) bool {
	return !b.closed.Load()
}

func (b *BrokerRepository) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.tr.Close()
}
