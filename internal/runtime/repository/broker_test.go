package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventrelay/internal/runtime/config"
	"github.com/drblury/eventrelay/transport"
	"github.com/drblury/eventrelay/transport/channel"
	ioTransport "github.com/drblury/eventrelay/transport/io"
)

type recordingPublisher struct {
	calls [][]*message.Message
	err   error
}

func (p *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, msgs)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestBrokerRepositoryOverChannel(t *testing.T) {
	ctx := context.Background()
	tr, err := channel.Build(ctx, &config.Config{}, watermill.NopLogger{})
	require.NoError(t, err)

	repo, err := NewBrokerRepository(tr, channel.Capabilities(), "records", nil)
	require.NoError(t, err)
	defer repo.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	msgs, err := tr.Subscriber.Subscribe(subCtx, "records")
	require.NoError(t, err)

	require.True(t, repo.TestConnection(ctx))
	require.NoError(t, repo.CreateTable(ctx))
	require.NoError(t, repo.Add(ctx, []Record{logRecord()}))

	select {
	case msg := <-msgs:
		assert.Equal(t, logRecord().ID, msg.UUID)
		assert.Equal(t, "orders/log", msg.Metadata.Get(MetadataRecordKey))
		assert.Equal(t, "1", msg.Metadata.Get(MetadataSequence))
		assert.Equal(t, "eventrelay.LogEvent", msg.Metadata.Get(MetadataTypeName))
		assert.Equal(t, "error", msg.Metadata.Get(MetadataLogLevel))
		assert.Equal(t, "00f067aa0ba902b7", msg.Metadata.Get(MetadataSpanID))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("record not published")
	}

	require.NoError(t, repo.Close())
	assert.False(t, repo.TestConnection(ctx))
	assert.Error(t, repo.Add(ctx, sampleRecords(1)))
}

func TestBrokerRepositoryBatching(t *testing.T) {
	ctx := context.Background()

	batching := &recordingPublisher{}
	repo, err := NewBrokerRepository(transport.Transport{Publisher: batching}, transport.Capabilities{Name: "b", SupportsBatching: true}, "t", nil)
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, sampleRecords(3)))
	require.Len(t, batching.calls, 1)
	assert.Len(t, batching.calls[0], 3)

	single := &recordingPublisher{}
	repo, err = NewBrokerRepository(transport.Transport{Publisher: single}, transport.Capabilities{Name: "s"}, "t", nil)
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, sampleRecords(3)))
	assert.Len(t, single.calls, 3)
}

func TestBrokerRepositorySkipsOversizedRecords(t *testing.T) {
	pub := &recordingPublisher{}
	repo, err := NewBrokerRepository(transport.Transport{Publisher: pub}, transport.Capabilities{SupportsBatching: true, MaxMessageSize: 8}, "t", nil)
	require.NoError(t, err)

	records := sampleRecords(2)
	records[1].Payload = []byte("this payload is far too large")
	require.NoError(t, repo.Add(context.Background(), records))
	require.Len(t, pub.calls, 1)
	require.Len(t, pub.calls[0], 1)
	assert.Equal(t, "orders/1", pub.calls[0][0].Metadata.Get(MetadataRecordKey))
}

func TestBrokerRepositoryPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	repo, err := NewBrokerRepository(transport.Transport{Publisher: pub}, transport.Capabilities{}, "t", nil)
	require.NoError(t, err)
	assert.ErrorContains(t, repo.Add(context.Background(), sampleRecords(1)), "broker down")
}

func TestBrokerRepositoryValidation(t *testing.T) {
	_, err := NewBrokerRepository(transport.Transport{}, transport.Capabilities{}, "t", nil)
	assert.Error(t, err)
	_, err = NewBrokerRepository(transport.Transport{Publisher: &recordingPublisher{}}, transport.Capabilities{}, "", nil)
	assert.Error(t, err)
}

func TestBuildBrokerFromRegistry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	conf := &config.Config{BrokerSystem: "io", IOFile: path}

	repo, err := BuildBroker(ctx, conf, "audit", nil)
	require.NoError(t, err)
	defer repo.Close()
	assert.Equal(t, "io", repo.Capabilities().Name)

	require.NoError(t, repo.Add(ctx, sampleRecords(2)))
	stored, err := ioTransport.ReadAll(path, "audit")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "orders/2", stored[1].Metadata[MetadataRecordKey])
}
