// Package transport is the registry of broker publishers the relay can
// forward records to. Each broker lives in its own sub-package and registers
// a Builder under the name selected by Config.GetBrokerSystem.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is what a Builder produces. Subscriber is only set by brokers
// that can be read back in-process (channel, io); the relay itself only
// publishes.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the publisher and, when present, the subscriber.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values brokers need without depending on the full
// config package.
type Config interface {
	// GetBrokerSystem returns the registered transport name.
	GetBrokerSystem() string

	GetKafkaBrokers() []string
	GetRabbitMQURL() string
	GetNATSURL() string
	GetIOFile() string
}
