package runtime

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	"github.com/drblury/eventrelay/internal/runtime/hub"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
)

// RelayTo subscribes to Publish[T] on the service hub and enqueues every
// payload on the durable queue. T must already be registered on Types. A
// full queue or an encoding failure is logged and counted; the publisher
// never sees it.
func RelayTo[T any](s *Service) error {
	event := hub.TypeName[T]()
	if err := s.checkRelayType(*new(T), event); err != nil {
		return err
	}
	return hub.Subscribe(s.hub, func(ctx context.Context, payload T) error {
		s.relay(ctx, event, payload)
		return nil
	})
}

// RelayNamedTo is RelayTo for PublishNamed[T] with the given event name.
// Publish[T] reaches the subscription too, so pairing it with RelayTo[T]
// enqueues a Publish[T] payload twice.
func RelayNamedTo[T any](s *Service, event string) error {
	if err := s.checkRelayType(*new(T), hub.TypeName[T]()); err != nil {
		return err
	}
	return hub.SubscribeNamed(s.hub, event, func(ctx context.Context, payload T) error {
		s.relay(ctx, event, payload)
		return nil
	})
}

func (s *Service) checkRelayType(zero any, typeName string) error {
	if _, ok := s.types.NameOf(zero); !ok {
		return fmt.Errorf("%w: %s is not registered for the queue", errspkg.ErrUnknownType, typeName)
	}
	return nil
}

func (s *Service) relay(ctx context.Context, event string, payload any) {
	ok, err := s.queue.TryEnqueue(ctx, payload)
	switch {
	case err != nil:
		s.relayMetrics.failed(event)
		s.Logger.Error("Failed to relay event to queue", err, loggingpkg.LogFields{"event": event})
	case !ok:
		s.relayMetrics.dropped(event)
		s.Logger.Info("Queue full, event dropped", loggingpkg.LogFields{
			"event": event,
			"queue": s.queue.Name(),
		})
	default:
		s.relayMetrics.relayed(event)
	}
}
