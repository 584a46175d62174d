// Package eventrelay carries in-process events to a durable sink. Handlers
// publish typed payloads on an event Hub; RelayTo turns selected events into
// envelopes on a bounded durable Queue (bbolt, SQLite or in-memory), and a
// Forwarder drains that queue in batches into a Repository: SQLite,
// PostgreSQL, Redis streams, or a Watermill broker (Kafka, RabbitMQ, NATS,
// Go channels or a file).
//
// A Monitor samples the queue fill level and publishes EventBackpressure and
// EventBackpressureCleared on the hub when it crosses the configured
// threshold. The forwarder and the monitor run under Supervisors that
// restart them after a failure and stop the whole Service when a worker
// cannot be built at all.
//
// A minimal setup fills Config (or calls LoadConfig), registers payload
// types, creates a Service, relays the events it wants to keep and calls
// Start:
//
//	types := eventrelay.NewTypeRegistry()
//	_ = eventrelay.RegisterType[OrderPlaced](types, "orders.placed")
//	svc, err := eventrelay.NewService(conf, logger, ctx, eventrelay.ServiceDependencies{Types: types})
//	if err != nil {
//		return err
//	}
//	defer svc.Close(context.Background())
//	_ = eventrelay.RelayTo[OrderPlaced](svc)
//	return svc.Start(ctx)
//
// # Delivery
//
// Envelopes survive restarts and are committed only after the repository
// accepted the batch, so delivery is at least once. Records carry a stable
// Key ("queue/sequence") that SQL and Redis sinks use to drop duplicates.
// When the queue is full RelayTo drops the event and counts it; publishers
// never block on the sink.
//
// # Logging
//
// Service.QueueLogger wraps the service logger so error entries also travel
// through the queue as LogEvents and land in the log columns of SQL sinks.
package eventrelay
