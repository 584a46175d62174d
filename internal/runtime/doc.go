/*
Package runtime wires the eventrelay components into one Service.

# Architecture Overview

Events are published in-process on a Hub. Handlers registered with RelayTo
persist the events they receive on a bounded durable Queue. A Forwarder
drains the queue in batches and stores them in a Repository, committing a
batch on the queue only once the repository accepted it. A Monitor samples
queue utilization and publishes backpressure events on the hub. The
forwarder and the monitor run under supervisors that rebuild and restart
them after failures.

# Package Structure

  - hub: in-process publish/subscribe keyed by name, payload type or both
  - queue: bounded durable ring of envelopes over bolt, SQLite or memory
  - monitor: queue utilization sampling and backpressure detection
  - forwarder: batched, retried queue-to-repository forwarding
  - repository: SQL, Redis, broker and in-memory sinks plus a driver registry
  - supervisor: restart loop for workers and a Host running several of them
  - serializer: named payload codecs (JSON, protobuf) over a type registry
  - logging: ServiceLogger adapters and the QueueLogger for log events
  - config: the Config struct, validation and viper loading
  - errors: sentinel errors shared by every package

# Service Lifecycle

	svc, err := runtime.NewService(conf, logger, ctx, runtime.ServiceDependencies{Types: types})
	if err != nil {
		return err
	}
	if err := runtime.RelayTo[OrderPlaced](svc); err != nil {
		return err
	}
	runErr := svc.Start(ctx) // blocks until ctx is cancelled
	closeErr := svc.Close(context.Background())

Close flushes whatever the queue still holds into the repository before the
queue and the repository are closed. Envelopes that could not be forwarded
stay in the queue store and are redelivered after the next NewService.

# HTTP Endpoints

With MetricsPort set, /metrics serves Prometheus metrics. With HealthPort
set, /live and /ready serve liveness and readiness probes and /api/status
returns a JSON Status. Readiness fails while the queue is over its
backpressure threshold or the repository is unreachable.
*/
package runtime
