// Package transports imports every built-in broker so they register with the
// default registry. Import it for side effects.
package transports

import (
	_ "github.com/drblury/eventrelay/transport/channel"
	_ "github.com/drblury/eventrelay/transport/io"
	_ "github.com/drblury/eventrelay/transport/kafka"
	_ "github.com/drblury/eventrelay/transport/nats"
	_ "github.com/drblury/eventrelay/transport/rabbitmq"
)
