package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired        = sterrors.New("eventrelay: configuration is required")
	ErrLoggerRequired        = sterrors.New("eventrelay: logger is required")
	ErrHandlerRequired       = sterrors.New("eventrelay: handler function is required")
	ErrEventNameRequired     = sterrors.New("eventrelay: event name is required")
	ErrHubClosed             = sterrors.New("eventrelay: event hub is closed")
	ErrHubRequired           = sterrors.New("eventrelay: event hub is required")
	ErrHandlerPanic          = sterrors.New("eventrelay: handler panicked")
	ErrQueueRequired         = sterrors.New("eventrelay: durable queue is required")
	ErrQueueClosed           = sterrors.New("eventrelay: durable queue is closed")
	ErrQueueNameRequired     = sterrors.New("eventrelay: queue name is required")
	ErrInvalidCapacity       = sterrors.New("eventrelay: queue capacity must be positive")
	ErrConsumerActive        = sterrors.New("eventrelay: queue already has an active consumer")
	ErrConsumerReleased      = sterrors.New("eventrelay: queue consumer has been released")
	ErrCommitOutOfRange      = sterrors.New("eventrelay: commit sequence outside drained range")
	ErrCorruptRecord         = sterrors.New("eventrelay: corrupt queue record")
	ErrRecordNotFound        = sterrors.New("eventrelay: queue record not found")
	ErrCapacityMismatch      = sterrors.New("eventrelay: queue capacity differs from stored capacity")
	ErrUnknownType           = sterrors.New("eventrelay: unknown payload type")
	ErrMalformedPayload      = sterrors.New("eventrelay: malformed payload")
	ErrUnknownSerializer     = sterrors.New("eventrelay: unknown serializer")
	ErrUnsupportedPayload    = sterrors.New("eventrelay: payload not supported by serializer")
	ErrTypeConflict          = sterrors.New("eventrelay: payload type registered under another name")
	ErrRepositoryRequired    = sterrors.New("eventrelay: repository is required")
	ErrRepositoryUnavailable = sterrors.New("eventrelay: repository is unavailable")
	ErrUnknownRepository     = sterrors.New("eventrelay: unknown repository driver")
	ErrWorkerFactoryRequired = sterrors.New("eventrelay: worker factory is required")
	ErrFatalStartup          = sterrors.New("eventrelay: fatal worker startup error")
	ErrWorkerPanic           = sterrors.New("eventrelay: worker panicked")
	ErrSupervisorExists      = sterrors.New("eventrelay: supervisor already registered")
	ErrHostStarted           = sterrors.New("eventrelay: host already started")
)

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("eventrelay: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
