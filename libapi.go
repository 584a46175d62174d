package eventrelay

import (
	"context"

	runtimepkg "github.com/drblury/eventrelay/internal/runtime"
	configpkg "github.com/drblury/eventrelay/internal/runtime/config"
	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	"github.com/drblury/eventrelay/internal/runtime/forwarder"
	"github.com/drblury/eventrelay/internal/runtime/hub"
	idspkg "github.com/drblury/eventrelay/internal/runtime/ids"
	jsoncodec "github.com/drblury/eventrelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"
	metadatapkg "github.com/drblury/eventrelay/internal/runtime/metadata"
	"github.com/drblury/eventrelay/internal/runtime/monitor"
	"github.com/drblury/eventrelay/internal/runtime/queue"
	"github.com/drblury/eventrelay/internal/runtime/repository"
	"github.com/drblury/eventrelay/internal/runtime/serializer"
	"github.com/drblury/eventrelay/internal/runtime/supervisor"
	newtransport "github.com/drblury/eventrelay/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	NamedWorker         = runtimepkg.NamedWorker
	Status              = runtimepkg.Status
	WorkerStatus        = runtimepkg.WorkerStatus

	Hub          = hub.Hub
	HubOptions   = hub.Options
	HandlerError = hub.HandlerError

	Queue        = queue.Queue
	QueueOptions = queue.Options
	QueueStats   = queue.Stats
	QueueStore   = queue.Store
	Consumer     = queue.Consumer
	Envelope     = queue.Envelope
	DeadLetter   = queue.DeadLetter

	Monitor         = monitor.Monitor
	MonitorOptions  = monitor.Options
	MonitorSnapshot = monitor.Snapshot

	Forwarder        = forwarder.Forwarder
	ForwarderOptions = forwarder.Options
	ForwarderStats   = forwarder.Stats

	Repository        = repository.Repository
	RepositoryFactory = repository.Factory
	Record            = repository.Record
	RecordLogFields   = repository.LogFields

	Worker            = supervisor.Worker
	WorkerFunc        = supervisor.WorkerFunc
	WorkerFactory     = supervisor.Factory
	Supervisor        = supervisor.Supervisor
	SupervisorOptions = supervisor.Options
	SupervisorStatus  = supervisor.Status
	Host              = supervisor.Host

	TypeRegistry = serializer.TypeRegistry
	Serializer   = serializer.Serializer

	Metadata   = metadatapkg.Metadata
	Addressing = metadatapkg.Addressing

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]
	LogEvent                  = loggingpkg.LogEvent
	QueueLogger               = loggingpkg.QueueLogger

	RelayMetrics          = runtimepkg.RelayMetrics
	RelayMetricsSnapshot  = runtimepkg.RelayMetricsSnapshot
	ResourceUsage         = runtimepkg.ResourceUsage
	ConfigValidationError = errspkg.ConfigValidationError

	// Broker sinks
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewHub                = hub.New
	NewTypeRegistry       = serializer.NewTypeRegistry
	NewSerializer         = serializer.New
	OpenQueue             = queue.Open
	NewBoltStore          = queue.NewBoltStore
	NewSQLiteStore        = queue.NewSQLiteStore
	NewMemoryStore        = queue.NewMemoryStore
	NewMonitor            = monitor.New
	NewForwarder          = forwarder.New
	NewSupervisor         = supervisor.New
	NewHost               = supervisor.NewHost
	NewRelayMetrics       = runtimepkg.NewRelayMetrics
	BuildRepository       = repository.Build
	RegisterRepository    = repository.Register
	NewMemoryRepository   = repository.NewMemory
	NewSQLiteRepository   = repository.NewSQLite
	NewPostgresRepository = repository.NewPostgres
	NewRedisRepository    = repository.NewRedis

	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired        = errspkg.ErrConfigRequired
	ErrLoggerRequired        = errspkg.ErrLoggerRequired
	ErrHandlerRequired       = errspkg.ErrHandlerRequired
	ErrEventNameRequired     = errspkg.ErrEventNameRequired
	ErrHubClosed             = errspkg.ErrHubClosed
	ErrHandlerPanic          = errspkg.ErrHandlerPanic
	ErrQueueClosed           = errspkg.ErrQueueClosed
	ErrConsumerActive        = errspkg.ErrConsumerActive
	ErrConsumerReleased      = errspkg.ErrConsumerReleased
	ErrCorruptRecord         = errspkg.ErrCorruptRecord
	ErrCapacityMismatch      = errspkg.ErrCapacityMismatch
	ErrUnknownType           = errspkg.ErrUnknownType
	ErrMalformedPayload      = errspkg.ErrMalformedPayload
	ErrUnknownSerializer     = errspkg.ErrUnknownSerializer
	ErrRepositoryUnavailable = errspkg.ErrRepositoryUnavailable
	ErrUnknownRepository     = errspkg.ErrUnknownRepository
	ErrFatalStartup          = errspkg.ErrFatalStartup
	ErrWorkerPanic           = errspkg.ErrWorkerPanic

	NewSlogServiceLogger    = loggingpkg.NewSlogServiceLogger
	NewLogrusServiceLogger  = loggingpkg.NewLogrusServiceLogger
	NewZerologServiceLogger = loggingpkg.NewZerologServiceLogger
	NopLogger               = loggingpkg.NopLogger
	CaptureInfo             = loggingpkg.CaptureInfo

	NewMetadata   = metadatapkg.New
	NewAddressing = metadatapkg.NewAddressing

	CreateULID = idspkg.CreateULID
)

// Hub events published by the Service when the queue crosses the monitor
// threshold.
const (
	EventBackpressure        = runtimepkg.EventBackpressure
	EventBackpressureCleared = runtimepkg.EventBackpressureCleared
)

// Serialization strategies accepted by Config.Serializer.
const (
	SerializerJSON     = serializer.JSON
	SerializerProtobuf = serializer.Protobuf
)

// RegisterType makes T carriable by the durable queue under name. An empty
// name selects the protobuf full name for proto messages and the Go type
// string otherwise.
func RegisterType[T any](types *TypeRegistry, name string) error {
	return serializer.Register[T](types, name)
}

func Publish[T any](ctx context.Context, h *Hub, payload T) error {
	return hub.Publish(ctx, h, payload)
}

func PublishNamed[T any](ctx context.Context, h *Hub, name string, payload T) error {
	return hub.PublishNamed(ctx, h, name, payload)
}

func Subscribe[T any](h *Hub, fn func(ctx context.Context, payload T) error) error {
	return hub.Subscribe(h, fn)
}

func SubscribeNamed[T any](h *Hub, name string, fn func(ctx context.Context, payload T) error) error {
	return hub.SubscribeNamed(h, name, fn)
}

// RelayTo forwards every Publish[T] on the service hub into the durable
// queue.
func RelayTo[T any](svc *Service) error {
	return runtimepkg.RelayTo[T](svc)
}

func RelayNamedTo[T any](svc *Service, event string) error {
	return runtimepkg.RelayNamedTo[T](svc, event)
}

// Enqueue offers payload to q without blocking. It reports false when the
// queue is full.
func Enqueue[T any](ctx context.Context, q *Queue, payload T) (bool, error) {
	return queue.Enqueue(ctx, q, payload)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
