package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads the configuration from environment variables and, when file is
// non-empty, from a config file viper understands (yaml, json, toml, env).
// Environment variables take the form PREFIX_QUEUE_CAPACITY; file keys use the
// same names in snake case. The result has defaults applied and is validated.
func Load(prefix, file string) (*Config, error) {
	v := viper.New()
	if prefix != "" {
		v.SetEnvPrefix(prefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	conf := Config{
		AppName:                  v.GetString("APP_NAME"),
		EnableMetrics:            v.GetBool("ENABLE_METRICS"),
		MetricsName:              v.GetString("METRICS_NAME"),
		ParallelHandlers:         v.GetBool("PARALLEL_HANDLERS"),
		QueueName:                v.GetString("QUEUE_NAME"),
		QueueCapacity:            v.GetInt("QUEUE_CAPACITY"),
		QueueBackend:             v.GetString("QUEUE_BACKEND"),
		QueuePath:                v.GetString("QUEUE_PATH"),
		MonitorInterval:          v.GetDuration("MONITOR_INTERVAL"),
		MonitorThreshold:         v.GetFloat64("MONITOR_THRESHOLD"),
		ForwardBatchSize:         v.GetInt("FORWARD_BATCH_SIZE"),
		ForwardIdleInterval:      v.GetDuration("FORWARD_IDLE_INTERVAL"),
		ForwardMaxIdleInterval:   v.GetDuration("FORWARD_MAX_IDLE_INTERVAL"),
		ForwardMaxAttempts:       v.GetInt("FORWARD_MAX_ATTEMPTS"),
		ValidatePayloads:         v.GetBool("VALIDATE_PAYLOADS"),
		RepositoryDriver:         v.GetString("REPOSITORY_DRIVER"),
		ConnectionString:         v.GetString("CONNECTION_STRING"),
		RepositoryTable:          v.GetString("REPOSITORY_TABLE"),
		WorkerCooldown:           v.GetDuration("WORKER_COOLDOWN"),
		Serializer:               v.GetString("SERIALIZER"),
		BrokerSystem:             v.GetString("BROKER_SYSTEM"),
		KafkaBrokers:             stringList(v.Get("KAFKA_BROKERS")),
		RabbitMQURL:              v.GetString("RABBITMQ_URL"),
		NATSURL:                  v.GetString("NATS_URL"),
		IOFile:                   v.GetString("IO_FILE"),
		BrokerTopic:              v.GetString("BROKER_TOPIC"),
		MetricsPort:              v.GetInt("METRICS_PORT"),
		HealthPort:               v.GetInt("HEALTH_PORT"),
		StatusCORSAllowedOrigins: stringList(v.Get("STATUS_CORS_ALLOWED_ORIGINS")),
	}
	conf = conf.WithDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", DefaultAppName)
	v.SetDefault("ENABLE_METRICS", false)
	v.SetDefault("METRICS_NAME", "")
	v.SetDefault("PARALLEL_HANDLERS", false)
	v.SetDefault("QUEUE_NAME", DefaultQueueName)
	v.SetDefault("QUEUE_CAPACITY", DefaultQueueCapacity)
	v.SetDefault("QUEUE_BACKEND", DefaultQueueBackend)
	v.SetDefault("QUEUE_PATH", DefaultQueuePath)
	v.SetDefault("MONITOR_INTERVAL", DefaultMonitorInterval.String())
	v.SetDefault("MONITOR_THRESHOLD", DefaultMonitorThreshold)
	v.SetDefault("FORWARD_BATCH_SIZE", DefaultForwardBatchSize)
	v.SetDefault("FORWARD_IDLE_INTERVAL", DefaultForwardIdleInterval.String())
	v.SetDefault("FORWARD_MAX_IDLE_INTERVAL", DefaultForwardMaxIdleInterval.String())
	v.SetDefault("FORWARD_MAX_ATTEMPTS", DefaultForwardMaxAttempts)
	v.SetDefault("VALIDATE_PAYLOADS", false)
	v.SetDefault("REPOSITORY_DRIVER", DefaultRepositoryDriver)
	v.SetDefault("CONNECTION_STRING", "")
	v.SetDefault("REPOSITORY_TABLE", DefaultRepositoryTable)
	v.SetDefault("WORKER_COOLDOWN", DefaultWorkerCooldown.String())
	v.SetDefault("SERIALIZER", DefaultSerializer)
	v.SetDefault("BROKER_SYSTEM", DefaultBrokerSystem)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("IO_FILE", "")
	v.SetDefault("BROKER_TOPIC", DefaultBrokerTopic)
	v.SetDefault("METRICS_PORT", 0)
	v.SetDefault("HEALTH_PORT", 0)
	v.SetDefault("STATUS_CORS_ALLOWED_ORIGINS", "")
}

// stringList accepts either a comma separated string (environment) or a list
// (config file).
func stringList(raw any) []string {
	var items []string
	switch value := raw.(type) {
	case string:
		items = strings.Split(value, ",")
	case []string:
		items = value
	case []any:
		for _, item := range value {
			items = append(items, fmt.Sprint(item))
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
