package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/drblury/eventrelay/internal/runtime/config"
	errspkg "github.com/drblury/eventrelay/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventrelay/internal/runtime/logging"

	_ "github.com/drblury/eventrelay/transport/transports" // register built-in brokers
)

// Factory builds a repository from configuration.
type Factory func(ctx context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (Repository, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{
		"memory": func(context.Context, *config.Config, loggingpkg.ServiceLogger) (Repository, error) {
			return NewMemory(), nil
		},
		"sqlite": func(_ context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (Repository, error) {
			return NewSQLite(conf.ConnectionString, conf.RepositoryTable, logger)
		},
		"postgres": buildPostgres,
		// alias
		"postgresql": buildPostgres,
		"redis": func(_ context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (Repository, error) {
			return NewRedis(conf.ConnectionString, conf.RepositoryTable, logger)
		},
		"broker": func(ctx context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (Repository, error) {
			return BuildBroker(ctx, conf, conf.BrokerTopic, logger)
		},
	}
)

func buildPostgres(_ context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (Repository, error) {
	return NewPostgres(conf.ConnectionString, conf.RepositoryTable, logger)
}

// Register adds or replaces a driver.
func Register(driver string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(driver)] = factory
}

// Drivers lists the registered driver names, sorted.
func Drivers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the repository selected by conf.RepositoryDriver. Defaults
// are applied to a copy of conf first.
func Build(ctx context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (Repository, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	c := conf.WithDefaults()
	driver := strings.ToLower(c.RepositoryDriver)

	factoriesMu.RLock()
	factory, ok := factories[driver]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", errspkg.ErrUnknownRepository, driver, Drivers())
	}

	repo, err := factory(ctx, &c, loggingpkg.OrNop(logger))
	if err != nil {
		return nil, fmt.Errorf("build %s repository: %w", driver, err)
	}
	return repo, nil
}
