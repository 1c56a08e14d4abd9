package backend

import (
	"context"
	"fmt"
	"log/slog"

	"finguard/internal/amqp"
	"finguard/internal/ledger"
	applog "finguard/internal/log"
	"finguard/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if !config.Type.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", config.Type)
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	store, err := storage.NewSQLiteStore(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	events := f.connectEvents(config)

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", events != nil)

	return &BackendResult{
		Store:   store,
		Events:  events,
		Cleanup: cleanup(store, events),
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	store := ledger.NewMemoryStore()
	events := f.connectEvents(config)

	f.logger.Info("Initialized memory backend", "amqp_enabled", events != nil)

	return &BackendResult{
		Store:   store,
		Events:  events,
		Cleanup: cleanup(store, events),
	}, nil
}

// connectEvents opens the AMQP publisher when configured. The ledger
// works without it; events are a downstream concern.
func (f *DefaultFactory) connectEvents(config Config) *amqp.Client {
	if config.AMQPURL == "" {
		return nil
	}
	events, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without events", applog.FieldError, err)
		return nil
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return events
}

func cleanup(store ledger.Store, events *amqp.Client) CleanupFunc {
	return func() error {
		if events != nil {
			if err := events.Close(); err != nil {
				return err
			}
		}
		return store.Close()
	}
}
