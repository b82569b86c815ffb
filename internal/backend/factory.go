package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"coinvest/internal/amqp"
	"coinvest/internal/cache"
	applog "coinvest/internal/log"
	"coinvest/internal/memory"
	"coinvest/internal/notify"
	"coinvest/internal/ports"
	"coinvest/internal/storage"
)

const cacheCleanupInterval = time.Minute

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(applog.ComponentBackend),
	}
}

// Create opens the store, wraps its directory in a cache and picks a notifier.
func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store   Store
		ready   func(ctx context.Context) error
		closers []CleanupFunc
	)
	switch config.Type {
	case SQLiteBackend:
		repo, err := f.createSQLiteStore(ctx, config)
		if err != nil {
			return nil, err
		}
		store, ready = repo, repo.Ping
		closers = append(closers, repo.Close)
	case MemoryBackend:
		store = f.createMemoryStore(config)
		ready = func(context.Context) error { return nil }
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	size, ttl := config.cacheSettings()
	dir := cache.NewDirectory(store, size, ttl)
	mgr := cache.NewManager()
	for _, c := range dir.Cleaners() {
		mgr.Register(c)
	}
	mgr.StartCleanup(cacheCleanupInterval)
	closers = append(closers, func() error { mgr.Stop(); return nil })

	notifier, closeNotifier := f.createNotifier(config, store)
	if closeNotifier != nil {
		closers = append(closers, closeNotifier)
	}

	return &Result{
		Store:     store,
		Directory: dir,
		Notifier:  notifier,
		Ready:     ready,
		Cleanup:   cleanupAll(closers),
	}, nil
}

func (f *DefaultFactory) createSQLiteStore(ctx context.Context, config Config) (*storage.SQLiteRepository, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	if config.SeedSQLite {
		path := filepath.Join(config.DataDirectory, "seed.json")
		seed, err := memory.ReadSeed(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			f.logger.Warn("Seed file not found, starting empty", "path", path)
		case err != nil:
			repo.Close()
			return nil, fmt.Errorf("read seed: %w", err)
		default:
			if err := ApplySeed(ctx, repo, seed); err != nil {
				repo.Close()
				return nil, err
			}
			f.logger.Info("Seeded SQLite backend", "path", path,
				"users", len(seed.Users), "projects", len(seed.Projects), "ledgers", len(seed.Ledgers))
		}
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return repo, nil
}

func (f *DefaultFactory) createMemoryStore(config Config) *memory.Store {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}
	store := memory.NewFromFiles(dataDir)
	f.logger.Info("Initialized memory backend", "data_directory", dataDir)
	return store
}

// createNotifier prefers the broker and falls back to writing the inbox
// directly when it cannot connect.
func (f *DefaultFactory) createNotifier(config Config, inbox ports.Inbox) (ports.Notifier, CleanupFunc) {
	if config.AMQPURL == "" {
		f.logger.Info("No AMQP URL configured, notifications go straight to the inbox")
		return notify.NewInboxNotifier(inbox), nil
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, notifications go straight to the inbox", applog.FieldError, err)
		return notify.NewInboxNotifier(inbox), nil
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return notify.NewAMQPNotifier(client), client.Close
}

// ApplySeed writes users first so memberships resolve, then projects and
// ledgers.
func ApplySeed(ctx context.Context, s Store, seed memory.Seed) error {
	for _, u := range seed.Users {
		if err := s.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, sp := range seed.Projects {
		if err := s.SaveProject(ctx, sp.Project()); err != nil {
			return fmt.Errorf("seed project %s: %w", sp.ID, err)
		}
	}
	for _, l := range seed.Ledgers {
		if err := s.SaveLedger(ctx, l); err != nil {
			return fmt.Errorf("seed ledger %s: %w", l.ID, err)
		}
	}
	return nil
}

// cleanupAll runs closers in reverse order and joins their errors.
func cleanupAll(closers []CleanupFunc) CleanupFunc {
	return func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
