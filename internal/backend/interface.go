package backend

import (
	"context"
	"time"

	"coinvest/internal/cache"
	"coinvest/internal/core"
	"coinvest/internal/ports"
	"coinvest/internal/services"
)

// Store is everything a storage backend provides: the engine ports plus the
// writers used for seeding.
type Store interface {
	ports.ProjectStore
	ports.ProjectWriter
	ports.SpendingStore
	ports.LedgerStore
	ports.UserDirectory
	ports.Inbox

	SaveUser(ctx context.Context, u core.User) error
	SaveLedger(ctx context.Context, l core.Ledger) error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result bundles a wired backend. Cleanup releases everything it opened.
type Result struct {
	Store     Store
	Directory *cache.Directory
	Notifier  ports.Notifier
	Ready     func(ctx context.Context) error
	Cleanup   CleanupFunc
}

// Deps returns the service collaborators. Display lookups go through the
// directory cache; the actor's role is always read from the store.
func (r *Result) Deps() services.Deps {
	return services.Deps{
		Projects:  r.Store,
		Spendings: r.Store,
		Ledgers:   r.Store,
		Users:     r.Directory,
		Accounts:  r.Store,
		Notifier:  r.Notifier,
		Inbox:     r.Store,
	}
}

// Factory creates backends based on configuration
type Factory interface {
	Create(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// DataDirectory holds seed.json. The memory backend always loads it; the
	// sqlite backend only when SeedSQLite is set.
	DataDirectory string
	SeedSQLite    bool

	// Notifications go through the broker when AMQPURL is set, otherwise
	// straight into the store's inbox.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	DirectoryCacheSize int
	DirectoryCacheTTL  time.Duration
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
