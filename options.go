package livemonitor

import (
	"log/slog"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying options.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	cfg         *config.Config
	port        int
	storeDriver string
	databaseURL string
	notifyURL   string
	sqlitePath  string
	refDataPath string
	logger      *slog.Logger
	version     string
	store       cce.Store
	tickHooks   []func(*cce.TickResult)
}

// WithConfig uses cfg instead of reading the environment. Other options
// still override individual fields.
func WithConfig(cfg config.Config) Option {
	return func(o *resolvedOptions) { o.cfg = &cfg }
}

// WithPort overrides the TCP port from config (PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithStoreDriver overrides the store driver (STORE_DRIVER env var):
// postgres, sqlite or memory.
func WithStoreDriver(driver string) Option {
	return func(o *resolvedOptions) { o.storeDriver = driver }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when using a connection pooler (e.g. PgBouncer) for queries; LISTEN/NOTIFY
// requires a direct (non-pooled) connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithSQLitePath overrides the SQLite database file (SQLITE_PATH env var).
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithReferenceDataPath overrides the alliance/front YAML file (REFERENCE_DATA_PATH env var).
func WithReferenceDataPath(path string) Option {
	return func(o *resolvedOptions) { o.refDataPath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithStore supplies an already-open store, bypassing the configured driver.
// The App does not close it.
func WithStore(store cce.Store) Option {
	return func(o *resolvedOptions) { o.store = store }
}

// WithTickHook registers fn to receive every completed update cycle.
// Multiple hooks may be registered; they run in registration order.
func WithTickHook(fn func(*cce.TickResult)) Option {
	return func(o *resolvedOptions) { o.tickHooks = append(o.tickHooks, fn) }
}
