// Package sqlite is a single-file cce.Store for single-node deployments and
// local runs, backed by the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/storage/sqlite/migrations"
)

var _ cce.Store = (*Store)(nil)

// DefaultLockTTL bounds how long a crashed holder can block ticks.
const DefaultLockTTL = 10 * time.Minute

// Store provides SQLite-backed CCE persistence.
type Store struct {
	db      *sql.DB
	lockTTL time.Duration
	logger  *slog.Logger
}

// Open opens (creating if needed) the database at path and applies
// migrations. lockTTL <= 0 uses DefaultLockTTL.
func Open(path string, lockTTL time.Duration, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: storage path is required")
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	s := &Store{db: db, lockTTL: lockTTL, logger: logger}
	if err := s.migrate(context.Background(), migrations.FS); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate executes each embedded .sql file at most once, in name order.
func (s *Store) migrate(ctx context.Context, migrationFS fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("sqlite: ensure migration table: %w", err)
	}
	names, err := fs.Glob(migrationFS, "*.sql")
	if err != nil {
		return fmt.Errorf("sqlite: list migrations: %w", err)
	}
	slices.Sort(names)
	for _, name := range names {
		var found int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE name = ?`, name).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: check migration %s: %w", name, err)
		}
		content, err := fs.ReadFile(migrationFS, name)
		if err != nil {
			return fmt.Errorf("sqlite: read migration %s: %w", name, err)
		}
		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, ms(time.Now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("sqlite: apply migration %s: %w", name, err)
		}
		if s.logger != nil {
			s.logger.Info("sqlite: applied migration", "file", name)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// AcquireTickLock claims the tick_lock row unless a live holder has it.
func (s *Store) AcquireTickLock(ctx context.Context) (func(), error) {
	holder := uuid.NewString()
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO tick_lock (id, holder, expires_at) VALUES (1, ?, ?)
ON CONFLICT (id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
WHERE tick_lock.expires_at < ?`,
		holder, ms(now.Add(s.lockTTL)), ms(now))
	if err != nil {
		return nil, fmt.Errorf("sqlite: acquire tick lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: acquire tick lock: %w", err)
	}
	if n == 0 {
		return nil, cce.ErrTickInProgress
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := s.db.ExecContext(uctx, `DELETE FROM tick_lock WHERE id = 1 AND holder = ?`, holder); err != nil && s.logger != nil {
				s.logger.Warn("sqlite: release tick lock", "error", err)
			}
		})
	}, nil
}

func ms(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func nullMS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ms(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

// jsonList encodes a slice as JSON text, writing [] for nil.
func jsonList[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

// jsonMap encodes a map as JSON text, writing {} for nil.
func jsonMap(m map[string]float64) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func decode[T any](raw string, dst *T) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return cce.ErrNotFound
	}
	return err
}
