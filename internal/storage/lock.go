package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
)

// AcquireTickLock takes a session-level advisory lock on a connection held
// out of the pool for the duration of the tick. The lock dies with the
// session, so a crashed process never wedges future ticks.
func (db *DB) AcquireTickLock(ctx context.Context) (func(), error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: acquire lock connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, tickLockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("storage: try tick lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, cce.ErrTickInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may be done by now.
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(uctx, `SELECT pg_advisory_unlock($1)`, tickLockKey); err != nil {
				db.logger.Warn("storage: release tick lock", "error", err)
				// Drop the session so the lock cannot leak into the pool.
				_ = conn.Conn().Close(uctx)
			}
			conn.Release()
		})
	}, nil
}
