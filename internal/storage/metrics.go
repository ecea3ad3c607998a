package storage

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/telemetry"
)

// RegisterMetrics registers observable OTEL gauges for the signal backlog
// and pool usage. Call after telemetry.Init.
func (db *DB) RegisterMetrics() {
	meter := telemetry.Meter("cce/storage")

	_, _ = meter.Int64ObservableGauge("cce.signals.pending",
		metric.WithDescription("Raw signals waiting to be materialized"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			var count int64
			if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM raw_signals WHERE materialized_at IS NULL`).Scan(&count); err != nil {
				return nil // skip this observation
			}
			o.Observe(count)
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("cce.db.pool.acquired",
		metric.WithDescription("Connections currently checked out of the pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().AcquiredConns()))
			return nil
		}),
	)
}
