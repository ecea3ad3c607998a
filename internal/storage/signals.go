package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

// InsertSignal queues a raw signal for materialization. Re-inserting an
// existing ID is a no-op; inserted reports whether a row was written.
func (db *DB) InsertSignal(ctx context.Context, s model.RawSignal) (bool, error) {
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	tag, err := db.pool.Exec(ctx, `
		INSERT INTO raw_signals (id, actor_a, actor_b, theatre, actor, title,
			severity, confidence, occurred_at, created_at, evidence_urls)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, s.ActorA, s.ActorB, s.Theatre, s.Actor, s.Title,
		s.Severity, s.Confidence, s.OccurredAt, createdAt, nonNil(s.EvidenceURLs),
	)
	if err != nil {
		return false, fmt.Errorf("storage: insert signal %s: %w", s.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (db *DB) ListPendingSignals(ctx context.Context, limit int) ([]model.RawSignal, error) {
	if limit <= 0 {
		limit = model.MaxSignalsPerIngest
	}
	rows, err := db.pool.Query(ctx, `
		SELECT id, actor_a, actor_b, theatre, actor, title, severity, confidence,
			occurred_at, created_at, evidence_urls
		FROM raw_signals
		WHERE materialized_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending signals: %w", err)
	}
	signals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RawSignal, error) {
		var s model.RawSignal
		err := row.Scan(&s.ID, &s.ActorA, &s.ActorB, &s.Theatre, &s.Actor, &s.Title,
			&s.Severity, &s.Confidence, &s.OccurredAt, &s.CreatedAt, &s.EvidenceURLs)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan pending signals: %w", err)
	}
	return signals, nil
}

func (db *DB) MarkSignalMaterialized(ctx context.Context, id, note string, at time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE raw_signals SET materialized_at = $2, materialize_note = $3 WHERE id = $1`,
		id, at, note)
	if err != nil {
		return fmt.Errorf("storage: mark signal %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// nonNil keeps NOT NULL array columns from receiving NULL for nil slices.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
