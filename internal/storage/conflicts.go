package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

const coreColumns = `id, actor_a, actor_b, theatre, importance, base_hostility, base_tension, created_at, updated_at`

func scanCore(row pgx.Row) (model.ConflictCore, error) {
	var c model.ConflictCore
	err := row.Scan(&c.ID, &c.ActorA, &c.ActorB, &c.Theatre, &c.Importance,
		&c.BaseHostility, &c.BaseTension, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (db *DB) EnsureConflictCore(ctx context.Context, c model.ConflictCore) (model.ConflictCore, bool, error) {
	c.ActorA, c.ActorB = model.CanonicalPair(c.ActorA, c.ActorB)
	core, err := scanCore(db.pool.QueryRow(ctx, `
		INSERT INTO conflict_cores (`+coreColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (actor_a, actor_b) DO NOTHING
		RETURNING `+coreColumns,
		c.ID, c.ActorA, c.ActorB, c.Theatre, c.Importance, c.BaseHostility, c.BaseTension, c.CreatedAt, c.UpdatedAt,
	))
	if err == nil {
		return core, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.ConflictCore{}, false, fmt.Errorf("storage: ensure conflict core %s: %w", model.PairKey(c.ActorA, c.ActorB), err)
	}
	core, err = scanCore(db.pool.QueryRow(ctx,
		`SELECT `+coreColumns+` FROM conflict_cores WHERE actor_a = $1 AND actor_b = $2`, c.ActorA, c.ActorB))
	if err != nil {
		return model.ConflictCore{}, false, fmt.Errorf("storage: load conflict core %s: %w", model.PairKey(c.ActorA, c.ActorB), notFound(err))
	}
	return core, false, nil
}

func (db *DB) UpsertConflictCore(ctx context.Context, c model.ConflictCore) (model.ConflictCore, error) {
	c.ActorA, c.ActorB = model.CanonicalPair(c.ActorA, c.ActorB)
	core, err := scanCore(db.pool.QueryRow(ctx, `
		INSERT INTO conflict_cores (`+coreColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (actor_a, actor_b) DO UPDATE SET
			theatre = EXCLUDED.theatre,
			importance = EXCLUDED.importance,
			base_hostility = EXCLUDED.base_hostility,
			base_tension = EXCLUDED.base_tension,
			updated_at = EXCLUDED.updated_at
		RETURNING `+coreColumns,
		c.ID, c.ActorA, c.ActorB, c.Theatre, c.Importance, c.BaseHostility, c.BaseTension, c.CreatedAt, c.UpdatedAt,
	))
	if err != nil {
		return model.ConflictCore{}, fmt.Errorf("storage: upsert conflict core %s: %w", model.PairKey(c.ActorA, c.ActorB), err)
	}
	return core, nil
}

func (db *DB) ListConflictCores(ctx context.Context) ([]model.ConflictCore, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+coreColumns+` FROM conflict_cores ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list conflict cores: %w", err)
	}
	cores, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ConflictCore, error) {
		return scanCore(row)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan conflict cores: %w", err)
	}
	return cores, nil
}

func (db *DB) InsertConflictEvent(ctx context.Context, e model.ConflictEvent) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
		INSERT INTO conflict_events (id, conflict_id, occurred_at, created_at, severity,
			confidence, actor, title, evidence_urls)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.ConflictID, e.OccurredAt, e.CreatedAt, e.Severity,
		e.Confidence, e.Actor, e.Title, nonNil(e.EvidenceURLs),
	)
	if err != nil {
		return false, fmt.Errorf("storage: insert conflict event %s: %w", e.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (db *DB) ListEventsAfter(ctx context.Context, conflictID string, afterSeq int64, notBefore time.Time) ([]model.ConflictEvent, error) {
	return db.ListEventsForConflictsAfter(ctx, []string{conflictID}, afterSeq, notBefore)
}

func (db *DB) ListEventsForConflictsAfter(ctx context.Context, conflictIDs []string, afterSeq int64, notBefore time.Time) ([]model.ConflictEvent, error) {
	if len(conflictIDs) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx, `
		SELECT id, conflict_id, occurred_at, created_at, severity, confidence, actor, title, evidence_urls, ingest_seq
		FROM conflict_events
		WHERE conflict_id = ANY($1) AND ingest_seq > $2 AND occurred_at > $3
		ORDER BY occurred_at, id`, conflictIDs, afterSeq, notBefore)
	if err != nil {
		return nil, fmt.Errorf("storage: list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ConflictEvent, error) {
		var e model.ConflictEvent
		err := row.Scan(&e.ID, &e.ConflictID, &e.OccurredAt, &e.CreatedAt, &e.Severity,
			&e.Confidence, &e.Actor, &e.Title, &e.EvidenceURLs, &e.IngestSeq)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan events: %w", err)
	}
	return events, nil
}

const stateColumns = `conflict_id, tension, heat, velocity, momentum, pressure, instability,
	theatre_rank, last_event_at, top_drivers, updated_at, last_ingest_seq`

func scanState(row pgx.Row) (model.ConflictStateLive, error) {
	var (
		s       model.ConflictStateLive
		drivers []byte
	)
	if err := row.Scan(&s.ConflictID, &s.Tension, &s.Heat, &s.Velocity, &s.Momentum,
		&s.Pressure, &s.Instability, &s.TheatreRank, &s.LastEventAt, &drivers, &s.UpdatedAt, &s.LastIngestSeq); err != nil {
		return s, err
	}
	if err := json.Unmarshal(drivers, &s.TopDrivers); err != nil {
		return s, fmt.Errorf("decode top_drivers: %w", err)
	}
	return s, nil
}

func (db *DB) GetConflictState(ctx context.Context, conflictID string) (model.ConflictStateLive, error) {
	s, err := scanState(db.pool.QueryRow(ctx,
		`SELECT `+stateColumns+` FROM conflict_state_live WHERE conflict_id = $1`, conflictID))
	if err != nil {
		return model.ConflictStateLive{}, notFound(err)
	}
	return s, nil
}

func (db *DB) ListConflictStates(ctx context.Context) ([]model.ConflictStateLive, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+stateColumns+` FROM conflict_state_live ORDER BY conflict_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list conflict states: %w", err)
	}
	states, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ConflictStateLive, error) {
		return scanState(row)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan conflict states: %w", err)
	}
	return states, nil
}

func (db *DB) UpsertConflictState(ctx context.Context, s model.ConflictStateLive) error {
	drivers := s.TopDrivers
	if drivers == nil {
		drivers = []model.Driver{}
	}
	raw, err := json.Marshal(drivers)
	if err != nil {
		return fmt.Errorf("storage: encode top_drivers: %w", err)
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO conflict_state_live (`+stateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (conflict_id) DO UPDATE SET
			tension = EXCLUDED.tension,
			heat = EXCLUDED.heat,
			velocity = EXCLUDED.velocity,
			momentum = EXCLUDED.momentum,
			pressure = EXCLUDED.pressure,
			instability = EXCLUDED.instability,
			theatre_rank = EXCLUDED.theatre_rank,
			last_event_at = EXCLUDED.last_event_at,
			top_drivers = EXCLUDED.top_drivers,
			updated_at = EXCLUDED.updated_at,
			last_ingest_seq = EXCLUDED.last_ingest_seq`,
		s.ConflictID, s.Tension, s.Heat, s.Velocity, s.Momentum, s.Pressure, s.Instability,
		s.TheatreRank, s.LastEventAt, raw, s.UpdatedAt, s.LastIngestSeq,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert conflict state %s: %w", s.ConflictID, err)
	}
	return nil
}

// UpdateTheatreRanks writes every rank in one batch. Conflicts without a
// state row are ignored.
func (db *DB) UpdateTheatreRanks(ctx context.Context, ranks map[string]int) error {
	if len(ranks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for id, rank := range ranks {
		batch.Queue(`UPDATE conflict_state_live SET theatre_rank = $2 WHERE conflict_id = $1`, id, rank)
	}
	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("storage: update theatre ranks: %w", err)
	}
	return nil
}
