package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// strList encodes a string list; json.Marshal cannot fail on []string.
func strList(v []string) string {
	s, _ := jsonList(v)
	return s
}

// InsertSignal queues a raw signal. Re-inserting an existing ID is a no-op.
func (s *Store) InsertSignal(ctx context.Context, sig model.RawSignal) (bool, error) {
	createdAt := sig.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO raw_signals (id, actor_a, actor_b, theatre, actor, title,
	severity, confidence, occurred_at, created_at, evidence_urls)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.ActorA, sig.ActorB, sig.Theatre, sig.Actor, sig.Title,
		sig.Severity, sig.Confidence, ms(sig.OccurredAt), ms(createdAt), strList(sig.EvidenceURLs))
	if err != nil {
		return false, fmt.Errorf("sqlite: insert signal %s: %w", sig.ID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) ListPendingSignals(ctx context.Context, limit int) ([]model.RawSignal, error) {
	if limit <= 0 {
		limit = model.MaxSignalsPerIngest
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, actor_a, actor_b, theatre, actor, title, severity, confidence,
	occurred_at, created_at, evidence_urls
FROM raw_signals
WHERE materialized_at IS NULL
ORDER BY created_at, id
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pending signals: %w", err)
	}
	defer rows.Close()

	var out []model.RawSignal
	for rows.Next() {
		var (
			sig                   model.RawSignal
			occurredAt, createdAt int64
			urls                  string
		)
		if err := rows.Scan(&sig.ID, &sig.ActorA, &sig.ActorB, &sig.Theatre, &sig.Actor, &sig.Title,
			&sig.Severity, &sig.Confidence, &occurredAt, &createdAt, &urls); err != nil {
			return nil, fmt.Errorf("sqlite: scan signal: %w", err)
		}
		sig.OccurredAt, sig.CreatedAt = fromMS(occurredAt), fromMS(createdAt)
		if err := decode(urls, &sig.EvidenceURLs); err != nil {
			return nil, fmt.Errorf("sqlite: decode signal %s urls: %w", sig.ID, err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *Store) MarkSignalMaterialized(ctx context.Context, id, note string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_signals SET materialized_at = ?, materialize_note = ? WHERE id = ?`, ms(at), note, id)
	if err != nil {
		return fmt.Errorf("sqlite: mark signal %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cce.ErrNotFound
	}
	return nil
}

const coreColumns = `id, actor_a, actor_b, theatre, importance, base_hostility, base_tension, created_at, updated_at`

func scanCore(row scanner) (model.ConflictCore, error) {
	var (
		c                    model.ConflictCore
		createdAt, updatedAt int64
	)
	err := row.Scan(&c.ID, &c.ActorA, &c.ActorB, &c.Theatre, &c.Importance,
		&c.BaseHostility, &c.BaseTension, &createdAt, &updatedAt)
	c.CreatedAt, c.UpdatedAt = fromMS(createdAt), fromMS(updatedAt)
	return c, err
}

func (s *Store) EnsureConflictCore(ctx context.Context, c model.ConflictCore) (model.ConflictCore, bool, error) {
	c.ActorA, c.ActorB = model.CanonicalPair(c.ActorA, c.ActorB)
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO conflict_cores (`+coreColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ActorA, c.ActorB, c.Theatre, c.Importance, c.BaseHostility, c.BaseTension, ms(c.CreatedAt), ms(c.UpdatedAt))
	if err != nil {
		return model.ConflictCore{}, false, fmt.Errorf("sqlite: ensure conflict core: %w", err)
	}
	n, _ := res.RowsAffected()
	core, err := scanCore(s.db.QueryRowContext(ctx,
		`SELECT `+coreColumns+` FROM conflict_cores WHERE actor_a = ? AND actor_b = ?`, c.ActorA, c.ActorB))
	if err != nil {
		return model.ConflictCore{}, false, fmt.Errorf("sqlite: load conflict core: %w", notFound(err))
	}
	return core, n == 1, nil
}

func (s *Store) UpsertConflictCore(ctx context.Context, c model.ConflictCore) (model.ConflictCore, error) {
	c.ActorA, c.ActorB = model.CanonicalPair(c.ActorA, c.ActorB)
	core, err := scanCore(s.db.QueryRowContext(ctx, `
INSERT INTO conflict_cores (`+coreColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (actor_a, actor_b) DO UPDATE SET
	theatre = excluded.theatre,
	importance = excluded.importance,
	base_hostility = excluded.base_hostility,
	base_tension = excluded.base_tension,
	updated_at = excluded.updated_at
RETURNING `+coreColumns,
		c.ID, c.ActorA, c.ActorB, c.Theatre, c.Importance, c.BaseHostility, c.BaseTension, ms(c.CreatedAt), ms(c.UpdatedAt)))
	if err != nil {
		return model.ConflictCore{}, fmt.Errorf("sqlite: upsert conflict core: %w", err)
	}
	return core, nil
}

func (s *Store) ListConflictCores(ctx context.Context) ([]model.ConflictCore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+coreColumns+` FROM conflict_cores ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list conflict cores: %w", err)
	}
	defer rows.Close()
	var out []model.ConflictCore
	for rows.Next() {
		c, err := scanCore(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan conflict core: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) InsertConflictEvent(ctx context.Context, e model.ConflictEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO conflict_events (id, conflict_id, occurred_at, created_at, severity,
	confidence, actor, title, evidence_urls, ingest_seq)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(ingest_seq), 0) + 1 FROM conflict_events))`,
		e.ID, e.ConflictID, ms(e.OccurredAt), ms(e.CreatedAt), e.Severity,
		e.Confidence, e.Actor, e.Title, strList(e.EvidenceURLs))
	if err != nil {
		return false, fmt.Errorf("sqlite: insert conflict event %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) ListEventsAfter(ctx context.Context, conflictID string, afterSeq int64, notBefore time.Time) ([]model.ConflictEvent, error) {
	return s.ListEventsForConflictsAfter(ctx, []string{conflictID}, afterSeq, notBefore)
}

func (s *Store) ListEventsForConflictsAfter(ctx context.Context, conflictIDs []string, afterSeq int64, notBefore time.Time) ([]model.ConflictEvent, error) {
	if len(conflictIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(conflictIDs)+2)
	for _, id := range conflictIDs {
		args = append(args, id)
	}
	args = append(args, afterSeq, ms(notBefore))
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(conflictIDs)), ", ")

	rows, err := s.db.QueryContext(ctx, `
SELECT id, conflict_id, occurred_at, created_at, severity, confidence, actor, title, evidence_urls, ingest_seq
FROM conflict_events
WHERE conflict_id IN (`+placeholders+`) AND ingest_seq > ? AND occurred_at > ?
ORDER BY occurred_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	var out []model.ConflictEvent
	for rows.Next() {
		var (
			e                     model.ConflictEvent
			occurredAt, createdAt int64
			urls                  string
		)
		if err := rows.Scan(&e.ID, &e.ConflictID, &occurredAt, &createdAt, &e.Severity,
			&e.Confidence, &e.Actor, &e.Title, &urls, &e.IngestSeq); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		e.OccurredAt, e.CreatedAt = fromMS(occurredAt), fromMS(createdAt)
		if err := decode(urls, &e.EvidenceURLs); err != nil {
			return nil, fmt.Errorf("sqlite: decode event %s urls: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const stateColumns = `conflict_id, tension, heat, velocity, momentum, pressure, instability,
	theatre_rank, last_event_at, top_drivers, updated_at, last_ingest_seq`

func scanState(row scanner) (model.ConflictStateLive, error) {
	var (
		st        model.ConflictStateLive
		rank      sql.NullInt64
		lastEvent sql.NullInt64
		drivers   string
		updatedAt int64
	)
	if err := row.Scan(&st.ConflictID, &st.Tension, &st.Heat, &st.Velocity, &st.Momentum,
		&st.Pressure, &st.Instability, &rank, &lastEvent, &drivers, &updatedAt, &st.LastIngestSeq); err != nil {
		return st, err
	}
	if rank.Valid {
		r := int(rank.Int64)
		st.TheatreRank = &r
	}
	st.LastEventAt = timePtr(lastEvent)
	st.UpdatedAt = fromMS(updatedAt)
	if err := decode(drivers, &st.TopDrivers); err != nil {
		return st, fmt.Errorf("decode top_drivers: %w", err)
	}
	return st, nil
}

func (s *Store) GetConflictState(ctx context.Context, conflictID string) (model.ConflictStateLive, error) {
	st, err := scanState(s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM conflict_state_live WHERE conflict_id = ?`, conflictID))
	if err != nil {
		return model.ConflictStateLive{}, notFound(err)
	}
	return st, nil
}

func (s *Store) ListConflictStates(ctx context.Context) ([]model.ConflictStateLive, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateColumns+` FROM conflict_state_live ORDER BY conflict_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list conflict states: %w", err)
	}
	defer rows.Close()
	var out []model.ConflictStateLive
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan conflict state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) UpsertConflictState(ctx context.Context, st model.ConflictStateLive) error {
	drivers, err := jsonList(st.TopDrivers)
	if err != nil {
		return fmt.Errorf("sqlite: encode top_drivers: %w", err)
	}
	var rank sql.NullInt64
	if st.TheatreRank != nil {
		rank = sql.NullInt64{Int64: int64(*st.TheatreRank), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO conflict_state_live (`+stateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (conflict_id) DO UPDATE SET
	tension = excluded.tension,
	heat = excluded.heat,
	velocity = excluded.velocity,
	momentum = excluded.momentum,
	pressure = excluded.pressure,
	instability = excluded.instability,
	theatre_rank = excluded.theatre_rank,
	last_event_at = excluded.last_event_at,
	top_drivers = excluded.top_drivers,
	updated_at = excluded.updated_at,
	last_ingest_seq = excluded.last_ingest_seq`,
		st.ConflictID, st.Tension, st.Heat, st.Velocity, st.Momentum, st.Pressure, st.Instability,
		rank, nullMS(st.LastEventAt), drivers, ms(st.UpdatedAt), st.LastIngestSeq)
	if err != nil {
		return fmt.Errorf("sqlite: upsert conflict state %s: %w", st.ConflictID, err)
	}
	return nil
}

func (s *Store) UpdateTheatreRanks(ctx context.Context, ranks map[string]int) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE conflict_state_live SET theatre_rank = ? WHERE conflict_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, rank := range ranks {
			if _, err := stmt.ExecContext(ctx, rank, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlite: update theatre ranks: %w", err)
	}
	return nil
}

const edgeColumns = `id, entity_a, entity_b, relation_type, relation_strength, is_mutual,
	evidence_event_ids, evidence_urls, confidence, last_updated_at, last_event_at, source`

func scanEdge(row scanner) (model.RelationEdge, error) {
	var (
		e           model.RelationEdge
		ids, urls   string
		lastUpdated int64
		lastEvent   sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.EntityA, &e.EntityB, &e.RelationType, &e.RelationStrength, &e.IsMutual,
		&ids, &urls, &e.Confidence, &lastUpdated, &lastEvent, &e.Source); err != nil {
		return e, err
	}
	e.LastUpdatedAt = fromMS(lastUpdated)
	e.LastEventAt = timePtr(lastEvent)
	if err := decode(ids, &e.EvidenceEventIDs); err != nil {
		return e, err
	}
	return e, decode(urls, &e.EvidenceURLs)
}

func (s *Store) GetRelationEdge(ctx context.Context, entityA, entityB, relationType string) (model.RelationEdge, error) {
	e, err := scanEdge(s.db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM relation_edges WHERE entity_a = ? AND entity_b = ? AND relation_type = ?`,
		entityA, entityB, relationType))
	if err != nil {
		return model.RelationEdge{}, notFound(err)
	}
	return e, nil
}

func (s *Store) InsertRelationEdge(ctx context.Context, e model.RelationEdge) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO relation_edges (`+edgeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityA, e.EntityB, e.RelationType, e.RelationStrength, e.IsMutual,
		strList(e.EvidenceEventIDs), strList(e.EvidenceURLs), e.Confidence, ms(e.LastUpdatedAt), nullMS(e.LastEventAt), e.Source)
	if err != nil {
		return fmt.Errorf("sqlite: insert relation edge: %w", err)
	}
	return nil
}

func (s *Store) UpdateRelationEdge(ctx context.Context, e model.RelationEdge) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE relation_edges SET
	relation_strength = ?, is_mutual = ?, evidence_event_ids = ?, evidence_urls = ?,
	confidence = ?, last_updated_at = ?, last_event_at = ?, source = ?
WHERE id = ?`,
		e.RelationStrength, e.IsMutual, strList(e.EvidenceEventIDs), strList(e.EvidenceURLs),
		e.Confidence, ms(e.LastUpdatedAt), nullMS(e.LastEventAt), e.Source, e.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update relation edge %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cce.ErrNotFound
	}
	return nil
}

func (s *Store) ListRelationEdges(ctx context.Context, entity string) ([]model.RelationEdge, error) {
	query := `SELECT ` + edgeColumns + ` FROM relation_edges`
	var args []any
	if entity = model.NormalizeActor(entity); entity != "" {
		query += ` WHERE entity_a = ? OR entity_b = ?`
		args = append(args, entity, entity)
	}
	query += ` ORDER BY entity_a, entity_b, relation_type`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list relation edges: %w", err)
	}
	defer rows.Close()
	var out []model.RelationEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan relation edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceTheatreStates(ctx context.Context, states []model.TheatreStateLive) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM theatre_state_live`); err != nil {
			return err
		}
		for _, t := range states {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO theatre_state_live (theatre, tension, momentum, heat, velocity,
	conflict_count, dominant_actors, active_fronts, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.Theatre, t.Tension, t.Momentum, t.Heat, t.Velocity,
				t.ConflictCount, strList(t.DominantActors), strList(t.ActiveFronts), ms(t.UpdatedAt)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlite: replace theatre states: %w", err)
	}
	return nil
}

func (s *Store) ListTheatreStates(ctx context.Context) ([]model.TheatreStateLive, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT theatre, tension, momentum, heat, velocity, conflict_count, dominant_actors, active_fronts, updated_at
FROM theatre_state_live ORDER BY theatre`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list theatre states: %w", err)
	}
	defer rows.Close()
	var out []model.TheatreStateLive
	for rows.Next() {
		var (
			t               model.TheatreStateLive
			dominant, front string
			updatedAt       int64
		)
		if err := rows.Scan(&t.Theatre, &t.Tension, &t.Momentum, &t.Heat, &t.Velocity,
			&t.ConflictCount, &dominant, &front, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan theatre state: %w", err)
		}
		t.UpdatedAt = fromMS(updatedAt)
		if err := decode(dominant, &t.DominantActors); err != nil {
			return nil, err
		}
		if err := decode(front, &t.ActiveFronts); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpsertAlliancePressure(ctx context.Context, p model.AlliancePressureLive) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alliance_pressure_live (alliance_id, name, members, pressure, conflict_count, top_conflicts, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (alliance_id) DO UPDATE SET
	name = excluded.name,
	members = excluded.members,
	pressure = excluded.pressure,
	conflict_count = excluded.conflict_count,
	top_conflicts = excluded.top_conflicts,
	updated_at = excluded.updated_at`,
		p.AllianceID, p.Name, strList(p.Members), p.Pressure, p.ConflictCount, strList(p.TopConflicts), ms(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: upsert alliance pressure %s: %w", p.AllianceID, err)
	}
	return nil
}

func (s *Store) ListAlliancePressures(ctx context.Context) ([]model.AlliancePressureLive, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT alliance_id, name, members, pressure, conflict_count, top_conflicts, updated_at
FROM alliance_pressure_live ORDER BY alliance_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list alliance pressures: %w", err)
	}
	defer rows.Close()
	var out []model.AlliancePressureLive
	for rows.Next() {
		var (
			p                  model.AlliancePressureLive
			members, conflicts string
			updatedAt          int64
		)
		if err := rows.Scan(&p.AllianceID, &p.Name, &members, &p.Pressure, &p.ConflictCount, &conflicts, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan alliance pressure: %w", err)
		}
		p.UpdatedAt = fromMS(updatedAt)
		if err := decode(members, &p.Members); err != nil {
			return nil, err
		}
		if err := decode(conflicts, &p.TopConflicts); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const frontColumns = `front_id, theatre, name, actors, base_control, control, intensity, last_event_at, updated_at, last_ingest_seq`

func scanFront(row scanner) (model.FrontLineState, error) {
	var (
		f                     model.FrontLineState
		actors, base, control string
		lastEvent             sql.NullInt64
		updatedAt             int64
	)
	if err := row.Scan(&f.FrontID, &f.Theatre, &f.Name, &actors, &base, &control,
		&f.Intensity, &lastEvent, &updatedAt, &f.LastIngestSeq); err != nil {
		return f, err
	}
	f.LastEventAt = timePtr(lastEvent)
	f.UpdatedAt = fromMS(updatedAt)
	if err := decode(actors, &f.Actors); err != nil {
		return f, err
	}
	if err := decode(base, &f.BaseControl); err != nil {
		return f, err
	}
	return f, decode(control, &f.Control)
}

func (s *Store) GetFrontLine(ctx context.Context, frontID string) (model.FrontLineState, error) {
	f, err := scanFront(s.db.QueryRowContext(ctx,
		`SELECT `+frontColumns+` FROM front_line_state WHERE front_id = ?`, frontID))
	if err != nil {
		return model.FrontLineState{}, notFound(err)
	}
	return f, nil
}

func (s *Store) UpsertFrontLine(ctx context.Context, f model.FrontLineState) error {
	base, err := jsonMap(f.BaseControl)
	if err != nil {
		return fmt.Errorf("sqlite: encode base_control: %w", err)
	}
	control, err := jsonMap(f.Control)
	if err != nil {
		return fmt.Errorf("sqlite: encode control: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO front_line_state (`+frontColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (front_id) DO UPDATE SET
	theatre = excluded.theatre,
	name = excluded.name,
	actors = excluded.actors,
	base_control = excluded.base_control,
	control = excluded.control,
	intensity = excluded.intensity,
	last_event_at = excluded.last_event_at,
	updated_at = excluded.updated_at,
	last_ingest_seq = excluded.last_ingest_seq`,
		f.FrontID, f.Theatre, f.Name, strList(f.Actors), base, control,
		f.Intensity, nullMS(f.LastEventAt), ms(f.UpdatedAt), f.LastIngestSeq)
	if err != nil {
		return fmt.Errorf("sqlite: upsert front line %s: %w", f.FrontID, err)
	}
	return nil
}

func (s *Store) ListFrontLines(ctx context.Context) ([]model.FrontLineState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+frontColumns+` FROM front_line_state ORDER BY front_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list front lines: %w", err)
	}
	defer rows.Close()
	var out []model.FrontLineState
	for rows.Next() {
		f, err := scanFront(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan front line: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) SaveWorldState(ctx context.Context, w model.WorldState) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("sqlite: encode world state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO world_state (id, state, computed_at) VALUES (1, ?, ?)
ON CONFLICT (id) DO UPDATE SET state = excluded.state, computed_at = excluded.computed_at`,
		string(raw), ms(w.ComputedAt))
	if err != nil {
		return fmt.Errorf("sqlite: save world state: %w", err)
	}
	return nil
}

func (s *Store) LoadWorldState(ctx context.Context) (model.WorldState, error) {
	var raw string
	if err := s.db.QueryRowContext(ctx, `SELECT state FROM world_state WHERE id = 1`).Scan(&raw); err != nil {
		return model.WorldState{}, notFound(err)
	}
	var w model.WorldState
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return model.WorldState{}, fmt.Errorf("sqlite: decode world state: %w", err)
	}
	return w, nil
}
