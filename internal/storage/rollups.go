package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

// ReplaceTheatreStates swaps the whole theatre table in one transaction so
// readers never see a mix of two ticks.
func (db *DB) ReplaceTheatreStates(ctx context.Context, states []model.TheatreStateLive) error {
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM theatre_state_live`); err != nil {
			return err
		}
		if len(states) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, t := range states {
			batch.Queue(`
				INSERT INTO theatre_state_live (theatre, tension, momentum, heat, velocity,
					conflict_count, dominant_actors, active_fronts, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				t.Theatre, t.Tension, t.Momentum, t.Heat, t.Velocity,
				t.ConflictCount, nonNil(t.DominantActors), nonNil(t.ActiveFronts), t.UpdatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("storage: replace theatre states: %w", err)
	}
	return nil
}

func (db *DB) ListTheatreStates(ctx context.Context) ([]model.TheatreStateLive, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT theatre, tension, momentum, heat, velocity, conflict_count,
			dominant_actors, active_fronts, updated_at
		FROM theatre_state_live ORDER BY theatre`)
	if err != nil {
		return nil, fmt.Errorf("storage: list theatre states: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TheatreStateLive, error) {
		var t model.TheatreStateLive
		err := row.Scan(&t.Theatre, &t.Tension, &t.Momentum, &t.Heat, &t.Velocity,
			&t.ConflictCount, &t.DominantActors, &t.ActiveFronts, &t.UpdatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan theatre states: %w", err)
	}
	return out, nil
}

func (db *DB) UpsertAlliancePressure(ctx context.Context, p model.AlliancePressureLive) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO alliance_pressure_live (alliance_id, name, members, pressure,
			conflict_count, top_conflicts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (alliance_id) DO UPDATE SET
			name = EXCLUDED.name,
			members = EXCLUDED.members,
			pressure = EXCLUDED.pressure,
			conflict_count = EXCLUDED.conflict_count,
			top_conflicts = EXCLUDED.top_conflicts,
			updated_at = EXCLUDED.updated_at`,
		p.AllianceID, p.Name, nonNil(p.Members), p.Pressure,
		p.ConflictCount, nonNil(p.TopConflicts), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert alliance pressure %s: %w", p.AllianceID, err)
	}
	return nil
}

func (db *DB) ListAlliancePressures(ctx context.Context) ([]model.AlliancePressureLive, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT alliance_id, name, members, pressure, conflict_count, top_conflicts, updated_at
		FROM alliance_pressure_live ORDER BY alliance_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list alliance pressures: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AlliancePressureLive, error) {
		var p model.AlliancePressureLive
		err := row.Scan(&p.AllianceID, &p.Name, &p.Members, &p.Pressure,
			&p.ConflictCount, &p.TopConflicts, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan alliance pressures: %w", err)
	}
	return out, nil
}

const frontColumns = `front_id, theatre, name, actors, base_control, control, intensity, last_event_at, updated_at, last_ingest_seq`

func scanFront(row pgx.Row) (model.FrontLineState, error) {
	var (
		f             model.FrontLineState
		base, control []byte
	)
	if err := row.Scan(&f.FrontID, &f.Theatre, &f.Name, &f.Actors, &base, &control,
		&f.Intensity, &f.LastEventAt, &f.UpdatedAt, &f.LastIngestSeq); err != nil {
		return f, err
	}
	if err := json.Unmarshal(base, &f.BaseControl); err != nil {
		return f, fmt.Errorf("decode base_control: %w", err)
	}
	if err := json.Unmarshal(control, &f.Control); err != nil {
		return f, fmt.Errorf("decode control: %w", err)
	}
	return f, nil
}

func (db *DB) GetFrontLine(ctx context.Context, frontID string) (model.FrontLineState, error) {
	f, err := scanFront(db.pool.QueryRow(ctx,
		`SELECT `+frontColumns+` FROM front_line_state WHERE front_id = $1`, frontID))
	if err != nil {
		return model.FrontLineState{}, notFound(err)
	}
	return f, nil
}

func (db *DB) UpsertFrontLine(ctx context.Context, f model.FrontLineState) error {
	base, err := jsonObject(f.BaseControl)
	if err != nil {
		return fmt.Errorf("storage: encode base_control: %w", err)
	}
	control, err := jsonObject(f.Control)
	if err != nil {
		return fmt.Errorf("storage: encode control: %w", err)
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO front_line_state (`+frontColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (front_id) DO UPDATE SET
			theatre = EXCLUDED.theatre,
			name = EXCLUDED.name,
			actors = EXCLUDED.actors,
			base_control = EXCLUDED.base_control,
			control = EXCLUDED.control,
			intensity = EXCLUDED.intensity,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = EXCLUDED.updated_at,
			last_ingest_seq = EXCLUDED.last_ingest_seq`,
		f.FrontID, f.Theatre, f.Name, nonNil(f.Actors), base, control,
		f.Intensity, f.LastEventAt, f.UpdatedAt, f.LastIngestSeq,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert front line %s: %w", f.FrontID, err)
	}
	return nil
}

func (db *DB) ListFrontLines(ctx context.Context) ([]model.FrontLineState, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+frontColumns+` FROM front_line_state ORDER BY front_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list front lines: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.FrontLineState, error) {
		return scanFront(row)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan front lines: %w", err)
	}
	return out, nil
}

func (db *DB) SaveWorldState(ctx context.Context, w model.WorldState) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("storage: encode world state: %w", err)
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO world_state (id, state, computed_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, computed_at = EXCLUDED.computed_at`,
		raw, w.ComputedAt)
	if err != nil {
		return fmt.Errorf("storage: save world state: %w", err)
	}
	return nil
}

func (db *DB) LoadWorldState(ctx context.Context) (model.WorldState, error) {
	var raw []byte
	if err := db.pool.QueryRow(ctx, `SELECT state FROM world_state WHERE id = 1`).Scan(&raw); err != nil {
		return model.WorldState{}, notFound(err)
	}
	var w model.WorldState
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.WorldState{}, fmt.Errorf("storage: decode world state: %w", err)
	}
	return w, nil
}

// jsonObject encodes m, writing {} rather than null for a nil map.
func jsonObject(m map[string]float64) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
