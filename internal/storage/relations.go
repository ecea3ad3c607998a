package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

const edgeColumns = `id, entity_a, entity_b, relation_type, relation_strength, is_mutual,
	evidence_event_ids, evidence_urls, confidence, last_updated_at, last_event_at, source`

func scanEdge(row pgx.Row) (model.RelationEdge, error) {
	var e model.RelationEdge
	err := row.Scan(&e.ID, &e.EntityA, &e.EntityB, &e.RelationType, &e.RelationStrength, &e.IsMutual,
		&e.EvidenceEventIDs, &e.EvidenceURLs, &e.Confidence, &e.LastUpdatedAt, &e.LastEventAt, &e.Source)
	return e, err
}

func (db *DB) GetRelationEdge(ctx context.Context, entityA, entityB, relationType string) (model.RelationEdge, error) {
	e, err := scanEdge(db.pool.QueryRow(ctx,
		`SELECT `+edgeColumns+` FROM relation_edges
		WHERE entity_a = $1 AND entity_b = $2 AND relation_type = $3`,
		entityA, entityB, relationType))
	if err != nil {
		return model.RelationEdge{}, notFound(err)
	}
	return e, nil
}

func (db *DB) InsertRelationEdge(ctx context.Context, e model.RelationEdge) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO relation_edges (`+edgeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.EntityA, e.EntityB, e.RelationType, e.RelationStrength, e.IsMutual,
		nonNil(e.EvidenceEventIDs), nonNil(e.EvidenceURLs), e.Confidence, e.LastUpdatedAt, e.LastEventAt, e.Source,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storage: relation edge %s-%s %s already exists: %w", e.EntityA, e.EntityB, e.RelationType, err)
		}
		return fmt.Errorf("storage: insert relation edge: %w", err)
	}
	return nil
}

// UpdateRelationEdge overwrites the mutable columns of the edge with e.ID.
func (db *DB) UpdateRelationEdge(ctx context.Context, e model.RelationEdge) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE relation_edges SET
			relation_strength = $2,
			is_mutual = $3,
			evidence_event_ids = $4,
			evidence_urls = $5,
			confidence = $6,
			last_updated_at = $7,
			last_event_at = $8,
			source = $9
		WHERE id = $1`,
		e.ID, e.RelationStrength, e.IsMutual, nonNil(e.EvidenceEventIDs), nonNil(e.EvidenceURLs),
		e.Confidence, e.LastUpdatedAt, e.LastEventAt, e.Source,
	)
	if err != nil {
		return fmt.Errorf("storage: update relation edge %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) ListRelationEdges(ctx context.Context, entity string) ([]model.RelationEdge, error) {
	query := `SELECT ` + edgeColumns + ` FROM relation_edges`
	var args []any
	if entity = model.NormalizeActor(entity); entity != "" {
		query += ` WHERE entity_a = $1 OR entity_b = $1`
		args = append(args, entity)
	}
	query += ` ORDER BY entity_a, entity_b, relation_type`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list relation edges: %w", err)
	}
	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RelationEdge, error) {
		return scanEdge(row)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan relation edges: %w", err)
	}
	return edges, nil
}
