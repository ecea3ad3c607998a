package cce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/decay"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

// EdgeOptions bounds which conflicts produce relation edges.
type EdgeOptions struct {
	MinTension float64
	MaxAge     time.Duration
}

// EdgeDeriver upserts hostile relation edges from live conflict state.
type EdgeDeriver struct {
	tuning Tuning
	store  Store
	logger *slog.Logger
}

// NewEdgeDeriver creates a relation-edge deriver.
func NewEdgeDeriver(store Store, tuning Tuning, logger *slog.Logger) *EdgeDeriver {
	return &EdgeDeriver{tuning: tuning, store: store, logger: logger}
}

// EdgeStrength is the relation strength of a conflict:
// clamp(0.6*tension + 0.4*base_hostility) scaled by (0.5 + 0.5*importance).
func EdgeStrength(tension, baseHostility, importance float64) float64 {
	raw := decay.Clamp01(0.6*tension + 0.4*baseHostility)
	return decay.Clamp01(raw * (0.5 + 0.5*decay.Clamp01(importance)))
}

// EdgeConfidence is 0.7 + 0.3*heat, clamped.
func EdgeConfidence(heat float64) float64 {
	return decay.Clamp01(0.7 + 0.3*heat)
}

// Derive writes one edge per qualifying conflict. Conflicts below
// MinTension or older than MaxAge are skipped; so are conflicts whose scaled
// strength lands below MinTension even though their raw tension passed.
// The first filter is a cheap pre-check; the strength filter is the one that
// decides. Existing derived edges of skipped conflicts decay but are never
// deleted.
func (d *EdgeDeriver) Derive(ctx context.Context, opts EdgeOptions, now time.Time) (EdgeStats, error) {
	var stats EdgeStats
	cores, err := d.store.ListConflictCores(ctx)
	if err != nil {
		return stats, fmt.Errorf("list conflict cores: %w", err)
	}
	states, err := d.store.ListConflictStates(ctx)
	if err != nil {
		return stats, fmt.Errorf("list conflict states: %w", err)
	}
	stateByID := make(map[string]model.ConflictStateLive, len(states))
	for _, s := range states {
		stateByID[s.ConflictID] = s
	}

	for _, core := range cores {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		st, ok := stateByID[core.ID]
		if !ok {
			stats.Skipped++
			continue
		}
		if st.Tension < opts.MinTension || now.Sub(st.UpdatedAt) > opts.MaxAge {
			stats.Skipped++
			d.decayExisting(ctx, core, now, &stats)
			continue
		}
		strength := EdgeStrength(st.Tension, core.BaseHostility, core.Importance)
		if strength < opts.MinTension {
			stats.Skipped++
			d.decayExisting(ctx, core, now, &stats)
			continue
		}

		created, err := d.upsert(ctx, core, st, strength, now)
		if err != nil {
			d.logger.Warn("cce: relation edge upsert failed", "conflict_id", core.ID, "error", err)
			stats.Failures = append(stats.Failures, ItemFailure{Key: core.ID, Error: err.Error()})
			continue
		}
		if created {
			stats.Created++
		} else {
			stats.Updated++
		}
	}
	return stats, nil
}

func (d *EdgeDeriver) upsert(ctx context.Context, core model.ConflictCore, st model.ConflictStateLive, strength float64, now time.Time) (bool, error) {
	a, b := model.CanonicalPair(core.ActorA, core.ActorB)

	var urls []string
	var eventIDs []string
	for _, drv := range st.TopDrivers {
		urls = append(urls, drv.EvidenceURLs...)
		if len(eventIDs) < model.MaxEvidenceEventIDs {
			eventIDs = append(eventIDs, drv.EventID)
		}
	}
	urls = model.FilterEvidenceURLs(urls, model.MaxEvidenceURLs)
	if len(urls) > model.MaxPersistedURLs {
		urls = urls[:model.MaxPersistedURLs]
	}
	if eventIDs == nil {
		eventIDs = []string{}
	}

	edge := model.RelationEdge{
		EntityA:          a,
		EntityB:          b,
		RelationType:     model.RelationHostile,
		RelationStrength: strength,
		IsMutual:         false,
		EvidenceEventIDs: eventIDs,
		EvidenceURLs:     urls,
		Confidence:       EdgeConfidence(st.Heat),
		LastUpdatedAt:    now,
		LastEventAt:      st.LastEventAt,
		Source:           model.SourceCCEDerived,
	}

	existing, err := d.store.GetRelationEdge(ctx, a, b, model.RelationHostile)
	switch {
	case err == nil:
		edge.ID = existing.ID
		if err := d.store.UpdateRelationEdge(ctx, edge); err != nil {
			return false, fmt.Errorf("update edge: %w", err)
		}
		return false, nil
	case errors.Is(err, ErrNotFound):
		edge.ID = uuid.NewString()
		if err := d.store.InsertRelationEdge(ctx, edge); err != nil {
			return false, fmt.Errorf("insert edge: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("get edge: %w", err)
	}
}

// decayExisting applies tension-rate decay to a derived edge whose conflict
// no longer qualifies. Errors are recorded but do not change the skip count.
func (d *EdgeDeriver) decayExisting(ctx context.Context, core model.ConflictCore, now time.Time, stats *EdgeStats) {
	a, b := model.CanonicalPair(core.ActorA, core.ActorB)
	edge, err := d.store.GetRelationEdge(ctx, a, b, model.RelationHostile)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		stats.Failures = append(stats.Failures, ItemFailure{Key: core.ID, Error: err.Error()})
		return
	}
	if edge.Source != model.SourceCCEDerived {
		return
	}
	elapsed := now.Sub(edge.LastUpdatedAt)
	if elapsed <= 0 {
		return
	}
	edge.RelationStrength = decay.Clamp01(decay.DecayDuration(edge.RelationStrength, elapsed, d.tuning.TensionHalfLife))
	edge.LastUpdatedAt = now
	if err := d.store.UpdateRelationEdge(ctx, edge); err != nil {
		stats.Failures = append(stats.Failures, ItemFailure{Key: core.ID, Error: err.Error()})
		return
	}
	stats.Decayed++
}

// Run wraps Derive as a tick phase.
func (d *EdgeDeriver) Run(ctx context.Context, opts EdgeOptions, now time.Time) *PhaseStats {
	stats := newPhase(PhaseEdges)
	stats.Ran = true
	es, err := d.Derive(ctx, opts, now)
	stats.Created = es.Created
	stats.Updated = es.Updated
	stats.Skipped = es.Skipped
	stats.Decayed = es.Decayed
	stats.Processed = es.Created + es.Updated
	stats.Failed = len(es.Failures)
	stats.Failures = es.Failures
	if err != nil {
		stats.fail(err)
	}
	return stats
}
