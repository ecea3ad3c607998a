package cce

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/decay"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

// AllianceAggregator computes the pressure bearing on each alliance from the
// conflicts its members are party to.
type AllianceAggregator struct {
	tuning Tuning
	store  Store
	ref    ReferenceData
	logger *slog.Logger
}

// NewAllianceAggregator creates an alliance pressure aggregator.
func NewAllianceAggregator(store Store, ref ReferenceData, tuning Tuning, logger *slog.Logger) *AllianceAggregator {
	return &AllianceAggregator{tuning: tuning, store: store, ref: ref, logger: logger}
}

// Run recomputes every alliance. Missing membership data fails this phase
// only.
func (aa *AllianceAggregator) Run(ctx context.Context, now time.Time) *PhaseStats {
	stats := newPhase(PhaseAlliances)
	stats.Ran = true

	var alliances []model.Alliance
	if aa.ref != nil {
		var err error
		alliances, err = aa.ref.Alliances(ctx)
		if err != nil {
			stats.fail(fmt.Errorf("load alliances: %w", err))
			return stats
		}
	}
	if len(alliances) == 0 {
		stats.fail(ErrNoAlliances)
		return stats
	}

	cores, err := aa.store.ListConflictCores(ctx)
	if err != nil {
		stats.fail(fmt.Errorf("list conflict cores: %w", err))
		return stats
	}
	states, err := aa.store.ListConflictStates(ctx)
	if err != nil {
		stats.fail(fmt.Errorf("list conflict states: %w", err))
		return stats
	}
	stateByID := make(map[string]model.ConflictStateLive, len(states))
	for _, s := range states {
		stateByID[s.ConflictID] = s
	}

	for _, al := range alliances {
		if err := ctx.Err(); err != nil {
			stats.itemFailed(al.ID, err)
			continue
		}
		p := ComputeAlliancePressure(al, cores, stateByID, aa.tuning, now)
		if err := aa.store.UpsertAlliancePressure(ctx, p); err != nil {
			aa.logger.Warn("cce: alliance upsert failed", "alliance_id", al.ID, "error", err)
			stats.itemFailed(al.ID, err)
			continue
		}
		stats.Processed++
		stats.Updated++
	}
	return stats
}

type allianceContribution struct {
	conflictID string
	value      float64
}

// ComputeAlliancePressure combines conflict pressures with a saturating
// product: pressure = 1 - prod(1 - w*p), where w is the conflict importance
// times the strongest involved membership. The result is always in [0,1] and
// grows with every additional contributing conflict.
func ComputeAlliancePressure(al model.Alliance, cores []model.ConflictCore, states map[string]model.ConflictStateLive, t Tuning, now time.Time) model.AlliancePressureLive {
	remaining := 1.0
	var contribs []allianceContribution
	for _, c := range cores {
		strength := math.Max(al.Strength(c.ActorA), al.Strength(c.ActorB))
		if strength <= 0 {
			continue
		}
		s, ok := states[c.ID]
		if !ok {
			continue
		}
		v := decay.Clamp01(decay.Clamp01(c.Importance) * decay.Clamp01(strength) * decay.Clamp01(s.Pressure))
		remaining *= 1 - v
		contribs = append(contribs, allianceContribution{conflictID: c.ID, value: v})
	}
	slices.SortFunc(contribs, func(x, y allianceContribution) int {
		if c := cmp.Compare(y.value, x.value); c != 0 {
			return c
		}
		return cmp.Compare(x.conflictID, y.conflictID)
	})
	top := make([]string, 0, t.AllianceTopConflicts)
	for i := 0; i < len(contribs) && i < t.AllianceTopConflicts; i++ {
		top = append(top, contribs[i].conflictID)
	}
	return model.AlliancePressureLive{
		AllianceID:    al.ID,
		Name:          al.Name,
		Members:       slices.Sorted(maps.Keys(al.Members)),
		Pressure:      decay.Clamp01(1 - remaining),
		ConflictCount: len(contribs),
		TopConflicts:  top,
		UpdatedAt:     now,
	}
}
