package cce

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/decay"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

// TheatreAggregator rolls conflict states up into per-theatre composites.
// Theatre state has no memory: every run is a full recompute.
type TheatreAggregator struct {
	tuning Tuning
	store  Store
	logger *slog.Logger
}

// NewTheatreAggregator creates a theatre aggregator.
func NewTheatreAggregator(store Store, tuning Tuning, logger *slog.Logger) *TheatreAggregator {
	return &TheatreAggregator{tuning: tuning, store: store, logger: logger}
}

// Run recomputes and atomically replaces every theatre row.
func (ta *TheatreAggregator) Run(ctx context.Context, now time.Time) *PhaseStats {
	stats := newPhase(PhaseTheatres)
	stats.Ran = true

	cores, err := ta.store.ListConflictCores(ctx)
	if err != nil {
		stats.fail(fmt.Errorf("list conflict cores: %w", err))
		return stats
	}
	states, err := ta.store.ListConflictStates(ctx)
	if err != nil {
		stats.fail(fmt.Errorf("list conflict states: %w", err))
		return stats
	}
	fronts, err := ta.store.ListFrontLines(ctx)
	if err != nil {
		// Theatres are still meaningful without front data.
		ta.logger.Warn("cce: theatre aggregation without fronts", "error", err)
		stats.itemFailed("front_lines", err)
		fronts = nil
	}

	theatres := ComputeTheatres(cores, states, fronts, ta.tuning, now)
	if err := ta.store.ReplaceTheatreStates(ctx, theatres); err != nil {
		stats.fail(fmt.Errorf("replace theatre states: %w", err))
		return stats
	}
	stats.Processed = len(theatres)
	stats.Updated = len(theatres)
	return stats
}

type theatreMember struct {
	core  model.ConflictCore
	state model.ConflictStateLive
}

// ComputeTheatres groups conflict states by theatre and combines them with
// importance-weighted means. Conflicts without a stored state are ignored.
// The result is sorted by theatre name.
func ComputeTheatres(cores []model.ConflictCore, states []model.ConflictStateLive, fronts []model.FrontLineState, t Tuning, now time.Time) []model.TheatreStateLive {
	stateByID := make(map[string]model.ConflictStateLive, len(states))
	for _, s := range states {
		stateByID[s.ConflictID] = s
	}
	groups := make(map[string][]theatreMember)
	for _, c := range cores {
		s, ok := stateByID[c.ID]
		if !ok {
			continue
		}
		th := c.Theatre
		if th == "" {
			th = model.DefaultTheatre
		}
		groups[th] = append(groups[th], theatreMember{core: c, state: s})
	}

	out := make([]model.TheatreStateLive, 0, len(groups))
	for theatre, members := range groups {
		var wSum, tension, momentum, heat, velocity float64
		for _, m := range members {
			w := math.Max(decay.Clamp01(m.core.Importance), t.MinImportanceWeight)
			wSum += w
			tension += w * m.state.Tension
			momentum += w * m.state.Momentum
			heat += w * m.state.Heat
			velocity += w * m.state.Velocity
		}
		ts := model.TheatreStateLive{
			Theatre:        theatre,
			ConflictCount:  len(members),
			DominantActors: dominantActors(members, t),
			ActiveFronts:   activeFronts(theatre, fronts, t.ActiveFrontIntensity),
			UpdatedAt:      now,
		}
		if wSum > 0 {
			ts.Tension = decay.Clamp01(tension / wSum)
			ts.Momentum = decay.ClampSigned(momentum / wSum)
			ts.Heat = decay.Clamp01(heat / wSum)
			ts.Velocity = decay.ClampSigned(velocity / wSum)
		}
		out = append(out, ts)
	}
	slices.SortFunc(out, func(x, y model.TheatreStateLive) int { return cmp.Compare(x.Theatre, y.Theatre) })
	return out
}

func dominantActors(members []theatreMember, t Tuning) []string {
	ranked := slices.Clone(members)
	slices.SortFunc(ranked, func(x, y theatreMember) int { return byTensionDesc(x.state, y.state) })
	if len(ranked) > t.DominantConflicts {
		ranked = ranked[:t.DominantConflicts]
	}
	actors := make([]string, 0, 2*len(ranked))
	for _, m := range ranked {
		for _, a := range []string{m.core.ActorA, m.core.ActorB} {
			if !slices.Contains(actors, a) {
				actors = append(actors, a)
			}
		}
	}
	if len(actors) > t.MaxDominantActors {
		actors = actors[:t.MaxDominantActors]
	}
	return actors
}

func activeFronts(theatre string, fronts []model.FrontLineState, threshold float64) []string {
	ids := []string{}
	for _, f := range fronts {
		if f.Theatre == theatre && f.Intensity >= threshold {
			ids = append(ids, f.FrontID)
		}
	}
	slices.Sort(ids)
	return ids
}
