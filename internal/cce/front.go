package cce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/decay"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

// controlEpsilon is the tolerance on sum(control) == 1.
const controlEpsilon = 1e-9

// FrontAggregator advances front-line intensity and control shares.
type FrontAggregator struct {
	tuning Tuning
	store  Store
	ref    ReferenceData
	logger *slog.Logger
}

// NewFrontAggregator creates a front-line aggregator.
func NewFrontAggregator(store Store, ref ReferenceData, tuning Tuning, logger *slog.Logger) *FrontAggregator {
	return &FrontAggregator{tuning: tuning, store: store, ref: ref, logger: logger}
}

// Step computes the next state of one front from its prior state (nil for a
// new front) and the events attributable to it. Events already consumed
// (IngestSeq at or below prev.LastIngestSeq) and events failing validation
// are ignored; the latter are reported by the conflict phase. For every actor
// the control change is at most MaxControlShift, and control always sums to 1.
func (fa *FrontAggregator) Step(prev *model.FrontLineState, front model.Front, events []model.ConflictEvent, now time.Time) (model.FrontLineState, error) {
	t := fa.tuning
	actors := normalizeActors(front.Actors)
	if len(actors) == 0 {
		return model.FrontLineState{}, fmt.Errorf("front %s: no actors", front.ID)
	}
	base := normalizeActorMap(front.BaseControl)

	var cur model.FrontLineState
	if prev == nil {
		cur = model.FrontLineState{UpdatedAt: now}
	} else {
		cur = prev.Clone()
	}
	cur.FrontID = front.ID
	cur.Theatre = front.Theatre
	cur.Name = front.Name
	cur.Actors = actors
	cur.BaseControl = base
	cur.Control = reconcileControl(cur.Control, actors, base)

	elapsed := now.Sub(cur.UpdatedAt).Seconds()
	intensity := decay.Clamp01(decay.Decay(cur.Intensity, elapsed, t.FrontHalfLife.Seconds()))

	var total float64
	credit := make(map[string]float64, len(actors))
	lastEventAt := cur.LastEventAt
	lastSeq := cur.LastIngestSeq
	for _, ev := range unconsumed(events, cur.LastIngestSeq) {
		lastSeq = max(lastSeq, ev.IngestSeq)
		if ev.Validate() != nil {
			continue
		}
		age := math.Max(0, now.Sub(ev.OccurredAt).Seconds())
		w := ev.Weight() * decay.Decay(1, age, t.FrontHalfLife.Seconds())
		total += w
		if a := model.NormalizeActor(ev.Actor); slices.Contains(actors, a) {
			credit[a] += w
		}
		if lastEventAt == nil || ev.OccurredAt.After(*lastEventAt) {
			at := ev.OccurredAt
			lastEventAt = &at
		}
	}
	if total > 0 {
		intensity = decay.Clamp01(intensity + (1-intensity)*decay.Clamp01(t.FrontIntensityGain*total))
	}
	cur.Control = shiftControl(cur.Control, actors, credit, t.ControlShiftRate, t.MaxControlShift)
	cur.Intensity = intensity
	cur.LastEventAt = lastEventAt
	cur.LastIngestSeq = lastSeq
	if now.After(cur.UpdatedAt) {
		cur.UpdatedAt = now
	}
	return cur, nil
}

// shiftControl moves each share toward the actor's share of event credit.
// Deltas are scaled together so the largest is at most maxShift; since the
// unscaled deltas sum to zero, so do the scaled ones.
func shiftControl(control map[string]float64, actors []string, credit map[string]float64, rate, maxShift float64) map[string]float64 {
	var creditSum float64
	for _, a := range actors {
		creditSum += credit[a]
	}
	if creditSum <= 0 {
		return control
	}
	deltas := make(map[string]float64, len(actors))
	var maxAbs float64
	for _, a := range actors {
		d := rate * (credit[a]/creditSum - control[a])
		deltas[a] = d
		maxAbs = math.Max(maxAbs, math.Abs(d))
	}
	scale := 1.0
	if maxAbs > maxShift {
		scale = maxShift / maxAbs
	}
	next := make(map[string]float64, len(actors))
	for _, a := range actors {
		next[a] = decay.Clamp01(control[a] + scale*deltas[a])
	}
	return renormalize(next, actors)
}

// reconcileControl aligns a stored control map with the current actor list.
// New actors start at their base share (or zero), departed actors are
// dropped, and the result is renormalized.
func reconcileControl(control map[string]float64, actors []string, base map[string]float64) map[string]float64 {
	next := make(map[string]float64, len(actors))
	if len(control) == 0 {
		for _, a := range actors {
			next[a] = decay.Clamp01(base[a])
		}
		return renormalize(next, actors)
	}
	for _, a := range actors {
		v, ok := control[a]
		if !ok {
			v = base[a]
		}
		next[a] = decay.Clamp01(v)
	}
	return renormalize(next, actors)
}

// renormalize scales shares to sum to 1, falling back to equal shares when
// they sum to zero.
func renormalize(control map[string]float64, actors []string) map[string]float64 {
	var sum float64
	for _, a := range actors {
		sum += control[a]
	}
	if sum <= 0 {
		eq := 1 / float64(len(actors))
		for _, a := range actors {
			control[a] = eq
		}
		return control
	}
	if math.Abs(sum-1) > controlEpsilon/10 {
		for _, a := range actors {
			control[a] /= sum
		}
	}
	return control
}

func normalizeActors(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = model.NormalizeActor(a)
		if a != "" && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

func normalizeActorMap(in map[string]float64) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[model.NormalizeActor(k)] = v
	}
	return out
}

// Run advances every reference front. Missing front topology fails this
// phase only.
func (fa *FrontAggregator) Run(ctx context.Context, now time.Time) *PhaseStats {
	stats := newPhase(PhaseFronts)
	stats.Ran = true

	var fronts []model.Front
	if fa.ref != nil {
		var err error
		fronts, err = fa.ref.Fronts(ctx)
		if err != nil {
			stats.fail(fmt.Errorf("load fronts: %w", err))
			return stats
		}
	}
	if len(fronts) == 0 {
		stats.fail(ErrNoFronts)
		return stats
	}
	cores, err := fa.store.ListConflictCores(ctx)
	if err != nil {
		stats.fail(fmt.Errorf("list conflict cores: %w", err))
		return stats
	}

	for _, front := range fronts {
		if err := ctx.Err(); err != nil {
			stats.itemFailed(front.ID, err)
			continue
		}
		created, err := fa.updateOne(ctx, front, cores, now)
		if err != nil {
			fa.logger.Warn("cce: front update failed", "front_id", front.ID, "error", err)
			stats.itemFailed(front.ID, err)
			continue
		}
		stats.Processed++
		if created {
			stats.Created++
		} else {
			stats.Updated++
		}
	}
	return stats
}

func (fa *FrontAggregator) updateOne(ctx context.Context, front model.Front, cores []model.ConflictCore, now time.Time) (bool, error) {
	var prev *model.FrontLineState
	s, err := fa.store.GetFrontLine(ctx, front.ID)
	switch {
	case err == nil:
		prev = &s
	case errors.Is(err, ErrNotFound):
	default:
		return false, fmt.Errorf("get front: %w", err)
	}

	actors := normalizeActors(front.Actors)
	var conflictIDs []string
	for _, c := range cores {
		if slices.Contains(actors, c.ActorA) && slices.Contains(actors, c.ActorB) {
			conflictIDs = append(conflictIDs, c.ID)
		}
	}

	var events []model.ConflictEvent
	if len(conflictIDs) > 0 {
		var afterSeq int64
		notBefore := now.Add(-fa.tuning.StalenessWindow)
		if prev != nil {
			afterSeq = prev.LastIngestSeq
			notBefore = time.Time{}
		}
		events, err = fa.store.ListEventsForConflictsAfter(ctx, conflictIDs, afterSeq, notBefore)
		if err != nil {
			return false, fmt.Errorf("list events: %w", err)
		}
	}

	next, err := fa.Step(prev, front, events, now)
	if err != nil {
		return false, err
	}
	if err := fa.store.UpsertFrontLine(ctx, next); err != nil {
		return false, fmt.Errorf("upsert front: %w", err)
	}
	return prev == nil, nil
}
