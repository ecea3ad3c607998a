package cce

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/decay"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

// Aggregator recomputes ConflictStateLive rows from prior state and new events.
type Aggregator struct {
	tuning      Tuning
	store       Store
	logger      *slog.Logger
	workers     int
	itemTimeout time.Duration
}

// NewAggregator creates a conflict state aggregator.
func NewAggregator(store Store, tuning Tuning, workers int, itemTimeout time.Duration, logger *slog.Logger) *Aggregator {
	if workers < 1 {
		workers = 1
	}
	return &Aggregator{tuning: tuning, store: store, logger: logger, workers: workers, itemTimeout: itemTimeout}
}

// Step computes the next state of one conflict. It is pure: the same
// (prev, core, events, now) always yields the same state. prev may be nil for
// a conflict with no stored state, in which case tension starts at the core's
// base tension. Events whose IngestSeq is at or below prev.LastIngestSeq were
// already folded and are ignored; events may be older than prev.LastEventAt.
// Any event that fails validation fails the whole step; Run filters them out
// beforehand with splitValid.
func (a *Aggregator) Step(prev *model.ConflictStateLive, core model.ConflictCore, events []model.ConflictEvent, now time.Time) (model.ConflictStateLive, error) {
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return model.ConflictStateLive{}, fmt.Errorf("conflict %s: %w", core.ID, err)
		}
	}
	t := a.tuning

	base := model.ConflictStateLive{ConflictID: core.ID, Tension: decay.Clamp01(core.BaseTension), UpdatedAt: now}
	if prev != nil {
		base = prev.Clone()
		base.ConflictID = core.ID
	}
	events = unconsumed(events, base.LastIngestSeq)
	elapsed := now.Sub(base.UpdatedAt).Seconds()

	// 1. Decay.
	tension := decay.Clamp01(decay.Decay(base.Tension, elapsed, t.TensionHalfLife.Seconds()))
	heat := decay.Clamp01(decay.Decay(base.Heat, elapsed, t.HeatHalfLife.Seconds()))

	// 2. Fold events oldest first so the newest carries the most weight.
	events = sortedUnique(events)
	n := float64(len(events))
	lastEventAt := base.LastEventAt
	lastSeq := base.LastIngestSeq
	for i, ev := range events {
		age := math.Max(0, now.Sub(ev.OccurredAt).Seconds())
		w := ev.Weight()
		rank := 1 + float64(i+1)/n

		incT := w * decay.Decay(1, age, t.TensionHalfLife.Seconds())
		targetT := tension + incT*(1-tension)
		tension = decay.Clamp01(decay.WeightedBlend(tension, targetT, t.CurrentWeight, t.EventWeight*rank))

		incH := w * decay.Decay(1, age, t.HeatHalfLife.Seconds())
		targetH := heat + incH*(1-heat)
		heat = decay.Clamp01(decay.WeightedBlend(heat, targetH, t.CurrentWeight, t.HeatEventWeight*rank))

		if lastEventAt == nil || ev.OccurredAt.After(*lastEventAt) {
			at := ev.OccurredAt
			lastEventAt = &at
		}
		lastSeq = max(lastSeq, ev.IngestSeq)
	}
	folded := len(events) > 0

	// 3. Velocity and momentum.
	window := t.MinVelocityWindow.Seconds()
	raw := decay.ClampSigned((tension - base.Tension) * t.VelocityScale.Seconds() / math.Max(math.Max(elapsed, 0), window))
	velocity := raw
	if !folded {
		w := math.Min(1, math.Max(elapsed, 0)/window)
		velocity = decay.ClampSigned(decay.WeightedBlend(base.Velocity, raw, 1-w, w))
	}
	f := decay.SmoothingFactor(t.MomentumAlpha, elapsed, t.MomentumInterval.Seconds())
	if folded && f < t.MomentumAlpha {
		f = t.MomentumAlpha
	}
	prevMomentum := decay.ClampSigned(base.Momentum)
	momentum := decay.ClampSigned(prevMomentum + f*(velocity-prevMomentum))

	// 4. Instability from an exponentially weighted variance of velocity
	// around the prior momentum.
	instability := base.Instability
	if t.InstabilityScale > 0 {
		sigmaPrev := base.Instability / t.InstabilityScale
		dev := velocity - prevMomentum
		variance := (1-f)*sigmaPrev*sigmaPrev + f*dev*dev
		instability = t.InstabilityScale * math.Sqrt(variance)
	}
	instability = decay.Clamp01(instability)

	pressure := decay.Clamp01(
		(t.PressureTensionWeight*tension + t.PressureMomentumWeight*math.Max(momentum, 0)) *
			(t.PressureImportanceBase + (1-t.PressureImportanceBase)*decay.Clamp01(core.Importance)))

	next := model.ConflictStateLive{
		ConflictID:  core.ID,
		Tension:     tension,
		Heat:        heat,
		Velocity:    velocity,
		Momentum:    momentum,
		Pressure:    pressure,
		Instability: instability,
		TheatreRank: base.TheatreRank,
		LastEventAt: lastEventAt,
		TopDrivers:  a.rankDrivers(base.TopDrivers, events, now),
		UpdatedAt:   base.UpdatedAt,

		LastIngestSeq: lastSeq,
	}
	if now.After(next.UpdatedAt) {
		next.UpdatedAt = now
	}
	return next, nil
}

// rankDrivers merges prior drivers with newly folded events and keeps the
// highest time-decayed weights.
func (a *Aggregator) rankDrivers(prev []model.Driver, events []model.ConflictEvent, now time.Time) []model.Driver {
	byID := make(map[string]model.Driver, len(prev)+len(events))
	for _, d := range prev {
		byID[d.EventID] = d
	}
	for _, ev := range events {
		byID[ev.ID] = model.Driver{
			EventID:      ev.ID,
			Title:        ev.Title,
			OccurredAt:   ev.OccurredAt,
			Weight:       ev.Weight(),
			EvidenceURLs: model.FilterEvidenceURLs(ev.EvidenceURLs, model.MaxPersistedURLs),
		}
	}
	halfLife := a.tuning.TensionHalfLife.Seconds()
	score := func(d model.Driver) float64 {
		return d.Weight * decay.Decay(1, math.Max(0, now.Sub(d.OccurredAt).Seconds()), halfLife)
	}
	out := make([]model.Driver, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	slices.SortFunc(out, func(x, y model.Driver) int {
		if c := cmp.Compare(score(y), score(x)); c != 0 {
			return c
		}
		if c := y.OccurredAt.Compare(x.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(x.EventID, y.EventID)
	})
	if len(out) > a.tuning.MaxDrivers {
		out = out[:a.tuning.MaxDrivers]
	}
	return out
}

// unconsumed drops events already folded into a state whose watermark is
// lastSeq. Events without a sequence (never stored) are always kept.
func unconsumed(events []model.ConflictEvent, lastSeq int64) []model.ConflictEvent {
	if lastSeq == 0 {
		return events
	}
	return slices.DeleteFunc(slices.Clone(events), func(ev model.ConflictEvent) bool {
		return ev.IngestSeq != 0 && ev.IngestSeq <= lastSeq
	})
}

// splitValid separates foldable events from those failing validation. The
// rejected ones are keyed by event ID. maxSeq covers both, so a watermark
// built from it moves past rejected events too.
func splitValid(events []model.ConflictEvent) (valid []model.ConflictEvent, rejected []ItemFailure, maxSeq int64) {
	valid = make([]model.ConflictEvent, 0, len(events))
	for _, ev := range events {
		maxSeq = max(maxSeq, ev.IngestSeq)
		if err := ev.Validate(); err != nil {
			key := ev.ID
			if key == "" {
				key = fmt.Sprintf("event#%d", ev.IngestSeq)
			}
			rejected = append(rejected, ItemFailure{Key: key, Error: err.Error()})
			continue
		}
		valid = append(valid, ev)
	}
	return valid, rejected, maxSeq
}

// sortedUnique orders events chronologically (ties by ID) and drops repeated IDs.
func sortedUnique(events []model.ConflictEvent) []model.ConflictEvent {
	out := slices.Clone(events)
	slices.SortFunc(out, func(x, y model.ConflictEvent) int {
		if c := x.OccurredAt.Compare(y.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return slices.CompactFunc(out, func(x, y model.ConflictEvent) bool { return x.ID == y.ID })
}

// active reports whether a conflict with no new events still needs a decay
// pass this tick.
func (a *Aggregator) active(prev *model.ConflictStateLive, now time.Time) bool {
	if prev == nil {
		return false
	}
	if prev.Tension > a.tuning.DormantFloor || prev.Heat > a.tuning.DormantFloor {
		return true
	}
	return prev.LastEventAt != nil && now.Sub(*prev.LastEventAt) <= a.tuning.StalenessWindow
}

type stepOutcome int

const (
	outcomeSkipped stepOutcome = iota
	outcomeCreated
	outcomeUpdated
)

// Run aggregates every conflict with activity. Per-conflict errors are
// recorded on the returned stats and never abort the batch. Theatre ranks are
// assigned only after every conflict row of the tick has been written.
func (a *Aggregator) Run(ctx context.Context, now time.Time) *PhaseStats {
	stats := newPhase(PhaseConflicts)
	stats.Ran = true

	cores, err := a.store.ListConflictCores(ctx)
	if err != nil {
		stats.fail(fmt.Errorf("list conflict cores: %w", err))
		return stats
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, core := range cores {
		g.Go(func() error {
			if gctx.Err() != nil {
				stats.itemFailed(core.ID, gctx.Err())
				return nil
			}
			outcome, rejected, err := a.updateOne(gctx, core, now)
			for _, f := range rejected {
				a.logger.Warn("cce: event rejected", "conflict_id", core.ID, "event_id", f.Key, "error", f.Error)
				stats.itemFailed(f.Key, errors.New(f.Error))
			}
			if err != nil {
				a.logger.Warn("cce: conflict update failed", "conflict_id", core.ID, "error", err)
				stats.itemFailed(core.ID, err)
				return nil
			}
			stats.count(func(p *PhaseStats) {
				switch outcome {
				case outcomeCreated:
					p.Processed++
					p.Created++
				case outcomeUpdated:
					p.Processed++
					p.Updated++
				default:
					p.Skipped++
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		stats.fail(fmt.Errorf("conflict aggregation interrupted: %w", err))
		return stats
	}
	if err := a.assignTheatreRanks(ctx, cores); err != nil {
		a.logger.Error("cce: theatre rank assignment failed", "error", err)
		stats.itemFailed("theatre_ranks", err)
	}
	return stats
}

func (a *Aggregator) updateOne(ctx context.Context, core model.ConflictCore, now time.Time) (stepOutcome, []ItemFailure, error) {
	if a.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.itemTimeout)
		defer cancel()
	}

	var prev *model.ConflictStateLive
	s, err := a.store.GetConflictState(ctx, core.ID)
	switch {
	case err == nil:
		prev = &s
	case errors.Is(err, ErrNotFound):
	default:
		return outcomeSkipped, nil, fmt.Errorf("get state: %w", err)
	}

	// New events are selected by ingest order, so a backdated report that
	// arrives after newer ones is still folded. A conflict seen for the first
	// time only looks back over the staleness window.
	var afterSeq int64
	notBefore := now.Add(-a.tuning.StalenessWindow)
	if prev != nil {
		afterSeq = prev.LastIngestSeq
		notBefore = time.Time{}
	}
	events, err := a.store.ListEventsAfter(ctx, core.ID, afterSeq, notBefore)
	if err != nil {
		return outcomeSkipped, nil, fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 && !a.active(prev, now) {
		return outcomeSkipped, nil, nil
	}

	valid, rejected, maxSeq := splitValid(events)
	next, err := a.Step(prev, core, valid, now)
	if err != nil {
		return outcomeSkipped, rejected, err
	}
	next.LastIngestSeq = max(next.LastIngestSeq, maxSeq)
	if err := ctx.Err(); err != nil {
		return outcomeSkipped, rejected, fmt.Errorf("conflict %s: %w", core.ID, err)
	}
	if err := a.store.UpsertConflictState(ctx, next); err != nil {
		return outcomeSkipped, rejected, fmt.Errorf("upsert state: %w", err)
	}
	if prev == nil {
		return outcomeCreated, rejected, nil
	}
	return outcomeUpdated, rejected, nil
}

// assignTheatreRanks orders conflicts by tension within each theatre and
// writes the 1-based rank for every row whose rank changed.
func (a *Aggregator) assignTheatreRanks(ctx context.Context, cores []model.ConflictCore) error {
	states, err := a.store.ListConflictStates(ctx)
	if err != nil {
		return fmt.Errorf("list states: %w", err)
	}
	theatreOf := make(map[string]string, len(cores))
	for _, c := range cores {
		theatreOf[c.ID] = c.Theatre
	}
	byTheatre := make(map[string][]model.ConflictStateLive)
	for _, s := range states {
		th, ok := theatreOf[s.ConflictID]
		if !ok {
			continue
		}
		byTheatre[th] = append(byTheatre[th], s)
	}
	ranks := make(map[string]int)
	for _, group := range byTheatre {
		slices.SortFunc(group, byTensionDesc)
		for i, s := range group {
			if s.TheatreRank == nil || *s.TheatreRank != i+1 {
				ranks[s.ConflictID] = i + 1
			}
		}
	}
	if len(ranks) == 0 {
		return nil
	}
	return a.store.UpdateTheatreRanks(ctx, ranks)
}

func byTensionDesc(x, y model.ConflictStateLive) int {
	if c := cmp.Compare(y.Tension, x.Tension); c != 0 {
		return c
	}
	return cmp.Compare(x.ConflictID, y.ConflictID)
}
