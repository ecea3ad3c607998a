package cce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/telemetry"
)

// RunOptions override Config for one cycle. Nil fields use the configured
// value.
type RunOptions struct {
	MinTension *float64
	MaxAge     *time.Duration
	V2Enabled  *bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithTickHook registers fn to run after every completed cycle, in the
// cycle's goroutine.
func WithTickHook(fn func(*TickResult)) EngineOption {
	return func(e *Engine) { e.hooks = append(e.hooks, fn) }
}

// Engine runs update cycles against a Store.
type Engine struct {
	cfg    Config
	store  Store
	ref    ReferenceData
	logger *slog.Logger
	now    func() time.Time
	hooks  []func(*TickResult)

	materializer *Materializer
	aggregator   *Aggregator
	edges        *EdgeDeriver
	theatres     *TheatreAggregator
	alliances    *AllianceAggregator
	fronts       *FrontAggregator

	sf       singleflight.Group
	lastTick atomic.Pointer[TickResult]

	tracer  trace.Tracer
	metrics telemetry.TickInstruments
}

// NewEngine validates cfg and wires every phase to store and ref. ref may be
// nil, in which case the alliance and front phases report configuration
// errors.
func NewEngine(store Store, ref ReferenceData, cfg Config, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("cce: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cce: invalid config: %w", err)
	}
	e := &Engine{
		cfg:    cfg,
		store:  store,
		ref:    ref,
		logger: slog.Default(),
		now:    time.Now,
		tracer: otel.Tracer(telemetry.ScopeCCE),
	}
	for _, opt := range opts {
		opt(e)
	}

	t := cfg.Tuning
	e.materializer = NewMaterializer(store, ref, t, cfg.IngestBatch, e.logger)
	e.aggregator = NewAggregator(store, t, cfg.Workers, cfg.ItemTimeout, e.logger)
	e.edges = NewEdgeDeriver(store, t, e.logger)
	e.theatres = NewTheatreAggregator(store, t, e.logger)
	e.alliances = NewAllianceAggregator(store, ref, t, e.logger)
	e.fronts = NewFrontAggregator(store, ref, t, e.logger)

	e.metrics = telemetry.NewTickInstruments(telemetry.Meter(telemetry.ScopeCCE))
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// LastTick returns the most recent completed cycle, or nil.
func (e *Engine) LastTick() *TickResult { return e.lastTick.Load() }

// RunUpdateCycle runs one full tick. It returns an error only when the cycle
// cannot start (tick lock busy, store unreachable); phase and item failures
// are reported in the result. Concurrent callers in the same process share
// one cycle.
func (e *Engine) RunUpdateCycle(ctx context.Context, opts RunOptions) (*TickResult, error) {
	if !e.cfg.Flags.Enabled {
		return &TickResult{
			TickID:    uuid.New(),
			StartedAt: e.now(),
			Disabled:  true,
			Reason:    "cce disabled by configuration",
			Phases:    map[string]*PhaseStats{},
		}, nil
	}
	v, err, _ := e.sf.Do("tick", func() (any, error) {
		return e.runCycle(ctx, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TickResult), nil
}

func (e *Engine) runCycle(ctx context.Context, opts RunOptions) (*TickResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.TickTimeout)
	defer cancel()

	release, err := e.store.AcquireTickLock(ctx)
	if err != nil {
		if errors.Is(err, ErrTickInProgress) {
			return nil, err
		}
		return nil, fmt.Errorf("cce: acquire tick lock: %w", err)
	}
	defer release()

	edgeOpts := EdgeOptions{MinTension: e.cfg.MinTension, MaxAge: e.cfg.MaxAge}
	if opts.MinTension != nil {
		edgeOpts.MinTension = *opts.MinTension
	}
	if opts.MaxAge != nil {
		edgeOpts.MaxAge = *opts.MaxAge
	}
	v2 := e.cfg.Flags.V2Enabled
	if opts.V2Enabled != nil {
		v2 = *opts.V2Enabled
	}

	res := &TickResult{
		TickID:    uuid.New(),
		StartedAt: e.now(),
		Phases:    make(map[string]*PhaseStats, len(PhaseOrder)),
	}
	ctx, span := e.tracer.Start(ctx, "cce.tick", trace.WithAttributes(
		attribute.String("cce.tick_id", res.TickID.String()),
		attribute.Bool("cce.v2_enabled", v2),
	))
	defer span.End()

	phases := map[string]func(context.Context, time.Time) *PhaseStats{
		PhaseIngest:    e.materializer.Run,
		PhaseConflicts: e.aggregator.Run,
		PhaseEdges: func(ctx context.Context, now time.Time) *PhaseStats {
			return e.edges.Run(ctx, edgeOpts, now)
		},
		PhaseTheatres:  e.theatres.Run,
		PhaseAlliances: e.alliances.Run,
		PhaseFronts:    e.fronts.Run,
	}

	var skipReason string
	for _, name := range PhaseOrder {
		if skipReason == "" && ctx.Err() != nil {
			skipReason = SkipCancelled
		}
		if skipReason != "" {
			res.Phases[name] = &PhaseStats{Name: name, SkipReason: skipReason}
			continue
		}
		if !v2 && (name == PhaseTheatres || name == PhaseAlliances || name == PhaseFronts) {
			res.Phases[name] = &PhaseStats{Name: name, SkipReason: SkipV2Disabled}
			continue
		}

		stats := e.runPhase(ctx, name, phases[name])
		res.Phases[name] = stats

		if name == PhaseConflicts {
			if stats.HardFailed() {
				skipReason = SkipDependencyFailed
				continue
			}
			res.World = e.rollupWorld(ctx)
		}
	}

	edges := res.Phases[PhaseEdges]
	res.Created, res.Updated, res.Skipped = edges.Created, edges.Updated, edges.Skipped
	res.Success = true
	for _, p := range res.Phases {
		if p.HardFailed() || p.Failed > 0 || p.SkipReason == SkipDependencyFailed || p.SkipReason == SkipCancelled {
			res.Success = false
		}
	}
	res.FinishedAt = e.now()
	e.lastTick.Store(res)

	outcome := "success"
	if !res.Success {
		outcome = "partial"
		span.SetStatus(codes.Error, "tick completed with failures")
	}
	e.metrics.TickCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	e.metrics.TickDuration.Record(ctx, float64(res.FinishedAt.Sub(res.StartedAt).Milliseconds()))
	e.metrics.EdgesWritten.Add(ctx, int64(res.Created+res.Updated))

	e.logger.Info("cce: tick complete",
		"tick_id", res.TickID,
		"success", res.Success,
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	)
	e.notify(ctx, res)
	for _, fn := range e.hooks {
		fn(res)
	}
	return res, nil
}

func (e *Engine) runPhase(ctx context.Context, name string, fn func(context.Context, time.Time) *PhaseStats) *PhaseStats {
	ctx, span := e.tracer.Start(ctx, "cce.phase."+name)
	defer span.End()

	start := time.Now()
	stats := fn(ctx, e.now())
	stats.DurationMS = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Int("cce.processed", stats.Processed),
		attribute.Int("cce.skipped", stats.Skipped),
		attribute.Int("cce.failed", stats.Failed),
	)
	failures := int64(stats.Failed)
	if stats.HardFailed() {
		failures++
		span.SetStatus(codes.Error, stats.Error)
		e.logger.Error("cce: phase failed", "phase", name, "error", stats.Error)
	}
	if failures > 0 {
		e.metrics.PhaseFailures.Add(ctx, failures, metric.WithAttributes(attribute.String("phase", name)))
	}
	return stats
}

// rollupWorld recomputes and saves the world state. Failure here is logged
// and leaves the previous world state in place.
func (e *Engine) rollupWorld(ctx context.Context) *model.WorldState {
	cores, err := e.store.ListConflictCores(ctx)
	if err != nil {
		e.logger.Error("cce: world rollup: list cores", "error", err)
		return nil
	}
	states, err := e.store.ListConflictStates(ctx)
	if err != nil {
		e.logger.Error("cce: world rollup: list states", "error", err)
		return nil
	}
	w := ComputeWorldState(e.cfg.Tuning, cores, states, e.now())
	if err := e.store.SaveWorldState(ctx, w); err != nil {
		e.logger.Error("cce: world rollup: save", "error", err)
	}
	return &w
}

func (e *Engine) notify(ctx context.Context, res *TickResult) {
	n, ok := e.store.(TickNotifier)
	if !ok {
		return
	}
	payload, err := res.Summary()
	if err != nil {
		return
	}
	// The tick context may already be near its deadline.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := n.NotifyTick(nctx, payload); err != nil {
		e.logger.Warn("cce: tick notify failed", "error", err)
	}
}
