package cce_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/storage/memstore"
)

func testRef() staticRef {
	return staticRef{
		conflicts: []model.ConflictCore{{ActorA: "UKR", ActorB: "RUS", Theatre: "europe", Importance: 0.9, BaseHostility: 0.8}},
		alliances: []model.Alliance{{ID: "nato", Name: "NATO", Members: map[string]float64{"USA": 1, "POL": 0.8}}},
		fronts:    []model.Front{{ID: "east", Theatre: "europe", Name: "East", Actors: []string{"RUS", "UKR"}, BaseControl: map[string]float64{"RUS": 0.2, "UKR": 0.8}}},
	}
}

func seedSignals(store *memstore.Store) {
	store.AddSignal(model.RawSignal{ID: "s1", ActorA: "rus", ActorB: "ukr", Actor: "RUS", Theatre: "europe", Title: "Shelling", Severity: 0.9, Confidence: 0.8, OccurredAt: epoch.Add(-2 * time.Hour), EvidenceURLs: []string{"https://news.example.com/1"}})
	store.AddSignal(model.RawSignal{ID: "s2", ActorA: "USA", ActorB: "RUS", Theatre: "europe", Title: "Sanctions", Severity: 0.6, Confidence: 0.9, OccurredAt: epoch.Add(-time.Hour)})
	store.AddSignal(model.RawSignal{ID: "s3", ActorA: "USA", ActorB: "usa", Severity: 0.5, Confidence: 0.5, OccurredAt: epoch})
}

func newEngine(t *testing.T, store cce.Store, ref cce.ReferenceData, mutate func(*cce.Config)) *cce.Engine {
	t.Helper()
	cfg := cce.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := cce.NewEngine(store, ref, cfg, cce.WithLogger(discardLogger()), cce.WithClock(func() time.Time { return epoch }))
	require.NoError(t, err)
	return e
}

func TestRunUpdateCycle_FullTick(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedSignals(store)
	e := newEngine(t, store, testRef(), nil)

	res, err := e.RunUpdateCycle(ctx, cce.RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, res)

	for _, name := range cce.PhaseOrder {
		p := res.Phases[name]
		require.NotNil(t, p, name)
		assert.True(t, p.Ran, name)
		assert.Empty(t, p.Error, name)
	}
	// s3 is a self-conflict and is rejected.
	ingest := res.Phases[cce.PhaseIngest]
	assert.Equal(t, 2, ingest.Created)
	assert.Equal(t, 1, ingest.Failed)
	done, note := store.SignalNote("s3")
	assert.True(t, done)
	assert.NotEmpty(t, note)
	assert.False(t, res.Success)

	// The seeded RUS-UKR core absorbed signal s1 rather than a new core.
	cores, err := store.ListConflictCores(ctx)
	require.NoError(t, err)
	assert.Len(t, cores, 2)

	assert.Equal(t, 2, res.Phases[cce.PhaseConflicts].Created)
	assert.Equal(t, 2, res.Created)
	require.NotNil(t, res.World)
	assert.Equal(t, 2, res.World.ConflictCount)

	theatres, err := store.ListTheatreStates(ctx)
	require.NoError(t, err)
	require.Len(t, theatres, 1)
	assert.Equal(t, "europe", theatres[0].Theatre)

	alliances, err := store.ListAlliancePressures(ctx)
	require.NoError(t, err)
	require.Len(t, alliances, 1)
	assert.Greater(t, alliances[0].Pressure, 0.0)

	front, err := store.GetFrontLine(ctx, "east")
	require.NoError(t, err)
	assert.Greater(t, front.Control["RUS"], 0.2)
	assert.InDelta(t, 1.0, front.Control["RUS"]+front.Control["UKR"], 1e-9)

	world, err := store.LoadWorldState(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.World.AlertLevel, world.AlertLevel)

	assert.Len(t, store.Notices(), 1)
	assert.Same(t, res, e.LastTick())
}

func TestRunUpdateCycle_IdempotentReentry(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedSignals(store)
	e := newEngine(t, store, testRef(), nil)

	_, err := e.RunUpdateCycle(ctx, cce.RunOptions{})
	require.NoError(t, err)
	before, err := store.ListConflictStates(ctx)
	require.NoError(t, err)

	res, err := e.RunUpdateCycle(ctx, cce.RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Phases[cce.PhaseIngest].Created)
	assert.Zero(t, res.Created)

	after, err := store.ListConflictStates(ctx)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.InDelta(t, before[i].Tension, after[i].Tension, 1e-9)
		assert.InDelta(t, before[i].Heat, after[i].Heat, 1e-9)
		assert.InDelta(t, before[i].Pressure, after[i].Pressure, 1e-9)
	}
}

func TestRunUpdateCycle_Disabled(t *testing.T) {
	store := memstore.New()
	store.InjectError("AcquireTickLock", errors.New("store must not be touched"))
	e := newEngine(t, store, nil, func(c *cce.Config) { c.Flags.Enabled = false })

	res, err := e.RunUpdateCycle(context.Background(), cce.RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Disabled)
	assert.NotEmpty(t, res.Reason)
	assert.Empty(t, res.Phases)
}

func TestRunUpdateCycle_V2DisabledSkipsExtendedPhases(t *testing.T) {
	store := memstore.New()
	seedSignals(store)
	e := newEngine(t, store, testRef(), func(c *cce.Config) { c.Flags.V2Enabled = false })

	res, err := e.RunUpdateCycle(context.Background(), cce.RunOptions{})
	require.NoError(t, err)
	for _, name := range []string{cce.PhaseTheatres, cce.PhaseAlliances, cce.PhaseFronts} {
		assert.False(t, res.Phases[name].Ran, name)
		assert.Equal(t, cce.SkipV2Disabled, res.Phases[name].SkipReason, name)
	}
	assert.True(t, res.Phases[cce.PhaseEdges].Ran)

	// A per-call override turns them back on.
	res, err = e.RunUpdateCycle(context.Background(), cce.RunOptions{V2Enabled: ptr(true)})
	require.NoError(t, err)
	assert.True(t, res.Phases[cce.PhaseFronts].Ran)
}

func TestRunUpdateCycle_ConflictPhaseFailureShortCircuits(t *testing.T) {
	store := memstore.New()
	seedSignals(store)
	store.InjectError("ListConflictCores", errors.New("relation does not exist"))
	e := newEngine(t, store, testRef(), nil)

	res, err := e.RunUpdateCycle(context.Background(), cce.RunOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Phases[cce.PhaseIngest].Ran)
	assert.True(t, res.Phases[cce.PhaseConflicts].HardFailed())
	for _, name := range []string{cce.PhaseEdges, cce.PhaseTheatres, cce.PhaseAlliances, cce.PhaseFronts} {
		assert.False(t, res.Phases[name].Ran, name)
		assert.Equal(t, cce.SkipDependencyFailed, res.Phases[name].SkipReason, name)
	}
	assert.Nil(t, res.World)
}

func TestRunUpdateCycle_IndependentPhaseFailureDoesNotBlock(t *testing.T) {
	store := memstore.New()
	seedSignals(store)
	ref := testRef()
	ref.alliances = nil
	e := newEngine(t, store, ref, nil)

	res, err := e.RunUpdateCycle(context.Background(), cce.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, cce.ErrNoAlliances.Error(), res.Phases[cce.PhaseAlliances].Error)
	assert.True(t, res.Phases[cce.PhaseFronts].Ran)
	assert.Empty(t, res.Phases[cce.PhaseFronts].Error)
}

func TestRunUpdateCycle_MinTensionOverride(t *testing.T) {
	store := memstore.New()
	seedSignals(store)
	e := newEngine(t, store, testRef(), nil)

	res, err := e.RunUpdateCycle(context.Background(), cce.RunOptions{MinTension: ptr(1.0)})
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 2, res.Skipped)
}

func TestRunUpdateCycle_LockBusy(t *testing.T) {
	store := memstore.New()
	release, err := store.AcquireTickLock(context.Background())
	require.NoError(t, err)
	defer release()

	e := newEngine(t, store, testRef(), nil)
	_, err = e.RunUpdateCycle(context.Background(), cce.RunOptions{})
	assert.ErrorIs(t, err, cce.ErrTickInProgress)
}

func TestRunUpdateCycle_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newEngine(t, memstore.New(), testRef(), nil)

	res, err := e.RunUpdateCycle(ctx, cce.RunOptions{})
	require.NoError(t, err)
	for _, name := range cce.PhaseOrder {
		assert.Equal(t, cce.SkipCancelled, res.Phases[name].SkipReason, name)
	}
	assert.False(t, res.Success)
}

func TestNewEngine_RejectsInvalidTuning(t *testing.T) {
	cfg := cce.DefaultConfig()
	cfg.Tuning.HeatHalfLife = cfg.Tuning.TensionHalfLife
	_, err := cce.NewEngine(memstore.New(), nil, cfg)
	assert.Error(t, err)
}

func TestRunUpdateCycle_TickHook(t *testing.T) {
	store := memstore.New()
	var got []*cce.TickResult
	e, err := cce.NewEngine(store, testRef(), cce.DefaultConfig(),
		cce.WithLogger(discardLogger()),
		cce.WithClock(func() time.Time { return epoch }),
		cce.WithTickHook(func(r *cce.TickResult) { got = append(got, r) }),
	)
	require.NoError(t, err)

	res, err := e.RunUpdateCycle(context.Background(), cce.RunOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Same(t, res, got[0])

	release, err := store.AcquireTickLock(context.Background())
	require.NoError(t, err)
	defer release()
	_, err = e.RunUpdateCycle(context.Background(), cce.RunOptions{})
	assert.ErrorIs(t, err, cce.ErrTickInProgress)
	assert.Len(t, got, 1, "hooks only run for completed cycles")
}
