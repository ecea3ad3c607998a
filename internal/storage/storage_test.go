package storage_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/storage"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/testutil"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/migrations"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	ctx := context.Background()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	code := m.Run()
	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

// uniqueActor returns an actor code no other test uses.
func uniqueActor(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func newCore(t *testing.T, a, b string) model.ConflictCore {
	t.Helper()
	c, created, err := testDB.EnsureConflictCore(context.Background(), model.ConflictCore{
		ID: uuid.NewString(), ActorA: a, ActorB: b, Theatre: "europe",
		Importance: 0.5, BaseHostility: 0.3, CreatedAt: epoch, UpdatedAt: epoch,
	})
	require.NoError(t, err)
	require.True(t, created)
	return c
}

func TestRunMigrations_Idempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}

func TestSignals_PendingAndMark(t *testing.T) {
	ctx := context.Background()
	id := uuid.NewString()
	sig := model.RawSignal{ID: id, ActorA: "USA", ActorB: "RUS", Severity: 0.5, Confidence: 0.5, OccurredAt: epoch}

	inserted, err := testDB.InsertSignal(ctx, sig)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = testDB.InsertSignal(ctx, sig)
	require.NoError(t, err)
	assert.False(t, inserted)

	pending, err := testDB.ListPendingSignals(ctx, 500)
	require.NoError(t, err)
	assert.True(t, containsSignal(pending, id))
	for _, p := range pending {
		if p.ID == id {
			assert.Empty(t, p.EvidenceURLs)
		}
	}

	require.NoError(t, testDB.MarkSignalMaterialized(ctx, id, "", epoch))
	pending, err = testDB.ListPendingSignals(ctx, 500)
	require.NoError(t, err)
	assert.False(t, containsSignal(pending, id))

	assert.ErrorIs(t, testDB.MarkSignalMaterialized(ctx, "missing", "", epoch), cce.ErrNotFound)
}

func containsSignal(signals []model.RawSignal, id string) bool {
	for _, s := range signals {
		if s.ID == id {
			return true
		}
	}
	return false
}

func TestConflictCore_EnsureIsPairUnique(t *testing.T) {
	ctx := context.Background()
	a, b := uniqueActor("A"), uniqueActor("B")
	first := newCore(t, b, a)
	wantA, wantB := model.CanonicalPair(a, b)
	assert.Equal(t, wantA, first.ActorA)
	assert.Equal(t, wantB, first.ActorB)

	again, created, err := testDB.EnsureConflictCore(ctx, model.ConflictCore{
		ID: uuid.NewString(), ActorA: a, ActorB: b, Theatre: "other", Importance: 0.9, CreatedAt: epoch, UpdatedAt: epoch,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "europe", again.Theatre)
}

func TestConflictCore_UpsertKeepsID(t *testing.T) {
	ctx := context.Background()
	a, b := uniqueActor("A"), uniqueActor("B")
	first := newCore(t, a, b)

	updated, err := testDB.UpsertConflictCore(ctx, model.ConflictCore{
		ID: uuid.NewString(), ActorA: b, ActorB: a, Theatre: "pacific",
		Importance: 0.9, BaseHostility: 0.7, CreatedAt: epoch, UpdatedAt: epoch.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, updated.ID)
	assert.Equal(t, "pacific", updated.Theatre)
	assert.Equal(t, 0.9, updated.Importance)

	cores, err := testDB.ListConflictCores(ctx)
	require.NoError(t, err)
	var n int
	for _, c := range cores {
		if c.ID == first.ID {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestConflictEvents_InsertAndListAfter(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, uniqueActor("A"), uniqueActor("B"))
	mk := func(id string, at time.Time) model.ConflictEvent {
		return model.ConflictEvent{ID: id, ConflictID: c.ID, OccurredAt: at, CreatedAt: at, Severity: 0.5, Confidence: 0.5}
	}
	e1, e2, e3 := uuid.NewString(), uuid.NewString(), uuid.NewString()
	for _, e := range []model.ConflictEvent{mk(e2, epoch.Add(2*time.Hour)), mk(e1, epoch.Add(time.Hour)), mk(e3, epoch)} {
		inserted, err := testDB.InsertConflictEvent(ctx, e)
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	inserted, err := testDB.InsertConflictEvent(ctx, mk(e1, epoch))
	require.NoError(t, err)
	assert.False(t, inserted)

	// Strictly after notBefore, chronological.
	events, err := testDB.ListEventsAfter(ctx, c.ID, 0, epoch)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, e1, events[0].ID)
	assert.Equal(t, e2, events[1].ID)
	assert.Less(t, events[1].IngestSeq, events[0].IngestSeq, "e2 was inserted first")

	// e3 is the oldest by occurred_at but was inserted after e1.
	late, err := testDB.ListEventsAfter(ctx, c.ID, events[0].IngestSeq, time.Time{})
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.Equal(t, e3, late[0].ID)

	none, err := testDB.ListEventsForConflictsAfter(ctx, nil, 0, epoch)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConflictState_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, uniqueActor("A"), uniqueActor("B"))

	_, err := testDB.GetConflictState(ctx, c.ID)
	assert.ErrorIs(t, err, cce.ErrNotFound)

	last := epoch.Add(-time.Hour)
	s := model.ConflictStateLive{
		ConflictID: c.ID, Tension: 0.4, Heat: 0.2, Velocity: -0.1, Momentum: 0.05,
		Pressure: 0.3, Instability: 0.1, LastEventAt: &last, UpdatedAt: epoch,
		TopDrivers:    []model.Driver{{EventID: "e1", OccurredAt: last, Weight: 0.3, EvidenceURLs: []string{"https://news.example.com/a"}}},
		LastIngestSeq: 42,
	}
	require.NoError(t, testDB.UpsertConflictState(ctx, s))
	require.NoError(t, testDB.UpdateTheatreRanks(ctx, map[string]int{c.ID: 3, "no-such-conflict": 1}))

	got, err := testDB.GetConflictState(ctx, c.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, got.Tension, 1e-12)
	assert.InDelta(t, -0.1, got.Velocity, 1e-12)
	require.NotNil(t, got.TheatreRank)
	assert.Equal(t, 3, *got.TheatreRank)
	require.NotNil(t, got.LastEventAt)
	assert.True(t, got.LastEventAt.Equal(last))
	require.Len(t, got.TopDrivers, 1)
	assert.Equal(t, "e1", got.TopDrivers[0].EventID)
	assert.Equal(t, int64(42), got.LastIngestSeq)

	// Overwrite with no drivers stores an empty list, never null.
	s.TopDrivers = nil
	s.TheatreRank = nil
	require.NoError(t, testDB.UpsertConflictState(ctx, s))
	got, err = testDB.GetConflictState(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TopDrivers)
	assert.Nil(t, got.TheatreRank)
}

func TestRelationEdges(t *testing.T) {
	ctx := context.Background()
	a, b := model.CanonicalPair(uniqueActor("A"), uniqueActor("B"))

	_, err := testDB.GetRelationEdge(ctx, a, b, model.RelationHostile)
	assert.ErrorIs(t, err, cce.ErrNotFound)

	e := model.RelationEdge{
		ID: uuid.NewString(), EntityA: a, EntityB: b, RelationType: model.RelationHostile,
		RelationStrength: 0.6, Confidence: 0.8, LastUpdatedAt: epoch, Source: model.SourceCCEDerived,
	}
	require.NoError(t, testDB.InsertRelationEdge(ctx, e))

	dup := e
	dup.ID = uuid.NewString()
	assert.Error(t, testDB.InsertRelationEdge(ctx, dup))

	e.RelationStrength = 0.3
	e.EvidenceURLs = []string{"https://news.example.com/1"}
	require.NoError(t, testDB.UpdateRelationEdge(ctx, e))

	got, err := testDB.GetRelationEdge(ctx, a, b, model.RelationHostile)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.InDelta(t, 0.3, got.RelationStrength, 1e-12)
	assert.Equal(t, e.EvidenceURLs, got.EvidenceURLs)
	assert.Empty(t, got.EvidenceEventIDs)

	touching, err := testDB.ListRelationEdges(ctx, b)
	require.NoError(t, err)
	require.Len(t, touching, 1)

	missing := e
	missing.ID = uuid.NewString()
	assert.ErrorIs(t, testDB.UpdateRelationEdge(ctx, missing), cce.ErrNotFound)
}

func TestTheatreStates_Replace(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.ReplaceTheatreStates(ctx, []model.TheatreStateLive{
		{Theatre: "europe", Tension: 0.5, ConflictCount: 2, DominantActors: []string{"RUS", "UKR"}, UpdatedAt: epoch},
		{Theatre: "pacific", Tension: 0.2, ConflictCount: 1, UpdatedAt: epoch},
	}))
	require.NoError(t, testDB.ReplaceTheatreStates(ctx, []model.TheatreStateLive{
		{Theatre: "mena", Tension: 0.3, ConflictCount: 1, ActiveFronts: []string{"f1"}, UpdatedAt: epoch},
	}))

	got, err := testDB.ListTheatreStates(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mena", got[0].Theatre)
	assert.Equal(t, []string{"f1"}, got[0].ActiveFronts)
	assert.Empty(t, got[0].DominantActors)
}

func TestAlliancePressure_Upsert(t *testing.T) {
	ctx := context.Background()
	id := uuid.NewString()
	p := model.AlliancePressureLive{AllianceID: id, Name: "NATO", Members: []string{"POL", "USA"}, Pressure: 0.4, ConflictCount: 2, UpdatedAt: epoch}
	require.NoError(t, testDB.UpsertAlliancePressure(ctx, p))
	p.Pressure = 0.6
	p.TopConflicts = []string{"c1"}
	require.NoError(t, testDB.UpsertAlliancePressure(ctx, p))

	all, err := testDB.ListAlliancePressures(ctx)
	require.NoError(t, err)
	var found bool
	for _, got := range all {
		if got.AllianceID == id {
			found = true
			assert.InDelta(t, 0.6, got.Pressure, 1e-12)
			assert.Equal(t, []string{"c1"}, got.TopConflicts)
		}
	}
	assert.True(t, found)
}

func TestFrontLine_RoundTrip(t *testing.T) {
	ctx := context.Background()
	id := uuid.NewString()
	_, err := testDB.GetFrontLine(ctx, id)
	assert.ErrorIs(t, err, cce.ErrNotFound)

	f := model.FrontLineState{
		FrontID: id, Theatre: "europe", Name: "East", Actors: []string{"RUS", "UKR"},
		Control: map[string]float64{"RUS": 0.3, "UKR": 0.7}, Intensity: 0.4, UpdatedAt: epoch,
		LastIngestSeq: 9,
	}
	require.NoError(t, testDB.UpsertFrontLine(ctx, f))
	got, err := testDB.GetFrontLine(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, f.Control, got.Control)
	assert.Equal(t, int64(9), got.LastIngestSeq)
	assert.Empty(t, got.BaseControl)
	assert.Nil(t, got.LastEventAt)
}

func TestWorldState_SaveLoad(t *testing.T) {
	ctx := context.Background()
	w := model.WorldState{
		GlobalTension: 0.4, PeakPressure: 0.7, AlertLevel: model.AlertHigh, ConflictCount: 3,
		Hotspots:   []string{"c1"},
		Countries:  map[string]model.CountryStatus{"RUS": {Pressure: 0.7, Conflicts: 2, Status: model.CountryCritical}},
		ComputedAt: epoch,
	}
	require.NoError(t, testDB.SaveWorldState(ctx, w))
	got, err := testDB.LoadWorldState(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.AlertHigh, got.AlertLevel)
	assert.Equal(t, w.Countries, got.Countries)
}

func TestTickLock_Exclusive(t *testing.T) {
	ctx := context.Background()
	release, err := testDB.AcquireTickLock(ctx)
	require.NoError(t, err)

	_, err = testDB.AcquireTickLock(ctx)
	assert.ErrorIs(t, err, cce.ErrTickInProgress)

	release()
	release() // idempotent

	again, err := testDB.AcquireTickLock(ctx)
	require.NoError(t, err)
	again()
}

func TestNotifyTick(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, testDB.Listen(ctx, storage.ChannelTicks))

	payload, err := json.Marshal(map[string]any{"success": true})
	require.NoError(t, err)
	require.NoError(t, testDB.NotifyTick(ctx, string(payload)))

	channel, got, err := testDB.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.ChannelTicks, channel)
	assert.JSONEq(t, string(payload), got)
}

func TestEngine_TickAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	a, b := uniqueActor("A"), uniqueActor("B")
	sigID := uuid.NewString()
	_, err := testDB.InsertSignal(ctx, model.RawSignal{
		ID: sigID, ActorA: a, ActorB: b, Actor: a, Theatre: "europe", Title: "Clash",
		Severity: 0.9, Confidence: 0.9, OccurredAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	cfg := cce.DefaultConfig()
	cfg.Flags.V2Enabled = false
	engine, err := cce.NewEngine(testDB, nil, cfg, cce.WithLogger(testutil.TestLogger()))
	require.NoError(t, err)

	res, err := engine.RunUpdateCycle(ctx, cce.RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Phases[cce.PhaseIngest].Error)
	assert.Empty(t, res.Phases[cce.PhaseConflicts].Error)
	require.NotNil(t, res.World)

	ca, cb := model.CanonicalPair(a, b)
	edge, err := testDB.GetRelationEdge(ctx, ca, cb, model.RelationHostile)
	require.NoError(t, err)
	assert.Greater(t, edge.RelationStrength, 0.0)
	assert.Equal(t, []string{sigID}, edge.EvidenceEventIDs)
}
