package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cce.db"), time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ", 0, nil)
	assert.Error(t, err)
}

func TestOpen_ReopenSkipsAppliedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cce.db")
	s1, err := Open(path, 0, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path, 0, nil)
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Ping(context.Background()))
}

func TestSignals(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)

	for i, id := range []string{"s1", "s2"} {
		ok, err := s.InsertSignal(ctx, model.RawSignal{
			ID: id, ActorA: "USA", ActorB: "RUS", Severity: 0.5, Confidence: 0.5,
			OccurredAt: epoch, CreatedAt: epoch.Add(time.Duration(i) * time.Second),
			EvidenceURLs: []string{"https://news.example.com/" + id},
		})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := s.InsertSignal(ctx, model.RawSignal{ID: "s1", OccurredAt: epoch})
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := s.ListPendingSignals(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "s1", pending[0].ID)
	assert.True(t, pending[0].OccurredAt.Equal(epoch))
	assert.Equal(t, []string{"https://news.example.com/s1"}, pending[0].EvidenceURLs)

	require.NoError(t, s.MarkSignalMaterialized(ctx, "s1", "", epoch))
	pending, err = s.ListPendingSignals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "s2", pending[0].ID)

	assert.ErrorIs(t, s.MarkSignalMaterialized(ctx, "nope", "", epoch), cce.ErrNotFound)
}

func TestConflictCores(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)

	c, created, err := s.EnsureConflictCore(ctx, model.ConflictCore{ID: "c1", ActorA: "usa", ActorB: "RUS", Theatre: "europe", Importance: 0.5, CreatedAt: epoch, UpdatedAt: epoch})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "RUS", c.ActorA)
	assert.Equal(t, "USA", c.ActorB)

	again, created, err := s.EnsureConflictCore(ctx, model.ConflictCore{ID: "c2", ActorA: "RUS", ActorB: "USA", Theatre: "x", CreatedAt: epoch, UpdatedAt: epoch})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "c1", again.ID)

	up, err := s.UpsertConflictCore(ctx, model.ConflictCore{ID: "c3", ActorA: "USA", ActorB: "RUS", Theatre: "global", Importance: 0.9, BaseHostility: 0.6, CreatedAt: epoch, UpdatedAt: epoch})
	require.NoError(t, err)
	assert.Equal(t, "c1", up.ID)
	assert.Equal(t, 0.9, up.Importance)

	cores, err := s.ListConflictCores(ctx)
	require.NoError(t, err)
	require.Len(t, cores, 1)
	assert.Equal(t, "global", cores[0].Theatre)
}

func TestEventsAndStates(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	_, _, err := s.EnsureConflictCore(ctx, model.ConflictCore{ID: "c1", ActorA: "A", ActorB: "B", Theatre: "x", CreatedAt: epoch, UpdatedAt: epoch})
	require.NoError(t, err)

	for i, id := range []string{"e3", "e1", "e2"} {
		ok, err := s.InsertConflictEvent(ctx, model.ConflictEvent{ID: id, ConflictID: "c1", OccurredAt: epoch.Add(time.Duration(2-i) * time.Hour), CreatedAt: epoch, Severity: 0.5, Confidence: 0.5})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	events, err := s.ListEventsAfter(ctx, "c1", 0, epoch)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e3", events[1].ID)
	assert.Empty(t, events[0].EvidenceURLs)
	assert.Equal(t, int64(2), events[0].IngestSeq)
	assert.Equal(t, int64(1), events[1].IngestSeq)

	// e2 is the oldest by occurred_at but the last inserted.
	late, err := s.ListEventsAfter(ctx, "c1", 2, time.Time{})
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.Equal(t, "e2", late[0].ID)
	assert.Equal(t, int64(3), late[0].IngestSeq)

	_, err = s.GetConflictState(ctx, "c1")
	assert.ErrorIs(t, err, cce.ErrNotFound)

	last := epoch.Add(time.Hour)
	st := model.ConflictStateLive{ConflictID: "c1", Tension: 0.4, Momentum: -0.2, LastEventAt: &last, UpdatedAt: epoch,
		TopDrivers: []model.Driver{{EventID: "e1", OccurredAt: last, Weight: 0.25}}, LastIngestSeq: 3}
	require.NoError(t, s.UpsertConflictState(ctx, st))
	require.NoError(t, s.UpdateTheatreRanks(ctx, map[string]int{"c1": 1}))

	got, err := s.GetConflictState(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, -0.2, got.Momentum, 1e-12)
	require.NotNil(t, got.TheatreRank)
	assert.Equal(t, 1, *got.TheatreRank)
	require.NotNil(t, got.LastEventAt)
	assert.True(t, got.LastEventAt.Equal(last))
	require.Len(t, got.TopDrivers, 1)
	assert.Equal(t, int64(3), got.LastIngestSeq)
}

func TestRelationEdges(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	e := model.RelationEdge{ID: "r1", EntityA: "RUS", EntityB: "USA", RelationType: model.RelationHostile,
		RelationStrength: 0.5, Confidence: 0.8, LastUpdatedAt: epoch, Source: model.SourceCCEDerived}
	require.NoError(t, s.InsertRelationEdge(ctx, e))

	dup := e
	dup.ID = "r2"
	assert.Error(t, s.InsertRelationEdge(ctx, dup))

	e.IsMutual = true
	e.EvidenceEventIDs = []string{"e1"}
	require.NoError(t, s.UpdateRelationEdge(ctx, e))
	got, err := s.GetRelationEdge(ctx, "RUS", "USA", model.RelationHostile)
	require.NoError(t, err)
	assert.True(t, got.IsMutual)
	assert.Equal(t, []string{"e1"}, got.EvidenceEventIDs)
	assert.Nil(t, got.LastEventAt)

	list, err := s.ListRelationEdges(ctx, "usa")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = s.ListRelationEdges(ctx, "CHN")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRollups(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)

	require.NoError(t, s.ReplaceTheatreStates(ctx, []model.TheatreStateLive{{Theatre: "a", UpdatedAt: epoch}, {Theatre: "b", UpdatedAt: epoch}}))
	require.NoError(t, s.ReplaceTheatreStates(ctx, []model.TheatreStateLive{{Theatre: "c", DominantActors: []string{"X"}, UpdatedAt: epoch}}))
	theatres, err := s.ListTheatreStates(ctx)
	require.NoError(t, err)
	require.Len(t, theatres, 1)
	assert.Equal(t, []string{"X"}, theatres[0].DominantActors)

	require.NoError(t, s.UpsertAlliancePressure(ctx, model.AlliancePressureLive{AllianceID: "nato", Name: "NATO", Pressure: 0.3, UpdatedAt: epoch}))
	alliances, err := s.ListAlliancePressures(ctx)
	require.NoError(t, err)
	require.Len(t, alliances, 1)
	assert.Empty(t, alliances[0].Members)

	f := model.FrontLineState{FrontID: "east", Theatre: "europe", Name: "East", Actors: []string{"RUS", "UKR"},
		Control: map[string]float64{"RUS": 0.4, "UKR": 0.6}, Intensity: 0.2, UpdatedAt: epoch, LastIngestSeq: 7}
	require.NoError(t, s.UpsertFrontLine(ctx, f))
	gotFront, err := s.GetFrontLine(ctx, "east")
	require.NoError(t, err)
	assert.Equal(t, f.Control, gotFront.Control)
	assert.Equal(t, int64(7), gotFront.LastIngestSeq)
	assert.Equal(t, f.Actors, gotFront.Actors)

	_, err = s.LoadWorldState(ctx)
	assert.ErrorIs(t, err, cce.ErrNotFound)
	require.NoError(t, s.SaveWorldState(ctx, model.WorldState{AlertLevel: model.AlertElevated, ComputedAt: epoch}))
	w, err := s.LoadWorldState(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.AlertElevated, w.AlertLevel)
}

func TestTickLock(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)

	release, err := s.AcquireTickLock(ctx)
	require.NoError(t, err)
	_, err = s.AcquireTickLock(ctx)
	assert.ErrorIs(t, err, cce.ErrTickInProgress)
	release()

	again, err := s.AcquireTickLock(ctx)
	require.NoError(t, err)
	again()
}

func TestTickLock_ExpiredHolderIsReplaced(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	_, err := s.db.ExecContext(ctx, `INSERT INTO tick_lock (id, holder, expires_at) VALUES (1, 'dead', ?)`, ms(time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	release, err := s.AcquireTickLock(ctx)
	require.NoError(t, err)
	release()
}

func TestEngineRunsOnSQLite(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	now := time.Now()
	_, err := s.InsertSignal(ctx, model.RawSignal{ID: "s1", ActorA: "RUS", ActorB: "UKR", Actor: "RUS", Theatre: "europe",
		Severity: 0.8, Confidence: 0.9, OccurredAt: now.Add(-time.Hour)})
	require.NoError(t, err)

	engine, err := cce.NewEngine(s, nil, cce.DefaultConfig(), cce.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	res, err := engine.RunUpdateCycle(ctx, cce.RunOptions{V2Enabled: new(bool)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Phases[cce.PhaseIngest].Created)
	assert.Equal(t, 1, res.Phases[cce.PhaseConflicts].Created)
	assert.Equal(t, 1, res.Created)
	assert.True(t, res.Success)

	edges, err := s.ListRelationEdges(ctx, "")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, []string{"s1"}, edges[0].EvidenceEventIDs)
}
