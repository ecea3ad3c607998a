package cce_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/storage/memstore"
)

func newDeriver(store cce.Store) *cce.EdgeDeriver {
	return cce.NewEdgeDeriver(store, cce.DefaultTuning(), discardLogger())
}

var defaultEdgeOpts = cce.EdgeOptions{MinTension: 0.1, MaxAge: 72 * time.Hour}

func TestEdgeStrength(t *testing.T) {
	assert.InDelta(t, 0.08, cce.EdgeStrength(0.1, 0.1, 0.6), 1e-12)
	assert.InDelta(t, 1.0, cce.EdgeStrength(1, 1, 1), 1e-12)
	assert.InDelta(t, 0.5, cce.EdgeStrength(1, 1, 0), 1e-12)
	assert.InDelta(t, 0.7, cce.EdgeConfidence(0), 1e-12)
	assert.InDelta(t, 1.0, cce.EdgeConfidence(1), 1e-12)
}

func TestDerive_PostScalingStrengthBelowThresholdIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := core("c1", "A", "B", "x", 0.6)
	c.BaseHostility = 0.1
	store.PutConflictCore(c)
	store.PutConflictState(model.ConflictStateLive{ConflictID: "c1", Tension: 0.1, UpdatedAt: epoch})

	stats, err := newDeriver(store).Derive(ctx, defaultEdgeOpts, epoch)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Created)
	assert.Zero(t, stats.Updated)

	edges, err := store.ListRelationEdges(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestDerive_CanonicalPairUniqueness(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	// Same pair seeded twice in opposite order under different IDs.
	store.PutConflictCore(model.ConflictCore{ID: "ab", ActorA: "USA", ActorB: "RUS", Theatre: "x", Importance: 0.8, BaseHostility: 0.5})
	store.PutConflictCore(model.ConflictCore{ID: "ba", ActorA: "RUS", ActorB: "USA", Theatre: "x", Importance: 0.8, BaseHostility: 0.5})
	for _, id := range []string{"ab", "ba"} {
		store.PutConflictState(model.ConflictStateLive{ConflictID: id, Tension: 0.6, Heat: 0.5, UpdatedAt: epoch})
	}

	stats, err := newDeriver(store).Derive(ctx, defaultEdgeOpts, epoch)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Updated)

	edges, err := store.ListRelationEdges(ctx, "")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	e := edges[0]
	assert.Equal(t, "RUS", e.EntityA)
	assert.Equal(t, "USA", e.EntityB)
	assert.Equal(t, model.RelationHostile, e.RelationType)
	assert.Equal(t, model.SourceCCEDerived, e.Source)
	assert.False(t, e.IsMutual)
	assert.InDelta(t, 0.85, e.Confidence, 1e-12)
}

func TestDerive_StaleAndLowTensionAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.PutConflictCore(core("stale", "A", "B", "x", 1))
	store.PutConflictCore(core("calm", "C", "D", "x", 1))
	store.PutConflictCore(core("nostate", "E", "F", "x", 1))
	store.PutConflictState(model.ConflictStateLive{ConflictID: "stale", Tension: 0.9, UpdatedAt: epoch.Add(-100 * time.Hour)})
	store.PutConflictState(model.ConflictStateLive{ConflictID: "calm", Tension: 0.05, UpdatedAt: epoch})

	stats, err := newDeriver(store).Derive(ctx, defaultEdgeOpts, epoch)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Skipped)
	assert.Zero(t, stats.Created)
}

func TestDerive_EvidenceCaps(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.PutConflictCore(core("c1", "A", "B", "x", 1))
	var drivers []model.Driver
	for i := range 8 {
		drivers = append(drivers, model.Driver{
			EventID:      fmt.Sprintf("e%d", i),
			OccurredAt:   epoch,
			Weight:       0.5,
			EvidenceURLs: []string{fmt.Sprintf("https://news.example.com/%d", i), "https://news.example.com/shared"},
		})
	}
	store.PutConflictState(model.ConflictStateLive{ConflictID: "c1", Tension: 0.8, Heat: 0.2, TopDrivers: drivers, UpdatedAt: epoch})

	stats, err := newDeriver(store).Derive(ctx, defaultEdgeOpts, epoch)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Created)

	e, err := store.GetRelationEdge(ctx, "A", "B", model.RelationHostile)
	require.NoError(t, err)
	assert.Len(t, e.EvidenceURLs, model.MaxPersistedURLs)
	assert.Len(t, e.EvidenceEventIDs, model.MaxEvidenceEventIDs)
	assert.Equal(t, []string{"https://news.example.com/0", "https://news.example.com/shared", "https://news.example.com/1", "https://news.example.com/2", "https://news.example.com/3"}, e.EvidenceURLs)
}

func TestDerive_UpdatesInPlaceAndDecaysSkipped(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.PutConflictCore(core("c1", "A", "B", "x", 1))
	store.PutConflictState(model.ConflictStateLive{ConflictID: "c1", Tension: 0.8, UpdatedAt: epoch})

	d := newDeriver(store)
	_, err := d.Derive(ctx, defaultEdgeOpts, epoch)
	require.NoError(t, err)
	first, err := store.GetRelationEdge(ctx, "A", "B", model.RelationHostile)
	require.NoError(t, err)

	// Second pass, same state: update in place, same ID.
	stats, err := d.Derive(ctx, defaultEdgeOpts, epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	second, err := store.GetRelationEdge(ctx, "A", "B", model.RelationHostile)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// The conflict cools below the threshold: the edge decays, never deleted.
	store.PutConflictState(model.ConflictStateLive{ConflictID: "c1", Tension: 0.05, UpdatedAt: epoch.Add(121 * time.Hour)})
	stats, err = d.Derive(ctx, defaultEdgeOpts, epoch.Add(121*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Decayed)
	decayed, err := store.GetRelationEdge(ctx, "A", "B", model.RelationHostile)
	require.NoError(t, err)
	assert.InDelta(t, second.RelationStrength/2, decayed.RelationStrength, 1e-9)
}
