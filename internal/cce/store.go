// Package cce is the Conflict & Context Engine: it turns a stream of
// conflict events into decaying, bounded live state for conflicts, theatres,
// alliances, fronts and bilateral relations, one tick at a time.
package cce

import (
	"context"
	"errors"
	"time"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

var (
	// ErrNotFound is returned by Store point lookups when no row matches.
	ErrNotFound = errors.New("not found")

	// ErrTickInProgress is returned when another tick holds the tick lock.
	ErrTickInProgress = errors.New("cce: tick already in progress")

	// ErrNoAlliances means no alliance membership reference data is loaded.
	ErrNoAlliances = errors.New("cce: no alliance reference data")

	// ErrNoFronts means no front topology reference data is loaded.
	ErrNoFronts = errors.New("cce: no front reference data")
)

// Store is the event store the engine reads from and writes to. Every write
// method is a single atomic statement for one row (or one logical set, for
// ReplaceTheatreStates); the engine never needs cross-row transactions.
type Store interface {
	// Raw signals awaiting materialization, oldest first.
	ListPendingSignals(ctx context.Context, limit int) ([]model.RawSignal, error)
	// MarkSignalMaterialized records that a signal was processed. note is
	// empty on success and carries the rejection reason otherwise.
	MarkSignalMaterialized(ctx context.Context, id, note string, at time.Time) error

	// EnsureConflictCore returns the core for the canonical actor pair,
	// inserting c if none exists. created reports whether it inserted.
	EnsureConflictCore(ctx context.Context, c model.ConflictCore) (core model.ConflictCore, created bool, err error)
	// UpsertConflictCore inserts or overwrites the weights of the core keyed
	// by actor pair. An existing core keeps its ID.
	UpsertConflictCore(ctx context.Context, c model.ConflictCore) (model.ConflictCore, error)
	ListConflictCores(ctx context.Context) ([]model.ConflictCore, error)

	// InsertConflictEvent inserts e unless an event with the same ID exists.
	// The store assigns IngestSeq, strictly greater than that of every event
	// inserted before.
	InsertConflictEvent(ctx context.Context, e model.ConflictEvent) (inserted bool, err error)
	// ListEventsAfter returns events with IngestSeq greater than afterSeq and
	// occurred_at strictly after notBefore, in chronological order.
	ListEventsAfter(ctx context.Context, conflictID string, afterSeq int64, notBefore time.Time) ([]model.ConflictEvent, error)
	ListEventsForConflictsAfter(ctx context.Context, conflictIDs []string, afterSeq int64, notBefore time.Time) ([]model.ConflictEvent, error)

	GetConflictState(ctx context.Context, conflictID string) (model.ConflictStateLive, error)
	ListConflictStates(ctx context.Context) ([]model.ConflictStateLive, error)
	UpsertConflictState(ctx context.Context, s model.ConflictStateLive) error
	UpdateTheatreRanks(ctx context.Context, ranks map[string]int) error

	// GetRelationEdge looks up the edge for an already canonical pair.
	GetRelationEdge(ctx context.Context, entityA, entityB, relationType string) (model.RelationEdge, error)
	InsertRelationEdge(ctx context.Context, e model.RelationEdge) error
	UpdateRelationEdge(ctx context.Context, e model.RelationEdge) error
	// ListRelationEdges returns edges touching entity, or all edges if entity
	// is empty.
	ListRelationEdges(ctx context.Context, entity string) ([]model.RelationEdge, error)

	// ReplaceTheatreStates atomically replaces the full theatre set.
	ReplaceTheatreStates(ctx context.Context, states []model.TheatreStateLive) error
	ListTheatreStates(ctx context.Context) ([]model.TheatreStateLive, error)

	UpsertAlliancePressure(ctx context.Context, p model.AlliancePressureLive) error
	ListAlliancePressures(ctx context.Context) ([]model.AlliancePressureLive, error)

	GetFrontLine(ctx context.Context, frontID string) (model.FrontLineState, error)
	UpsertFrontLine(ctx context.Context, f model.FrontLineState) error
	ListFrontLines(ctx context.Context) ([]model.FrontLineState, error)

	SaveWorldState(ctx context.Context, w model.WorldState) error
	LoadWorldState(ctx context.Context) (model.WorldState, error)

	// AcquireTickLock takes the cross-process tick lock, returning
	// ErrTickInProgress if another holder has it.
	AcquireTickLock(ctx context.Context) (release func(), err error)

	Ping(ctx context.Context) error
}

// TickNotifier is implemented by stores that can broadcast tick summaries to
// other processes (for example over Postgres LISTEN/NOTIFY).
type TickNotifier interface {
	NotifyTick(ctx context.Context, payload string) error
}

// ReferenceData supplies the externally maintained tables the engine treats
// as static within a tick.
type ReferenceData interface {
	// Conflicts are seeded cores whose weights override defaults.
	Conflicts(ctx context.Context) ([]model.ConflictCore, error)
	Alliances(ctx context.Context) ([]model.Alliance, error)
	Fronts(ctx context.Context) ([]model.Front, error)
}
