// Package query serves the read views over CCE state. Both the HTTP API and
// the MCP server delegate here so filters, sorts and paging behave the same
// on every surface.
package query

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

var (
	// ErrInvalidSort is returned for a sort key the view does not support.
	ErrInvalidSort = errors.New("query: invalid sort")

	// ErrInvalidInput is returned for malformed filters or paging.
	ErrInvalidInput = errors.New("query: invalid input")
)

// Reader is the subset of cce.Store the views read from.
type Reader interface {
	ListConflictCores(ctx context.Context) ([]model.ConflictCore, error)
	ListConflictStates(ctx context.Context) ([]model.ConflictStateLive, error)
	ListTheatreStates(ctx context.Context) ([]model.TheatreStateLive, error)
	ListAlliancePressures(ctx context.Context) ([]model.AlliancePressureLive, error)
	ListFrontLines(ctx context.Context) ([]model.FrontLineState, error)
	ListRelationEdges(ctx context.Context, entity string) ([]model.RelationEdge, error)
	LoadWorldState(ctx context.Context) (model.WorldState, error)
}

var _ Reader = cce.Store(nil)

// Sort keys.
const (
	SortPressure    = "pressure"
	SortMomentum    = "momentum"
	SortTension     = "tension"
	SortInstability = "instability"
	SortHeat        = "heat"
	SortVelocity    = "velocity"
)

// ConflictSorts and TheatreSorts list the accepted sort keys, default first.
var (
	ConflictSorts = []string{SortPressure, SortMomentum, SortTension, SortInstability}
	TheatreSorts  = []string{SortTension, SortMomentum, SortHeat, SortVelocity}
)

// Page is one window of a sorted list.
type Page[T any] struct {
	Items   []T
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// ConflictQuery selects conflicts. Zero values mean defaults.
type ConflictQuery struct {
	Sort    string
	Theatre string
	Limit   int
	Offset  int
}

// TheatreQuery selects theatres.
type TheatreQuery struct {
	Sort       string
	MinTension float64
}

// FrontQuery selects front lines.
type FrontQuery struct {
	Theatre      string
	MinIntensity float64
}

// RelationQuery selects relation edges touching Entity.
type RelationQuery struct {
	Entity       string
	RelationType string
	MinStrength  float64
}

// Service answers read queries.
type Service struct {
	store Reader
}

// New creates a query Service.
func New(store Reader) *Service {
	return &Service{store: store}
}

// Conflicts returns conflicts joined with their live state, sorted
// descending by q.Sort (pressure by default) and paged.
func (s *Service) Conflicts(ctx context.Context, q ConflictQuery) (Page[model.ConflictView], error) {
	key, err := sortKey(q.Sort, ConflictSorts)
	if err != nil {
		return Page[model.ConflictView]{}, err
	}
	limit, err := normalizeLimit(q.Limit)
	if err != nil {
		return Page[model.ConflictView]{}, err
	}
	if q.Offset < 0 {
		return Page[model.ConflictView]{}, fmt.Errorf("%w: offset must be non-negative", ErrInvalidInput)
	}

	cores, err := s.store.ListConflictCores(ctx)
	if err != nil {
		return Page[model.ConflictView]{}, fmt.Errorf("query: list conflict cores: %w", err)
	}
	states, err := s.store.ListConflictStates(ctx)
	if err != nil {
		return Page[model.ConflictView]{}, fmt.Errorf("query: list conflict states: %w", err)
	}
	byID := make(map[string]model.ConflictStateLive, len(states))
	for _, st := range states {
		byID[st.ConflictID] = st
	}

	theatre := strings.TrimSpace(q.Theatre)
	views := make([]model.ConflictView, 0, len(cores))
	for _, c := range cores {
		if theatre != "" && c.Theatre != theatre {
			continue
		}
		st, ok := byID[c.ID]
		if !ok {
			st = model.ConflictStateLive{ConflictID: c.ID, TopDrivers: []model.Driver{}}
		}
		views = append(views, model.ConflictView{ConflictCore: c, State: st})
	}

	metric := conflictMetric(key)
	slices.SortStableFunc(views, func(a, b model.ConflictView) int {
		if c := cmp.Compare(metric(b.State), metric(a.State)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return paginate(views, limit, q.Offset), nil
}

func conflictMetric(key string) func(model.ConflictStateLive) float64 {
	switch key {
	case SortMomentum:
		return func(s model.ConflictStateLive) float64 { return s.Momentum }
	case SortTension:
		return func(s model.ConflictStateLive) float64 { return s.Tension }
	case SortInstability:
		return func(s model.ConflictStateLive) float64 { return s.Instability }
	default:
		return func(s model.ConflictStateLive) float64 { return s.Pressure }
	}
}

// Theatres returns theatres at or above q.MinTension, sorted descending by
// q.Sort (tension by default).
func (s *Service) Theatres(ctx context.Context, q TheatreQuery) ([]model.TheatreStateLive, error) {
	key, err := sortKey(q.Sort, TheatreSorts)
	if err != nil {
		return nil, err
	}
	if err := checkThreshold("min_tension", q.MinTension); err != nil {
		return nil, err
	}
	all, err := s.store.ListTheatreStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: list theatres: %w", err)
	}
	out := slices.DeleteFunc(all, func(t model.TheatreStateLive) bool { return t.Tension < q.MinTension })

	var metric func(model.TheatreStateLive) float64
	switch key {
	case SortMomentum:
		metric = func(t model.TheatreStateLive) float64 { return t.Momentum }
	case SortHeat:
		metric = func(t model.TheatreStateLive) float64 { return t.Heat }
	case SortVelocity:
		metric = func(t model.TheatreStateLive) float64 { return t.Velocity }
	default:
		metric = func(t model.TheatreStateLive) float64 { return t.Tension }
	}
	slices.SortStableFunc(out, func(a, b model.TheatreStateLive) int {
		if c := cmp.Compare(metric(b), metric(a)); c != 0 {
			return c
		}
		return strings.Compare(a.Theatre, b.Theatre)
	})
	return out, nil
}

// Fronts returns fronts at or above q.MinIntensity, most intense first.
func (s *Service) Fronts(ctx context.Context, q FrontQuery) ([]model.FrontLineState, error) {
	if err := checkThreshold("min_intensity", q.MinIntensity); err != nil {
		return nil, err
	}
	all, err := s.store.ListFrontLines(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: list fronts: %w", err)
	}
	theatre := strings.TrimSpace(q.Theatre)
	out := slices.DeleteFunc(all, func(f model.FrontLineState) bool {
		return f.Intensity < q.MinIntensity || (theatre != "" && f.Theatre != theatre)
	})
	slices.SortStableFunc(out, func(a, b model.FrontLineState) int {
		if c := cmp.Compare(b.Intensity, a.Intensity); c != 0 {
			return c
		}
		return strings.Compare(a.FrontID, b.FrontID)
	})
	return out, nil
}

// Alliances returns alliance pressures, highest first.
func (s *Service) Alliances(ctx context.Context) ([]model.AlliancePressureLive, error) {
	out, err := s.store.ListAlliancePressures(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: list alliances: %w", err)
	}
	slices.SortStableFunc(out, func(a, b model.AlliancePressureLive) int {
		if c := cmp.Compare(b.Pressure, a.Pressure); c != 0 {
			return c
		}
		return strings.Compare(a.AllianceID, b.AllianceID)
	})
	return out, nil
}

// Relations returns the edges touching q.Entity, strongest first.
func (s *Service) Relations(ctx context.Context, q RelationQuery) ([]model.RelationEdge, error) {
	entity := model.NormalizeActor(q.Entity)
	if entity == "" {
		return nil, fmt.Errorf("%w: entity is required", ErrInvalidInput)
	}
	if err := checkThreshold("min_strength", q.MinStrength); err != nil {
		return nil, err
	}
	relType := strings.ToLower(strings.TrimSpace(q.RelationType))
	switch relType {
	case "", model.RelationHostile, model.RelationAllied, model.RelationNeutral:
	default:
		return nil, fmt.Errorf("%w: unknown relation_type %q", ErrInvalidInput, q.RelationType)
	}
	all, err := s.store.ListRelationEdges(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("query: list relations: %w", err)
	}
	out := slices.DeleteFunc(all, func(e model.RelationEdge) bool {
		return e.RelationStrength < q.MinStrength || (relType != "" && e.RelationType != relType)
	})
	slices.SortStableFunc(out, func(a, b model.RelationEdge) int {
		if c := cmp.Compare(b.RelationStrength, a.RelationStrength); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// World returns the latest saved world state, or cce.ErrNotFound before the
// first tick.
func (s *Service) World(ctx context.Context) (model.WorldState, error) {
	w, err := s.store.LoadWorldState(ctx)
	if err != nil {
		if errors.Is(err, cce.ErrNotFound) {
			return model.WorldState{}, err
		}
		return model.WorldState{}, fmt.Errorf("query: load world state: %w", err)
	}
	return w, nil
}

func sortKey(requested string, allowed []string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(requested))
	if key == "" {
		return allowed[0], nil
	}
	if !slices.Contains(allowed, key) {
		return "", fmt.Errorf("%w: %q (want one of %s)", ErrInvalidSort, requested, strings.Join(allowed, ", "))
	}
	return key, nil
}

func normalizeLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, fmt.Errorf("%w: limit must be non-negative", ErrInvalidInput)
	case limit == 0:
		return model.DefaultListLimit, nil
	case limit > model.MaxListLimit:
		return model.MaxListLimit, nil
	}
	return limit, nil
}

func checkThreshold(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %s must be within [0,1]", ErrInvalidInput, name)
	}
	return nil
}

func paginate[T any](items []T, limit, offset int) Page[T] {
	total := len(items)
	start := min(offset, total)
	end := min(start+limit, total)
	return Page[T]{
		Items:   items[start:end],
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: end < total,
	}
}
