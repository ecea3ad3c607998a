// Package memstore is an in-memory cce.Store for tests and dry runs. All data
// is deep-copied on the way in and out so callers can never alias stored rows.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

var (
	_ cce.Store        = (*Store)(nil)
	_ cce.TickNotifier = (*Store)(nil)
)

var errDuplicateEdge = errors.New("memstore: relation edge already exists")

type pendingSignal struct {
	signal model.RawSignal
	done   bool
	note   string
}

// Store holds every CCE table in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	signals   []*pendingSignal
	cores     map[string]model.ConflictCore // by ID
	pairIndex map[string]string             // pair key -> core ID
	events    map[string]model.ConflictEvent
	eventSeq  int64
	states    map[string]model.ConflictStateLive
	edges     map[string]model.RelationEdge // by a|b|type
	theatres  []model.TheatreStateLive
	alliances map[string]model.AlliancePressureLive
	fronts    map[string]model.FrontLineState
	world     *model.WorldState

	tickMu  sync.Mutex
	faults  map[string]error
	notices []string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		cores:     make(map[string]model.ConflictCore),
		pairIndex: make(map[string]string),
		events:    make(map[string]model.ConflictEvent),
		states:    make(map[string]model.ConflictStateLive),
		edges:     make(map[string]model.RelationEdge),
		alliances: make(map[string]model.AlliancePressureLive),
		fronts:    make(map[string]model.FrontLineState),
		faults:    make(map[string]error),
	}
}

// InjectError makes the named Store method return err until cleared with a
// nil err.
func (s *Store) InjectError(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

// fault must be called with s.mu held.
func (s *Store) fault(method string) error {
	return s.faults[method]
}

// AddSignal queues a raw signal for materialization.
func (s *Store) AddSignal(sig model.RawSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig.EvidenceURLs = slices.Clone(sig.EvidenceURLs)
	s.signals = append(s.signals, &pendingSignal{signal: sig})
}

// SignalNote returns whether a signal was materialized and its note.
func (s *Store) SignalNote(id string) (done bool, note string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.signals {
		if p.signal.ID == id {
			return p.done, p.note
		}
	}
	return false, ""
}

// PutConflictCore stores c exactly as given, keyed only by ID. It bypasses
// pair canonicalization so tests can seed duplicate or unordered pairs.
func (s *Store) PutConflictCore(c model.ConflictCore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cores[c.ID] = c
	s.pairIndex[model.PairKey(c.ActorA, c.ActorB)] = c.ID
}

// PutConflictState stores a state row directly.
func (s *Store) PutConflictState(st model.ConflictStateLive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ConflictID] = st.Clone()
}

// Notices returns tick notification payloads sent so far.
func (s *Store) Notices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.notices)
}

func (s *Store) ListPendingSignals(_ context.Context, limit int) ([]model.RawSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("ListPendingSignals"); err != nil {
		return nil, err
	}
	var out []model.RawSignal
	for _, p := range s.signals {
		if p.done {
			continue
		}
		sig := p.signal
		sig.EvidenceURLs = slices.Clone(sig.EvidenceURLs)
		out = append(out, sig)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkSignalMaterialized(_ context.Context, id, note string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("MarkSignalMaterialized"); err != nil {
		return err
	}
	for _, p := range s.signals {
		if p.signal.ID == id {
			p.done = true
			p.note = note
			return nil
		}
	}
	return cce.ErrNotFound
}

func (s *Store) EnsureConflictCore(_ context.Context, c model.ConflictCore) (model.ConflictCore, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("EnsureConflictCore"); err != nil {
		return model.ConflictCore{}, false, err
	}
	key := model.PairKey(c.ActorA, c.ActorB)
	if id, ok := s.pairIndex[key]; ok {
		return s.cores[id], false, nil
	}
	c.ActorA, c.ActorB = model.CanonicalPair(c.ActorA, c.ActorB)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.cores[c.ID] = c
	s.pairIndex[key] = c.ID
	return c, true, nil
}

func (s *Store) UpsertConflictCore(_ context.Context, c model.ConflictCore) (model.ConflictCore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpsertConflictCore"); err != nil {
		return model.ConflictCore{}, err
	}
	key := model.PairKey(c.ActorA, c.ActorB)
	c.ActorA, c.ActorB = model.CanonicalPair(c.ActorA, c.ActorB)
	if id, ok := s.pairIndex[key]; ok {
		existing := s.cores[id]
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.cores[c.ID] = c
	s.pairIndex[key] = c.ID
	return c, nil
}

func (s *Store) ListConflictCores(_ context.Context) ([]model.ConflictCore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("ListConflictCores"); err != nil {
		return nil, err
	}
	out := make([]model.ConflictCore, 0, len(s.cores))
	for _, c := range s.cores {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b model.ConflictCore) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) InsertConflictEvent(_ context.Context, e model.ConflictEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("InsertConflictEvent"); err != nil {
		return false, err
	}
	if _, ok := s.events[e.ID]; ok {
		return false, nil
	}
	e.EvidenceURLs = slices.Clone(e.EvidenceURLs)
	s.eventSeq++
	e.IngestSeq = s.eventSeq
	s.events[e.ID] = e
	return true, nil
}

func (s *Store) ListEventsAfter(_ context.Context, conflictID string, afterSeq int64, notBefore time.Time) ([]model.ConflictEvent, error) {
	return s.listEvents("ListEventsAfter", []string{conflictID}, afterSeq, notBefore)
}

func (s *Store) ListEventsForConflictsAfter(_ context.Context, conflictIDs []string, afterSeq int64, notBefore time.Time) ([]model.ConflictEvent, error) {
	return s.listEvents("ListEventsForConflictsAfter", conflictIDs, afterSeq, notBefore)
}

func (s *Store) listEvents(method string, conflictIDs []string, afterSeq int64, notBefore time.Time) ([]model.ConflictEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(method); err != nil {
		return nil, err
	}
	var out []model.ConflictEvent
	for _, e := range s.events {
		if slices.Contains(conflictIDs, e.ConflictID) && e.IngestSeq > afterSeq && e.OccurredAt.After(notBefore) {
			e.EvidenceURLs = slices.Clone(e.EvidenceURLs)
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b model.ConflictEvent) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetConflictState(_ context.Context, conflictID string) (model.ConflictStateLive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("GetConflictState"); err != nil {
		return model.ConflictStateLive{}, err
	}
	st, ok := s.states[conflictID]
	if !ok {
		return model.ConflictStateLive{}, cce.ErrNotFound
	}
	return st.Clone(), nil
}

func (s *Store) ListConflictStates(_ context.Context) ([]model.ConflictStateLive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("ListConflictStates"); err != nil {
		return nil, err
	}
	out := make([]model.ConflictStateLive, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st.Clone())
	}
	slices.SortFunc(out, func(a, b model.ConflictStateLive) int { return cmp.Compare(a.ConflictID, b.ConflictID) })
	return out, nil
}

func (s *Store) UpsertConflictState(_ context.Context, st model.ConflictStateLive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpsertConflictState"); err != nil {
		return err
	}
	s.states[st.ConflictID] = st.Clone()
	return nil
}

func (s *Store) UpdateTheatreRanks(_ context.Context, ranks map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpdateTheatreRanks"); err != nil {
		return err
	}
	for id, r := range ranks {
		st, ok := s.states[id]
		if !ok {
			continue
		}
		st.TheatreRank = &r
		s.states[id] = st
	}
	return nil
}

func edgeKey(a, b, relType string) string { return a + "|" + b + "|" + relType }

func cloneEdge(e model.RelationEdge) model.RelationEdge {
	e.EvidenceEventIDs = slices.Clone(e.EvidenceEventIDs)
	e.EvidenceURLs = slices.Clone(e.EvidenceURLs)
	if e.LastEventAt != nil {
		t := *e.LastEventAt
		e.LastEventAt = &t
	}
	return e
}

func (s *Store) GetRelationEdge(_ context.Context, a, b, relType string) (model.RelationEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("GetRelationEdge"); err != nil {
		return model.RelationEdge{}, err
	}
	e, ok := s.edges[edgeKey(a, b, relType)]
	if !ok {
		return model.RelationEdge{}, cce.ErrNotFound
	}
	return cloneEdge(e), nil
}

func (s *Store) InsertRelationEdge(_ context.Context, e model.RelationEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("InsertRelationEdge"); err != nil {
		return err
	}
	k := edgeKey(e.EntityA, e.EntityB, e.RelationType)
	if _, ok := s.edges[k]; ok {
		return errDuplicateEdge
	}
	s.edges[k] = cloneEdge(e)
	return nil
}

func (s *Store) UpdateRelationEdge(_ context.Context, e model.RelationEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpdateRelationEdge"); err != nil {
		return err
	}
	k := edgeKey(e.EntityA, e.EntityB, e.RelationType)
	if _, ok := s.edges[k]; !ok {
		return cce.ErrNotFound
	}
	s.edges[k] = cloneEdge(e)
	return nil
}

func (s *Store) ListRelationEdges(_ context.Context, entity string) ([]model.RelationEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("ListRelationEdges"); err != nil {
		return nil, err
	}
	entity = model.NormalizeActor(entity)
	var out []model.RelationEdge
	for _, e := range s.edges {
		if entity == "" || e.EntityA == entity || e.EntityB == entity {
			out = append(out, cloneEdge(e))
		}
	}
	slices.SortFunc(out, func(a, b model.RelationEdge) int {
		return cmp.Compare(edgeKey(a.EntityA, a.EntityB, a.RelationType), edgeKey(b.EntityA, b.EntityB, b.RelationType))
	})
	return out, nil
}

func (s *Store) ReplaceTheatreStates(_ context.Context, states []model.TheatreStateLive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ReplaceTheatreStates"); err != nil {
		return err
	}
	s.theatres = make([]model.TheatreStateLive, len(states))
	for i, t := range states {
		t.DominantActors = slices.Clone(t.DominantActors)
		t.ActiveFronts = slices.Clone(t.ActiveFronts)
		s.theatres[i] = t
	}
	return nil
}

func (s *Store) ListTheatreStates(_ context.Context) ([]model.TheatreStateLive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("ListTheatreStates"); err != nil {
		return nil, err
	}
	out := make([]model.TheatreStateLive, len(s.theatres))
	for i, t := range s.theatres {
		t.DominantActors = slices.Clone(t.DominantActors)
		t.ActiveFronts = slices.Clone(t.ActiveFronts)
		out[i] = t
	}
	return out, nil
}

func (s *Store) UpsertAlliancePressure(_ context.Context, p model.AlliancePressureLive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpsertAlliancePressure"); err != nil {
		return err
	}
	p.Members = slices.Clone(p.Members)
	p.TopConflicts = slices.Clone(p.TopConflicts)
	s.alliances[p.AllianceID] = p
	return nil
}

func (s *Store) ListAlliancePressures(_ context.Context) ([]model.AlliancePressureLive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("ListAlliancePressures"); err != nil {
		return nil, err
	}
	out := make([]model.AlliancePressureLive, 0, len(s.alliances))
	for _, p := range s.alliances {
		p.Members = slices.Clone(p.Members)
		p.TopConflicts = slices.Clone(p.TopConflicts)
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b model.AlliancePressureLive) int { return cmp.Compare(a.AllianceID, b.AllianceID) })
	return out, nil
}

func (s *Store) GetFrontLine(_ context.Context, frontID string) (model.FrontLineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("GetFrontLine"); err != nil {
		return model.FrontLineState{}, err
	}
	f, ok := s.fronts[frontID]
	if !ok {
		return model.FrontLineState{}, cce.ErrNotFound
	}
	return f.Clone(), nil
}

func (s *Store) UpsertFrontLine(_ context.Context, f model.FrontLineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpsertFrontLine"); err != nil {
		return err
	}
	s.fronts[f.FrontID] = f.Clone()
	return nil
}

func (s *Store) ListFrontLines(_ context.Context) ([]model.FrontLineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("ListFrontLines"); err != nil {
		return nil, err
	}
	out := make([]model.FrontLineState, 0, len(s.fronts))
	for _, f := range s.fronts {
		out = append(out, f.Clone())
	}
	slices.SortFunc(out, func(a, b model.FrontLineState) int { return cmp.Compare(a.FrontID, b.FrontID) })
	return out, nil
}

func (s *Store) SaveWorldState(_ context.Context, w model.WorldState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SaveWorldState"); err != nil {
		return err
	}
	w.Hotspots = slices.Clone(w.Hotspots)
	w.Countries = maps.Clone(w.Countries)
	s.world = &w
	return nil
}

func (s *Store) LoadWorldState(_ context.Context) (model.WorldState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault("LoadWorldState"); err != nil {
		return model.WorldState{}, err
	}
	if s.world == nil {
		return model.WorldState{}, cce.ErrNotFound
	}
	w := *s.world
	w.Hotspots = slices.Clone(w.Hotspots)
	w.Countries = maps.Clone(w.Countries)
	return w, nil
}

// AcquireTickLock is a non-blocking try-lock.
func (s *Store) AcquireTickLock(_ context.Context) (func(), error) {
	s.mu.RLock()
	err := s.fault("AcquireTickLock")
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !s.tickMu.TryLock() {
		return nil, cce.ErrTickInProgress
	}
	var once sync.Once
	return func() { once.Do(s.tickMu.Unlock) }, nil
}

// NotifyTick records the payload; see Notices.
func (s *Store) NotifyTick(_ context.Context, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, payload)
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fault("Ping")
}
