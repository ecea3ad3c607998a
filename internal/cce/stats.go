package cce

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

// Phase names, in execution order.
const (
	PhaseIngest    = "ingest"
	PhaseConflicts = "conflicts"
	PhaseEdges     = "edges"
	PhaseTheatres  = "theatres"
	PhaseAlliances = "alliances"
	PhaseFronts    = "fronts"
)

// PhaseOrder lists every phase in the order a tick runs them.
var PhaseOrder = []string{PhaseIngest, PhaseConflicts, PhaseEdges, PhaseTheatres, PhaseAlliances, PhaseFronts}

// Reasons recorded on phases that did not run.
const (
	SkipDependencyFailed = "dependency failed"
	SkipV2Disabled       = "v2 disabled"
	SkipCancelled        = "cancelled"
)

// ItemFailure is one item (conflict, front, alliance, signal) that could not
// be processed. The rest of its phase continues.
type ItemFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// PhaseStats reports the outcome of one phase.
type PhaseStats struct {
	Name       string        `json:"name"`
	Ran        bool          `json:"ran"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Processed  int           `json:"processed"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Skipped    int           `json:"skipped"`
	Decayed    int           `json:"decayed,omitempty"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	Failures   []ItemFailure `json:"failures,omitempty"`

	mu sync.Mutex
}

func newPhase(name string) *PhaseStats {
	return &PhaseStats{Name: name}
}

// fail records a phase-level error: the phase could not do its work at all.
func (p *PhaseStats) fail(err error) {
	p.Error = err.Error()
}

// itemFailed is safe to call from phase worker goroutines.
func (p *PhaseStats) itemFailed(key string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Failed++
	p.Failures = append(p.Failures, ItemFailure{Key: key, Error: err.Error()})
}

func (p *PhaseStats) count(fn func(p *PhaseStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// HardFailed reports whether the phase hit a phase-level error.
func (p *PhaseStats) HardFailed() bool { return p.Error != "" }

// TickResult is returned by RunUpdateCycle.
type TickResult struct {
	TickID     uuid.UUID              `json:"tick_id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Success    bool                   `json:"success"`
	Disabled   bool                   `json:"disabled,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Created    int                    `json:"created"`
	Updated    int                    `json:"updated"`
	Skipped    int                    `json:"skipped"`
	Phases     map[string]*PhaseStats `json:"phases"`
	World      *model.WorldState      `json:"world,omitempty"`
}

// Summary is the compact JSON form of r broadcast to tick subscribers.
func (r *TickResult) Summary() (string, error) {
	b, err := json.Marshal(struct {
		TickID     uuid.UUID `json:"tick_id"`
		Success    bool      `json:"success"`
		Created    int       `json:"created"`
		Updated    int       `json:"updated"`
		Skipped    int       `json:"skipped"`
		FinishedAt time.Time `json:"finished_at"`
	}{r.TickID, r.Success, r.Created, r.Updated, r.Skipped, r.FinishedAt})
	return string(b), err
}

// EdgeStats is the outcome of one relation-edge derivation pass.
type EdgeStats struct {
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Decayed  int           `json:"decayed"`
	Failures []ItemFailure `json:"failures,omitempty"`
}
