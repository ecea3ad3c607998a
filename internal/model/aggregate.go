package model

import (
	"maps"
	"time"
)

// TheatreStateLive is the rollup of every conflict in one theatre.
type TheatreStateLive struct {
	Theatre        string    `json:"theatre"`
	Tension        float64   `json:"tension"`
	Momentum       float64   `json:"momentum"`
	Heat           float64   `json:"heat"`
	Velocity       float64   `json:"velocity"`
	ConflictCount  int       `json:"conflict_count"`
	DominantActors []string  `json:"dominant_actors"`
	ActiveFronts   []string  `json:"active_fronts"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Alliance is reference data: a named bloc with per-member strength in (0,1].
type Alliance struct {
	ID      string             `json:"id" yaml:"id" validate:"required"`
	Name    string             `json:"name" yaml:"name" validate:"required"`
	Members map[string]float64 `json:"members" yaml:"members" validate:"required,min=1,dive,keys,required,endkeys,gt=0,lte=1"`
}

// Strength returns the membership strength of actor, or 0 if not a member.
func (a Alliance) Strength(actor string) float64 {
	return a.Members[NormalizeActor(actor)]
}

// AlliancePressureLive is the pressure currently bearing on one alliance.
type AlliancePressureLive struct {
	AllianceID    string    `json:"alliance_id"`
	Name          string    `json:"name"`
	Members       []string  `json:"members"`
	Pressure      float64   `json:"pressure"`
	ConflictCount int       `json:"conflict_count"`
	TopConflicts  []string  `json:"top_conflicts"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Front is reference data: a contested line between actors in a theatre.
type Front struct {
	ID          string             `json:"id" yaml:"id" validate:"required"`
	Theatre     string             `json:"theatre" yaml:"theatre" validate:"required"`
	Name        string             `json:"name" yaml:"name" validate:"required"`
	Actors      []string           `json:"actors" yaml:"actors" validate:"required,min=2,unique,dive,required"`
	BaseControl map[string]float64 `json:"base_control,omitempty" yaml:"base_control" validate:"omitempty,dive,keys,required,endkeys,gte=0,lte=1"`
}

// FrontLineState is the live state of one front.
type FrontLineState struct {
	FrontID     string             `json:"front_id"`
	Theatre     string             `json:"theatre"`
	Name        string             `json:"name"`
	Actors      []string           `json:"actors"`
	BaseControl map[string]float64 `json:"base_control,omitempty"`
	Control     map[string]float64 `json:"control"`
	Intensity   float64            `json:"intensity"`
	LastEventAt *time.Time         `json:"last_event_at,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`

	// LastIngestSeq is the highest event IngestSeq already consumed.
	LastIngestSeq int64 `json:"-"`
}

// Clone returns a deep copy.
func (f FrontLineState) Clone() FrontLineState {
	out := f
	out.Actors = append([]string(nil), f.Actors...)
	out.BaseControl = maps.Clone(f.BaseControl)
	out.Control = maps.Clone(f.Control)
	if f.LastEventAt != nil {
		t := *f.LastEventAt
		out.LastEventAt = &t
	}
	return out
}

// Relation type and source values for RelationEdge.
const (
	RelationHostile  = "hostile"
	RelationAllied   = "allied"
	RelationNeutral  = "neutral"
	SourceCCEDerived = "cce_derived"
	SourceManual     = "manual"
)

// RelationEdge is a directed-by-convention, canonically ordered relation
// between two entities.
type RelationEdge struct {
	ID               string     `json:"id"`
	EntityA          string     `json:"entity_a"`
	EntityB          string     `json:"entity_b"`
	RelationType     string     `json:"relation_type"`
	RelationStrength float64    `json:"relation_strength"`
	IsMutual         bool       `json:"is_mutual"`
	EvidenceEventIDs []string   `json:"evidence_event_ids"`
	EvidenceURLs     []string   `json:"evidence_urls"`
	Confidence       float64    `json:"confidence"`
	LastUpdatedAt    time.Time  `json:"last_updated_at"`
	LastEventAt      *time.Time `json:"last_event_at,omitempty"`
	Source           string     `json:"source"`
}

// RawSignal is an upstream-extracted event frame waiting to be materialized
// into a ConflictEvent.
type RawSignal struct {
	ID           string    `json:"id"`
	ActorA       string    `json:"actor_a"`
	ActorB       string    `json:"actor_b"`
	Theatre      string    `json:"theatre,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	Title        string    `json:"title,omitempty"`
	Severity     float64   `json:"severity"`
	Confidence   float64   `json:"confidence"`
	OccurredAt   time.Time `json:"occurred_at"`
	CreatedAt    time.Time `json:"created_at"`
	EvidenceURLs []string  `json:"evidence_urls,omitempty"`
}

// Alert levels for WorldState.AlertLevel.
const (
	AlertCalm     = "calm"
	AlertElevated = "elevated"
	AlertHigh     = "high"
	AlertCritical = "critical"
)

// Country statuses for CountryStatus.Status.
const (
	CountryStable   = "stable"
	CountryWatch    = "watch"
	CountryTense    = "tense"
	CountryCritical = "critical"
)

// WorldState is the global rollup produced at the end of each tick.
type WorldState struct {
	GlobalTension       float64                  `json:"global_tension"`
	PeakPressure        float64                  `json:"peak_pressure"`
	AlertLevel          string                   `json:"alert_level"`
	ConflictCount       int                      `json:"conflict_count"`
	ActiveConflicts     int                      `json:"active_conflicts"`
	EscalatingConflicts int                      `json:"escalating_conflicts"`
	Hotspots            []string                 `json:"hotspots"`
	Countries           map[string]CountryStatus `json:"countries"`
	ComputedAt          time.Time                `json:"computed_at"`
}

// CountryStatus summarizes the conflicts one actor is party to.
type CountryStatus struct {
	Pressure  float64 `json:"pressure"`
	Tension   float64 `json:"tension"`
	Conflicts int     `json:"conflicts"`
	Status    string  `json:"status"`
}
