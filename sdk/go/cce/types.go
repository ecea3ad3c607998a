package cce

import (
	"time"

	"github.com/google/uuid"
)

// Driver is one event that moved a conflict's tension.
type Driver struct {
	EventID      string    `json:"event_id"`
	Title        string    `json:"title,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
	Weight       float64   `json:"weight"`
	EvidenceURLs []string  `json:"evidence_urls,omitempty"`
}

// ConflictState is the decayed live state of one conflict.
type ConflictState struct {
	ConflictID  string     `json:"conflict_id"`
	Tension     float64    `json:"tension"`
	Heat        float64    `json:"heat"`
	Velocity    float64    `json:"velocity"`
	Momentum    float64    `json:"momentum"`
	Pressure    float64    `json:"pressure"`
	Instability float64    `json:"instability"`
	TheatreRank *int       `json:"theatre_rank,omitempty"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
	TopDrivers  []Driver   `json:"top_drivers"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Conflict is a conflict pair with its live state.
type Conflict struct {
	ID            string        `json:"id"`
	ActorA        string        `json:"actor_a"`
	ActorB        string        `json:"actor_b"`
	Theatre       string        `json:"theatre"`
	Importance    float64       `json:"importance"`
	BaseHostility float64       `json:"base_hostility"`
	BaseTension   float64       `json:"base_tension"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	State         ConflictState `json:"state"`
}

// ConflictsResponse is one page of conflicts.
type ConflictsResponse struct {
	Conflicts []Conflict
	Total     int
	HasMore   bool
	Limit     int
	Offset    int
}

// Theatre is the rollup of every conflict in one theatre.
type Theatre struct {
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

// FrontLine is the control split and intensity of one front.
type FrontLine struct {
	FrontID     string             `json:"front_id"`
	Theatre     string             `json:"theatre"`
	Name        string             `json:"name"`
	Actors      []string           `json:"actors"`
	BaseControl map[string]float64 `json:"base_control,omitempty"`
	Control     map[string]float64 `json:"control"`
	Intensity   float64            `json:"intensity"`
	LastEventAt *time.Time         `json:"last_event_at,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// AlliancePressure is the pressure carried by one alliance.
type AlliancePressure struct {
	AllianceID    string    `json:"alliance_id"`
	Name          string    `json:"name"`
	Members       []string  `json:"members"`
	Pressure      float64   `json:"pressure"`
	ConflictCount int       `json:"conflict_count"`
	TopConflicts  []string  `json:"top_conflicts"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Relation types.
const (
	RelationHostile = "hostile"
	RelationAllied  = "allied"
	RelationNeutral = "neutral"
)

// RelationEdge is a derived or manual relation between two entities.
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

// CountryStatus is one actor's entry in the world summary.
type CountryStatus struct {
	Pressure  float64 `json:"pressure"`
	Tension   float64 `json:"tension"`
	Conflicts int     `json:"conflicts"`
	Status    string  `json:"status"`
}

// WorldState is the global summary written at the end of each cycle.
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

// ItemFailure names one conflict, edge or front a phase could not process.
type ItemFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// PhaseStats reports one phase of an update cycle.
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
}

// TickResult is the outcome of one update cycle.
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
	World      *WorldState            `json:"world,omitempty"`
}

// CycleRequest overrides engine settings for one manual cycle. Nil fields
// keep the server's configuration.
type CycleRequest struct {
	MinTension *float64 `json:"min_tension,omitempty"`
	MaxAgeSecs *int64   `json:"max_age_seconds,omitempty"`
	V2Enabled  *bool    `json:"v2_enabled,omitempty"`
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	Status     string     `json:"status"`
	Version    string     `json:"version"`
	Store      string     `json:"store"`
	StoreOK    bool       `json:"store_ok"`
	Enabled    bool       `json:"cce_enabled"`
	V2Enabled  bool       `json:"cce_v2_enabled"`
	LastTickAt *time.Time `json:"last_tick_at,omitempty"`
	Uptime     int64      `json:"uptime_seconds"`
}

// ConflictOptions filter and page ListConflicts.
type ConflictOptions struct {
	Sort    string
	Theatre string
	Limit   int
	Offset  int
}

// TheatreOptions filter Theatres.
type TheatreOptions struct {
	Sort       string
	MinTension float64
}

// FrontOptions filter Fronts.
type FrontOptions struct {
	Theatre      string
	MinIntensity float64
}

// RelationOptions filter Relations.
type RelationOptions struct {
	RelationType string
	MinStrength  float64
}

type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
