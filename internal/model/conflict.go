package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidPair is returned when a conflict's actors are missing or equal.
var ErrInvalidPair = errors.New("invalid actor pair")

// NormalizeActor trims and uppercases an actor code.
func NormalizeActor(a string) string {
	return strings.ToUpper(strings.TrimSpace(a))
}

// CanonicalPair returns the two actor codes normalized and in sorted order, so
// (A,B) and (B,A) map to the same key.
func CanonicalPair(a, b string) (string, string) {
	a, b = NormalizeActor(a), NormalizeActor(b)
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey is the stable string key of an unordered actor pair.
func PairKey(a, b string) string {
	a, b = CanonicalPair(a, b)
	return a + ":" + b
}

// ConflictCore is the static identity of a conflict between two actors.
type ConflictCore struct {
	ID            string    `json:"id"`
	ActorA        string    `json:"actor_a"`
	ActorB        string    `json:"actor_b"`
	Theatre       string    `json:"theatre"`
	Importance    float64   `json:"importance"`
	BaseHostility float64   `json:"base_hostility"`
	BaseTension   float64   `json:"base_tension"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Involves reports whether actor is one side of the conflict.
func (c ConflictCore) Involves(actor string) bool {
	actor = NormalizeActor(actor)
	return c.ActorA == actor || c.ActorB == actor
}

// Validate checks the actor pair and the [0,1] weights.
func (c ConflictCore) Validate() error {
	a, b := NormalizeActor(c.ActorA), NormalizeActor(c.ActorB)
	if a == "" || b == "" || a == b {
		return fmt.Errorf("conflict %q: %w", c.ID, ErrInvalidPair)
	}
	for name, v := range map[string]float64{
		"importance":     c.Importance,
		"base_hostility": c.BaseHostility,
		"base_tension":   c.BaseTension,
	} {
		if !unit(v) {
			return fmt.Errorf("conflict %q: %s %v out of range [0,1]", c.ID, name, v)
		}
	}
	return nil
}

// ConflictEvent is an evidence-bearing occurrence attributed to a conflict.
type ConflictEvent struct {
	ID           string    `json:"id"`
	ConflictID   string    `json:"conflict_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	CreatedAt    time.Time `json:"created_at"`
	Severity     float64   `json:"severity"`
	Confidence   float64   `json:"confidence"`
	Actor        string    `json:"actor,omitempty"` // acting side, if known
	Title        string    `json:"title,omitempty"`
	EvidenceURLs []string  `json:"evidence_urls"`

	// IngestSeq is assigned by the store on insert and increases with
	// insertion order, independent of OccurredAt.
	IngestSeq int64 `json:"-"`
}

// Weight is the event's contribution before time decay.
func (e ConflictEvent) Weight() float64 {
	return e.Severity * e.Confidence
}

// Validate rejects events that cannot be folded into state.
func (e ConflictEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event: missing id")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("event %s: missing occurred_at", e.ID)
	}
	if !unit(e.Severity) {
		return fmt.Errorf("event %s: severity %v out of range [0,1]", e.ID, e.Severity)
	}
	if !unit(e.Confidence) {
		return fmt.Errorf("event %s: confidence %v out of range [0,1]", e.ID, e.Confidence)
	}
	return nil
}

// Driver is one entry in a conflict's ranked top_drivers list.
type Driver struct {
	EventID      string    `json:"event_id"`
	Title        string    `json:"title,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
	Weight       float64   `json:"weight"`
	EvidenceURLs []string  `json:"evidence_urls,omitempty"`
}

// ConflictStateLive is the mutable dynamic state of one conflict.
type ConflictStateLive struct {
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

	// LastIngestSeq is the highest event IngestSeq already consumed.
	LastIngestSeq int64 `json:"-"`
}

// Clone returns a deep copy.
func (s ConflictStateLive) Clone() ConflictStateLive {
	out := s
	if s.TheatreRank != nil {
		r := *s.TheatreRank
		out.TheatreRank = &r
	}
	if s.LastEventAt != nil {
		t := *s.LastEventAt
		out.LastEventAt = &t
	}
	out.TopDrivers = make([]Driver, len(s.TopDrivers))
	for i, d := range s.TopDrivers {
		d.EvidenceURLs = append([]string(nil), d.EvidenceURLs...)
		out.TopDrivers[i] = d
	}
	return out
}

// ConflictView joins a core with its live state for read APIs.
type ConflictView struct {
	ConflictCore
	State ConflictStateLive `json:"state"`
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
