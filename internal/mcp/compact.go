package mcp

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

const (
	maxCompactTitle   = 120
	maxCompactDrivers = 3

	noteMomentum  = 0.05
	notePressure  = 0.6
	noteQuietDays = 7
)

// compactConflict returns a minimal representation of a conflict for MCP
// responses. Drops bookkeeping (base weights, timestamps other than the last
// event, full evidence lists) that agents don't act on. Scores are rounded
// to 3 decimal places.
func compactConflict(v model.ConflictView) map[string]any {
	st := v.State
	m := map[string]any{
		"id":          v.ID,
		"actors":      []string{v.ActorA, v.ActorB},
		"theatre":     v.Theatre,
		"tension":     round3(st.Tension),
		"momentum":    round3(st.Momentum),
		"pressure":    round3(st.Pressure),
		"instability": round3(st.Instability),
	}
	if st.TheatreRank != nil {
		m["theatre_rank"] = *st.TheatreRank
	}
	if st.LastEventAt != nil {
		m["last_event_at"] = st.LastEventAt.UTC().Format(time.RFC3339)
	}

	if len(st.TopDrivers) > 0 {
		drivers := make([]map[string]any, 0, min(len(st.TopDrivers), maxCompactDrivers))
		for _, d := range st.TopDrivers[:min(len(st.TopDrivers), maxCompactDrivers)] {
			entry := map[string]any{"event_id": d.EventID, "weight": round3(d.Weight)}
			if d.Title != "" {
				entry["title"] = truncate(d.Title, maxCompactTitle)
			}
			if len(d.EvidenceURLs) > 0 {
				entry["evidence_url"] = d.EvidenceURLs[0]
			}
			drivers = append(drivers, entry)
		}
		m["top_drivers"] = drivers
	}

	if note := generateContextNote(st); note != "" {
		m["context_note"] = note
	}
	return m
}

// generateContextNote produces a human-readable trend note for a conflict.
// Rules are evaluated in priority order; first match wins. Returns "" when no rule fires.
func generateContextNote(st model.ConflictStateLive) string {
	switch {
	case st.LastEventAt == nil:
		return "No events recorded. Values reflect base tension only."

	case st.Momentum > noteMomentum && st.Pressure >= notePressure:
		return fmt.Sprintf("Escalating under high pressure (momentum %+.2f).", st.Momentum)

	case st.Momentum > noteMomentum:
		return fmt.Sprintf("Escalating (momentum %+.2f).", st.Momentum)

	case st.Momentum < -noteMomentum:
		return fmt.Sprintf("Cooling (momentum %+.2f).", st.Momentum)
	}

	if !st.UpdatedAt.IsZero() {
		days := int(st.UpdatedAt.Sub(*st.LastEventAt).Hours() / 24)
		if days >= noteQuietDays {
			return fmt.Sprintf("Quiet for %d days.", days)
		}
	}
	return ""
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// truncate shortens s to at most n runes, appending "..." when cut.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
