package cce

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/decay"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

// ComputeWorldState derives the global rollup from the current conflict set.
// It is recomputed from scratch every tick.
func ComputeWorldState(t Tuning, cores []model.ConflictCore, states []model.ConflictStateLive, now time.Time) model.WorldState {
	w := model.WorldState{
		AlertLevel: model.AlertCalm,
		Hotspots:   []string{},
		Countries:  map[string]model.CountryStatus{},
		ComputedAt: now,
	}
	stateByID := make(map[string]model.ConflictStateLive, len(states))
	for _, s := range states {
		stateByID[s.ConflictID] = s
	}

	type hotspot struct {
		id       string
		pressure float64
	}
	var hotspots []hotspot
	var wSum, tSum float64
	for _, c := range cores {
		s, ok := stateByID[c.ID]
		if !ok {
			continue
		}
		w.ConflictCount++
		weight := math.Max(decay.Clamp01(c.Importance), t.MinImportanceWeight)
		wSum += weight
		tSum += weight * s.Tension
		w.PeakPressure = math.Max(w.PeakPressure, s.Pressure)
		if s.Tension >= t.WorldActiveTension {
			w.ActiveConflicts++
		}
		if s.Momentum > t.WorldEscalatingMomentum {
			w.EscalatingConflicts++
		}
		hotspots = append(hotspots, hotspot{id: c.ID, pressure: s.Pressure})

		for _, actor := range []string{c.ActorA, c.ActorB} {
			cs := w.Countries[actor]
			cs.Conflicts++
			cs.Pressure = math.Max(cs.Pressure, s.Pressure)
			cs.Tension = math.Max(cs.Tension, s.Tension)
			w.Countries[actor] = cs
		}
	}
	if wSum > 0 {
		w.GlobalTension = decay.Clamp01(tSum / wSum)
	}
	w.PeakPressure = decay.Clamp01(w.PeakPressure)

	score := math.Max(w.GlobalTension, t.WorldPeakPressureWeight*w.PeakPressure)
	switch {
	case score >= t.AlertCritical:
		w.AlertLevel = model.AlertCritical
	case score >= t.AlertHigh:
		w.AlertLevel = model.AlertHigh
	case score >= t.AlertElevated:
		w.AlertLevel = model.AlertElevated
	}

	for actor, cs := range w.Countries {
		switch {
		case cs.Pressure >= t.CountryCritical:
			cs.Status = model.CountryCritical
		case cs.Pressure >= t.CountryTense:
			cs.Status = model.CountryTense
		case cs.Pressure >= t.CountryWatch:
			cs.Status = model.CountryWatch
		default:
			cs.Status = model.CountryStable
		}
		w.Countries[actor] = cs
	}

	slices.SortFunc(hotspots, func(x, y hotspot) int {
		if c := cmp.Compare(y.pressure, x.pressure); c != 0 {
			return c
		}
		return cmp.Compare(x.id, y.id)
	})
	for i := 0; i < len(hotspots) && i < t.MaxHotspots; i++ {
		w.Hotspots = append(w.Hotspots, hotspots[i].id)
	}
	return w
}
