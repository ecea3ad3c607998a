package telemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// ScopeCCE is the instrumentation scope for the update cycle.
const ScopeCCE = "live-monitor/cce"

// TickInstruments are the update-cycle metrics.
type TickInstruments struct {
	TickCount     metric.Int64Counter
	TickDuration  metric.Float64Histogram
	PhaseFailures metric.Int64Counter
	EdgesWritten  metric.Int64Counter
}

// NewTickInstruments creates the cycle instruments on m. Instrument errors
// only occur for invalid names, so they fall back to no-op instruments.
func NewTickInstruments(m metric.Meter) TickInstruments {
	var ti TickInstruments
	ti.TickCount, _ = m.Int64Counter("cce.tick.count",
		metric.WithDescription("Update cycles run, by outcome"),
	)
	ti.TickDuration, _ = m.Float64Histogram("cce.tick.duration",
		metric.WithDescription("Update cycle duration"),
		metric.WithUnit("ms"),
	)
	ti.PhaseFailures, _ = m.Int64Counter("cce.phase.failures",
		metric.WithDescription("Item and phase failures, by phase"),
	)
	ti.EdgesWritten, _ = m.Int64Counter("cce.edges.written",
		metric.WithDescription("Relation edges created or updated"),
	)
	return ti
}
