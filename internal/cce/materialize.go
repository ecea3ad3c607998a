package cce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

// errRejected marks signals that can never be materialized. Store errors are
// not wrapped with it, so those signals stay pending and are retried.
var errRejected = errors.New("signal rejected")

// Materializer turns pending raw signals into conflict cores and events.
// Re-running it over the same signals is a no-op: event IDs equal signal IDs
// and inserts skip existing rows.
type Materializer struct {
	tuning Tuning
	store  Store
	ref    ReferenceData
	batch  int
	logger *slog.Logger
}

// NewMaterializer creates the ingest phase.
func NewMaterializer(store Store, ref ReferenceData, tuning Tuning, batch int, logger *slog.Logger) *Materializer {
	if batch <= 0 || batch > model.MaxSignalsPerIngest {
		batch = model.MaxSignalsPerIngest
	}
	return &Materializer{tuning: tuning, store: store, ref: ref, batch: batch, logger: logger}
}

// Run seeds reference conflicts, then materializes one batch of signals.
func (m *Materializer) Run(ctx context.Context, now time.Time) *PhaseStats {
	stats := newPhase(PhaseIngest)
	stats.Ran = true

	m.seedReferenceConflicts(ctx, now, stats)

	signals, err := m.store.ListPendingSignals(ctx, m.batch)
	if err != nil {
		stats.fail(fmt.Errorf("list pending signals: %w", err))
		return stats
	}
	for _, sig := range signals {
		if err := ctx.Err(); err != nil {
			// Unprocessed signals stay pending for the next tick.
			break
		}
		inserted, err := m.materialize(ctx, sig, now)
		if err != nil {
			stats.itemFailed(sig.ID, err)
			if !errors.Is(err, errRejected) {
				m.logger.Warn("cce: signal materialization failed", "signal_id", sig.ID, "error", err)
				continue
			}
			m.logger.Warn("cce: signal rejected", "signal_id", sig.ID, "error", err)
			if markErr := m.store.MarkSignalMaterialized(ctx, sig.ID, err.Error(), now); markErr != nil {
				m.logger.Error("cce: mark rejected signal failed", "signal_id", sig.ID, "error", markErr)
			}
			continue
		}
		if err := m.store.MarkSignalMaterialized(ctx, sig.ID, "", now); err != nil {
			stats.itemFailed(sig.ID, fmt.Errorf("mark materialized: %w", err))
			continue
		}
		stats.Processed++
		if inserted {
			stats.Created++
		} else {
			stats.Skipped++
		}
	}
	return stats
}

func (m *Materializer) seedReferenceConflicts(ctx context.Context, now time.Time, stats *PhaseStats) {
	if m.ref == nil {
		return
	}
	seeds, err := m.ref.Conflicts(ctx)
	if err != nil {
		m.logger.Warn("cce: reference conflicts unavailable", "error", err)
		stats.itemFailed("reference_conflicts", err)
		return
	}
	for _, c := range seeds {
		c.ActorA, c.ActorB = model.CanonicalPair(c.ActorA, c.ActorB)
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Theatre == "" {
			c.Theatre = model.DefaultTheatre
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		if err := c.Validate(); err != nil {
			stats.itemFailed(c.ID, err)
			continue
		}
		if _, err := m.store.UpsertConflictCore(ctx, c); err != nil {
			stats.itemFailed(c.ID, fmt.Errorf("seed conflict core: %w", err))
		}
	}
}

func (m *Materializer) materialize(ctx context.Context, sig model.RawSignal, now time.Time) (bool, error) {
	a, b := model.CanonicalPair(sig.ActorA, sig.ActorB)
	theatre := strings.TrimSpace(sig.Theatre)
	if theatre == "" {
		theatre = model.DefaultTheatre
	}
	core := model.ConflictCore{
		ID:            uuid.NewString(),
		ActorA:        a,
		ActorB:        b,
		Theatre:       theatre,
		Importance:    m.tuning.DefaultImportance,
		BaseHostility: m.tuning.DefaultBaseHostility,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := core.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", errRejected, err)
	}

	createdAt := sig.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	title := sig.Title
	if len(title) > model.MaxTitleLen {
		title = strings.ToValidUTF8(title[:model.MaxTitleLen], "")
	}
	ev := model.ConflictEvent{
		ID:           sig.ID,
		OccurredAt:   sig.OccurredAt,
		CreatedAt:    createdAt,
		Severity:     sig.Severity,
		Confidence:   sig.Confidence,
		Actor:        model.NormalizeActor(sig.Actor),
		Title:        title,
		EvidenceURLs: model.FilterEvidenceURLs(sig.EvidenceURLs, model.MaxEvidenceURLs),
	}
	if err := ev.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", errRejected, err)
	}

	stored, _, err := m.store.EnsureConflictCore(ctx, core)
	if err != nil {
		return false, fmt.Errorf("ensure conflict core: %w", err)
	}
	ev.ConflictID = stored.ID
	inserted, err := m.store.InsertConflictEvent(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return inserted, nil
}
