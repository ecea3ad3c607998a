package cce_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticRef is a fixed ReferenceData.
type staticRef struct {
	conflicts []model.ConflictCore
	alliances []model.Alliance
	fronts    []model.Front
	err       error
}

func (r staticRef) Conflicts(context.Context) ([]model.ConflictCore, error) {
	return r.conflicts, r.err
}

func (r staticRef) Alliances(context.Context) ([]model.Alliance, error) {
	return r.alliances, r.err
}

func (r staticRef) Fronts(context.Context) ([]model.Front, error) {
	return r.fronts, r.err
}

func core(id, a, b, theatre string, importance float64) model.ConflictCore {
	a, b = model.CanonicalPair(a, b)
	return model.ConflictCore{
		ID:            id,
		ActorA:        a,
		ActorB:        b,
		Theatre:       theatre,
		Importance:    importance,
		BaseHostility: 0.3,
		CreatedAt:     epoch,
		UpdatedAt:     epoch,
	}
}

func event(id, conflictID string, at time.Time, severity, confidence float64) model.ConflictEvent {
	return model.ConflictEvent{
		ID:           id,
		ConflictID:   conflictID,
		OccurredAt:   at,
		CreatedAt:    at,
		Severity:     severity,
		Confidence:   confidence,
		Title:        "event " + id,
		EvidenceURLs: []string{"https://news.example.com/" + id},
	}
}

func ptr[T any](v T) *T { return &v }
