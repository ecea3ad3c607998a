// Package refdata loads the externally maintained reference tables (seeded
// conflicts, alliance membership, front topology) from a YAML file and keeps
// them current as the file changes.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

var _ cce.ReferenceData = (*Source)(nil)

// ConflictSeed is a reference conflict whose weights override the defaults
// signals would otherwise create it with.
type ConflictSeed struct {
	ID            string  `yaml:"id"`
	ActorA        string  `yaml:"actor_a" validate:"required"`
	ActorB        string  `yaml:"actor_b" validate:"required,nefield=ActorA"`
	Theatre       string  `yaml:"theatre"`
	Importance    float64 `yaml:"importance" validate:"gte=0,lte=1"`
	BaseHostility float64 `yaml:"base_hostility" validate:"gte=0,lte=1"`
	BaseTension   float64 `yaml:"base_tension" validate:"gte=0,lte=1"`
}

// Data is the content of one reference file.
type Data struct {
	Conflicts []ConflictSeed   `yaml:"conflicts" validate:"dive"`
	Alliances []model.Alliance `yaml:"alliances" validate:"dive"`
	Fronts    []model.Front    `yaml:"fronts" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a reference file. Actor codes are normalized.
func Parse(raw []byte) (Data, error) {
	var d Data
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Data{}, fmt.Errorf("refdata: decode: %w", err)
	}
	d.normalize()
	if err := validate.Struct(d); err != nil {
		return Data{}, fmt.Errorf("refdata: invalid: %w", err)
	}
	if err := d.check(); err != nil {
		return Data{}, fmt.Errorf("refdata: invalid: %w", err)
	}
	return d, nil
}

// LoadFile reads and parses the reference file at path.
func LoadFile(path string) (Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Data{}, fmt.Errorf("refdata: read %s: %w", path, err)
	}
	return Parse(raw)
}

func (d *Data) normalize() {
	for i := range d.Conflicts {
		c := &d.Conflicts[i]
		c.ActorA, c.ActorB = model.NormalizeActor(c.ActorA), model.NormalizeActor(c.ActorB)
	}
	for i := range d.Alliances {
		d.Alliances[i].Members = normalizeKeys(d.Alliances[i].Members)
	}
	for i := range d.Fronts {
		f := &d.Fronts[i]
		for j, a := range f.Actors {
			f.Actors[j] = model.NormalizeActor(a)
		}
		f.BaseControl = normalizeKeys(f.BaseControl)
	}
}

// check enforces rules the struct tags cannot express.
func (d Data) check() error {
	var errs []error
	seen := map[string]bool{}
	for _, c := range d.Conflicts {
		key := model.PairKey(c.ActorA, c.ActorB)
		if seen[key] {
			errs = append(errs, fmt.Errorf("conflict %s listed twice", key))
		}
		seen[key] = true
	}
	ids := map[string]bool{}
	for _, a := range d.Alliances {
		if ids[a.ID] {
			errs = append(errs, fmt.Errorf("alliance %q listed twice", a.ID))
		}
		ids[a.ID] = true
	}
	clear(ids)
	for _, f := range d.Fronts {
		if ids[f.ID] {
			errs = append(errs, fmt.Errorf("front %q listed twice", f.ID))
		}
		ids[f.ID] = true
		for actor := range f.BaseControl {
			if !slices.Contains(f.Actors, actor) {
				errs = append(errs, fmt.Errorf("front %q: base control for %s, which is not one of its actors", f.ID, actor))
			}
		}
	}
	return errors.Join(errs...)
}

func normalizeKeys(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[model.NormalizeActor(k)] = v
	}
	return out
}

type snapshot struct {
	data     Data
	loadedAt time.Time
}

// Source serves reference data to the engine. The current snapshot is
// swapped atomically on reload, so a tick that already read it is unaffected.
type Source struct {
	path   string
	logger *slog.Logger
	cur    atomic.Pointer[snapshot]
}

// Open loads the file at path. The file must exist and be valid.
func Open(path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Static returns a Source over fixed data, with no backing file.
func Static(d Data) *Source {
	s := &Source{logger: slog.Default()}
	s.cur.Store(&snapshot{data: d, loadedAt: time.Now()})
	return s
}

// Reload re-reads the file. On error the previous snapshot is kept.
func (s *Source) Reload() error {
	if s.path == "" {
		return errors.New("refdata: source has no file")
	}
	d, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.cur.Store(&snapshot{data: d, loadedAt: time.Now()})
	s.logger.Info("refdata: loaded",
		"path", s.path,
		"conflicts", len(d.Conflicts),
		"alliances", len(d.Alliances),
		"fronts", len(d.Fronts),
	)
	return nil
}

// LoadedAt reports when the current snapshot was loaded.
func (s *Source) LoadedAt() time.Time {
	return s.cur.Load().loadedAt
}

func (s *Source) Conflicts(context.Context) ([]model.ConflictCore, error) {
	seeds := s.cur.Load().data.Conflicts
	out := make([]model.ConflictCore, 0, len(seeds))
	for _, c := range seeds {
		a, b := model.CanonicalPair(c.ActorA, c.ActorB)
		out = append(out, model.ConflictCore{
			ID:            c.ID,
			ActorA:        a,
			ActorB:        b,
			Theatre:       c.Theatre,
			Importance:    c.Importance,
			BaseHostility: c.BaseHostility,
			BaseTension:   c.BaseTension,
		})
	}
	return out, nil
}

func (s *Source) Alliances(context.Context) ([]model.Alliance, error) {
	return slices.Clone(s.cur.Load().data.Alliances), nil
}

func (s *Source) Fronts(context.Context) ([]model.Front, error) {
	return slices.Clone(s.cur.Load().data.Fronts), nil
}
