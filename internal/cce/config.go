package cce

import (
	"errors"
	"fmt"
	"time"
)

// Flags gate the pipeline. V2 covers the theatre, alliance and front phases.
type Flags struct {
	Enabled   bool `env:"ENABLED" envDefault:"true"`
	V2Enabled bool `env:"V2_ENABLED" envDefault:"true"`
}

// Tuning holds the numeric constants of the aggregation algorithms. None of
// these values are contracts except where Validate enforces an ordering.
type Tuning struct {
	TensionHalfLife   time.Duration `env:"TENSION_HALF_LIFE" envDefault:"120h"`
	HeatHalfLife      time.Duration `env:"HEAT_HALF_LIFE" envDefault:"9h"`
	FrontHalfLife     time.Duration `env:"FRONT_HALF_LIFE" envDefault:"6h"`
	MinVelocityWindow time.Duration `env:"MIN_VELOCITY_WINDOW" envDefault:"1h"`
	VelocityScale     time.Duration `env:"VELOCITY_SCALE" envDefault:"24h"`
	MomentumAlpha     float64       `env:"MOMENTUM_ALPHA" envDefault:"0.3"`
	MomentumInterval  time.Duration `env:"MOMENTUM_INTERVAL" envDefault:"1h"`

	CurrentWeight   float64 `env:"CURRENT_WEIGHT" envDefault:"1"`
	EventWeight     float64 `env:"EVENT_WEIGHT" envDefault:"2"`
	HeatEventWeight float64 `env:"HEAT_EVENT_WEIGHT" envDefault:"3"`

	PressureTensionWeight  float64 `env:"PRESSURE_TENSION_WEIGHT" envDefault:"0.7"`
	PressureMomentumWeight float64 `env:"PRESSURE_MOMENTUM_WEIGHT" envDefault:"0.3"`
	PressureImportanceBase float64 `env:"PRESSURE_IMPORTANCE_BASE" envDefault:"0.4"`
	InstabilityScale       float64 `env:"INSTABILITY_SCALE" envDefault:"2"`

	MaxDrivers      int           `env:"MAX_DRIVERS" envDefault:"10"`
	DormantFloor    float64       `env:"DORMANT_FLOOR" envDefault:"0.01"`
	StalenessWindow time.Duration `env:"STALENESS_WINDOW" envDefault:"336h"`

	MinImportanceWeight  float64 `env:"MIN_IMPORTANCE_WEIGHT" envDefault:"0.05"`
	DominantConflicts    int     `env:"DOMINANT_CONFLICTS" envDefault:"3"`
	MaxDominantActors    int     `env:"MAX_DOMINANT_ACTORS" envDefault:"6"`
	ActiveFrontIntensity float64 `env:"ACTIVE_FRONT_INTENSITY" envDefault:"0.2"`
	AllianceTopConflicts int     `env:"ALLIANCE_TOP_CONFLICTS" envDefault:"5"`

	FrontIntensityGain float64 `env:"FRONT_INTENSITY_GAIN" envDefault:"1"`
	ControlShiftRate   float64 `env:"CONTROL_SHIFT_RATE" envDefault:"0.1"`
	MaxControlShift    float64 `env:"MAX_CONTROL_SHIFT" envDefault:"0.05"`

	DefaultImportance    float64 `env:"DEFAULT_IMPORTANCE" envDefault:"0.5"`
	DefaultBaseHostility float64 `env:"DEFAULT_BASE_HOSTILITY" envDefault:"0.3"`

	// World rollup. The alert level compares max(global tension,
	// WorldPeakPressureWeight * peak pressure) against the Alert* floors;
	// country status compares the country's peak pressure against Country*.
	WorldActiveTension      float64 `env:"WORLD_ACTIVE_TENSION" envDefault:"0.1"`
	WorldEscalatingMomentum float64 `env:"WORLD_ESCALATING_MOMENTUM" envDefault:"0.05"`
	WorldPeakPressureWeight float64 `env:"WORLD_PEAK_PRESSURE_WEIGHT" envDefault:"0.8"`
	MaxHotspots             int     `env:"MAX_HOTSPOTS" envDefault:"5"`
	AlertCritical           float64 `env:"ALERT_CRITICAL" envDefault:"0.65"`
	AlertHigh               float64 `env:"ALERT_HIGH" envDefault:"0.45"`
	AlertElevated           float64 `env:"ALERT_ELEVATED" envDefault:"0.25"`
	CountryCritical         float64 `env:"COUNTRY_CRITICAL" envDefault:"0.6"`
	CountryTense            float64 `env:"COUNTRY_TENSE" envDefault:"0.4"`
	CountryWatch            float64 `env:"COUNTRY_WATCH" envDefault:"0.2"`
}

// Config is everything the Engine needs besides its collaborators.
type Config struct {
	Flags  Flags
	Tuning Tuning

	UpdateInterval time.Duration `env:"UPDATE_INTERVAL" envDefault:"15m"`
	TickTimeout    time.Duration `env:"TICK_TIMEOUT" envDefault:"5m"`
	ItemTimeout    time.Duration `env:"ITEM_TIMEOUT" envDefault:"10s"`
	Workers        int           `env:"WORKERS" envDefault:"1"`
	IngestBatch    int           `env:"INGEST_BATCH" envDefault:"500"`

	// Edge deriver defaults, overridable per call through RunOptions.
	MinTension float64       `env:"MIN_TENSION" envDefault:"0.1"`
	MaxAge     time.Duration `env:"MAX_AGE" envDefault:"72h"`
}

// DefaultTuning returns the tuning used when nothing is configured.
func DefaultTuning() Tuning {
	return Tuning{
		TensionHalfLife:        120 * time.Hour,
		HeatHalfLife:           9 * time.Hour,
		FrontHalfLife:          6 * time.Hour,
		MinVelocityWindow:      time.Hour,
		VelocityScale:          24 * time.Hour,
		MomentumAlpha:          0.3,
		MomentumInterval:       time.Hour,
		CurrentWeight:          1,
		EventWeight:            2,
		HeatEventWeight:        3,
		PressureTensionWeight:  0.7,
		PressureMomentumWeight: 0.3,
		PressureImportanceBase: 0.4,
		InstabilityScale:       2,
		MaxDrivers:             10,
		DormantFloor:           0.01,
		StalenessWindow:        14 * 24 * time.Hour,
		MinImportanceWeight:    0.05,
		DominantConflicts:      3,
		MaxDominantActors:      6,
		ActiveFrontIntensity:   0.2,
		AllianceTopConflicts:   5,
		FrontIntensityGain:     1,
		ControlShiftRate:       0.1,
		MaxControlShift:        0.05,
		DefaultImportance:      0.5,
		DefaultBaseHostility:   0.3,

		WorldActiveTension:      0.1,
		WorldEscalatingMomentum: 0.05,
		WorldPeakPressureWeight: 0.8,
		MaxHotspots:             5,
		AlertCritical:           0.65,
		AlertHigh:               0.45,
		AlertElevated:           0.25,
		CountryCritical:         0.6,
		CountryTense:            0.4,
		CountryWatch:            0.2,
	}
}

// DefaultConfig returns a fully enabled configuration with default tuning.
func DefaultConfig() Config {
	return Config{
		Flags:          Flags{Enabled: true, V2Enabled: true},
		Tuning:         DefaultTuning(),
		UpdateInterval: 15 * time.Minute,
		TickTimeout:    5 * time.Minute,
		ItemTimeout:    10 * time.Second,
		Workers:        1,
		IngestBatch:    500,
		MinTension:     0.1,
		MaxAge:         72 * time.Hour,
	}
}

// Validate checks cross-field constraints.
func (t Tuning) Validate() error {
	var errs []error
	if t.TensionHalfLife <= 0 || t.HeatHalfLife <= 0 || t.FrontHalfLife <= 0 {
		errs = append(errs, errors.New("half-lives must be positive"))
	}
	if t.HeatHalfLife >= t.TensionHalfLife {
		errs = append(errs, fmt.Errorf("heat half-life (%s) must be shorter than tension half-life (%s)", t.HeatHalfLife, t.TensionHalfLife))
	}
	if t.MinVelocityWindow <= 0 || t.VelocityScale <= 0 || t.MomentumInterval <= 0 {
		errs = append(errs, errors.New("velocity window, velocity scale and momentum interval must be positive"))
	}
	for name, v := range map[string]float64{
		"momentum alpha":             t.MomentumAlpha,
		"pressure importance base":   t.PressureImportanceBase,
		"control shift rate":         t.ControlShiftRate,
		"max control shift":          t.MaxControlShift,
		"default importance":         t.DefaultImportance,
		"default base hostility":     t.DefaultBaseHostility,
		"dormant floor":              t.DormantFloor,
		"active front intensity":     t.ActiveFrontIntensity,
		"min importance weight":      t.MinImportanceWeight,
		"world active tension":       t.WorldActiveTension,
		"world escalating momentum":  t.WorldEscalatingMomentum,
		"world peak pressure weight": t.WorldPeakPressureWeight,
		"alert critical":             t.AlertCritical,
		"alert high":                 t.AlertHigh,
		"alert elevated":             t.AlertElevated,
		"country critical":           t.CountryCritical,
		"country tense":              t.CountryTense,
		"country watch":              t.CountryWatch,
	} {
		if !(v >= 0 && v <= 1) {
			errs = append(errs, fmt.Errorf("%s %v out of range [0,1]", name, v))
		}
	}
	for name, v := range map[string]float64{
		"current weight":       t.CurrentWeight,
		"event weight":         t.EventWeight,
		"heat event weight":    t.HeatEventWeight,
		"instability scale":    t.InstabilityScale,
		"front intensity gain": t.FrontIntensityGain,
	} {
		if !(v >= 0) {
			errs = append(errs, fmt.Errorf("%s %v must not be negative", name, v))
		}
	}
	if t.CurrentWeight+t.EventWeight <= 0 || t.CurrentWeight+t.HeatEventWeight <= 0 {
		errs = append(errs, errors.New("blend weights must not all be zero"))
	}
	if !(t.AlertCritical > t.AlertHigh && t.AlertHigh > t.AlertElevated) {
		errs = append(errs, errors.New("alert thresholds must be strictly decreasing from critical to elevated"))
	}
	if !(t.CountryCritical > t.CountryTense && t.CountryTense > t.CountryWatch) {
		errs = append(errs, errors.New("country thresholds must be strictly decreasing from critical to watch"))
	}
	if t.PressureTensionWeight < 0 || t.PressureMomentumWeight < 0 || t.PressureTensionWeight+t.PressureMomentumWeight > 1 {
		errs = append(errs, errors.New("pressure weights must be non-negative and sum to at most 1"))
	}
	if t.MaxDrivers <= 0 || t.DominantConflicts <= 0 || t.MaxDominantActors <= 0 || t.AllianceTopConflicts <= 0 || t.MaxHotspots <= 0 {
		errs = append(errs, errors.New("list caps must be positive"))
	}
	return errors.Join(errs...)
}

// Validate checks the engine configuration.
func (c Config) Validate() error {
	var errs []error
	if err := c.Tuning.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.TickTimeout <= 0 || c.ItemTimeout <= 0 {
		errs = append(errs, errors.New("tick and item timeouts must be positive"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1 (got %d)", c.Workers))
	}
	if c.IngestBatch < 1 {
		errs = append(errs, fmt.Errorf("ingest batch must be at least 1 (got %d)", c.IngestBatch))
	}
	if c.MinTension < 0 || c.MinTension > 1 {
		errs = append(errs, fmt.Errorf("min tension %v out of range [0,1]", c.MinTension))
	}
	if c.MaxAge <= 0 {
		errs = append(errs, errors.New("max age must be positive"))
	}
	return errors.Join(errs...)
}
