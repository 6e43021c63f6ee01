package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/tidesim/internal/detector"
	"github.com/san-kum/tidesim/internal/hydro"
	"github.com/san-kum/tidesim/internal/physics"
)

const (
	DefaultDt       = 300.0
	DefaultExport   = 1800.0
	DefaultEnd      = 86400.0
	DefaultLatitude = 53.0
	DefaultTheta    = 1.0
	DefaultTau      = 3600.0

	DefaultSedimentSize   = 40e-6
	DefaultMorfac         = 1.0
	DefaultDiffusivity    = 0.01
	DefaultMorphViscosity = 1e-6
	DefaultPorosity       = 0.4
)

// Boundary kinds accepted under boundaries.
const (
	BoundaryTidal = "tidal"
	BoundaryWall  = "wall"
)

var (
	timesteppers    = []string{"CrankNicolson", "SSPRK33", "ForwardEuler", "BackwardEuler", "DIRK22", "DIRK33"}
	elementFamilies = []string{"dg-dg", "rt-dg", "dg-cg"}
)

type Config struct {
	Run        RunConfig      `yaml:"run"`
	Mesh       MeshConfig     `yaml:"mesh"`
	Time       TimeConfig     `yaml:"time"`
	Physics    PhysicsConfig  `yaml:"physics"`
	Scheme     SchemeConfig   `yaml:"scheme"`
	Boundaries map[int]string `yaml:"boundaries"`
	Forcing    ForcingConfig  `yaml:"forcing"`
	Detectors  DetectorConfig `yaml:"detectors"`
	Restart    RestartConfig  `yaml:"restart"`
	Solver     SolverConfig   `yaml:"solver"`
	Log        LogConfig      `yaml:"log"`
}

type RunConfig struct {
	ID   string `yaml:"id,omitempty"` // generated when empty
	Data string `yaml:"data"`
}

// MeshConfig selects a Gmsh file, or a structured rectangle when Path is
// empty.
type MeshConfig struct {
	Path string  `yaml:"path,omitempty"`
	NX   int     `yaml:"nx,omitempty"`
	NY   int     `yaml:"ny,omitempty"`
	LX   float64 `yaml:"lx,omitempty"`
	LY   float64 `yaml:"ly,omitempty"`
}

type TimeConfig struct {
	Start  float64 `yaml:"start"`
	Dt     float64 `yaml:"dt"`
	Export float64 `yaml:"export"`
	End    float64 `yaml:"end"`
}

type PhysicsConfig struct {
	Latitude   float64        `yaml:"latitude"`
	Coriolis   bool           `yaml:"coriolis"`
	Bathymetry physics.Source `yaml:"bathymetry"`
	Viscosity  physics.Source `yaml:"viscosity"`
	Sediment   SedimentConfig `yaml:"sediment"`
}

type SedimentConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Size           float64 `yaml:"size"`
	Morfac         float64 `yaml:"morfac"`
	Diffusivity    float64 `yaml:"diffusivity"`
	MorphViscosity float64 `yaml:"morphological_viscosity"`
	Porosity       float64 `yaml:"porosity"`
	Erosion        float64 `yaml:"erosion"`
	Settling       float64 `yaml:"settling"`
}

// BedReferenceHeight is three grain diameters.
func (s SedimentConfig) BedReferenceHeight() float64 { return 3 * s.Size }

type SchemeConfig struct {
	Timestepper  string  `yaml:"timestepper"`
	Theta        float64 `yaml:"theta"`
	SemiImplicit bool    `yaml:"semi_implicit"`
	Element      string  `yaml:"element_family"`
	WettingAlpha float64 `yaml:"wetting_alpha"`
	CFL          float64 `yaml:"cfl"`
}

type ConstituentConfig struct {
	Name      string  `yaml:"name"`
	Amplitude float64 `yaml:"amplitude"`
	Phase     float64 `yaml:"phase"`
	Period    float64 `yaml:"period"`
	U         float64 `yaml:"u"`
	V         float64 `yaml:"v"`
}

// ForcingConfig describes the tidal model: a CSV table when Table is set,
// otherwise the harmonic constituents.
type ForcingConfig struct {
	Table        string              `yaml:"table,omitempty"`
	Mean         float64             `yaml:"mean"`
	Constituents []ConstituentConfig `yaml:"constituents,omitempty"`
	Celerity     float64             `yaml:"celerity"`
	Direction    float64             `yaml:"direction"`
	Ramp         float64             `yaml:"ramp"`
	Workers      int                 `yaml:"workers"`
}

type DetectorConfig struct {
	File    string          `yaml:"file,omitempty"`
	Points  []detector.Spec `yaml:"points,omitempty"`
	Fields  []string        `yaml:"fields"`
	UTMZone int             `yaml:"utm_zone,omitempty"`
	SQLite  bool            `yaml:"sqlite"`
}

// RestartConfig is disabled when Dir is empty.
type RestartConfig struct {
	Dir  string `yaml:"dir,omitempty"`
	Step int    `yaml:"step"`
}

type SolverConfig struct {
	Tau          float64 `yaml:"tau"`
	MaxElevation float64 `yaml:"max_elevation"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Run:  RunConfig{Data: "runs"},
		Mesh: MeshConfig{NX: 20, NY: 10, LX: 20000, LY: 10000},
		Time: TimeConfig{Dt: DefaultDt, Export: DefaultExport, End: DefaultEnd},
		Physics: PhysicsConfig{
			Latitude:   DefaultLatitude,
			Coriolis:   true,
			Bathymetry: physics.Source{Value: 20},
			Viscosity:  physics.Source{Value: 1},
			Sediment: SedimentConfig{
				Enabled:        true,
				Size:           DefaultSedimentSize,
				Morfac:         DefaultMorfac,
				Diffusivity:    DefaultDiffusivity,
				MorphViscosity: DefaultMorphViscosity,
				Porosity:       DefaultPorosity,
				Erosion:        1e-6,
				Settling:       1e-4,
			},
		},
		Scheme: SchemeConfig{
			Timestepper:  "CrankNicolson",
			Theta:        DefaultTheta,
			SemiImplicit: true,
			Element:      "dg-dg",
			WettingAlpha: 0.5,
			CFL:          1.0,
		},
		Boundaries: map[int]string{1: BoundaryWall, 2: BoundaryWall, 3: BoundaryWall, 4: BoundaryTidal},
		Forcing: ForcingConfig{
			Constituents: []ConstituentConfig{
				{Name: "M2", Amplitude: 1.0, Period: 44712, U: 0.5},
			},
			Celerity: 14,
		},
		Detectors: DetectorConfig{
			Fields: []string{hydro.FieldElevation, hydro.FieldVelocity, hydro.FieldSediment},
		},
		Solver: SolverConfig{Tau: DefaultTau, MaxElevation: 100},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path over DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := LoadInto(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadInto reads path over base, so keys the file leaves out keep base's
// values. A boundaries map in the file replaces base's map as a whole.
func LoadInto(path string, base *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	boundaries := base.Boundaries
	base.Boundaries = nil
	if err := yaml.Unmarshal(data, base); err != nil {
		base.Boundaries = boundaries
		return fmt.Errorf("%s: %w", path, err)
	}
	if base.Boundaries == nil {
		base.Boundaries = boundaries
	}
	return nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the configuration for values no run could use. An export
// interval that is not a multiple of dt is accepted.
func (c *Config) Validate() error {
	t := c.Time
	switch {
	case t.Dt <= 0:
		return invalid("time.dt must be positive, got %g", t.Dt)
	case t.Export <= 0:
		return invalid("time.export must be positive, got %g", t.Export)
	case t.End < t.Start:
		return invalid("time.end %g is before time.start %g", t.End, t.Start)
	}
	if c.Scheme.Theta < 0.5 || c.Scheme.Theta > 1 {
		return invalid("scheme.theta must be in [0.5, 1], got %g", c.Scheme.Theta)
	}
	if !contains(timesteppers, c.Scheme.Timestepper) {
		return invalid("unknown timestepper %q", c.Scheme.Timestepper)
	}
	if !contains(elementFamilies, c.Scheme.Element) {
		return invalid("unknown element family %q", c.Scheme.Element)
	}
	if c.Mesh.Path == "" && (c.Mesh.NX < 1 || c.Mesh.NY < 1 || c.Mesh.LX <= 0 || c.Mesh.LY <= 0) {
		return invalid("mesh needs a path or a positive rectangle")
	}
	if c.Solver.Tau <= 0 {
		return invalid("solver.tau must be positive, got %g", c.Solver.Tau)
	}

	tidal := 0
	for seg, kind := range c.Boundaries {
		switch kind {
		case BoundaryTidal:
			tidal++
		case BoundaryWall:
		default:
			return invalid("boundary %d: unknown kind %q", seg, kind)
		}
	}
	if tidal == 0 {
		return fmt.Errorf("%w: no tidal boundary", hydro.ErrMissingBoundary)
	}

	if c.Forcing.Table == "" && len(c.Forcing.Constituents) == 0 {
		return invalid("forcing needs a table or at least one constituent")
	}
	if c.Forcing.Ramp < 0 {
		return invalid("forcing.ramp must not be negative")
	}

	if c.Physics.Sediment.Enabled && c.Physics.Sediment.Size <= 0 {
		return invalid("sediment size must be positive")
	}
	known := c.Layout(0).Names()
	for _, f := range c.Detectors.Fields {
		if !contains(known, f) {
			return invalid("detector field %q is not a state field of this run", f)
		}
	}
	if c.Restart.Dir != "" && c.Restart.Step < 0 {
		return invalid("restart.step must not be negative")
	}
	return nil
}

// Layout returns the state fields the run carries on a mesh of nodes nodes.
func (c *Config) Layout(nodes int) hydro.Layout {
	return hydro.StateLayout(nodes, c.Physics.Sediment.Enabled)
}

// Walls and Tidal split the boundary map into sorted segment ids.
func (c *Config) Walls() []int { return c.segments(BoundaryWall) }

func (c *Config) Tidal() []int { return c.segments(BoundaryTidal) }

func (c *Config) segments(kind string) []int {
	var ids []int
	for seg, k := range c.Boundaries {
		if k == kind {
			ids = append(ids, seg)
		}
	}
	sort.Ints(ids)
	return ids
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", hydro.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
