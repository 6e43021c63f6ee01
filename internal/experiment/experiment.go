// Package experiment assembles one run from configuration: mesh, constant
// fields, tidal forcing, detectors, solver, monitors, sinks and the driver.
package experiment

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/san-kum/tidesim/internal/config"
	"github.com/san-kum/tidesim/internal/detector"
	"github.com/san-kum/tidesim/internal/driver"
	"github.com/san-kum/tidesim/internal/forcing"
	"github.com/san-kum/tidesim/internal/hydro"
	"github.com/san-kum/tidesim/internal/mesh"
	"github.com/san-kum/tidesim/internal/metrics"
	"github.com/san-kum/tidesim/internal/physics"
	"github.com/san-kum/tidesim/internal/solver/relax"
	"github.com/san-kum/tidesim/internal/storage"
)

const sqliteFile = "detectors.db"

type Options struct {
	Log        zerolog.Logger
	Registerer prometheus.Registerer // nil disables driver metrics
	Progress   func(driver.Progress)
	Preset     string
}

type Experiment struct {
	Config    *config.Config
	RunID     string
	RunDir    string
	Mesh      *mesh.Mesh
	Constants hydro.FieldSet
	Forcing   *forcing.Provider
	Sampler   *detector.Sampler
	Solver    *relax.Solver
	Driver    *driver.Driver
	Monitors  []metrics.Monitor

	sink  detector.Sink
	store *storage.Store
	meta  *storage.RunMetadata
	log   zerolog.Logger
}

// New validates cfg, creates the run directory in store and wires every
// component. Nothing is stepped until Run.
func New(cfg *config.Config, store *storage.Store, opts Options) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Log

	m, err := LoadMesh(cfg.Mesh)
	if err != nil {
		return nil, err
	}
	lo, _ := m.Bounds()
	log.Info().
		Int("nodes", m.NumNodes()).
		Int("triangles", len(m.Triangles)).
		Ints("segments", m.SegmentIDs()).
		Msg("mesh loaded")

	constants, err := physics.Constants(m, cfg.Physics.Bathymetry, cfg.Physics.Viscosity, cfg.Physics.Latitude)
	if err != nil {
		return nil, err
	}
	if !cfg.Physics.Coriolis {
		constants[hydro.FieldCoriolis].Fill(0)
	}

	model, err := forcingModel(cfg.Forcing, lo)
	if err != nil {
		return nil, err
	}
	provider, err := forcing.New(m, model, cfg.Tidal(),
		forcing.WithRamp(cfg.Forcing.Ramp),
		forcing.WithWorkers(cfg.Forcing.Workers),
		forcing.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	sampler := detector.NewSampler(m)
	dets, err := detectors(cfg.Detectors)
	if err != nil {
		return nil, err
	}
	if _, err := sampler.Register(dets...); err != nil {
		return nil, err
	}

	solver, err := relax.New(m, relax.Options{
		Tau:          cfg.Solver.Tau,
		Theta:        cfg.Scheme.Theta,
		Sediment:     cfg.Physics.Sediment.Enabled,
		Erosion:      cfg.Physics.Sediment.Erosion * cfg.Physics.Sediment.Morfac,
		Settling:     cfg.Physics.Sediment.Settling,
		MaxElevation: cfg.Solver.MaxElevation,
	}, log)
	if err != nil {
		return nil, err
	}

	if err := store.Init(); err != nil {
		return nil, err
	}
	id, err := store.Create(cfg.Run.ID)
	if err != nil {
		return nil, err
	}
	runDir := store.RunDir(id)

	sink, err := sinks(cfg.Detectors, store.DetectorDir(id), runDir)
	if err != nil {
		return nil, err
	}

	threshold := cfg.Solver.MaxElevation
	if threshold <= 0 {
		threshold = math.Inf(1)
	}
	monitors := []metrics.Monitor{
		metrics.NewVolume(m, constants[hydro.FieldBathymetry]),
		metrics.NewStability(threshold),
	}
	if cfg.Physics.Sediment.Enabled {
		monitors = append(monitors, metrics.NewSedimentMass(m, constants[hydro.FieldBathymetry]))
	}

	dcfg := driver.Config{
		RunID:  id,
		RunDir: runDir,
		Start:  cfg.Time.Start,
		Dt:     cfg.Time.Dt,
		Export: cfg.Time.Export,
		End:    cfg.Time.End,
		Layout: cfg.Layout(m.NumNodes()),
		Walls:  cfg.Walls(),
	}
	if cfg.Restart.Dir != "" {
		dcfg.Restart = &driver.RestartRef{Dir: cfg.Restart.Dir, Step: cfg.Restart.Step}
	}

	dopts := []driver.Option{
		driver.WithLogger(log.With().Str("run", id).Logger()),
		driver.WithSink(sink),
		driver.WithMonitors(monitors...),
	}
	if opts.Registerer != nil {
		dopts = append(dopts, driver.WithMetrics(driver.NewMetrics(opts.Registerer)))
	}
	if opts.Progress != nil {
		dopts = append(dopts, driver.WithProgress(opts.Progress))
	}
	d, err := driver.New(dcfg, m, solver, provider, sampler, dopts...)
	if err != nil {
		sink.Close()
		return nil, err
	}

	meta := &storage.RunMetadata{
		ID:        id,
		Preset:    opts.Preset,
		Timestamp: time.Now(),
		Start:     cfg.Time.Start,
		Dt:        cfg.Time.Dt,
		Export:    cfg.Time.Export,
		End:       cfg.Time.End,
		Nodes:     m.NumNodes(),
		Sediment:  cfg.Physics.Sediment.Enabled,
		Phase:     hydro.PhaseUninitialized.String(),
	}
	if dcfg.Restart != nil {
		meta.RestartFrom = fmt.Sprintf("%s@%d", dcfg.Restart.Dir, dcfg.Restart.Step)
	}
	if err := store.Save(meta); err != nil {
		sink.Close()
		return nil, err
	}
	if err := config.Save(filepath.Join(runDir, "config.yaml"), cfg); err != nil {
		sink.Close()
		return nil, err
	}

	return &Experiment{
		Config:    cfg,
		RunID:     id,
		RunDir:    runDir,
		Mesh:      m,
		Constants: constants,
		Forcing:   provider,
		Sampler:   sampler,
		Solver:    solver,
		Driver:    d,
		Monitors:  monitors,
		sink:      sink,
		store:     store,
		meta:      meta,
		log:       log,
	}, nil
}

// Run initializes and runs the driver, then records the outcome in the
// run's metadata and closes the detector sinks. The result is nil only when
// initialization failed.
func (e *Experiment) Run(ctx context.Context) (*driver.Result, error) {
	started := time.Now()
	var res *driver.Result
	err := e.Driver.Initialize(ctx, e.Constants)
	if err == nil {
		res, err = e.Driver.Run(ctx)
	}

	e.meta.Phase = e.Driver.Phase().String()
	e.meta.Elapsed = time.Since(started).Seconds()
	if res != nil {
		e.meta.Steps = res.Steps
		e.meta.FinalTime = res.FinalTime
		e.meta.Exports = len(res.Exports)
		e.meta.Metrics = res.Monitors
	}
	if err != nil {
		e.meta.Error = err.Error()
	}

	closeErr := multierr.Append(e.sink.Close(), e.store.Save(e.meta))
	if err != nil {
		if closeErr != nil {
			e.log.Error().Err(closeErr).Msg("close run after failure")
		}
		return res, err
	}
	return res, closeErr
}

// Metadata returns the run's metadata as last saved.
func (e *Experiment) Metadata() storage.RunMetadata { return *e.meta }

// LatestElevation is the last elevation recorded by the first detector, or
// NaN before the first sample.
func (e *Experiment) LatestElevation() float64 {
	names := e.Sampler.Names()
	if len(names) == 0 {
		return math.NaN()
	}
	ser, _ := e.Sampler.Series(names[0])
	if ser.Len() == 0 {
		return math.NaN()
	}
	v, ok := ser.Records[ser.Len()-1].Values[hydro.FieldElevation]
	if !ok {
		return math.NaN()
	}
	return v[0]
}

// BoundaryEdges returns every boundary edge as a pair of points.
func (e *Experiment) BoundaryEdges() [][2]hydro.Point {
	var edges [][2]hydro.Point
	for _, id := range e.Mesh.SegmentIDs() {
		for _, ed := range e.Mesh.Segments[id] {
			edges = append(edges, [2]hydro.Point{e.Mesh.Node(ed[0]), e.Mesh.Node(ed[1])})
		}
	}
	return edges
}

// DetectorLocations lists detector positions in registration order.
func (e *Experiment) DetectorLocations() []hydro.Point {
	var pts []hydro.Point
	for _, name := range e.Sampler.Names() {
		ser, _ := e.Sampler.Series(name)
		pts = append(pts, ser.Detector.Location)
	}
	return pts
}

func LoadMesh(c config.MeshConfig) (*mesh.Mesh, error) {
	if c.Path != "" {
		return mesh.Load(c.Path)
	}
	return mesh.Rectangle(c.NX, c.NY, c.LX, c.LY)
}

func forcingModel(c config.ForcingConfig, origin hydro.Point) (forcing.Model, error) {
	if c.Table != "" {
		return forcing.LoadTable(c.Table)
	}
	h := &forcing.Harmonic{
		Mean:     c.Mean,
		Celerity: c.Celerity,
		Origin:   origin,
		Direction: hydro.Vec2{
			X: math.Cos(c.Direction * math.Pi / 180),
			Y: math.Sin(c.Direction * math.Pi / 180),
		},
	}
	for _, k := range c.Constituents {
		h.Constituents = append(h.Constituents, forcing.Constituent{
			Name:      k.Name,
			Amplitude: k.Amplitude,
			Phase:     k.Phase,
			Period:    k.Period,
			Velocity:  hydro.Vec2{X: k.U, Y: k.V},
		})
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func detectors(c config.DetectorConfig) ([]detector.Detector, error) {
	specs := append([]detector.Spec(nil), c.Points...)
	if c.File != "" {
		fromFile, err := detector.LoadSpecs(c.File)
		if err != nil {
			return nil, err
		}
		specs = append(specs, fromFile...)
	}
	dets := make([]detector.Detector, 0, len(specs))
	for _, s := range specs {
		d, err := s.Resolve(c.Fields, c.UTMZone)
		if err != nil {
			return nil, err
		}
		dets = append(dets, d)
	}
	return dets, nil
}

func sinks(c config.DetectorConfig, csvDir, runDir string) (detector.Sink, error) {
	csvSink, err := detector.NewCSVSink(csvDir)
	if err != nil {
		return nil, err
	}
	if !c.SQLite {
		return csvSink, nil
	}
	db, err := detector.OpenSQLite(SQLitePath(runDir))
	if err != nil {
		return nil, err
	}
	return detector.Tee(csvSink, db), nil
}

// SQLitePath is where a run's detector database lives when enabled.
func SQLitePath(runDir string) string { return filepath.Join(runDir, sqliteFile) }
