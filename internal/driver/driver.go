// Package driver runs one simulation: it owns the clock, refreshes boundary
// forcing before every solver step, records detector observations after it,
// and writes checkpoints at export boundaries.
//
// # Lifecycle
//
//	Uninitialized -> Initialized -> Running -> Completed | Failed
//
// Failure is terminal. The error returned is a *hydro.RunError naming the
// component and step that failed; a run is resumed by constructing a new
// driver with Config.Restart pointing at the last successful export.
//
// # Thread Safety
//
// A Driver is not safe for concurrent use. Every call is synchronous.
package driver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/san-kum/tidesim/internal/detector"
	"github.com/san-kum/tidesim/internal/hydro"
	"github.com/san-kum/tidesim/internal/metrics"
	"github.com/san-kum/tidesim/internal/restart"
)

// RestartRef points at a checkpoint written by an earlier run.
type RestartRef struct {
	Dir  string
	Step int
}

type Config struct {
	RunID  string
	RunDir string // checkpoints go to RunDir/checkpoints; empty disables them

	Start  float64
	Dt     float64
	Export float64
	End    float64

	Layout  hydro.Layout
	Walls   []int
	Restart *RestartRef
}

type Export struct {
	Step       int
	Time       float64
	Checkpoint string
}

type Result struct {
	RunID     string
	Phase     hydro.Phase
	StartStep int
	Steps     int
	FinalTime float64
	Exports   []Export
	Monitors  map[string]float64
	Restored  *restart.Identity
	Elapsed   time.Duration
}

type Progress struct {
	Step  int
	Total int
	Time  float64
	End   float64
}

type Option func(*Driver)

func WithLogger(log zerolog.Logger) Option {
	return func(d *Driver) { d.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithSink sets where detector series are flushed at export boundaries and
// at the end of the run.
func WithSink(s detector.Sink) Option {
	return func(d *Driver) { d.sink = s }
}

// WithMonitors attaches monitors to the solver's step callback.
func WithMonitors(ms ...metrics.Monitor) Option {
	return func(d *Driver) { d.monitors = append(d.monitors, ms...) }
}

func WithProgress(fn func(Progress)) Option {
	return func(d *Driver) { d.progress = fn }
}

type Driver struct {
	cfg        Config
	boundaries Boundaries
	solver     Solver
	forcing    Forcing
	sampler    Sampler

	clock      *hydro.Clock
	phase      hydro.Phase
	conditions []hydro.BoundaryCondition
	store      *restart.Store
	startStep  int
	restored   *restart.Identity
	exports    []Export
	err        error

	log      zerolog.Logger
	metrics  *Metrics
	sink     detector.Sink
	monitors []metrics.Monitor
	progress func(Progress)
}

func New(cfg Config, boundaries Boundaries, solver Solver, forcing Forcing, sampler Sampler, opts ...Option) (*Driver, error) {
	if solver == nil || forcing == nil || sampler == nil || boundaries == nil {
		return nil, fmt.Errorf("%w: solver, forcing, sampler and mesh are required", hydro.ErrInvalidConfig)
	}
	if cfg.Layout.Nodes <= 0 || len(cfg.Layout.Fields) == 0 {
		return nil, fmt.Errorf("%w: empty state layout", hydro.ErrInvalidConfig)
	}
	clock, err := hydro.NewClock(cfg.Start, cfg.Dt, cfg.Export, cfg.End)
	if err != nil {
		return nil, err
	}
	d := &Driver{
		cfg:        cfg,
		boundaries: boundaries,
		solver:     solver,
		forcing:    forcing,
		sampler:    sampler,
		clock:      clock,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.RunDir != "" {
		d.store = restart.NewStore(cfg.RunDir)
	}
	if !clock.ExportAligned() {
		d.log.Warn().
			Float64("dt", cfg.Dt).
			Float64("export", cfg.Export).
			Msg("export interval is not a multiple of dt; exports happen at the first step at or after each export time")
	}
	d.setPhase(hydro.PhaseUninitialized)
	return d, nil
}

func (d *Driver) Phase() hydro.Phase { return d.phase }

// Err returns the failure cause once the driver is Failed.
func (d *Driver) Err() error { return d.err }

// Clock returns a copy of the simulation clock.
func (d *Driver) Clock() hydro.Clock { return *d.clock }

func (d *Driver) Conditions() []hydro.BoundaryCondition { return d.conditions }

func (d *Driver) setPhase(p hydro.Phase) {
	if p != d.phase {
		d.log.Debug().Str("from", d.phase.String()).Str("to", p.String()).Msg("phase")
	}
	d.phase = p
	if d.metrics != nil {
		d.metrics.Phase.Set(float64(p))
	}
}

func (d *Driver) fail(component string, step int, t float64, err error) error {
	runErr := &hydro.RunError{Component: component, Step: step, Time: t, Err: err}
	d.err = runErr
	d.setPhase(hydro.PhaseFailed)
	if d.metrics != nil {
		d.metrics.Failures.WithLabelValues(component).Inc()
	}
	d.log.Error().
		Err(err).
		Str("component", component).
		Int("step", step).
		Float64("t", t).
		Msg("run failed")
	if d.sink != nil {
		if ferr := d.sampler.Flush(d.sink); ferr != nil {
			d.log.Error().Err(ferr).Msg("flush detectors after failure")
		}
	}
	return runErr
}

func (d *Driver) abort(started time.Time, component string, step int, t float64, err error) (*Result, error) {
	runErr := d.fail(component, step, t, err)
	return d.result(started), runErr
}

// Initialize hands the constant fields to the solver, wires every boundary
// segment to its condition and applies the restart, if any.
func (d *Driver) Initialize(ctx context.Context, constants hydro.FieldSet) error {
	if d.phase != hydro.PhaseUninitialized {
		return fmt.Errorf("%w: initialize in phase %s", hydro.ErrInvalidPhase, d.phase)
	}
	if err := ctx.Err(); err != nil {
		return d.fail("driver", 0, d.clock.Time(), err)
	}

	if err := d.solver.SetConstants(constants.Clone()); err != nil {
		return d.fail("solver", 0, d.clock.Time(), err)
	}
	if err := d.solver.SetTime(d.clock.Time()); err != nil {
		return d.fail("solver", 0, d.clock.Time(), err)
	}

	conditions, err := d.wireBoundaries()
	if err != nil {
		return d.fail("boundary", 0, d.clock.Time(), err)
	}
	for _, bc := range conditions {
		if err := d.solver.RegisterBoundary(bc); err != nil {
			return d.fail("solver", 0, d.clock.Time(), fmt.Errorf("register %s: %w", bc, err))
		}
		d.log.Debug().Str("condition", bc.String()).Msg("boundary registered")
	}
	d.conditions = conditions

	if len(d.monitors) > 0 {
		d.solver.RegisterStepCallback(func(t float64, fields hydro.FieldSet) {
			for _, m := range d.monitors {
				m.Observe(t, fields)
			}
		})
	}

	if ref := d.cfg.Restart; ref != nil {
		if err := d.applyRestart(ref); err != nil {
			return d.fail("restart", ref.Step, float64(ref.Step)*d.cfg.Dt+d.cfg.Start, err)
		}
	}

	d.startStep = d.clock.Step()
	d.setPhase(hydro.PhaseInitialized)
	d.log.Info().
		Int("start_step", d.startStep).
		Float64("t", d.clock.Time()).
		Int("steps", d.clock.Remaining()).
		Msg("initialized")
	return nil
}

func (d *Driver) wireBoundaries() ([]hydro.BoundaryCondition, error) {
	covered := map[int]bool{}
	var conditions []hydro.BoundaryCondition
	for _, seg := range d.forcing.Segments() {
		conditions = append(conditions,
			hydro.BoundaryCondition{Segment: seg, Quantity: hydro.QuantityElevation, Field: d.forcing.Elevation()},
			hydro.BoundaryCondition{Segment: seg, Quantity: hydro.QuantityVelocity, Field: d.forcing.Velocity()},
		)
		covered[seg] = true
	}
	for _, seg := range d.cfg.Walls {
		if covered[seg] {
			return nil, fmt.Errorf("%w: segment %d is both forced and a wall", hydro.ErrInvalidConfig, seg)
		}
		conditions = append(conditions, hydro.BoundaryCondition{Segment: seg})
		covered[seg] = true
	}

	known := map[int]bool{}
	var missing []int
	for _, seg := range d.boundaries.SegmentIDs() {
		known[seg] = true
		if !covered[seg] {
			missing = append(missing, seg)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: segments %v", hydro.ErrMissingBoundary, missing)
	}
	var unknown []int
	for seg := range covered {
		if !known[seg] {
			unknown = append(unknown, seg)
		}
	}
	if len(unknown) > 0 {
		sort.Ints(unknown)
		return nil, fmt.Errorf("%w: segments %v are not in the mesh", hydro.ErrInvalidConfig, unknown)
	}
	if len(d.forcing.Segments()) == 0 {
		return nil, fmt.Errorf("%w: no open boundary is forced", hydro.ErrMissingBoundary)
	}
	return conditions, nil
}

func (d *Driver) applyRestart(ref *RestartRef) error {
	loader := restart.NewLoader(d.cfg.Layout, d.cfg.Dt, d.log)
	rec, err := loader.Load(ref.Dir, ref.Step)
	if err != nil {
		return err
	}
	if err := d.clock.Resume(rec.Step); err != nil {
		return err
	}
	if math.Abs(rec.Time-d.clock.Time()) > 1e-6*d.cfg.Dt {
		return fmt.Errorf("%w: checkpoint time %gs does not match step %d at dt %gs (expected %gs)",
			hydro.ErrIncompatibleRestart, rec.Time, rec.Step, d.cfg.Dt, d.clock.Time())
	}
	if err := d.solver.LoadCheckpoint(rec); err != nil {
		return err
	}
	id := rec.Identity
	d.restored = &id
	return nil
}

// Run steps the simulation to the end time. Each step refreshes the forcing
// at the step's target time, advances the solver to it, samples detectors
// and, when an export time was crossed, writes a checkpoint and flushes
// detector series.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if d.phase != hydro.PhaseInitialized {
		return nil, fmt.Errorf("%w: run in phase %s", hydro.ErrInvalidPhase, d.phase)
	}
	started := time.Now()
	d.setPhase(hydro.PhaseRunning)
	total := d.clock.Remaining()

	if d.restored == nil {
		if err := d.export(); err != nil {
			return d.abort(started, "export", d.clock.Step(), d.clock.Time(), err)
		}
	}

	for !d.clock.Done() {
		step, prev, target := d.clock.Step()+1, d.clock.Time(), d.clock.Next()

		if err := ctx.Err(); err != nil {
			return d.abort(started, "driver", step, target, err)
		}

		t0 := time.Now()
		if err := d.forcing.Update(target); err != nil {
			return d.abort(started, "forcing", step, target, err)
		}
		if d.metrics != nil {
			d.metrics.ForcingDuration.Observe(time.Since(t0).Seconds())
		}

		t0 = time.Now()
		if err := d.solver.AdvanceTo(ctx, target); err != nil {
			return d.abort(started, "solver", step, target, err)
		}
		if d.metrics != nil {
			d.metrics.StepDuration.Observe(time.Since(t0).Seconds())
		}

		t := d.clock.Advance()

		if err := d.sampler.Sample(t, d.solver.Fields()); err != nil {
			return d.abort(started, "detector", step, t, err)
		}

		if d.clock.ExportDue(prev, t) {
			if err := d.export(); err != nil {
				return d.abort(started, "export", step, t, err)
			}
		}

		if d.metrics != nil {
			d.metrics.Steps.Inc()
			d.metrics.SimTime.Set(t)
		}
		if d.progress != nil {
			d.progress(Progress{Step: step - d.startStep, Total: total, Time: t, End: d.cfg.End})
		}
	}

	if d.sink != nil {
		if err := d.sampler.Flush(d.sink); err != nil {
			return d.abort(started, "detector", d.clock.Step(), d.clock.Time(), err)
		}
	}

	d.setPhase(hydro.PhaseCompleted)
	res := d.result(started)
	d.log.Info().
		Int("steps", res.Steps).
		Float64("t", res.FinalTime).
		Int("exports", len(res.Exports)).
		Dur("elapsed", res.Elapsed).
		Msg("run completed")
	return res, nil
}

func (d *Driver) export() error {
	step, t := d.clock.Step(), d.clock.Time()
	e := Export{Step: step, Time: t}
	if d.store != nil {
		rec, err := restart.NewRecord(d.cfg.RunID, step, t, d.cfg.Dt, d.cfg.Layout, d.solver.Fields())
		if err != nil {
			return err
		}
		path, err := d.store.Write(rec)
		if err != nil {
			return err
		}
		e.Checkpoint = path
	}
	if d.sink != nil {
		if err := d.sampler.Flush(d.sink); err != nil {
			return err
		}
	}
	d.exports = append(d.exports, e)
	if d.metrics != nil {
		d.metrics.Exports.Inc()
	}
	d.log.Info().Int("step", step).Float64("t", t).Str("checkpoint", e.Checkpoint).Msg("export")
	return nil
}

func (d *Driver) result(started time.Time) *Result {
	res := &Result{
		RunID:     d.cfg.RunID,
		Phase:     d.phase,
		StartStep: d.startStep,
		Steps:     d.clock.Step() - d.startStep,
		FinalTime: d.clock.Time(),
		Exports:   append([]Export(nil), d.exports...),
		Monitors:  make(map[string]float64, len(d.monitors)),
		Restored:  d.restored,
		Elapsed:   time.Since(started),
	}
	for _, m := range d.monitors {
		res.Monitors[m.Name()] = m.Value()
	}
	return res
}
