package driver_test

import (
	"context"
	"errors"
	"fmt"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/san-kum/tidesim/internal/detector"
	"github.com/san-kum/tidesim/internal/driver"
	"github.com/san-kum/tidesim/internal/forcing"
	"github.com/san-kum/tidesim/internal/hydro"
	"github.com/san-kum/tidesim/internal/mesh"
	"github.com/san-kum/tidesim/internal/restart"
	"github.com/san-kum/tidesim/internal/solver/relax"
)

// fakeSolver records the order of calls it sees and fills the elevation
// field with t/3600 after each step.
type fakeSolver struct {
	state     hydro.FieldSet
	constants hydro.FieldSet
	bcs       []hydro.BoundaryCondition
	callbacks []func(float64, hydro.FieldSet)
	loaded    *restart.Record
	start     float64

	forced  *hydro.Field
	watch   int
	targets []float64
	seen    []float64

	failFrom float64
	failErr  error
}

func newFakeSolver(layout hydro.Layout, watch int) *fakeSolver {
	return &fakeSolver{state: layout.NewFieldSet(), watch: watch}
}

func (s *fakeSolver) SetConstants(fields hydro.FieldSet) error {
	s.constants = fields
	return nil
}

func (s *fakeSolver) SetTime(t float64) error {
	s.start = t
	return nil
}

func (s *fakeSolver) RegisterBoundary(bc hydro.BoundaryCondition) error {
	s.bcs = append(s.bcs, bc)
	if bc.Quantity == hydro.QuantityElevation {
		s.forced = bc.Field
	}
	return nil
}

func (s *fakeSolver) RegisterStepCallback(fn func(float64, hydro.FieldSet)) {
	s.callbacks = append(s.callbacks, fn)
}

func (s *fakeSolver) LoadCheckpoint(rec *restart.Record) error {
	s.loaded = rec
	for name, f := range s.state {
		if err := f.CopyFrom(rec.Fields[name]); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSolver) AdvanceTo(_ context.Context, t float64) error {
	s.targets = append(s.targets, t)
	if s.forced != nil {
		s.seen = append(s.seen, s.forced.Scalar(s.watch))
	}
	if s.failErr != nil && t >= s.failFrom {
		return s.failErr
	}
	s.state[hydro.FieldElevation].Fill(t / 3600)
	for _, fn := range s.callbacks {
		fn(t, s.state)
	}
	return nil
}

func (s *fakeSolver) Fields() hydro.FieldSet { return s.state }

type memSink struct {
	records map[string][]detector.Record
	err     error
}

func newMemSink() *memSink { return &memSink{records: map[string][]detector.Record{}} }

func (m *memSink) Write(d detector.Detector, recs []detector.Record) error {
	if m.err != nil {
		return m.err
	}
	m.records[d.Name] = append(m.records[d.Name], recs...)
	return nil
}

func (m *memSink) Close() error { return nil }

type countMonitor struct{ n int }

func (c *countMonitor) Name() string                        { return "count" }
func (c *countMonitor) Observe(_ float64, _ hydro.FieldSet) { c.n++ }
func (c *countMonitor) Value() float64                      { return float64(c.n) }
func (c *countMonitor) Reset()                              { c.n = 0 }

// linearTable forces eta = t/3600 and u = t/36000 on [0, end].
func linearTable(end float64) *forcing.Table {
	tb, err := forcing.NewTable(
		[]float64{0, end},
		[]float64{0, end / 3600},
		[]float64{0, end / 36000},
		[]float64{0, 0},
	)
	Expect(err).NotTo(HaveOccurred())
	return tb
}

type harness struct {
	mesh    *mesh.Mesh
	solver  *fakeSolver
	forcing *forcing.Provider
	sampler *detector.Sampler
	cfg     driver.Config
}

func newHarness(forcingEnd float64, sediment bool) *harness {
	m, err := mesh.Rectangle(4, 2, 4000, 2000)
	Expect(err).NotTo(HaveOccurred())

	p, err := forcing.New(m, linearTable(forcingEnd), []int{mesh.West})
	Expect(err).NotTo(HaveOccurred())

	sampler := detector.NewSampler(m)
	_, err = sampler.Register(
		detector.Detector{Name: "mid", Location: hydro.Point{X: 2000, Y: 1000}, Fields: []string{hydro.FieldElevation, hydro.FieldVelocity}},
		detector.Detector{Name: "east", Location: hydro.Point{X: 3500, Y: 500}, Fields: []string{hydro.FieldElevation}},
	)
	Expect(err).NotTo(HaveOccurred())

	layout := hydro.StateLayout(m.NumNodes(), sediment)
	return &harness{
		mesh:    m,
		solver:  newFakeSolver(layout, m.BoundaryNodes(mesh.West)[0]),
		forcing: p,
		sampler: sampler,
		cfg: driver.Config{
			RunID:  "test",
			Start:  0,
			Dt:     300,
			Export: 1800,
			End:    3600,
			Layout: layout,
			Walls:  []int{mesh.South, mesh.East, mesh.North},
		},
	}
}

func (h *harness) constants() hydro.FieldSet {
	bathy := hydro.NewScalar(hydro.FieldBathymetry, h.mesh.NumNodes())
	bathy.Fill(10)
	return hydro.FieldSet{hydro.FieldBathymetry: bathy}
}

func (h *harness) driver(opts ...driver.Option) *driver.Driver {
	d, err := driver.New(h.cfg, h.mesh, h.solver, h.forcing, h.sampler, opts...)
	Expect(err).NotTo(HaveOccurred())
	return d
}

func runError(err error) *hydro.RunError {
	var re *hydro.RunError
	Expect(errors.As(err, &re)).To(BeTrue(), "expected a RunError, got %v", err)
	return re
}

func stepTimes(n int, from, dt float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i+1)*dt
	}
	return out
}

var _ = Describe("Driver", func() {
	var (
		ctx context.Context
		h   *harness
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness(7200, false)
	})

	Describe("New", func() {
		It("rejects a missing component", func() {
			_, err := driver.New(h.cfg, h.mesh, nil, h.forcing, h.sampler)
			Expect(err).To(MatchError(hydro.ErrInvalidConfig))
		})

		It("rejects an invalid clock", func() {
			h.cfg.Dt = 0
			_, err := driver.New(h.cfg, h.mesh, h.solver, h.forcing, h.sampler)
			Expect(err).To(MatchError(hydro.ErrInvalidConfig))
		})

		It("starts uninitialized", func() {
			Expect(h.driver().Phase()).To(Equal(hydro.PhaseUninitialized))
		})
	})

	Describe("a run from rest", func() {
		It("takes one step per dt and samples detectors after each", func() {
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			Expect(d.Phase()).To(Equal(hydro.PhaseInitialized))

			res, err := d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Phase).To(Equal(hydro.PhaseCompleted))
			Expect(res.Steps).To(Equal(12))
			Expect(res.FinalTime).To(Equal(3600.0))
			Expect(res.Restored).To(BeNil())

			for _, name := range []string{"mid", "east"} {
				ser, ok := h.sampler.Series(name)
				Expect(ok).To(BeTrue())
				times, _ := ser.Column(hydro.FieldElevation, 0)
				Expect(times).To(Equal(stepTimes(12, 0, 300)))
			}
		})

		It("refreshes forcing at the target time before each advance", func() {
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			_, err := d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(h.solver.targets).To(Equal(stepTimes(12, 0, 300)))
			Expect(h.forcing.Updates()).To(Equal(12))
			for i, t := range h.solver.targets {
				Expect(h.solver.seen[i]).To(BeNumerically("~", t/3600, 1e-12))
			}
		})

		It("samples the state the solver produced for that step", func() {
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			_, err := d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			ser, _ := h.sampler.Series("mid")
			times, values := ser.Column(hydro.FieldElevation, 0)
			for i := range times {
				Expect(values[i]).To(BeNumerically("~", times[i]/3600, 1e-12))
			}
		})

		It("wires forced segments to the forcing handles and the rest to walls", func() {
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())

			Expect(h.solver.bcs).To(HaveLen(5))
			Expect(h.solver.bcs[0]).To(Equal(hydro.BoundaryCondition{Segment: mesh.West, Quantity: hydro.QuantityElevation, Field: h.forcing.Elevation()}))
			Expect(h.solver.bcs[1]).To(Equal(hydro.BoundaryCondition{Segment: mesh.West, Quantity: hydro.QuantityVelocity, Field: h.forcing.Velocity()}))
			for _, bc := range h.solver.bcs[2:] {
				Expect(bc.Field).To(BeNil())
			}
			Expect(h.solver.constants).To(HaveKey(hydro.FieldBathymetry))
		})

		It("exports the initial state and every export interval", func() {
			h.cfg.RunDir = GinkgoT().TempDir()
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			res, err := d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			var steps []int
			for _, e := range res.Exports {
				steps = append(steps, e.Step)
				Expect(e.Checkpoint).To(BeAnExistingFile())
			}
			Expect(steps).To(Equal([]int{0, 6, 12}))

			stored, err := restart.NewStore(h.cfg.RunDir).Steps()
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(Equal([]int{0, 6, 12}))
		})

		It("exports at the first step at or after a misaligned export time", func() {
			h.cfg.Export = 700
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			res, err := d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Steps).To(Equal(12))

			var times []float64
			for _, e := range res.Exports {
				times = append(times, e.Time)
			}
			Expect(times).To(Equal([]float64{0, 900, 1500, 2100, 3000, 3600}))
		})

		It("flushes every detector record to the sink", func() {
			sink := newMemSink()
			d := h.driver(driver.WithSink(sink))
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			_, err := d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(sink.records["mid"]).To(HaveLen(12))
			Expect(sink.records["east"]).To(HaveLen(12))
			Expect(sink.records["mid"][0].Values).To(HaveKey(hydro.FieldVelocity))
		})

		It("starts the solver and the first step at a non-zero start time", func() {
			h = newHarness(90000, false)
			h.cfg.Start = 86400
			h.cfg.End = 86400 + 3600
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			Expect(h.solver.start).To(Equal(86400.0))

			res, err := d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Steps).To(Equal(12))
			Expect(h.solver.targets).To(Equal(stepTimes(12, 86400, 300)))
		})

		It("reports monitors, metrics and progress", func() {
			reg := prometheus.NewRegistry()
			m := driver.NewMetrics(reg)
			mon := &countMonitor{}
			var last driver.Progress
			calls := 0
			d := h.driver(
				driver.WithMetrics(m),
				driver.WithMonitors(mon),
				driver.WithProgress(func(p driver.Progress) { last = p; calls++ }),
				driver.WithLogger(zerolog.New(GinkgoWriter)),
			)
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			res, err := d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Monitors).To(HaveKeyWithValue("count", 12.0))
			Expect(testutil.ToFloat64(m.Steps)).To(Equal(12.0))
			Expect(testutil.ToFloat64(m.Exports)).To(Equal(3.0))
			Expect(testutil.ToFloat64(m.SimTime)).To(Equal(3600.0))
			Expect(testutil.ToFloat64(m.Phase)).To(Equal(float64(hydro.PhaseCompleted)))
			Expect(calls).To(Equal(12))
			Expect(last).To(Equal(driver.Progress{Step: 12, Total: 12, Time: 3600, End: 3600}))
		})
	})

	Describe("phase rules", func() {
		It("refuses to run before initialization", func() {
			_, err := h.driver().Run(ctx)
			Expect(err).To(MatchError(hydro.ErrInvalidPhase))
		})

		It("refuses to initialize twice", func() {
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			Expect(d.Initialize(ctx, h.constants())).To(MatchError(hydro.ErrInvalidPhase))
		})

		It("refuses to run after completion", func() {
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			_, err := d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.Run(ctx)
			Expect(err).To(MatchError(hydro.ErrInvalidPhase))
			Expect(d.Phase()).To(Equal(hydro.PhaseCompleted))
		})
	})

	Describe("boundary wiring", func() {
		It("fails when a mesh segment has no condition", func() {
			h.cfg.Walls = []int{mesh.South, mesh.East}
			d := h.driver()
			err := d.Initialize(ctx, h.constants())
			Expect(err).To(MatchError(hydro.ErrMissingBoundary))
			Expect(runError(err).Component).To(Equal("boundary"))
			Expect(d.Phase()).To(Equal(hydro.PhaseFailed))
			Expect(h.solver.bcs).To(BeEmpty())
		})

		It("fails on a segment the mesh does not define", func() {
			h.cfg.Walls = append(h.cfg.Walls, 9)
			err := h.driver().Initialize(ctx, h.constants())
			Expect(err).To(MatchError(hydro.ErrInvalidConfig))
		})

		It("fails on a segment that is both forced and a wall", func() {
			h.cfg.Walls = append(h.cfg.Walls, mesh.West)
			err := h.driver().Initialize(ctx, h.constants())
			Expect(err).To(MatchError(hydro.ErrInvalidConfig))
		})
	})

	Describe("failures", func() {
		It("stops when forcing is asked for a time it does not cover", func() {
			h = newHarness(1800, false)
			reg := prometheus.NewRegistry()
			m := driver.NewMetrics(reg)
			sink := newMemSink()
			d := h.driver(driver.WithSink(sink), driver.WithMetrics(m))
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())

			res, err := d.Run(ctx)
			Expect(err).To(MatchError(hydro.ErrOutOfRangeTime))
			re := runError(err)
			Expect(re.Component).To(Equal("forcing"))
			Expect(re.Step).To(Equal(7))
			Expect(re.Time).To(Equal(2100.0))

			Expect(res.Phase).To(Equal(hydro.PhaseFailed))
			Expect(res.Steps).To(Equal(6))
			Expect(d.Err()).To(Equal(err))
			Expect(h.solver.targets).To(HaveLen(6))
			Expect(sink.records["mid"]).To(HaveLen(6))
			Expect(testutil.ToFloat64(m.Failures.WithLabelValues("forcing"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.Phase)).To(Equal(float64(hydro.PhaseFailed)))
		})

		It("stops on solver divergence", func() {
			h.solver.failFrom = 1500
			h.solver.failErr = fmt.Errorf("%w: blew up", hydro.ErrSolverDivergence)
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())

			_, err := d.Run(ctx)
			Expect(err).To(MatchError(hydro.ErrSolverDivergence))
			re := runError(err)
			Expect(re.Component).To(Equal("solver"))
			Expect(re.Step).To(Equal(5))
			Expect(d.Phase()).To(Equal(hydro.PhaseFailed))

			ser, _ := h.sampler.Series("mid")
			Expect(ser.Len()).To(Equal(4))
		})

		It("stops when the context is cancelled", func() {
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			_, err := d.Run(cctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(runError(err).Component).To(Equal("driver"))
			Expect(h.solver.targets).To(BeEmpty())
		})

		It("reports a sink that cannot be written", func() {
			sink := newMemSink()
			sink.err = errors.New("disk full")
			d := h.driver(driver.WithSink(sink))
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())

			_, err := d.Run(ctx)
			Expect(err).To(HaveOccurred())
			Expect(runError(err).Component).To(Equal("export"))
			Expect(d.Phase()).To(Equal(hydro.PhaseFailed))
		})
	})

	Describe("restart", func() {
		var runDir string

		BeforeEach(func() {
			runDir = GinkgoT().TempDir()
			first := newHarness(7200, false)
			first.cfg.RunDir = runDir
			d := first.driver()
			Expect(d.Initialize(ctx, first.constants())).To(Succeed())
			_, err := d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
		})

		It("resumes from the checkpoint step", func() {
			h.cfg.Restart = &driver.RestartRef{Dir: runDir, Step: 6}
			d := h.driver()
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			Expect(h.solver.loaded).NotTo(BeNil())
			Expect(h.solver.loaded.Step).To(Equal(6))
			clk := d.Clock()
			Expect(clk.Time()).To(Equal(1800.0))

			res, err := d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.solver.targets).To(Equal(stepTimes(6, 1800, 300)))
			Expect(res.StartStep).To(Equal(6))
			Expect(res.Steps).To(Equal(6))
			Expect(res.Restored).NotTo(BeNil())
			Expect(res.Restored.RunID).To(Equal("test"))
			Expect(res.Restored.Step).To(Equal(6))
			Expect(res.Exports).To(HaveLen(1))
			Expect(res.Exports[0].Step).To(Equal(12))
		})

		It("fails when the step was never exported", func() {
			h.cfg.Restart = &driver.RestartRef{Dir: runDir, Step: 5}
			d := h.driver()
			err := d.Initialize(ctx, h.constants())
			Expect(err).To(MatchError(hydro.ErrRestartNotFound))
			Expect(runError(err).Component).To(Equal("restart"))
			Expect(d.Phase()).To(Equal(hydro.PhaseFailed))
		})

		It("fails when the run directory does not exist", func() {
			h.cfg.Restart = &driver.RestartRef{Dir: runDir + "-missing", Step: 6}
			err := h.driver().Initialize(ctx, h.constants())
			Expect(err).To(MatchError(hydro.ErrRestartNotFound))
		})

		It("fails when the field set differs", func() {
			h = newHarness(7200, true)
			h.cfg.Restart = &driver.RestartRef{Dir: runDir, Step: 6}
			err := h.driver().Initialize(ctx, h.constants())
			Expect(err).To(MatchError(hydro.ErrIncompatibleRestart))
			Expect(h.solver.loaded).To(BeNil())
		})

		It("fails when dt differs", func() {
			h.cfg.Dt = 600
			h.cfg.Restart = &driver.RestartRef{Dir: runDir, Step: 6}
			err := h.driver().Initialize(ctx, h.constants())
			Expect(err).To(MatchError(hydro.ErrIncompatibleRestart))
		})
	})

	Describe("with the relaxation solver", func() {
		newRelax := func(h *harness) *relax.Solver {
			opts := relax.DefaultOptions()
			opts.Sediment = true
			opts.Tau = 1800
			s, err := relax.New(h.mesh, opts, zerolog.Nop())
			Expect(err).NotTo(HaveOccurred())
			return s
		}

		run := func(h *harness, s *relax.Solver) *driver.Driver {
			d, err := driver.New(h.cfg, h.mesh, s, h.forcing, h.sampler)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Initialize(ctx, h.constants())).To(Succeed())
			_, err = d.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			return d
		}

		It("reproduces an uninterrupted run bit for bit after a restart", func() {
			full := newHarness(7200, true)
			full.cfg.RunDir = GinkgoT().TempDir()
			fullSolver := newRelax(full)
			run(full, fullSolver)

			resumed := newHarness(7200, true)
			resumed.cfg.Restart = &driver.RestartRef{Dir: full.cfg.RunDir, Step: 6}
			resumedSolver := newRelax(resumed)
			run(resumed, resumedSolver)

			for _, name := range full.cfg.Layout.Names() {
				Expect(resumedSolver.Fields()[name].Data).To(Equal(fullSolver.Fields()[name].Data), name)
			}

			a, _ := full.sampler.Series("mid")
			b, _ := resumed.sampler.Series("mid")
			at, av := a.Column(hydro.FieldElevation, 0)
			bt, bv := b.Column(hydro.FieldElevation, 0)
			Expect(bt).To(Equal(at[6:]))
			Expect(bv).To(Equal(av[6:]))
		})

		It("relaxes over one dt on the first step of a run starting at a non-zero time", func() {
			h = newHarness(90000, false)
			h.cfg.Start = 86400
			h.cfg.End = 86400 + 300
			opts := relax.DefaultOptions()
			opts.Tau = 1800
			s, err := relax.New(h.mesh, opts, zerolog.Nop())
			Expect(err).NotTo(HaveOccurred())
			run(h, s)

			Expect(s.Time()).To(Equal(86700.0))
			west := h.mesh.BoundaryNodes(mesh.West)
			target := h.forcing.Elevation().Scalar(west[0])
			a := 300.0 / opts.Tau
			want := a * target / (1 + opts.Theta*a)

			isWest := map[int]bool{}
			for _, i := range west {
				isWest[i] = true
			}
			elev := s.Fields()[hydro.FieldElevation]
			for i := 0; i < h.mesh.NumNodes(); i++ {
				if !isWest[i] {
					Expect(elev.Scalar(i)).To(BeNumerically("~", want, 1e-9))
				}
			}
		})

		It("matches a restart from the step-0 checkpoint of a run starting at a non-zero time", func() {
			full := newHarness(90000, true)
			full.cfg.Start = 86400
			full.cfg.End = 86400 + 3600
			full.cfg.RunDir = GinkgoT().TempDir()
			fullSolver := newRelax(full)
			run(full, fullSolver)

			resumed := newHarness(90000, true)
			resumed.cfg.Start = 86400
			resumed.cfg.End = 86400 + 3600
			resumed.cfg.Restart = &driver.RestartRef{Dir: full.cfg.RunDir, Step: 0}
			resumedSolver := newRelax(resumed)
			run(resumed, resumedSolver)

			for _, name := range full.cfg.Layout.Names() {
				Expect(resumedSolver.Fields()[name].Data).To(Equal(fullSolver.Fields()[name].Data), name)
			}
		})

		It("keeps sediment finite and non-negative", func() {
			s := newRelax(h)
			h.cfg.Layout = s.Layout()
			run(h, s)
			sed := s.Fields()[hydro.FieldSediment]
			Expect(sed.IsValid()).To(BeTrue())
			for _, v := range sed.Data {
				Expect(v).To(BeNumerically(">=", 0))
				Expect(math.IsInf(v, 0)).To(BeFalse())
			}
		})
	})
})
