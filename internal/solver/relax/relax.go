// Package relax is a lumped relaxation stand-in for the external
// shallow-water solver. Interior elevation and velocity relax toward the
// mean boundary forcing with time scale Tau, forced boundary nodes take the
// forcing values directly, and suspended sediment is eroded by |u|^2 and
// settles at a fixed rate. It is deterministic, so a run restarted from a
// checkpoint reproduces the uninterrupted run bit for bit. It is meant for dry
// runs of the orchestration layer and its tests, not for physics.
package relax

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/san-kum/tidesim/internal/hydro"
	"github.com/san-kum/tidesim/internal/restart"
)

// Domain is the mesh view the solver needs.
type Domain interface {
	NumNodes() int
	BoundaryNodes(ids ...int) []int
}

type Options struct {
	Tau          float64 // relaxation time scale, seconds
	Theta        float64 // implicitness, 0.5 (Crank-Nicolson) to 1 (backward Euler)
	Sediment     bool
	Erosion      float64 // source per |u|^2, concentration units per second
	Settling     float64 // first-order settling rate, 1/s
	MaxElevation float64 // |eta| beyond this is reported as divergence
}

func DefaultOptions() Options {
	return Options{
		Tau:          3600,
		Theta:        1,
		Erosion:      1e-6,
		Settling:     1e-4,
		MaxElevation: 100,
	}
}

type boundary struct {
	segment int
	nodes   []int
	field   *hydro.Field
}

type Solver struct {
	domain Domain
	opts   Options
	log    zerolog.Logger

	state  hydro.FieldSet
	consts hydro.FieldSet

	elevBCs   []boundary
	uvBCs     []boundary
	walls     []int
	callbacks []func(float64, hydro.FieldSet)

	t float64
}

func New(domain Domain, opts Options, log zerolog.Logger) (*Solver, error) {
	if opts.Tau <= 0 {
		return nil, fmt.Errorf("relax: tau must be positive, got %g", opts.Tau)
	}
	if opts.Theta < 0.5 || opts.Theta > 1 {
		return nil, fmt.Errorf("relax: theta must be in [0.5, 1], got %g", opts.Theta)
	}
	if opts.MaxElevation <= 0 {
		opts.MaxElevation = math.Inf(1)
	}
	return &Solver{
		domain: domain,
		opts:   opts,
		log:    log,
		state:  hydro.StateLayout(domain.NumNodes(), opts.Sediment).NewFieldSet(),
	}, nil
}

func (s *Solver) Layout() hydro.Layout {
	return hydro.StateLayout(s.domain.NumNodes(), s.opts.Sediment)
}

func (s *Solver) SetConstants(fields hydro.FieldSet) error {
	b, ok := fields[hydro.FieldBathymetry]
	if !ok {
		return fmt.Errorf("relax: constants lack %s", hydro.FieldBathymetry)
	}
	if b.Len() != s.domain.NumNodes() {
		return fmt.Errorf("%w: bathymetry has %d nodes, mesh %d", hydro.ErrDimensionMismatch, b.Len(), s.domain.NumNodes())
	}
	s.consts = fields
	return nil
}

// SetTime positions a fresh solver at the run's start time.
func (s *Solver) SetTime(t float64) error {
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("relax: invalid start time %g", t)
	}
	s.t = t
	return nil
}

func (s *Solver) RegisterBoundary(bc hydro.BoundaryCondition) error {
	if bc.Field == nil {
		s.walls = append(s.walls, bc.Segment)
		return nil
	}
	if bc.Field.Len() != s.domain.NumNodes() {
		return fmt.Errorf("%w: boundary field %s has %d nodes", hydro.ErrDimensionMismatch, bc.Field.Name, bc.Field.Len())
	}
	b := boundary{segment: bc.Segment, nodes: s.domain.BoundaryNodes(bc.Segment), field: bc.Field}
	if len(b.nodes) == 0 {
		return fmt.Errorf("relax: segment %d has no nodes", bc.Segment)
	}
	switch bc.Quantity {
	case hydro.QuantityElevation:
		if bc.Field.Kind != hydro.Scalar {
			return fmt.Errorf("relax: elevation forcing must be scalar")
		}
		s.elevBCs = append(s.elevBCs, b)
	case hydro.QuantityVelocity:
		if bc.Field.Kind != hydro.Vector {
			return fmt.Errorf("relax: velocity forcing must be vector")
		}
		s.uvBCs = append(s.uvBCs, b)
	default:
		return fmt.Errorf("relax: unsupported boundary quantity %q", bc.Quantity)
	}
	return nil
}

func (s *Solver) RegisterStepCallback(fn func(float64, hydro.FieldSet)) {
	s.callbacks = append(s.callbacks, fn)
}

func (s *Solver) LoadCheckpoint(rec *restart.Record) error {
	if err := s.Layout().Check(rec.Fields); err != nil {
		return fmt.Errorf("%w: %v", hydro.ErrIncompatibleRestart, err)
	}
	for name, f := range s.state {
		if err := f.CopyFrom(rec.Fields[name]); err != nil {
			return err
		}
	}
	s.t = rec.Time
	return nil
}

// Fields returns the live prognostic fields. Callers must not write them.
func (s *Solver) Fields() hydro.FieldSet { return s.state }

func (s *Solver) Time() float64 { return s.t }

func meanScalar(bcs []boundary) (float64, bool) {
	sum, n := 0.0, 0
	for _, b := range bcs {
		for _, i := range b.nodes {
			sum += b.field.Scalar(i)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func meanVector(bcs []boundary) (hydro.Vec2, bool) {
	var sum hydro.Vec2
	n := 0
	for _, b := range bcs {
		for _, i := range b.nodes {
			v := b.field.Vector(i)
			sum.X += v.X
			sum.Y += v.Y
			n++
		}
	}
	if n == 0 {
		return hydro.Vec2{}, false
	}
	return sum.Scale(1 / float64(n)), true
}

// relax advances x toward target over dt with the theta scheme.
func (s *Solver) relax(x, target, dt float64) float64 {
	a := dt / s.opts.Tau
	th := s.opts.Theta
	return (x*(1-(1-th)*a) + a*target) / (1 + th*a)
}

// AdvanceTo takes one step from the current time to t using the boundary
// fields as they are now, i.e. evaluated at the target time.
func (s *Solver) AdvanceTo(ctx context.Context, t float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.consts == nil {
		return fmt.Errorf("relax: constants not set")
	}
	dt := t - s.t
	if dt <= 0 {
		return fmt.Errorf("relax: cannot advance from t=%g to t=%g", s.t, t)
	}

	elev := s.state[hydro.FieldElevation]
	uv := s.state[hydro.FieldVelocity]

	if etaB, ok := meanScalar(s.elevBCs); ok {
		for i := range elev.Data {
			elev.Data[i] = s.relax(elev.Data[i], etaB, dt)
		}
	}
	if uvB, ok := meanVector(s.uvBCs); ok {
		for i := 0; i < uv.Len(); i++ {
			v := uv.Vector(i)
			uv.SetVector(i, hydro.Vec2{X: s.relax(v.X, uvB.X, dt), Y: s.relax(v.Y, uvB.Y, dt)})
		}
	}
	for _, b := range s.elevBCs {
		for _, i := range b.nodes {
			elev.SetScalar(i, b.field.Scalar(i))
		}
	}
	for _, b := range s.uvBCs {
		for _, i := range b.nodes {
			uv.SetVector(i, b.field.Vector(i))
		}
	}

	if sed, ok := s.state[hydro.FieldSediment]; ok {
		for i := range sed.Data {
			u := uv.Vector(i).Norm()
			sed.Data[i] = (sed.Data[i] + dt*s.opts.Erosion*u*u) / (1 + dt*s.opts.Settling)
		}
	}

	for _, name := range s.state.Names() {
		f := s.state[name]
		if !f.IsValid() {
			return fmt.Errorf("%w: non-finite %s at t=%g", hydro.ErrSolverDivergence, name, t)
		}
	}
	for _, v := range elev.Data {
		if math.Abs(v) > s.opts.MaxElevation {
			return fmt.Errorf("%w: |elevation| %.3g exceeds %.3g at t=%g", hydro.ErrSolverDivergence, math.Abs(v), s.opts.MaxElevation, t)
		}
	}

	s.t = t
	for _, fn := range s.callbacks {
		fn(t, s.state)
	}
	return nil
}
