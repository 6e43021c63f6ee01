// Package forcing produces the time-varying boundary forcing of a run.
//
// A [Provider] owns two field handles, boundary elevation and boundary
// velocity, which are registered with the solver once. Every call to
// [Provider.Update] rewrites their values in place so the solver sees fresh
// forcing without re-registration.
package forcing

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/san-kum/tidesim/internal/hydro"
)

// Domain is the part of the mesh the provider evaluates on.
type Domain interface {
	NumNodes() int
	Node(i int) hydro.Point
	BoundaryNodes(ids ...int) []int
}

type Option func(*Provider)

// WithRamp scales forcing by min(t/d, 1) so a cold start spins up smoothly.
func WithRamp(d float64) Option {
	return func(p *Provider) { p.ramp = d }
}

// WithWorkers evaluates the model on up to n goroutines. The model must then
// be safe for concurrent use; Harmonic and Table are.
func WithWorkers(n int) Option {
	return func(p *Provider) { p.workers = n }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Provider) { p.log = log }
}

type Provider struct {
	domain   Domain
	model    Model
	segments []int
	nodes    []int
	ramp     float64
	workers  int
	log      zerolog.Logger

	elev, uv          *hydro.Field
	scratch, scratch2 *hydro.Field

	updates int
	last    float64
}

// New builds a provider forcing the given boundary segments.
func New(domain Domain, model Model, segments []int, opts ...Option) (*Provider, error) {
	if model == nil {
		return nil, fmt.Errorf("forcing: nil model")
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("forcing: no boundary segments to force")
	}
	nodes := domain.BoundaryNodes(segments...)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("forcing: segments %v have no nodes", segments)
	}
	n := domain.NumNodes()
	p := &Provider{
		domain:   domain,
		model:    model,
		segments: append([]int(nil), segments...),
		nodes:    nodes,
		log:      zerolog.Nop(),
		elev:     hydro.NewScalar("tidal_elev", n),
		uv:       hydro.NewVector("tidal_uv", n),
		scratch:  hydro.NewScalar("tidal_elev", n),
		scratch2: hydro.NewVector("tidal_uv", n),
		last:     math.NaN(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ramp < 0 {
		return nil, fmt.Errorf("forcing: negative ramp %g", p.ramp)
	}
	return p, nil
}

// Elevation is the boundary elevation handle. Its identity never changes.
func (p *Provider) Elevation() *hydro.Field { return p.elev }

// Velocity is the boundary velocity handle. Its identity never changes.
func (p *Provider) Velocity() *hydro.Field { return p.uv }

func (p *Provider) Segments() []int { return p.segments }

// Updates returns how many successful updates have been applied.
func (p *Provider) Updates() int { return p.updates }

// LastTime returns the time of the last successful update, NaN before the first.
func (p *Provider) LastTime() float64 { return p.last }

func (p *Provider) rampFactor(t float64) float64 {
	if p.ramp <= 0 {
		return 1
	}
	return math.Min(math.Max(t/p.ramp, 0), 1)
}

// Update evaluates the model over the whole domain at t and restricts the
// result to the forced boundary nodes. On error the handles keep their
// previous values.
func (p *Provider) Update(t float64) error {
	p.log.Debug().Float64("t", t).Msg("updating tidal field")

	err := parallelFor(p.domain.NumNodes(), p.workers, minChunk, func(start, end int) error {
		for i := start; i < end; i++ {
			s, err := p.model.At(p.domain.Node(i), t)
			if err != nil {
				return fmt.Errorf("forcing at node %d: %w", i, err)
			}
			p.scratch.SetScalar(i, s.Elevation)
			p.scratch2.SetVector(i, s.Velocity)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r := p.rampFactor(t)
	for _, i := range p.nodes {
		p.elev.SetScalar(i, r*p.scratch.Scalar(i))
		p.uv.SetVector(i, p.scratch2.Vector(i).Scale(r))
	}
	p.updates++
	p.last = t
	p.log.Debug().Float64("t", t).Msg("done updating tidal field")
	return nil
}
