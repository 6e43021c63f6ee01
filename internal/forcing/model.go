package forcing

import (
	"fmt"
	"math"

	"github.com/san-kum/tidesim/internal/hydro"
)

// Sample is the forcing state at one location and time.
type Sample struct {
	Elevation float64
	Velocity  hydro.Vec2
}

// Model is the tidal/forcing collaborator: a function of location and time.
// It returns an error wrapping hydro.ErrOutOfRangeTime when it has no value
// for t.
type Model interface {
	At(p hydro.Point, t float64) (Sample, error)
}

// Constituent is one tidal harmonic. Phase is in degrees; Velocity is the
// current amplitude vector in phase with the elevation.
type Constituent struct {
	Name      string     `yaml:"name"`
	Amplitude float64    `yaml:"amplitude"`
	Phase     float64    `yaml:"phase"`
	Period    float64    `yaml:"period"`
	Velocity  hydro.Vec2 `yaml:"velocity"`
}

// Harmonic superposes constituents around a mean level. With a non-zero
// Celerity the tide propagates along Direction, lagging in phase with
// distance from Origin. Start/End bound the valid time range when End > Start.
type Harmonic struct {
	Mean         float64
	Constituents []Constituent
	Celerity     float64
	Direction    hydro.Vec2
	Origin       hydro.Point
	Start, End   float64
}

func (h *Harmonic) Validate() error {
	if len(h.Constituents) == 0 {
		return fmt.Errorf("harmonic model needs at least one constituent")
	}
	for _, c := range h.Constituents {
		if c.Period <= 0 {
			return fmt.Errorf("constituent %q: period must be positive", c.Name)
		}
	}
	if h.Celerity < 0 {
		return fmt.Errorf("celerity must be non-negative")
	}
	return nil
}

func (h *Harmonic) At(p hydro.Point, t float64) (Sample, error) {
	if h.End > h.Start && (t < h.Start || t > h.End) {
		return Sample{}, fmt.Errorf("%w: t=%.1fs outside [%.1f, %.1f]", hydro.ErrOutOfRangeTime, t, h.Start, h.End)
	}
	lag := 0.0
	if h.Celerity > 0 {
		d := h.Direction
		if n := d.Norm(); n > 0 {
			d = d.Scale(1 / n)
		}
		lag = ((p.X-h.Origin.X)*d.X + (p.Y-h.Origin.Y)*d.Y) / h.Celerity
	}
	s := Sample{Elevation: h.Mean}
	for _, c := range h.Constituents {
		omega := 2 * math.Pi / c.Period
		arg := math.Cos(omega*(t-lag) - c.Phase*math.Pi/180)
		s.Elevation += c.Amplitude * arg
		s.Velocity.X += c.Velocity.X * arg
		s.Velocity.Y += c.Velocity.Y * arg
	}
	return s, nil
}
