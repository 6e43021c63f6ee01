package metrics

import (
	"math"

	"github.com/san-kum/tidesim/internal/hydro"
)

// Stability is the fraction of observed steps whose elevation stayed finite
// and within threshold metres of zero.
type Stability struct {
	threshold  float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{threshold: threshold}
}

func (s *Stability) Name() string { return "stability" }

func (s *Stability) Observe(t float64, fields hydro.FieldSet) {
	s.samples++
	elev, ok := fields[hydro.FieldElevation]
	if !ok {
		return
	}
	for _, v := range elev.Data {
		if math.IsNaN(v) || math.Abs(v) > s.threshold {
			s.violations++
			break
		}
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
