package hydro

import (
	"fmt"
	"math"
)

// Clock is the fixed-step simulation clock. Time is derived from the step
// index so that it does not accumulate rounding error over long runs.
type Clock struct {
	Start  float64
	Dt     float64
	Export float64
	End    float64
	step   int
}

func NewClock(start, dt, export, end float64) (*Clock, error) {
	if dt <= 0 {
		return nil, fmt.Errorf("%w: dt must be positive, got %g", ErrInvalidConfig, dt)
	}
	if export <= 0 {
		return nil, fmt.Errorf("%w: export interval must be positive, got %g", ErrInvalidConfig, export)
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: start time must be non-negative, got %g", ErrInvalidConfig, start)
	}
	if end < start {
		return nil, fmt.Errorf("%w: end time %g before start %g", ErrInvalidConfig, end, start)
	}
	return &Clock{Start: start, Dt: dt, Export: export, End: end}, nil
}

func (c *Clock) eps() float64 { return 1e-9 * c.Dt }

func (c *Clock) Step() int { return c.step }

func (c *Clock) Time() float64 { return c.timeAt(c.step) }

func (c *Clock) timeAt(step int) float64 { return c.Start + float64(step)*c.Dt }

// Next returns the target time of the next step.
func (c *Clock) Next() float64 { return c.timeAt(c.step + 1) }

// Advance moves the clock one step forward and returns the new time.
func (c *Clock) Advance() float64 {
	c.step++
	return c.Time()
}

// Resume positions the clock at a previously reached step.
func (c *Clock) Resume(step int) error {
	if step < 0 {
		return fmt.Errorf("%w: negative step %d", ErrInvalidConfig, step)
	}
	c.step = step
	return nil
}

func (c *Clock) Done() bool { return c.Time() >= c.End-c.eps() }

// Remaining returns the number of steps left before Done.
func (c *Clock) Remaining() int {
	n := math.Ceil((c.End-c.Time())/c.Dt - 1e-9)
	if n < 0 {
		return 0
	}
	return int(n)
}

// ExportAligned reports whether the export interval is an integer multiple
// of dt. When it is not, exports happen at the first step boundary at or
// after each nominal export time.
func (c *Clock) ExportAligned() bool {
	r := c.Export / c.Dt
	return math.Abs(r-math.Round(r)) < 1e-9*math.Max(1, r)
}

func (c *Clock) exportIndex(t float64) int {
	return int(math.Floor((t - c.Start + c.eps()) / c.Export))
}

// ExportDue reports whether a nominal export time lies in (prev, t].
func (c *Clock) ExportDue(prev, t float64) bool {
	return c.exportIndex(t) > c.exportIndex(prev)
}
