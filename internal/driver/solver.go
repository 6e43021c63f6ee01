package driver

import (
	"context"

	"github.com/san-kum/tidesim/internal/detector"
	"github.com/san-kum/tidesim/internal/hydro"
	"github.com/san-kum/tidesim/internal/restart"
)

// Solver is the external finite-element engine. AdvanceTo blocks until the
// step completes and reads boundary data from the registered field handles
// as they are at call time. SetTime sets the time the first step starts
// from; LoadCheckpoint overrides it with the checkpoint's time.
type Solver interface {
	SetConstants(fields hydro.FieldSet) error
	SetTime(t float64) error
	RegisterBoundary(bc hydro.BoundaryCondition) error
	RegisterStepCallback(fn func(t float64, fields hydro.FieldSet))
	LoadCheckpoint(rec *restart.Record) error
	AdvanceTo(ctx context.Context, t float64) error
	Fields() hydro.FieldSet
}

// Forcing produces boundary forcing into stable field handles.
type Forcing interface {
	Update(t float64) error
	Elevation() *hydro.Field
	Velocity() *hydro.Field
	Segments() []int
}

// Sampler records detector observations after each step.
type Sampler interface {
	Sample(t float64, fields hydro.FieldSet) error
	Flush(sink detector.Sink) error
}

// Boundaries lists the boundary segments the mesh defines.
type Boundaries interface {
	SegmentIDs() []int
}
