package hydro

import (
	"fmt"
	"math"
)

type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (v Vec2) Norm() float64 { return math.Hypot(v.X, v.Y) }

func (v Vec2) Scale(f float64) Vec2 { return Vec2{v.X * f, v.Y * f} }

// Quantity names the physical quantity a boundary condition imposes.
type Quantity string

const (
	QuantityElevation Quantity = "elev"
	QuantityVelocity  Quantity = "uv"
)

// Standard field names, matching the names used in checkpoints and
// detector output.
const (
	FieldElevation  = "elev_2d"
	FieldVelocity   = "uv_2d"
	FieldSediment   = "sediment_2d"
	FieldBathymetry = "bathymetry_2d"
	FieldViscosity  = "viscosity"
	FieldCoriolis   = "coriolis_2d"
)

// BoundaryCondition binds a boundary segment to the field that supplies the
// value of one quantity on it. A nil Field marks a closed (wall) segment.
type BoundaryCondition struct {
	Segment  int
	Quantity Quantity
	Field    *Field
}

func (bc BoundaryCondition) String() string {
	if bc.Field == nil {
		return fmt.Sprintf("segment %d: wall", bc.Segment)
	}
	return fmt.Sprintf("segment %d: %s <- %s", bc.Segment, bc.Quantity, bc.Field.Name)
}

// Phase is the driver lifecycle state.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitialized
	PhaseRunning
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitialized:
		return "initialized"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}
