// Package hydro provides the core value types shared by the simulation
// orchestration layer.
//
// The package defines:
//
//   - [Field]: a named, node-indexed scalar or vector field
//   - [FieldSet]: the fields a run carries, keyed by name
//   - [Layout]: the expected stateful field set and mesh cardinality
//   - [BoundaryCondition]: a boundary segment bound to a forcing field handle
//   - [Clock]: the fixed-step simulation clock owned by the driver
//
// # Ownership
//
// Fields are shared by pointer. Exactly one component writes each field:
// the forcing provider writes the boundary forcing fields, the solver writes
// the prognostic state, and everyone else reads. None of these types lock.
package hydro
