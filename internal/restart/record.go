// Package restart persists and reloads simulation state.
//
// A checkpoint is identified by the run that wrote it, the timestep index,
// and the fingerprint of its field layout. The [Loader] resolves a
// checkpoint from a run directory and refuses it unless it matches the
// current run's layout exactly.
package restart

import (
	"fmt"

	"github.com/san-kum/tidesim/internal/hydro"
)

type Identity struct {
	RunID       string `json:"run_id"`
	Step        int    `json:"step"`
	Fingerprint string `json:"fingerprint"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%s@%d[%s]", id.RunID, id.Step, id.Fingerprint)
}

// Record is a snapshot of every stateful field at one step. It is read-only
// once loaded.
type Record struct {
	Identity
	Time   float64
	Dt     float64
	Nodes  int
	Fields hydro.FieldSet
}

// NewRecord snapshots fields, cloning them so later solver steps do not
// alter the record.
func NewRecord(runID string, step int, t, dt float64, layout hydro.Layout, fields hydro.FieldSet) (*Record, error) {
	sub, err := fields.Subset(layout.Names()...)
	if err != nil {
		return nil, err
	}
	if err := layout.Check(sub); err != nil {
		return nil, err
	}
	return &Record{
		Identity: Identity{RunID: runID, Step: step, Fingerprint: layout.Fingerprint()},
		Time:     t,
		Dt:       dt,
		Nodes:    layout.Nodes,
		Fields:   sub.Clone(),
	}, nil
}

// Layout reconstructs the field layout the record actually holds.
func (r *Record) Layout() hydro.Layout {
	l := hydro.Layout{Nodes: r.Nodes}
	for _, name := range r.Fields.Names() {
		l.Fields = append(l.Fields, r.Fields[name].Spec())
	}
	return l
}
