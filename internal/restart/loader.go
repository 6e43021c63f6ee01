package restart

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/rs/zerolog"

	"github.com/san-kum/tidesim/internal/hydro"
)

// Loader resolves checkpoints for a run with a fixed field layout and dt.
type Loader struct {
	layout hydro.Layout
	dt     float64
	log    zerolog.Logger
}

func NewLoader(layout hydro.Layout, dt float64, log zerolog.Logger) *Loader {
	return &Loader{layout: layout, dt: dt, log: log}
}

// Load returns the checkpoint at step in runDir. It fails with
// hydro.ErrRestartNotFound when the directory or step is missing and with
// hydro.ErrIncompatibleRestart when the checkpoint's fields, mesh size or
// dt differ from the current run. No partial record is ever returned.
func (l *Loader) Load(runDir string, step int) (*Record, error) {
	if step < 0 {
		return nil, fmt.Errorf("%w: negative step %d", hydro.ErrRestartNotFound, step)
	}
	info, err := os.Stat(runDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: run directory %s", hydro.ErrRestartNotFound, runDir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", hydro.ErrRestartNotFound, runDir)
	}

	rec, err := NewStore(runDir).Read(step)
	if err != nil {
		return nil, err
	}
	if err := l.check(rec, step); err != nil {
		return nil, err
	}

	l.log.Info().
		Str("run_dir", runDir).
		Str("identity", rec.Identity.String()).
		Float64("t", rec.Time).
		Msg("loaded restart")
	return rec, nil
}

func (l *Loader) check(rec *Record, step int) error {
	if rec.Step != step {
		return fmt.Errorf("%w: checkpoint file for step %d claims step %d", hydro.ErrIncompatibleRestart, step, rec.Step)
	}
	if got := rec.Layout().Fingerprint(); got != rec.Fingerprint {
		return fmt.Errorf("%w: stored fingerprint %s does not match contents %s", hydro.ErrIncompatibleRestart, rec.Fingerprint, got)
	}
	if want := l.layout.Fingerprint(); rec.Fingerprint != want {
		return fmt.Errorf("%w: checkpoint holds %v on %d nodes, run expects %v on %d nodes",
			hydro.ErrIncompatibleRestart, rec.Fields.Names(), rec.Nodes, l.layout.Names(), l.layout.Nodes)
	}
	if err := l.layout.Check(rec.Fields); err != nil {
		return fmt.Errorf("%w: %v", hydro.ErrIncompatibleRestart, err)
	}
	if rec.Dt > 0 && math.Abs(rec.Dt-l.dt) > 1e-9*l.dt {
		return fmt.Errorf("%w: checkpoint dt %gs, run dt %gs", hydro.ErrIncompatibleRestart, rec.Dt, l.dt)
	}
	return nil
}
