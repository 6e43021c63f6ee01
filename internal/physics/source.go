package physics

import (
	"fmt"

	"github.com/san-kum/tidesim/internal/hydro"
	"github.com/san-kum/tidesim/internal/restart"
)

// Source describes where a constant scalar field comes from: a prepared
// field file, or a uniform value when File is empty.
type Source struct {
	File  string  `yaml:"file,omitempty"`
	Value float64 `yaml:"value,omitempty"`
}

func (s Source) Field(name string, nodes int) (*hydro.Field, error) {
	if s.File == "" {
		f := hydro.NewScalar(name, nodes)
		f.Fill(s.Value)
		return f, nil
	}
	f, err := restart.LoadField(s.File, nodes)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	if f.Kind != hydro.Scalar {
		return nil, fmt.Errorf("load %s: %s is a %s field", name, s.File, f.Kind)
	}
	f.Name = name
	return f, nil
}

// Constants assembles the constant field set handed to the solver once.
func Constants(m Nodes, bathymetry, viscosity Source, latitude float64) (hydro.FieldSet, error) {
	fs := hydro.FieldSet{}
	bathy, err := bathymetry.Field(hydro.FieldBathymetry, m.NumNodes())
	if err != nil {
		return nil, err
	}
	visc, err := viscosity.Field(hydro.FieldViscosity, m.NumNodes())
	if err != nil {
		return nil, err
	}
	cor, err := Coriolis(m, latitude)
	if err != nil {
		return nil, err
	}
	fs.Add(bathy)
	fs.Add(visc)
	fs.Add(cor)
	return fs, nil
}
