package restart

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/san-kum/tidesim/internal/hydro"
)

// SaveField writes a single field in the checkpoint field encoding. It is
// used for prepared constant fields such as bathymetry.
func SaveField(path string, f *hydro.Field) error {
	data, err := json.Marshal(fieldEntry{Name: f.Name, Kind: f.Kind, Data: f.Data})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadField reads a field written by SaveField and checks its node count.
func LoadField(path string, nodes int) (*hydro.Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e fieldEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if e.Kind != hydro.Scalar && e.Kind != hydro.Vector {
		return nil, fmt.Errorf("%s: field %q has no kind", path, e.Name)
	}
	f := &hydro.Field{Name: e.Name, Kind: e.Kind, Data: e.Data}
	if f.Len() != nodes || len(f.Data)%int(f.Kind) != 0 {
		return nil, fmt.Errorf("%w: %s holds %d nodes, mesh has %d", hydro.ErrDimensionMismatch, path, f.Len(), nodes)
	}
	return f, nil
}
