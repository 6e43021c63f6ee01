package physics

import (
	"math"

	"github.com/san-kum/tidesim/internal/geo"
	"github.com/san-kum/tidesim/internal/hydro"
)

// Nodes is the mesh view needed to build node-wise fields.
type Nodes interface {
	NumNodes() int
	Node(i int) hydro.Point
}

// BetaPlane returns f0 and beta at latitude lat (degrees).
func BetaPlane(lat float64) (f0, beta float64) {
	r := lat * math.Pi / 180
	return 2 * EarthOmega * math.Sin(r), 2 * EarthOmega * math.Cos(r) / EarthRadius
}

// Coriolis evaluates f = f0 + beta*(y - y0) on every node, where y0 is the
// UTM northing of the reference latitude.
func Coriolis(m Nodes, lat float64) (*hydro.Field, error) {
	y0, err := geo.Northing(lat)
	if err != nil {
		return nil, err
	}
	f0, beta := BetaPlane(lat)
	f := hydro.NewScalar(hydro.FieldCoriolis, m.NumNodes())
	for i := 0; i < m.NumNodes(); i++ {
		f.SetScalar(i, f0+beta*(m.Node(i).Y-y0))
	}
	return f, nil
}
