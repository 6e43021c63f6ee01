// Package geo converts geographic coordinates into the projected UTM
// coordinates meshes are built in.
package geo

import (
	"fmt"

	UTM "github.com/im7mortal/UTM"

	"github.com/san-kum/tidesim/internal/hydro"
)

// Zone identifies a UTM zone, e.g. 30 "R".
type Zone struct {
	Number int
	Letter string
}

func (z Zone) String() string { return fmt.Sprintf("%d%s", z.Number, z.Letter) }

// ToUTM projects a latitude/longitude pair in degrees.
func ToUTM(lat, lon float64) (hydro.Point, Zone, error) {
	easting, northing, number, letter, err := UTM.FromLatLon(lat, lon, lat >= 0)
	if err != nil {
		return hydro.Point{}, Zone{}, fmt.Errorf("project (%g, %g): %w", lat, lon, err)
	}
	return hydro.Point{X: easting, Y: northing}, Zone{Number: number, Letter: letter}, nil
}

// ToUTMZone projects into a required zone number and fails when the point
// falls in a different one.
func ToUTMZone(lat, lon float64, zone int) (hydro.Point, error) {
	p, z, err := ToUTM(lat, lon)
	if err != nil {
		return hydro.Point{}, err
	}
	if zone != 0 && z.Number != zone {
		return hydro.Point{}, fmt.Errorf("(%g, %g) lies in UTM zone %s, mesh uses zone %d", lat, lon, z, zone)
	}
	return p, nil
}

// Northing returns the UTM northing of a latitude at longitude 0.
func Northing(lat float64) (float64, error) {
	p, _, err := ToUTM(lat, 0)
	if err != nil {
		return 0, err
	}
	return p.Y, nil
}
