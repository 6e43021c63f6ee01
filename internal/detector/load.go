package detector

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/san-kum/tidesim/internal/geo"
	"github.com/san-kum/tidesim/internal/hydro"
)

// Spec is a detector as written in configuration: either projected x/y or
// geographic lat/lon.
type Spec struct {
	Name string   `yaml:"name"`
	X    *float64 `yaml:"x,omitempty"`
	Y    *float64 `yaml:"y,omitempty"`
	Lat  *float64 `yaml:"lat,omitempty"`
	Lon  *float64 `yaml:"lon,omitempty"`
}

// Resolve turns a spec into a detector sampling fields. Geographic
// coordinates are projected to UTM, in utmZone when it is non-zero.
func (s Spec) Resolve(fields []string, utmZone int) (Detector, error) {
	d := Detector{Name: s.Name, Fields: fields}
	switch {
	case s.X != nil && s.Y != nil:
		d.Location = hydro.Point{X: *s.X, Y: *s.Y}
	case s.Lat != nil && s.Lon != nil:
		p, err := geo.ToUTMZone(*s.Lat, *s.Lon, utmZone)
		if err != nil {
			return Detector{}, fmt.Errorf("detector %q: %w", s.Name, err)
		}
		d.Location = p
	default:
		return Detector{}, fmt.Errorf("detector %q needs x/y or lat/lon", s.Name)
	}
	return d, nil
}

// ReadSpecs parses a CSV with header "name,x,y" or "name,lat,lon".
func ReadSpecs(r io.Reader) ([]Spec, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty detector list")
	}
	col := map[string]int{}
	for i, h := range records[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	ni, ok := col["name"]
	if !ok {
		return nil, fmt.Errorf("detector list needs a name column")
	}
	var ai, bi int
	geographic := false
	if xi, okx := col["x"]; okx {
		yi, oky := col["y"]
		if !oky {
			return nil, fmt.Errorf("detector list has x without y")
		}
		ai, bi = xi, yi
	} else if lat, oklat := col["lat"]; oklat {
		lon, oklon := col["lon"]
		if !oklon {
			return nil, fmt.Errorf("detector list has lat without lon")
		}
		ai, bi, geographic = lat, lon, true
	} else {
		return nil, fmt.Errorf("detector list needs x,y or lat,lon columns")
	}

	specs := make([]Spec, 0, len(records)-1)
	for n, rec := range records[1:] {
		if len(rec) <= ni || len(rec) <= ai || len(rec) <= bi {
			return nil, fmt.Errorf("detector list row %d is short", n+2)
		}
		a, err := strconv.ParseFloat(strings.TrimSpace(rec[ai]), 64)
		if err != nil {
			return nil, fmt.Errorf("detector list row %d: %w", n+2, err)
		}
		b, err := strconv.ParseFloat(strings.TrimSpace(rec[bi]), 64)
		if err != nil {
			return nil, fmt.Errorf("detector list row %d: %w", n+2, err)
		}
		s := Spec{Name: strings.TrimSpace(rec[ni])}
		if geographic {
			s.Lat, s.Lon = &a, &b
		} else {
			s.X, s.Y = &a, &b
		}
		specs = append(specs, s)
	}
	return specs, nil
}

func LoadSpecs(path string) ([]Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	specs, err := ReadSpecs(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}
