// Package detector samples fields at fixed points every timestep.
//
// Each registered [Detector] owns an append-only [Series]. The in-memory
// series is always a valid prefix of the final output, so the driver may
// [Sampler.Flush] it to a [Sink] at any time.
package detector

import (
	"errors"
	"fmt"

	"github.com/san-kum/tidesim/internal/hydro"
	"github.com/san-kum/tidesim/internal/mesh"
)

var (
	// ErrNonMonotonicTime indicates a sample at or before the previous one.
	ErrNonMonotonicTime = errors.New("detector: sample time not increasing")

	// ErrUnknownField indicates a detector asked for a field the run does not carry.
	ErrUnknownField = errors.New("detector: unknown field")

	// ErrDuplicateDetector indicates two detectors with the same name.
	ErrDuplicateDetector = errors.New("detector: duplicate name")
)

type Detector struct {
	Name     string
	Location hydro.Point
	Fields   []string
}

// Record is one observation: field name to its components.
type Record struct {
	Time   float64
	Values map[string][]float64
}

type Series struct {
	Detector Detector
	Records  []Record
	flushed  int
}

func (s *Series) Len() int { return len(s.Records) }

// Column extracts one component of one field as parallel time/value slices.
func (s *Series) Column(field string, component int) ([]float64, []float64) {
	times := make([]float64, 0, len(s.Records))
	values := make([]float64, 0, len(s.Records))
	for _, r := range s.Records {
		v, ok := r.Values[field]
		if !ok || component >= len(v) {
			continue
		}
		times = append(times, r.Time)
		values = append(values, v[component])
	}
	return times, values
}

// Locator finds interpolation weights for a point inside the mesh.
type Locator interface {
	Locate(p hydro.Point) (mesh.Location, bool)
}

// Handle names the detectors added by one Register call.
type Handle struct {
	names []string
}

func (h Handle) Names() []string { return h.names }

type Sampler struct {
	locator Locator
	order   []string
	series  map[string]*Series
	locs    map[string]mesh.Location
	last    float64
	sampled bool
}

func NewSampler(locator Locator) *Sampler {
	return &Sampler{
		locator: locator,
		series:  make(map[string]*Series),
		locs:    make(map[string]mesh.Location),
	}
}

// Register validates every detector before adding any of them. A detector
// outside the mesh fails with hydro.ErrDetectorOutOfDomain.
func (s *Sampler) Register(dets ...Detector) (Handle, error) {
	locs := make([]mesh.Location, len(dets))
	seen := make(map[string]bool, len(dets))
	for i, d := range dets {
		if d.Name == "" {
			return Handle{}, fmt.Errorf("detector %d has no name", i)
		}
		if len(d.Fields) == 0 {
			return Handle{}, fmt.Errorf("detector %q samples no fields", d.Name)
		}
		if _, dup := s.series[d.Name]; dup || seen[d.Name] {
			return Handle{}, fmt.Errorf("%w: %q", ErrDuplicateDetector, d.Name)
		}
		seen[d.Name] = true
		loc, ok := s.locator.Locate(d.Location)
		if !ok {
			return Handle{}, fmt.Errorf("%w: %q at (%.1f, %.1f)", hydro.ErrDetectorOutOfDomain, d.Name, d.Location.X, d.Location.Y)
		}
		locs[i] = loc
	}

	h := Handle{names: make([]string, 0, len(dets))}
	for i, d := range dets {
		d.Fields = append([]string(nil), d.Fields...)
		s.series[d.Name] = &Series{Detector: d}
		s.locs[d.Name] = locs[i]
		s.order = append(s.order, d.Name)
		h.names = append(h.names, d.Name)
	}
	return h, nil
}

// Names lists detectors in registration order.
func (s *Sampler) Names() []string { return s.order }

func (s *Sampler) Series(name string) (*Series, bool) {
	ser, ok := s.series[name]
	return ser, ok
}

// Sample appends one record per detector at time t. Either every series
// grows by one record or none does.
func (s *Sampler) Sample(t float64, fields hydro.FieldSet) error {
	if s.sampled && t <= s.last {
		return fmt.Errorf("%w: t=%.3f after t=%.3f", ErrNonMonotonicTime, t, s.last)
	}
	records := make([]Record, len(s.order))
	for i, name := range s.order {
		ser := s.series[name]
		loc := s.locs[name]
		rec := Record{Time: t, Values: make(map[string][]float64, len(ser.Detector.Fields))}
		for _, fname := range ser.Detector.Fields {
			f, ok := fields[fname]
			if !ok {
				return fmt.Errorf("%w: %q for detector %q", ErrUnknownField, fname, name)
			}
			rec.Values[fname] = loc.Interpolate(f)
		}
		records[i] = rec
	}
	for i, name := range s.order {
		ser := s.series[name]
		ser.Records = append(ser.Records, records[i])
	}
	s.last = t
	s.sampled = true
	return nil
}

// Flush writes records not yet flushed to sink. A series' flush mark only
// advances when its write succeeds, so a failed flush can be retried.
func (s *Sampler) Flush(sink Sink) error {
	for _, name := range s.order {
		ser := s.series[name]
		pending := ser.Records[ser.flushed:]
		if len(pending) == 0 {
			continue
		}
		if err := sink.Write(ser.Detector, pending); err != nil {
			return fmt.Errorf("flush detector %q: %w", name, err)
		}
		ser.flushed = len(ser.Records)
	}
	return nil
}
