package forcing

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/tidesim/internal/hydro"
)

// Table is a spatially uniform forcing series, linearly interpolated in
// time. It is defined only on [Times[0], Times[n-1]].
type Table struct {
	Times     []float64
	Elevation []float64
	U, V      []float64
}

func NewTable(times, elev, u, v []float64) (*Table, error) {
	n := len(times)
	if n < 2 {
		return nil, fmt.Errorf("forcing table needs at least two rows, got %d", n)
	}
	if len(elev) != n || len(u) != n || len(v) != n {
		return nil, fmt.Errorf("forcing table columns differ in length")
	}
	for i := 1; i < n; i++ {
		if times[i] <= times[i-1] {
			return nil, fmt.Errorf("forcing table times not increasing at row %d", i)
		}
	}
	return &Table{Times: times, Elevation: elev, U: u, V: v}, nil
}

func (tb *Table) Range() (float64, float64) {
	return tb.Times[0], tb.Times[len(tb.Times)-1]
}

func (tb *Table) At(_ hydro.Point, t float64) (Sample, error) {
	lo, hi := tb.Range()
	if t < lo || t > hi {
		return Sample{}, fmt.Errorf("%w: t=%.1fs outside table [%.1f, %.1f]", hydro.ErrOutOfRangeTime, t, lo, hi)
	}
	i := sort.SearchFloat64s(tb.Times, t)
	if tb.Times[i] == t {
		return Sample{Elevation: tb.Elevation[i], Velocity: hydro.Vec2{X: tb.U[i], Y: tb.V[i]}}, nil
	}
	w := (t - tb.Times[i-1]) / (tb.Times[i] - tb.Times[i-1])
	lerp := func(a []float64) float64 { return a[i-1] + w*(a[i]-a[i-1]) }
	return Sample{Elevation: lerp(tb.Elevation), Velocity: hydro.Vec2{X: lerp(tb.U), Y: lerp(tb.V)}}, nil
}

// LoadTable reads a CSV with a header naming time, elev and optionally u, v.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tb, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tb, nil
}

func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty forcing table")
	}
	col := map[string]int{}
	for i, h := range records[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	ti, ok1 := col["time"]
	ei, ok2 := col["elev"]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("forcing table header needs time and elev columns, got %v", records[0])
	}
	ui, hasU := col["u"]
	vi, hasV := col["v"]

	n := len(records) - 1
	times, elev, u, v := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for k, rec := range records[1:] {
		parse := func(i int) (float64, error) {
			if i >= len(rec) {
				return 0, fmt.Errorf("row %d: missing column %d", k+2, i)
			}
			return strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		}
		if times[k], err = parse(ti); err != nil {
			return nil, err
		}
		if elev[k], err = parse(ei); err != nil {
			return nil, err
		}
		if hasU {
			if u[k], err = parse(ui); err != nil {
				return nil, err
			}
		}
		if hasV {
			if v[k], err = parse(vi); err != nil {
				return nil, err
			}
		}
	}
	return NewTable(times, elev, u, v)
}
