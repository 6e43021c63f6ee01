package detector

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/multierr"
)

// Sink persists detector records. Write receives each record at most once
// and in time order.
type Sink interface {
	Write(d Detector, recs []Record) error
	Close() error
}

type tee []Sink

// Tee fans writes out to every sink.
func Tee(sinks ...Sink) Sink { return tee(sinks) }

func (t tee) Write(d Detector, recs []Record) error {
	var err error
	for _, s := range t {
		err = multierr.Append(err, s.Write(d, recs))
	}
	return err
}

func (t tee) Close() error {
	var err error
	for _, s := range t {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// CSVSink appends each detector's records to <dir>/<name>.csv.
type CSVSink struct {
	dir string
}

func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &CSVSink{dir: dir}, nil
}

func (c *CSVSink) Path(name string) string { return filepath.Join(c.dir, name+".csv") }

func header(d Detector, first Record) []string {
	h := []string{"time"}
	for _, f := range d.Fields {
		v := first.Values[f]
		if len(v) == 1 {
			h = append(h, f)
			continue
		}
		for i := range v {
			h = append(h, fmt.Sprintf("%s_%d", f, i))
		}
	}
	return h
}

func (c *CSVSink) Write(d Detector, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	file, err := os.OpenFile(c.Path(d.Name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := w.Write(header(d, recs[0])); err != nil {
			return err
		}
	}
	for _, r := range recs {
		row := []string{strconv.FormatFloat(r.Time, 'f', -1, 64)}
		for _, f := range d.Fields {
			for _, v := range r.Values[f] {
				row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Sync()
}

func (c *CSVSink) Close() error { return nil }

// Table is a detector CSV read back: column names and rows of values.
type Table struct {
	Columns []string
	Times   []float64
	Rows    [][]float64
}

// Column returns the values of a named column.
func (t *Table) Column(name string) ([]float64, error) {
	for i, c := range t.Columns {
		if c != name {
			continue
		}
		if i == 0 {
			return append([]float64(nil), t.Times...), nil
		}
		out := make([]float64, len(t.Rows))
		for r, row := range t.Rows {
			out[r] = row[i-1]
		}
		return out, nil
	}
	return nil, fmt.Errorf("no column %q in %v", name, t.Columns)
}

func ReadCSV(r io.Reader) (*Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty detector file")
	}
	t := &Table{Columns: records[0]}
	for n, rec := range records[1:] {
		if len(rec) != len(t.Columns) {
			return nil, fmt.Errorf("row %d has %d columns, header has %d", n+2, len(rec), len(t.Columns))
		}
		tm, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+2, err)
		}
		row := make([]float64, len(rec)-1)
		for i, s := range rec[1:] {
			if row[i], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("row %d: %w", n+2, err)
			}
		}
		t.Times = append(t.Times, tm)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}
