package detector

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/tidesim/internal/hydro"
	"github.com/san-kum/tidesim/internal/mesh"
)

func fixture(t *testing.T) (*mesh.Mesh, hydro.FieldSet) {
	t.Helper()
	m, err := mesh.Rectangle(4, 4, 400, 400)
	require.NoError(t, err)
	fs := hydro.StateLayout(m.NumNodes(), true).NewFieldSet()
	for i, p := range m.Nodes {
		fs[hydro.FieldElevation].SetScalar(i, p.X/100)
		fs[hydro.FieldVelocity].SetVector(i, hydro.Vec2{X: 1, Y: p.Y / 100})
		fs[hydro.FieldSediment].SetScalar(i, 0.5)
	}
	return m, fs
}

var allFields = []string{hydro.FieldElevation, hydro.FieldVelocity, hydro.FieldSediment}

func TestRegister_OutOfDomainAddsNothing(t *testing.T) {
	m, _ := fixture(t)
	s := NewSampler(m)

	_, err := s.Register(
		Detector{Name: "inside", Location: hydro.Point{X: 100, Y: 100}, Fields: allFields},
		Detector{Name: "offshore", Location: hydro.Point{X: 900, Y: 100}, Fields: allFields},
	)
	assert.True(t, errors.Is(err, hydro.ErrDetectorOutOfDomain))
	assert.Empty(t, s.Names())
	_, ok := s.Series("inside")
	assert.False(t, ok)
}

func TestRegister_Validation(t *testing.T) {
	m, _ := fixture(t)
	s := NewSampler(m)

	h, err := s.Register(Detector{Name: "a", Location: hydro.Point{X: 1, Y: 1}, Fields: allFields})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, h.Names())

	_, err = s.Register(Detector{Name: "a", Location: hydro.Point{X: 2, Y: 2}, Fields: allFields})
	assert.ErrorIs(t, err, ErrDuplicateDetector)

	_, err = s.Register(
		Detector{Name: "b", Location: hydro.Point{X: 2, Y: 2}, Fields: allFields},
		Detector{Name: "b", Location: hydro.Point{X: 3, Y: 3}, Fields: allFields},
	)
	assert.ErrorIs(t, err, ErrDuplicateDetector)

	_, err = s.Register(Detector{Location: hydro.Point{X: 2, Y: 2}, Fields: allFields})
	assert.Error(t, err)

	_, err = s.Register(Detector{Name: "c", Location: hydro.Point{X: 2, Y: 2}})
	assert.Error(t, err)

	assert.Equal(t, []string{"a"}, s.Names())
}

func TestSample_InterpolatesAndAppends(t *testing.T) {
	m, fs := fixture(t)
	s := NewSampler(m)
	_, err := s.Register(Detector{Name: "gauge", Location: hydro.Point{X: 150, Y: 250}, Fields: allFields})
	require.NoError(t, err)

	for _, tm := range []float64{300, 600, 900} {
		require.NoError(t, s.Sample(tm, fs))
	}

	ser, ok := s.Series("gauge")
	require.True(t, ok)
	require.Equal(t, 3, ser.Len())
	rec := ser.Records[0]
	assert.InDelta(t, 1.5, rec.Values[hydro.FieldElevation][0], 1e-12)
	assert.InDelta(t, 1, rec.Values[hydro.FieldVelocity][0], 1e-12)
	assert.InDelta(t, 2.5, rec.Values[hydro.FieldVelocity][1], 1e-12)
	assert.InDelta(t, 0.5, rec.Values[hydro.FieldSediment][0], 1e-12)

	times, values := ser.Column(hydro.FieldVelocity, 1)
	assert.Equal(t, []float64{300, 600, 900}, times)
	assert.Len(t, values, 3)
}

func TestSample_RejectsNonIncreasingTime(t *testing.T) {
	m, fs := fixture(t)
	s := NewSampler(m)
	_, err := s.Register(Detector{Name: "g", Location: hydro.Point{X: 10, Y: 10}, Fields: allFields})
	require.NoError(t, err)

	require.NoError(t, s.Sample(300, fs))
	assert.ErrorIs(t, s.Sample(300, fs), ErrNonMonotonicTime)
	assert.ErrorIs(t, s.Sample(200, fs), ErrNonMonotonicTime)
	ser, _ := s.Series("g")
	assert.Equal(t, 1, ser.Len())
}

func TestSample_UnknownFieldAppendsNothing(t *testing.T) {
	m, fs := fixture(t)
	s := NewSampler(m)
	_, err := s.Register(
		Detector{Name: "g1", Location: hydro.Point{X: 10, Y: 10}, Fields: []string{hydro.FieldElevation}},
		Detector{Name: "g2", Location: hydro.Point{X: 20, Y: 10}, Fields: []string{"salinity_2d"}},
	)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Sample(300, fs), ErrUnknownField)
	g1, _ := s.Series("g1")
	assert.Equal(t, 0, g1.Len())
}

type recordingSink struct {
	writes map[string][]Record
	fail   bool
}

func (r *recordingSink) Write(d Detector, recs []Record) error {
	if r.fail {
		return errors.New("disk full")
	}
	if r.writes == nil {
		r.writes = map[string][]Record{}
	}
	r.writes[d.Name] = append(r.writes[d.Name], recs...)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func TestFlush_Incremental(t *testing.T) {
	m, fs := fixture(t)
	s := NewSampler(m)
	_, err := s.Register(Detector{Name: "g", Location: hydro.Point{X: 10, Y: 10}, Fields: allFields})
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, s.Sample(1, fs))
	require.NoError(t, s.Sample(2, fs))
	require.NoError(t, s.Flush(sink))

	sink.fail = true
	require.NoError(t, s.Sample(3, fs))
	assert.Error(t, s.Flush(sink))

	sink.fail = false
	require.NoError(t, s.Flush(sink))
	require.NoError(t, s.Flush(sink))

	got := sink.writes["g"]
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, float64(i+1), r.Time)
	}
}

func TestCSVSink_AppendAndRead(t *testing.T) {
	m, fs := fixture(t)
	s := NewSampler(m)
	_, err := s.Register(Detector{Name: "g", Location: hydro.Point{X: 150, Y: 250}, Fields: allFields})
	require.NoError(t, err)

	sink, err := NewCSVSink(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Sample(300, fs))
	require.NoError(t, s.Flush(sink))
	require.NoError(t, s.Sample(600, fs))
	require.NoError(t, s.Flush(sink))

	tb, err := LoadCSV(sink.Path("g"))
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "elev_2d", "uv_2d_0", "uv_2d_1", "sediment_2d"}, tb.Columns)
	assert.Equal(t, []float64{300, 600}, tb.Times)
	col, err := tb.Column("uv_2d_1")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, col[0], 1e-12)
	_, err = tb.Column("salinity")
	assert.Error(t, err)
}

func TestSQLiteSink(t *testing.T) {
	m, fs := fixture(t)
	s := NewSampler(m)
	_, err := s.Register(Detector{Name: "g", Location: hydro.Point{X: 150, Y: 250}, Fields: allFields})
	require.NoError(t, err)

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "detectors.db"))
	require.NoError(t, err)
	defer db.Close()

	for _, tm := range []float64{300, 600, 900} {
		require.NoError(t, s.Sample(tm, fs))
	}
	require.NoError(t, s.Flush(Tee(db)))

	times, values, err := db.Query("g", hydro.FieldElevation, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{300, 600, 900}, times)
	assert.InDelta(t, 1.5, values[2], 1e-12)
}

func TestTee_CombinesErrors(t *testing.T) {
	a := &recordingSink{fail: true}
	b := &recordingSink{}
	err := Tee(a, b).Write(Detector{Name: "g"}, []Record{{Time: 1}})
	assert.Error(t, err)
	assert.Len(t, b.writes["g"], 1, "healthy sink still receives records")
}

func TestReadSpecs(t *testing.T) {
	specs, err := ReadSpecs(strings.NewReader("name,x,y\nA,1,2\nB,3.5,4\n"))
	require.NoError(t, err)
	require.Len(t, specs, 2)
	d, err := specs[1].Resolve(allFields, 0)
	require.NoError(t, err)
	assert.Equal(t, hydro.Point{X: 3.5, Y: 4}, d.Location)

	geoSpecs, err := ReadSpecs(strings.NewReader("name, lat, lon\nquay,30,3\n"))
	require.NoError(t, err)
	d, err = geoSpecs[0].Resolve(allFields, 31)
	require.NoError(t, err)
	assert.InDelta(t, 500000, d.Location.X, 1)

	_, err = geoSpecs[0].Resolve(allFields, 30)
	assert.Error(t, err)

	for _, bad := range []string{"", "x,y\n1,2\n", "name,x\nA,1\n", "name,lat\nA,1\n", "name,x,y\nA,q,2\n"} {
		_, err := ReadSpecs(strings.NewReader(bad))
		assert.Error(t, err, bad)
	}
	_, err = Spec{Name: "none"}.Resolve(allFields, 0)
	assert.Error(t, err)
}
