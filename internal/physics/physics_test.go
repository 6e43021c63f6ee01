package physics

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/tidesim/internal/geo"
	"github.com/san-kum/tidesim/internal/hydro"
	"github.com/san-kum/tidesim/internal/mesh"
	"github.com/san-kum/tidesim/internal/restart"
)

func TestBetaPlane(t *testing.T) {
	f0, beta := BetaPlane(30)
	assert.InDelta(t, 7.292e-5, f0, 1e-12)
	assert.InDelta(t, 2*7.292e-5*0.8660254/6371e3, beta, 1e-16)

	f0, _ = BetaPlane(0)
	assert.InDelta(t, 0, f0, 1e-20)
}

func TestCoriolis(t *testing.T) {
	y0, err := geo.Northing(30)
	require.NoError(t, err)

	m, err := mesh.New(
		[]hydro.Point{{X: 0, Y: y0}, {X: 1000, Y: y0}, {X: 0, Y: y0 + 1000}},
		[][3]int{{0, 1, 2}},
		nil,
	)
	require.NoError(t, err)

	f, err := Coriolis(m, 30)
	require.NoError(t, err)
	f0, beta := BetaPlane(30)
	assert.InDelta(t, f0, f.Scalar(0), 1e-15)
	assert.InDelta(t, f0, f.Scalar(1), 1e-15)
	assert.InDelta(t, f0+1000*beta, f.Scalar(2), 1e-15)
}

func TestConstants(t *testing.T) {
	m, err := mesh.Rectangle(2, 2, 10, 10)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bathymetry.json")
	bathy := hydro.NewScalar("bathymetry", m.NumNodes())
	bathy.Fill(12)
	require.NoError(t, restart.SaveField(path, bathy))

	fs, err := Constants(m, Source{File: path}, Source{Value: 1e-3}, 30)
	require.NoError(t, err)
	assert.Equal(t, []string{hydro.FieldBathymetry, hydro.FieldCoriolis, hydro.FieldViscosity}, fs.Names())
	assert.Equal(t, 12.0, fs[hydro.FieldBathymetry].Scalar(4))
	assert.Equal(t, 1e-3, fs[hydro.FieldViscosity].Scalar(0))

	_, err = Constants(m, Source{File: filepath.Join(t.TempDir(), "missing.json")}, Source{}, 30)
	assert.Error(t, err)

	uv := filepath.Join(t.TempDir(), "uv.json")
	require.NoError(t, restart.SaveField(uv, hydro.NewVector("uv", m.NumNodes())))
	_, err = Constants(m, Source{File: uv}, Source{}, 30)
	assert.Error(t, err)
}
