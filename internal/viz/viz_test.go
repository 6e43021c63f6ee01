package viz

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/tidesim/internal/hydro"
)

func TestCanvasDrawLine(t *testing.T) {
	c := NewCanvas(4, 2)
	c.DrawLine(0, 0, 7, 0)
	for col := 0; col < 4; col++ {
		assert.NotEqual(t, rune(brailleBlank), c.Grid[0][col])
	}
	assert.Equal(t, rune(brailleBlank), c.Grid[1][0])

	c.Clear()
	assert.Equal(t, strings.Repeat(string(rune(brailleBlank)), 4)+"\n", strings.SplitAfter(c.String(), "\n")[0])
}

func TestCanvasIgnoresOutOfBounds(t *testing.T) {
	c := NewCanvas(2, 2)
	c.Set(-1, 0)
	c.Set(100, 100)
	for _, row := range c.Grid {
		for _, r := range row {
			assert.Equal(t, rune(brailleBlank), r)
		}
	}
}

func TestProjectNorthUp(t *testing.T) {
	c := NewCanvas(10, 5)
	lo, hi := hydro.Point{X: 0, Y: 0}, hydro.Point{X: 100, Y: 50}
	x, y := c.Project(hydro.Point{X: 0, Y: 50}, lo, hi)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
	x, y = c.Project(hydro.Point{X: 100, Y: 0}, lo, hi)
	assert.Equal(t, 19, x)
	assert.Equal(t, 19, y)
}

func TestDomainMap(t *testing.T) {
	lo, hi := hydro.Point{}, hydro.Point{X: 10, Y: 10}
	out := DomainMap(6, 3, lo, hi,
		[][2]hydro.Point{{{X: 0, Y: 0}, {X: 10, Y: 0}}},
		[]hydro.Point{{X: 5, Y: 5}},
	)
	assert.Len(t, strings.Split(strings.TrimRight(out, "\n"), "\n"), 3)
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "▁▅█", Sparkline([]float64{0, 0.6, 1}, 10))
	assert.Equal(t, strings.Repeat("─", 4), Sparkline(nil, 4))
	assert.Equal(t, 5, len([]rune(Sparkline(make([]float64, 50), 5))))
}

func TestModelTracksProgress(t *testing.T) {
	m := NewModel("r1", nil, "")
	next, _ := m.Update(ProgressMsg{Step: 3, Total: 12, Time: 900, End: 3600, Elevation: 0.25})
	m = next.(Model)
	next, _ = m.Update(ProgressMsg{Step: 4, Total: 12, Time: 1200, End: 3600, Elevation: math.NaN()})
	m = next.(Model)

	assert.Equal(t, 4, m.Progress().Step)
	assert.Equal(t, []float64{0.25}, m.elevation)
	assert.InDelta(t, 1.0/3, m.fraction(), 1e-12)
	assert.Contains(t, m.View(), "4 / 12")
}

func TestModelStopCancelsOnce(t *testing.T) {
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewModel("r1", func() { calls++; cancel() }, "")

	for i := 0; i < 2; i++ {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
		m = next.(Model)
	}
	assert.Equal(t, 1, calls)
	assert.Error(t, ctx.Err())
	assert.Contains(t, m.View(), "STOPPING")
}

func TestModelQuitsWhenDone(t *testing.T) {
	m := NewModel("r1", nil, "")
	next, cmd := m.Update(DoneMsg{Err: errors.New("boom")})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.Done())
	assert.EqualError(t, m.Err(), "boom")
	assert.Contains(t, m.View(), "FAILED")
}

func TestSummaryRender(t *testing.T) {
	out := Summary{
		RunID:    "abc",
		Phase:    "completed",
		Steps:    12,
		Monitors: map[string]float64{"volume_drift": 1e-10},
	}.Render()
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "volume_drift")
}
