package viz

import (
	"strings"

	"github.com/san-kum/tidesim/internal/hydro"
)

const brailleBlank = 0x2800

// Braille dot bits for a 2x4 cell:
//
//	1 4
//	2 5
//	3 6
//	7 8
var pixelMap = [4][2]rune{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

// Canvas is a Width x Height grid of Braille cells, addressed in dots
// (2*Width by 4*Height).
type Canvas struct {
	Width, Height int
	Grid          [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{Width: w, Height: h, Grid: make([][]rune, h)}
	for i := range c.Grid {
		c.Grid[i] = make([]rune, w)
	}
	c.Clear()
	return c
}

func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 {
		return
	}
	col, row := x/2, y/4
	if col >= c.Width || row >= c.Height {
		return
	}
	c.Grid[row][col] |= pixelMap[y%4][x%2]
}

func (c *Canvas) Clear() {
	for i := range c.Grid {
		for j := range c.Grid[i] {
			c.Grid[i][j] = brailleBlank
		}
	}
}

// DrawLine draws with Bresenham's algorithm.
func (c *Canvas) DrawLine(x0, y0, x1, y1 int) {
	dx, dy := absInt(x1-x0), absInt(y1-y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy
	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// Project maps a world point inside [lo, hi] to dot coordinates, north up.
func (c *Canvas) Project(p, lo, hi hydro.Point) (int, int) {
	w, h := float64(2*c.Width-1), float64(4*c.Height-1)
	sx, sy := hi.X-lo.X, hi.Y-lo.Y
	if sx <= 0 {
		sx = 1
	}
	if sy <= 0 {
		sy = 1
	}
	return int((p.X - lo.X) / sx * w), int((hi.Y - p.Y) / sy * h)
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.Grid {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	return b.String()
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// DomainMap draws boundary edges as lines and marks as 2x2 dots.
func DomainMap(w, h int, lo, hi hydro.Point, edges [][2]hydro.Point, marks []hydro.Point) string {
	c := NewCanvas(w, h)
	for _, e := range edges {
		x0, y0 := c.Project(e[0], lo, hi)
		x1, y1 := c.Project(e[1], lo, hi)
		c.DrawLine(x0, y0, x1, y1)
	}
	for _, p := range marks {
		x, y := c.Project(p, lo, hi)
		c.Set(x, y)
		c.Set(x+1, y)
		c.Set(x, y+1)
		c.Set(x+1, y+1)
	}
	return c.String()
}
