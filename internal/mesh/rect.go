package mesh

import (
	"fmt"

	"github.com/san-kum/tidesim/internal/hydro"
)

// Segment tags used by Rectangle.
const (
	South = 1
	East  = 2
	North = 3
	West  = 4
)

// Rectangle builds a structured nx by ny mesh over [0,lx]x[0,ly], each cell
// split into two triangles. Boundary edges are tagged South, East, North
// and West.
func Rectangle(nx, ny int, lx, ly float64) (*Mesh, error) {
	if nx < 1 || ny < 1 || lx <= 0 || ly <= 0 {
		return nil, errRectangle(nx, ny, lx, ly)
	}
	id := func(i, j int) int { return j*(nx+1) + i }

	nodes := make([]hydro.Point, 0, (nx+1)*(ny+1))
	for j := 0; j <= ny; j++ {
		for i := 0; i <= nx; i++ {
			nodes = append(nodes, hydro.Point{X: lx * float64(i) / float64(nx), Y: ly * float64(j) / float64(ny)})
		}
	}

	tris := make([][3]int, 0, 2*nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			tris = append(tris,
				[3]int{id(i, j), id(i+1, j), id(i+1, j+1)},
				[3]int{id(i, j), id(i+1, j+1), id(i, j+1)},
			)
		}
	}

	segs := map[int][]Edge{}
	for i := 0; i < nx; i++ {
		segs[South] = append(segs[South], Edge{id(i, 0), id(i+1, 0)})
		segs[North] = append(segs[North], Edge{id(i, ny), id(i+1, ny)})
	}
	for j := 0; j < ny; j++ {
		segs[East] = append(segs[East], Edge{id(nx, j), id(nx, j+1)})
		segs[West] = append(segs[West], Edge{id(0, j), id(0, j+1)})
	}
	return New(nodes, tris, segs)
}

func errRectangle(nx, ny int, lx, ly float64) error {
	return fmt.Errorf("mesh: invalid rectangle %dx%d over %gx%g", nx, ny, lx, ly)
}
