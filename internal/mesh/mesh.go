// Package mesh holds the triangular mesh the run is defined on: node
// coordinates, triangles and tagged boundary segments. It answers the
// geometric questions the orchestration layer needs (which nodes lie on a
// segment, whether a point is inside the domain, interpolation weights) and
// nothing about discretization.
package mesh

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/tidesim/internal/hydro"
)

type Edge [2]int

type box struct{ minX, minY, maxX, maxY float64 }

func (b box) contains(p hydro.Point, tol float64) bool {
	return p.X >= b.minX-tol && p.X <= b.maxX+tol && p.Y >= b.minY-tol && p.Y <= b.maxY+tol
}

type Mesh struct {
	Nodes     []hydro.Point
	Triangles [][3]int
	Segments  map[int][]Edge

	bounds   box
	triBoxes []box
	areas    []float64
}

// New validates the connectivity and precomputes bounding boxes and lumped
// node areas.
func New(nodes []hydro.Point, triangles [][3]int, segments map[int][]Edge) (*Mesh, error) {
	if len(nodes) == 0 || len(triangles) == 0 {
		return nil, fmt.Errorf("mesh: empty mesh (%d nodes, %d triangles)", len(nodes), len(triangles))
	}
	if segments == nil {
		segments = map[int][]Edge{}
	}
	m := &Mesh{
		Nodes:     nodes,
		Triangles: triangles,
		Segments:  segments,
		triBoxes:  make([]box, len(triangles)),
		areas:     make([]float64, len(nodes)),
		bounds:    box{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)},
	}
	for _, p := range nodes {
		m.bounds.minX = math.Min(m.bounds.minX, p.X)
		m.bounds.minY = math.Min(m.bounds.minY, p.Y)
		m.bounds.maxX = math.Max(m.bounds.maxX, p.X)
		m.bounds.maxY = math.Max(m.bounds.maxY, p.Y)
	}
	for i, tri := range triangles {
		for _, n := range tri {
			if n < 0 || n >= len(nodes) {
				return nil, fmt.Errorf("mesh: triangle %d references node %d of %d", i, n, len(nodes))
			}
		}
		a, b, c := nodes[tri[0]], nodes[tri[1]], nodes[tri[2]]
		m.triBoxes[i] = box{
			minX: math.Min(a.X, math.Min(b.X, c.X)),
			minY: math.Min(a.Y, math.Min(b.Y, c.Y)),
			maxX: math.Max(a.X, math.Max(b.X, c.X)),
			maxY: math.Max(a.Y, math.Max(b.Y, c.Y)),
		}
		area := math.Abs(signedArea(a, b, c))
		if area == 0 {
			return nil, fmt.Errorf("mesh: triangle %d is degenerate", i)
		}
		for _, n := range tri {
			m.areas[n] += area / 3
		}
	}
	for id, edges := range segments {
		for _, e := range edges {
			if e[0] < 0 || e[0] >= len(nodes) || e[1] < 0 || e[1] >= len(nodes) {
				return nil, fmt.Errorf("mesh: segment %d references edge %v outside %d nodes", id, e, len(nodes))
			}
		}
	}
	return m, nil
}

func signedArea(a, b, c hydro.Point) float64 {
	return 0.5 * ((b.X-a.X)*(c.Y-a.Y) - (c.X-a.X)*(b.Y-a.Y))
}

func (m *Mesh) NumNodes() int { return len(m.Nodes) }

func (m *Mesh) Node(i int) hydro.Point { return m.Nodes[i] }

// Bounds returns the corners of the axis-aligned bounding box.
func (m *Mesh) Bounds() (hydro.Point, hydro.Point) {
	return hydro.Point{X: m.bounds.minX, Y: m.bounds.minY}, hydro.Point{X: m.bounds.maxX, Y: m.bounds.maxY}
}

// NodeArea is the lumped (one third of each adjacent triangle) area of node i.
func (m *Mesh) NodeArea(i int) float64 { return m.areas[i] }

func (m *Mesh) TotalArea() float64 {
	sum := 0.0
	for _, a := range m.areas {
		sum += a
	}
	return sum
}

func (m *Mesh) SegmentIDs() []int {
	ids := make([]int, 0, len(m.Segments))
	for id := range m.Segments {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// BoundaryNodes returns the sorted, de-duplicated nodes on the given segments.
func (m *Mesh) BoundaryNodes(ids ...int) []int {
	seen := make(map[int]struct{})
	for _, id := range ids {
		for _, e := range m.Segments[id] {
			seen[e[0]] = struct{}{}
			seen[e[1]] = struct{}{}
		}
	}
	nodes := make([]int, 0, len(seen))
	for n := range seen {
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)
	return nodes
}

// Location is a point expressed as barycentric weights on one triangle.
type Location struct {
	Triangle int
	Nodes    [3]int
	Weights  [3]float64
}

// Interpolate evaluates f at the location.
func (l Location) Interpolate(f *hydro.Field) []float64 {
	out := make([]float64, int(f.Kind))
	for k := 0; k < 3; k++ {
		v := f.Value(l.Nodes[k])
		for c := range out {
			out[c] += l.Weights[k] * v[c]
		}
	}
	return out
}

const locateTol = 1e-10

// Locate finds the triangle containing p.
func (m *Mesh) Locate(p hydro.Point) (Location, bool) {
	scale := math.Max(m.bounds.maxX-m.bounds.minX, m.bounds.maxY-m.bounds.minY)
	tol := locateTol * math.Max(scale, 1)
	if !m.bounds.contains(p, tol) {
		return Location{}, false
	}
	for i, tri := range m.Triangles {
		if !m.triBoxes[i].contains(p, tol) {
			continue
		}
		a, b, c := m.Nodes[tri[0]], m.Nodes[tri[1]], m.Nodes[tri[2]]
		area := signedArea(a, b, c)
		w0 := signedArea(p, b, c) / area
		w1 := signedArea(a, p, c) / area
		w2 := 1 - w0 - w1
		if w0 >= -locateTol && w1 >= -locateTol && w2 >= -locateTol {
			return Location{Triangle: i, Nodes: tri, Weights: [3]float64{w0, w1, w2}}, true
		}
	}
	return Location{}, false
}

func (m *Mesh) Contains(p hydro.Point) bool {
	_, ok := m.Locate(p)
	return ok
}
