package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/san-kum/tidesim/internal/hydro"
)

// Load reads a Gmsh 2.x ASCII mesh from path.
func Load(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ReadGmsh(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

const (
	gmshLine     = 1
	gmshTriangle = 2
)

// ReadGmsh parses the $Nodes and $Elements sections of a Gmsh 2.x ASCII
// file. Line elements become boundary edges tagged with their physical id,
// triangles become cells; other element types are ignored.
func ReadGmsh(r io.Reader) (*Mesh, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	next := func() ([]string, bool) {
		for sc.Scan() {
			line++
			if fields := strings.Fields(sc.Text()); len(fields) > 0 {
				return fields, true
			}
		}
		return nil, false
	}

	var (
		nodes   []hydro.Point
		index   = map[int]int{}
		tris    [][3]int
		segs    = map[int][]Edge{}
		sawNode bool
	)

	for {
		fields, ok := next()
		if !ok {
			break
		}
		switch fields[0] {
		case "$MeshFormat":
			hdr, ok := next()
			if !ok {
				return nil, fmt.Errorf("gmsh: truncated $MeshFormat")
			}
			if !strings.HasPrefix(hdr[0], "2.") {
				return nil, fmt.Errorf("gmsh: unsupported format version %s", hdr[0])
			}
			if len(hdr) > 1 && hdr[1] != "0" {
				return nil, fmt.Errorf("gmsh: binary files are not supported")
			}
		case "$Nodes":
			n, err := readCount(next)
			if err != nil {
				return nil, fmt.Errorf("gmsh line %d: %w", line, err)
			}
			nodes = make([]hydro.Point, 0, n)
			for i := 0; i < n; i++ {
				f, ok := next()
				if !ok || len(f) < 3 {
					return nil, fmt.Errorf("gmsh line %d: bad node record", line)
				}
				id, err1 := strconv.Atoi(f[0])
				x, err2 := strconv.ParseFloat(f[1], 64)
				y, err3 := strconv.ParseFloat(f[2], 64)
				if err1 != nil || err2 != nil || err3 != nil {
					return nil, fmt.Errorf("gmsh line %d: bad node record %v", line, f)
				}
				index[id] = len(nodes)
				nodes = append(nodes, hydro.Point{X: x, Y: y})
			}
			sawNode = true
		case "$Elements":
			if !sawNode {
				return nil, fmt.Errorf("gmsh line %d: $Elements before $Nodes", line)
			}
			n, err := readCount(next)
			if err != nil {
				return nil, fmt.Errorf("gmsh line %d: %w", line, err)
			}
			for i := 0; i < n; i++ {
				f, ok := next()
				if !ok {
					return nil, fmt.Errorf("gmsh: truncated $Elements")
				}
				ints, err := atoiAll(f)
				if err != nil || len(ints) < 3 {
					return nil, fmt.Errorf("gmsh line %d: bad element record %v", line, f)
				}
				typ, ntags := ints[1], ints[2]
				if ntags < 0 {
					return nil, fmt.Errorf("gmsh line %d: bad element record %v", line, f)
				}
				if len(ints) < 3+ntags {
					return nil, fmt.Errorf("gmsh line %d: element tags truncated", line)
				}
				physical := 0
				if ntags > 0 {
					physical = ints[3]
				}
				conn := ints[3+ntags:]
				lookup := func(k int) (int, error) {
					idx, ok := index[conn[k]]
					if !ok {
						return 0, fmt.Errorf("gmsh line %d: unknown node %d", line, conn[k])
					}
					return idx, nil
				}
				switch typ {
				case gmshLine:
					if len(conn) < 2 {
						return nil, fmt.Errorf("gmsh line %d: line element needs 2 nodes", line)
					}
					a, err := lookup(0)
					if err != nil {
						return nil, err
					}
					b, err := lookup(1)
					if err != nil {
						return nil, err
					}
					segs[physical] = append(segs[physical], Edge{a, b})
				case gmshTriangle:
					if len(conn) < 3 {
						return nil, fmt.Errorf("gmsh line %d: triangle needs 3 nodes", line)
					}
					var tri [3]int
					for k := range tri {
						if tri[k], err = lookup(k); err != nil {
							return nil, err
						}
					}
					tris = append(tris, tri)
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return New(nodes, tris, segs)
}

func readCount(next func() ([]string, bool)) (int, error) {
	f, ok := next()
	if !ok {
		return 0, fmt.Errorf("missing count")
	}
	n, err := strconv.Atoi(f[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad count %q", f[0])
	}
	return n, nil
}

func atoiAll(fields []string) ([]int, error) {
	out := make([]int, len(fields))
	for i, s := range fields {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
