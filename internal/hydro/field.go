package hydro

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Kind is the number of components per node.
type Kind int

const (
	Scalar Kind = 1
	Vector Kind = 2
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Vector:
		return "vector"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "scalar":
		*k = Scalar
	case "vector":
		*k = Vector
	default:
		return fmt.Errorf("unknown field kind %q", string(b))
	}
	return nil
}

// Field is a mesh-bound field stored as a flat slice, Kind values per node.
type Field struct {
	Name string
	Kind Kind
	Data []float64
}

func NewScalar(name string, nodes int) *Field {
	return &Field{Name: name, Kind: Scalar, Data: make([]float64, nodes)}
}

func NewVector(name string, nodes int) *Field {
	return &Field{Name: name, Kind: Vector, Data: make([]float64, 2*nodes)}
}

func NewField(spec FieldSpec, nodes int) *Field {
	return &Field{Name: spec.Name, Kind: spec.Kind, Data: make([]float64, int(spec.Kind)*nodes)}
}

func (f *Field) Len() int { return len(f.Data) / int(f.Kind) }

func (f *Field) Spec() FieldSpec { return FieldSpec{Name: f.Name, Kind: f.Kind} }

func (f *Field) Scalar(i int) float64 { return f.Data[i*int(f.Kind)] }

func (f *Field) Vector(i int) Vec2 {
	j := i * int(f.Kind)
	if f.Kind == Scalar {
		return Vec2{X: f.Data[j]}
	}
	return Vec2{X: f.Data[j], Y: f.Data[j+1]}
}

func (f *Field) SetScalar(i int, v float64) { f.Data[i*int(f.Kind)] = v }

func (f *Field) SetVector(i int, v Vec2) {
	j := i * 2
	f.Data[j] = v.X
	f.Data[j+1] = v.Y
}

// Value returns the components at node i. The slice aliases the field.
func (f *Field) Value(i int) []float64 {
	k := int(f.Kind)
	return f.Data[i*k : (i+1)*k]
}

func (f *Field) Fill(v float64) {
	for i := range f.Data {
		f.Data[i] = v
	}
}

func (f *Field) Clone() *Field {
	c := &Field{Name: f.Name, Kind: f.Kind, Data: make([]float64, len(f.Data))}
	copy(c.Data, f.Data)
	return c
}

// CopyFrom overwrites f's values with src's, keeping f's identity so that
// holders of the pointer observe the new values.
func (f *Field) CopyFrom(src *Field) error {
	if src.Kind != f.Kind || len(src.Data) != len(f.Data) {
		return fmt.Errorf("%w: copy %s(%s,%d) into %s(%s,%d)", ErrDimensionMismatch,
			src.Name, src.Kind, src.Len(), f.Name, f.Kind, f.Len())
	}
	copy(f.Data, src.Data)
	return nil
}

func (f *Field) IsValid() bool {
	for _, v := range f.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type FieldSpec struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`
}

type FieldSet map[string]*Field

func (fs FieldSet) Add(f *Field) { fs[f.Name] = f }

func (fs FieldSet) Names() []string {
	names := make([]string, 0, len(fs))
	for name := range fs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (fs FieldSet) Clone() FieldSet {
	c := make(FieldSet, len(fs))
	for name, f := range fs {
		c[name] = f.Clone()
	}
	return c
}

// Subset returns the named fields; it fails if any is missing.
func (fs FieldSet) Subset(names ...string) (FieldSet, error) {
	out := make(FieldSet, len(names))
	for _, name := range names {
		f, ok := fs[name]
		if !ok {
			return nil, fmt.Errorf("field %q not present", name)
		}
		out[name] = f
	}
	return out, nil
}

// Layout describes the stateful field set of a run on a mesh with Nodes nodes.
type Layout struct {
	Fields []FieldSpec
	Nodes  int
}

// StateLayout returns the prognostic fields of a run: elevation and velocity,
// plus sediment concentration when sediment transport is enabled.
func StateLayout(nodes int, sediment bool) Layout {
	l := Layout{
		Nodes: nodes,
		Fields: []FieldSpec{
			{Name: FieldElevation, Kind: Scalar},
			{Name: FieldVelocity, Kind: Vector},
		},
	}
	if sediment {
		l.Fields = append(l.Fields, FieldSpec{Name: FieldSediment, Kind: Scalar})
	}
	return l
}

func (l Layout) Names() []string {
	names := make([]string, len(l.Fields))
	for i, s := range l.Fields {
		names[i] = s.Name
	}
	return names
}

func (l Layout) sorted() []FieldSpec {
	specs := make([]FieldSpec, len(l.Fields))
	copy(specs, l.Fields)
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Fingerprint identifies the field set and mesh cardinality independent of
// field order.
func (l Layout) Fingerprint() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(l.Nodes))
	for _, s := range l.sorted() {
		b.WriteByte('|')
		b.WriteString(s.Name)
		b.WriteByte(':')
		b.WriteString(s.Kind.String())
	}
	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

// NewFieldSet allocates zeroed fields for every spec in the layout.
func (l Layout) NewFieldSet() FieldSet {
	fs := make(FieldSet, len(l.Fields))
	for _, s := range l.Fields {
		fs.Add(NewField(s, l.Nodes))
	}
	return fs
}

// Check verifies fs holds exactly the layout's fields with matching kinds and
// node counts.
func (l Layout) Check(fs FieldSet) error {
	if len(fs) != len(l.Fields) {
		return fmt.Errorf("%w: expected fields %v, got %v", ErrDimensionMismatch, l.Names(), fs.Names())
	}
	for _, s := range l.Fields {
		f, ok := fs[s.Name]
		if !ok {
			return fmt.Errorf("%w: missing field %q", ErrDimensionMismatch, s.Name)
		}
		if f.Kind != s.Kind {
			return fmt.Errorf("%w: field %q is %s, expected %s", ErrDimensionMismatch, s.Name, f.Kind, s.Kind)
		}
		if len(f.Data) != int(s.Kind)*l.Nodes {
			return fmt.Errorf("%w: field %q has %d values, expected %d", ErrDimensionMismatch,
				s.Name, len(f.Data), int(s.Kind)*l.Nodes)
		}
	}
	return nil
}
