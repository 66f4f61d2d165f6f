// Package shape implements the shape registry: named record layouts
// (Shape) with typed, contiguously-ranged fields, and the serialized
// flat slot-kind vector the VM uses for structural field access.
package shape

import (
	"fmt"
	"strings"

	"github.com/shapevm/shapevm/pkg/symtab"
)

// Kind identifies the scalar (or nested-record) type a field, or a slot
// of a serialized shape, holds. NONE is the sentinel meaning "no such
// field".
type Kind int

const (
	NONE Kind = iota
	BOOL
	SYMBOL
	INT
	UINT
	REAL
	STRUCT
)

var kindNames = [...]string{"none", "bool", "symbol", "int", "uint", "real", "struct"}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return "?"
	}
	return kindNames[k]
}

// TypeInfo describes one field of a Shape: its kind, the shape it
// nests (only meaningful when Kind == STRUCT), and the flat slot range
// [IxFrom, IxTo) it occupies.
type TypeInfo struct {
	Kind        Kind
	NestedShape symtab.Sym
	IxFrom      int
	IxTo        int
}

// field pairs a field's interned name with its TypeInfo, preserving
// insertion order.
type field struct {
	name symtab.Sym
	info TypeInfo
}

// Shape is an immutable-once-registered record layout.
type Shape struct {
	fields     []field
	byName     map[symtab.Sym]int // name -> index into fields
	nFields    int
	serialized []Kind // flat slot-kind vector; empty until Registry.Add serializes it
}

// NewShape returns an empty, still-mutable Shape. Callers append fields
// with AddField/AddStructField before handing it to Registry.Add — once
// added, a Registry treats a Shape as immutable.
func NewShape() *Shape {
	return &Shape{byName: make(map[symtab.Sym]int)}
}

// AddField appends a scalar field. kind must not be STRUCT or NONE.
func (s *Shape) AddField(name symtab.Sym, kind Kind) error {
	if kind == STRUCT || kind == NONE {
		return fmt.Errorf("shape: AddField requires a scalar kind, got %s", kind)
	}
	if _, dup := s.byName[name]; dup {
		return fmt.Errorf("shape: duplicate field %q", symtab.Name(name))
	}
	ixFrom := s.nFields
	ixTo := ixFrom + 1
	s.byName[name] = len(s.fields)
	s.fields = append(s.fields, field{name: name, info: TypeInfo{Kind: kind, IxFrom: ixFrom, IxTo: ixTo}})
	s.nFields = ixTo
	return nil
}

// AddStructField appends a nested-record field occupying size slots;
// the caller supplies size, which should be size(nested). Registry.Add
// later rejects the shape if nested is unregistered or its size differs.
func (s *Shape) AddStructField(name symtab.Sym, nested symtab.Sym, size int) error {
	if _, dup := s.byName[name]; dup {
		return fmt.Errorf("shape: duplicate field %q", symtab.Name(name))
	}
	ixFrom := s.nFields
	ixTo := ixFrom + size
	s.byName[name] = len(s.fields)
	s.fields = append(s.fields, field{name: name, info: TypeInfo{Kind: STRUCT, NestedShape: nested, IxFrom: ixFrom, IxTo: ixTo}})
	s.nFields = ixTo
	return nil
}

// Size returns the shape's total slot count.
func (s *Shape) Size() int { return s.nFields }

// IndexOf returns the [ixFrom, ixTo) slot range of fieldSym, or the
// inverted pair (1, 0) if fieldSym is not a field of s.
func (s *Shape) IndexOf(fieldSym symtab.Sym) (int, int) {
	if i, ok := s.byName[fieldSym]; ok {
		return s.fields[i].info.IxFrom, s.fields[i].info.IxTo
	}
	return 1, 0
}

// TypeOf returns the TypeInfo of fieldSym, or a zero-value TypeInfo with
// Kind == NONE if fieldSym is not a field of s.
func (s *Shape) TypeOf(fieldSym symtab.Sym) TypeInfo {
	if i, ok := s.byName[fieldSym]; ok {
		return s.fields[i].info
	}
	return TypeInfo{Kind: NONE}
}

// Serialized returns the flat slot-kind vector, valid only after the
// Shape has been added to a Registry.
func (s *Shape) Serialized() []Kind { return s.serialized }

// FieldNames returns field names in insertion order.
func (s *Shape) FieldNames() []symtab.Sym {
	names := make([]symtab.Sym, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.name
	}
	return names
}

// Registry maps shape-Sym to Shape. Shapes are immutable once added.
type Registry struct {
	shapes map[symtab.Sym]*Shape
}

// NewRegistry returns a Registry with the empty symbol pre-registered as
// the canonical zero-field "Void" shape (size 0), matching the empty
// symbol's role as the toplevel label's from/to shape and as the target
// of a zero-argument/zero-result function.
func NewRegistry() *Registry {
	r := &Registry{shapes: make(map[symtab.Sym]*Shape)}
	_ = r.AddPrimitive(symtab.Empty, NONE)
	return r
}

// Add registers shape under shapeSym, serializing its flat slot-kind
// vector. It fails if shapeSym is already registered or if a nested
// field references an unregistered shape.
func (r *Registry) Add(shapeSym symtab.Sym, s *Shape) error {
	if _, dup := r.shapes[shapeSym]; dup {
		return fmt.Errorf("shape: shape %q already defined", symtab.Name(shapeSym))
	}
	serialized := make([]Kind, s.nFields)
	for _, f := range s.fields {
		if f.info.Kind != STRUCT {
			serialized[f.info.IxFrom] = f.info.Kind
			continue
		}
		nested, ok := r.shapes[f.info.NestedShape]
		if !ok {
			return fmt.Errorf("shape: field %q of %q references unregistered shape %q",
				symtab.Name(f.name), symtab.Name(shapeSym), symtab.Name(f.info.NestedShape))
		}
		if nested.Size() != f.info.IxTo-f.info.IxFrom {
			return fmt.Errorf("shape: field %q of %q has slot width %d but nested shape %q has size %d",
				symtab.Name(f.name), symtab.Name(shapeSym), f.info.IxTo-f.info.IxFrom, symtab.Name(f.info.NestedShape), nested.Size())
		}
		copy(serialized[f.info.IxFrom:f.info.IxTo], nested.serialized)
	}
	s.serialized = serialized
	r.shapes[shapeSym] = s
	return nil
}

// AddPrimitive registers a scalar built-in shape of a single unnamed
// slot of the given kind (size 1), or — when kind is NONE — the empty
// "Void" shape of size 0. This is how the assembler bootstraps the
// Int/UInt/Real/Bool/Sym/Void primitive shapes that PUSH's type tags and
// function signatures refer to; primitives have no named fields, only a
// flat kind vector.
func (r *Registry) AddPrimitive(shapeSym symtab.Sym, kind Kind) error {
	if _, dup := r.shapes[shapeSym]; dup {
		return fmt.Errorf("shape: shape %q already defined", symtab.Name(shapeSym))
	}
	s := NewShape()
	if kind == NONE {
		s.serialized = []Kind{}
		r.shapes[shapeSym] = s
		return nil
	}
	s.nFields = 1
	s.serialized = []Kind{kind}
	r.shapes[shapeSym] = s
	return nil
}

// Get returns the Shape registered under shapeSym.
func (r *Registry) Get(shapeSym symtab.Sym) (*Shape, error) {
	s, ok := r.shapes[shapeSym]
	if !ok {
		return nil, fmt.Errorf("shape: unknown shape %q", symtab.Name(shapeSym))
	}
	return s, nil
}

// Has reports whether shapeSym is registered.
func (r *Registry) Has(shapeSym symtab.Sym) bool {
	_, ok := r.shapes[shapeSym]
	return ok
}

// Names returns every registered shape's Sym, in no particular order.
func (r *Registry) Names() []symtab.Sym {
	names := make([]symtab.Sym, 0, len(r.shapes))
	for s := range r.shapes {
		names = append(names, s)
	}
	return names
}

// Size returns size(shapeSym), failing if it is unregistered.
func (r *Registry) Size(shapeSym symtab.Sym) (int, error) {
	s, err := r.Get(shapeSym)
	if err != nil {
		return 0, err
	}
	return s.Size(), nil
}

// IndexOf resolves a field's slot range within shapeSym.
func (r *Registry) IndexOf(shapeSym, fieldSym symtab.Sym) (int, int, error) {
	s, err := r.Get(shapeSym)
	if err != nil {
		return 0, 0, err
	}
	from, to := s.IndexOf(fieldSym)
	if from > to {
		return 0, 0, fmt.Errorf("shape: %q has no field %q", symtab.Name(shapeSym), symtab.Name(fieldSym))
	}
	return from, to, nil
}

// TypeOf resolves a field's TypeInfo within shapeSym.
func (r *Registry) TypeOf(shapeSym, fieldSym symtab.Sym) (TypeInfo, error) {
	s, err := r.Get(shapeSym)
	if err != nil {
		return TypeInfo{}, err
	}
	ti := s.TypeOf(fieldSym)
	if ti.Kind == NONE {
		return TypeInfo{}, fmt.Errorf("shape: %q has no field %q", symtab.Name(shapeSym), symtab.Name(fieldSym))
	}
	return ti, nil
}

// TupleName synthesizes the canonical name of a tuple shape from its
// component shape names: "[ T1 T2 ... Tn ]", with exactly one space
// between tokens.
func TupleName(componentNames []string) string {
	var b strings.Builder
	b.WriteString("[")
	for _, n := range componentNames {
		b.WriteString(" ")
		b.WriteString(n)
	}
	b.WriteString(" ]")
	return b.String()
}
