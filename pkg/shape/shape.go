// Package shape defines the value-shape lattice used to key speculative
// specialization. Shapes are immutable structural descriptors of runtime
// values: new observations never mutate a shape in place, they widen it into
// a new one. Unknown is the lattice top; every shape is subsumed by it.
package shape

import (
	"sort"
	"strconv"
	"strings"

	"github.com/DevCheckOG/lltsc-idea/pkg/runtime"
)

// ShapeKind discriminates the closed variant set of shapes.
type ShapeKind int

const (
	ShapeUnknown ShapeKind = iota
	ShapePrimitive
	ShapeArray
	ShapeRecord
	ShapeCallable
)

// Shape is a structural descriptor of a runtime value. Values of this type
// are immutable after construction; share them freely.
type Shape struct {
	kind      ShapeKind
	primitive runtime.Kind      // when kind == ShapePrimitive
	element   *Shape            // when kind == ShapeArray
	fields    map[string]*Shape // when kind == ShapeRecord
	exact     bool              // record literal was closed
	arity     int               // when kind == ShapeCallable
	key       string
}

// Unknown is the lattice top: compatible with everything, specializes nothing.
var Unknown = &Shape{kind: ShapeUnknown, key: "?"}

// Primitive returns the shape of a primitive kind.
func Primitive(k runtime.Kind) *Shape {
	return &Shape{kind: ShapePrimitive, primitive: k, key: k.String()}
}

// Array returns a fixed-element-shape array descriptor.
func Array(elem *Shape) *Shape {
	if elem == nil {
		elem = Unknown
	}
	return &Shape{kind: ShapeArray, element: elem, key: "[" + elem.key + "]"}
}

// Record returns a record descriptor over the given field shapes.
func Record(fields map[string]*Shape, exact bool) *Shape {
	copied := make(map[string]*Shape, len(fields))
	names := make([]string, 0, len(fields))
	for name, fs := range fields {
		if fs == nil {
			fs = Unknown
		}
		copied[name] = fs
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(copied[name].key)
	}
	b.WriteByte('}')
	if !exact {
		b.WriteString("+")
	}
	return &Shape{kind: ShapeRecord, fields: copied, exact: exact, key: b.String()}
}

// Callable returns a callable descriptor keyed by arity alone.
func Callable(arity int) *Shape {
	return &Shape{kind: ShapeCallable, arity: arity, key: "fn/" + strconv.Itoa(arity)}
}

// Kind returns the shape's variant.
func (s *Shape) Kind() ShapeKind { return s.kind }

// Key returns a canonical string for table keying. Equal keys imply equal
// shapes.
func (s *Shape) Key() string { return s.key }

func (s *Shape) String() string { return s.key }

// Equal reports structural equality.
func (s *Shape) Equal(other *Shape) bool {
	return s != nil && other != nil && s.key == other.key
}

// IsUnknown reports whether the shape is the lattice top.
func (s *Shape) IsUnknown() bool { return s == nil || s.kind == ShapeUnknown }

// Of computes the shape of a runtime value.
func Of(v runtime.Tagged) *Shape {
	switch val := v.(type) {
	case nil:
		return Unknown
	case runtime.NumberValue:
		return Primitive(runtime.KindNumber)
	case runtime.StringValue:
		return Primitive(runtime.KindString)
	case runtime.BoolValue:
		return Primitive(runtime.KindBool)
	case runtime.NilValue:
		return Primitive(runtime.KindNil)
	case *runtime.ArrayValue:
		elem := Unknown
		if len(val.Elements) > 0 {
			elem = Of(val.Elements[0])
			for _, el := range val.Elements[1:] {
				elem = elem.Widen(Of(el))
				if elem.IsUnknown() {
					break
				}
			}
		}
		return Array(elem)
	case *runtime.RecordValue:
		fields := make(map[string]*Shape, len(val.Fields))
		for name, fv := range val.Fields {
			fields[name] = Of(fv)
		}
		return Record(fields, val.Exact)
	case *runtime.CallableValue:
		return Callable(val.Arity)
	case *runtime.ErrorValue:
		return Record(map[string]*Shape{
			"type":    Primitive(runtime.KindString),
			"message": Primitive(runtime.KindString),
		}, false)
	default:
		return Unknown
	}
}

// Subsumes reports whether every value matching other also matches s: the
// subsumption rule behind inline-cache compatibility. Unknown subsumes
// everything. An open record subsumes any record carrying at least its
// fields with subsuming shapes; an exact record demands the exact field set.
func (s *Shape) Subsumes(other *Shape) bool {
	if s.IsUnknown() {
		return true
	}
	if other.IsUnknown() {
		return false
	}
	if s.kind != other.kind {
		return false
	}
	switch s.kind {
	case ShapePrimitive:
		return s.primitive == other.primitive
	case ShapeArray:
		return s.element.Subsumes(other.element)
	case ShapeCallable:
		return s.arity == other.arity
	case ShapeRecord:
		if s.exact && (!other.exact || len(other.fields) != len(s.fields)) {
			return false
		}
		for name, fs := range s.fields {
			ofs, present := other.fields[name]
			if !present || !fs.Subsumes(ofs) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compatible reports whether one of the two shapes subsumes the other.
func (s *Shape) Compatible(other *Shape) bool {
	return s.Subsumes(other) || other.Subsumes(s)
}

// Widen returns the least shape subsuming both s and other. Widening is how
// the profiler folds a diverging observation into an existing cache entry.
func (s *Shape) Widen(other *Shape) *Shape {
	if s.Equal(other) {
		return s
	}
	if s.IsUnknown() || other.IsUnknown() || s.kind != other.kind {
		return Unknown
	}
	switch s.kind {
	case ShapePrimitive:
		if s.primitive == other.primitive {
			return s
		}
		return Unknown
	case ShapeArray:
		return Array(s.element.Widen(other.element))
	case ShapeCallable:
		if s.arity == other.arity {
			return s
		}
		return Unknown
	case ShapeRecord:
		common := make(map[string]*Shape)
		for name, fs := range s.fields {
			if ofs, present := other.fields[name]; present {
				common[name] = fs.Widen(ofs)
			}
		}
		if len(common) == 0 {
			return Unknown
		}
		exact := s.exact && other.exact && len(common) == len(s.fields) && len(common) == len(other.fields)
		return Record(common, exact)
	default:
		return Unknown
	}
}
