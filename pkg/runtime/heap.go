package runtime

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
)

// Allocator is the managed-heap service the core consumes. The heap owns all
// dynamic object graphs, including cyclic ones; the core only ever holds
// tagged handles produced here. Box converts a statically-typed native value
// into its tagged representation; Unbox converts a tagged value back,
// failing with *ShapeMismatchError when the runtime value is incompatible
// with the declared static type.
type Allocator interface {
	Box(native any, declared *ir.StaticType) (Tagged, error)
	Unbox(val Tagged, declared *ir.StaticType) (any, error)
}

// Heap is the reference in-process allocator. It hands out monotonically
// increasing handles for aggregate values so tests can assert identity.
type Heap struct {
	nextHandle atomic.Int64
}

// NewHeap constructs an empty heap.
func NewHeap() *Heap { return &Heap{} }

func (h *Heap) handle() int64 { return h.nextHandle.Add(1) }

// Box converts a native value to its tagged representation. The declared
// type guides aggregate conversion; a nil or unknown declared type boxes by
// the native value's own structure.
func (h *Heap) Box(native any, declared *ir.StaticType) (Tagged, error) {
	switch v := native.(type) {
	case nil:
		return Nil, nil
	case Tagged:
		return v, nil
	case float64:
		return NumberValue{Val: v}, nil
	case int:
		return NumberValue{Val: float64(v)}, nil
	case int64:
		return NumberValue{Val: float64(v)}, nil
	case string:
		return StringValue{Val: v}, nil
	case bool:
		return BoolValue{Val: v}, nil
	case []any:
		elems := make([]Tagged, 0, len(v))
		var elemType *ir.StaticType
		if declared != nil && declared.Kind == ir.TypeArray {
			elemType = declared.Element
		}
		for _, el := range v {
			boxed, err := h.Box(el, elemType)
			if err != nil {
				return nil, err
			}
			elems = append(elems, boxed)
		}
		return &ArrayValue{Elements: elems, Handle: h.handle()}, nil
	case map[string]any:
		fields := make(map[string]Tagged, len(v))
		for name, el := range v {
			var fieldType *ir.StaticType
			if declared != nil && declared.Kind == ir.TypeRecord {
				fieldType = declared.Fields[name]
			}
			boxed, err := h.Box(el, fieldType)
			if err != nil {
				return nil, err
			}
			fields[name] = boxed
		}
		exact := declared != nil && declared.Kind == ir.TypeRecord
		return &RecordValue{Fields: fields, Exact: exact, Handle: h.handle()}, nil
	case func(args []Tagged) (Tagged, error):
		return &CallableValue{Impl: v}, nil
	default:
		return &HostHandleValue{HandleType: fmt.Sprintf("%T", native), Value: native}, nil
	}
}

// Unbox converts a tagged value into the native representation demanded by
// the declared static type. Incompatibility is a hard *ShapeMismatchError,
// never a silent coercion.
func (h *Heap) Unbox(val Tagged, declared *ir.StaticType) (any, error) {
	return h.unboxAt(val, declared, "value")
}

func (h *Heap) unboxAt(val Tagged, declared *ir.StaticType, path string) (any, error) {
	if val == nil {
		return nil, &ShapeMismatchError{Expected: declared.String(), Got: "missing", Path: path}
	}
	if declared == nil || declared.Kind == ir.TypeUnknown {
		return val, nil
	}
	switch declared.Kind {
	case ir.TypeNumber:
		if v, ok := val.(NumberValue); ok {
			return v.Val, nil
		}
	case ir.TypeString:
		if v, ok := val.(StringValue); ok {
			return v.Val, nil
		}
	case ir.TypeBool:
		if v, ok := val.(BoolValue); ok {
			return v.Val, nil
		}
	case ir.TypeNil:
		if _, ok := val.(NilValue); ok {
			return nil, nil
		}
	case ir.TypeArray:
		if v, ok := val.(*ArrayValue); ok {
			out := make([]any, 0, len(v.Elements))
			for i, el := range v.Elements {
				native, err := h.unboxAt(el, declared.Element, fmt.Sprintf("%s[%d]", path, i))
				if err != nil {
					return nil, err
				}
				out = append(out, native)
			}
			return out, nil
		}
	case ir.TypeRecord:
		if v, ok := val.(*RecordValue); ok {
			out := make(map[string]any, len(declared.Fields))
			for _, name := range sortedTypeFieldNames(declared.Fields) {
				field, present := v.Fields[name]
				if !present {
					return nil, &ShapeMismatchError{
						Expected: declared.Fields[name].String(),
						Got:      "absent field",
						Path:     path + "." + name,
					}
				}
				native, err := h.unboxAt(field, declared.Fields[name], path+"."+name)
				if err != nil {
					return nil, err
				}
				out[name] = native
			}
			return out, nil
		}
	case ir.TypeCallable:
		if v, ok := val.(*CallableValue); ok {
			return v, nil
		}
	}
	return nil, &ShapeMismatchError{Expected: declared.String(), Got: val.Kind().String(), Path: path}
}

func sortedTypeFieldNames(fields map[string]*ir.StaticType) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	// Deterministic unbox order keeps mismatch reporting reproducible.
	sort.Strings(names)
	return names
}
