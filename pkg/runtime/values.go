package runtime

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the runtime category of a tagged value.
type Kind int

const (
	KindNumber Kind = iota
	KindString
	KindBool
	KindNil
	KindArray
	KindRecord
	KindCallable
	KindHostHandle
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNil:
		return "nil"
	case KindArray:
		return "array"
	case KindRecord:
		return "record"
	case KindCallable:
		return "callable"
	case KindHostHandle:
		return "host_handle"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// Tagged is the shared behaviour for all dynamic values. Every value carries
// its kind tag; the payload representation is per-kind. Tagged values are the
// only currency that crosses the static/dynamic boundary.
type Tagged interface {
	Kind() Kind
}

//-----------------------------------------------------------------------------
// Scalars
//-----------------------------------------------------------------------------

type NumberValue struct {
	Val float64
}

func (v NumberValue) Kind() Kind { return KindNumber }

type StringValue struct {
	Val string
}

func (v StringValue) Kind() Kind { return KindString }

type BoolValue struct {
	Val bool
}

func (v BoolValue) Kind() Kind { return KindBool }

type NilValue struct{}

func (NilValue) Kind() Kind { return KindNil }

// Nil is the shared nil singleton.
var Nil = NilValue{}

//-----------------------------------------------------------------------------
// Collections and records
//-----------------------------------------------------------------------------

type ArrayValue struct {
	Elements []Tagged
	Handle   int64
}

func (v *ArrayValue) Kind() Kind { return KindArray }

// RecordValue is a dynamic object. Exact records were built from a closed
// literal and admit no further fields; open records may grow.
type RecordValue struct {
	Fields map[string]Tagged
	Exact  bool
	Handle int64
}

func (v *RecordValue) Kind() Kind { return KindRecord }

// FieldNames returns the record's field names in sorted order.
func (v *RecordValue) FieldNames() []string {
	names := make([]string, 0, len(v.Fields))
	for name := range v.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

//-----------------------------------------------------------------------------
// Callables and host handles
//-----------------------------------------------------------------------------

// CallableFunc is the native hook behind a dynamic callable.
type CallableFunc func(args []Tagged) (Tagged, error)

type CallableValue struct {
	Name  string
	Arity int
	Impl  CallableFunc
}

func (v *CallableValue) Kind() Kind { return KindCallable }

// HostHandleValue carries opaque host values across the boundary without
// exposing their representation to dynamic code.
type HostHandleValue struct {
	HandleType string
	Value      any
}

func (v *HostHandleValue) Kind() Kind { return KindHostHandle }

//-----------------------------------------------------------------------------
// Thrown values
//-----------------------------------------------------------------------------

// ErrorValue is the uniform representation of a thrown value crossing the
// boundary in either direction. Payload keeps the original thrown value so
// propagation never loses information.
type ErrorValue struct {
	TypeName string
	Message  string
	Payload  Tagged
}

func (v *ErrorValue) Kind() Kind { return KindError }

func (v *ErrorValue) Error() string {
	if v.Message != "" {
		return v.TypeName + ": " + v.Message
	}
	return v.TypeName
}

// Throw wraps a tagged value as a thrown error value. Already-thrown values
// pass through unchanged so re-throws across the boundary keep identity.
func Throw(val Tagged) *ErrorValue {
	if ev, ok := val.(*ErrorValue); ok {
		return ev
	}
	return &ErrorValue{TypeName: "DynamicError", Message: Describe(val), Payload: val}
}

// Describe renders a short human-readable description of a value.
func Describe(v Tagged) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case NumberValue:
		return fmt.Sprintf("%g", val.Val)
	case StringValue:
		return val.Val
	case BoolValue:
		return fmt.Sprintf("%t", val.Val)
	case NilValue:
		return "nil"
	case *ArrayValue:
		parts := make([]string, 0, len(val.Elements))
		for _, el := range val.Elements {
			parts = append(parts, Describe(el))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *RecordValue:
		parts := make([]string, 0, len(val.Fields))
		for _, name := range val.FieldNames() {
			parts = append(parts, name+": "+Describe(val.Fields[name]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *CallableValue:
		if val.Name != "" {
			return "fn " + val.Name
		}
		return "fn"
	case *HostHandleValue:
		return "<host " + val.HandleType + ">"
	case *ErrorValue:
		return val.Error()
	default:
		return fmt.Sprintf("<%s>", v.Kind())
	}
}
