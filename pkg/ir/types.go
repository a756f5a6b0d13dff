package ir

import (
	"fmt"
	"strings"
)

// TypeKind identifies the resolution state and category of a static type.
type TypeKind int

const (
	TypeUnknown TypeKind = iota
	TypeNumber
	TypeString
	TypeBool
	TypeNil
	TypeArray
	TypeRecord
	TypeCallable
)

func (k TypeKind) String() string {
	switch k {
	case TypeUnknown:
		return "unknown"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeNil:
		return "nil"
	case TypeArray:
		return "array"
	case TypeRecord:
		return "record"
	case TypeCallable:
		return "callable"
	default:
		return fmt.Sprintf("type_kind_%d", int(k))
	}
}

// StaticType is a declared type in the statically-typed source language.
// A type whose Kind is TypeUnknown, or that contains an unknown component,
// is unresolved and forces the owning unit across the dynamic boundary.
type StaticType struct {
	Kind    TypeKind
	Element *StaticType            // array element type
	Fields  map[string]*StaticType // record fields
	Params  []*StaticType          // callable parameters
	Result  *StaticType            // callable result
}

// Unknown is the shared unresolved type.
var Unknown = &StaticType{Kind: TypeUnknown}

// Resolved reports whether the type and all component types are fully known.
func (t *StaticType) Resolved() bool {
	if t == nil || t.Kind == TypeUnknown {
		return false
	}
	switch t.Kind {
	case TypeArray:
		return t.Element.Resolved()
	case TypeRecord:
		for _, f := range t.Fields {
			if !f.Resolved() {
				return false
			}
		}
		return true
	case TypeCallable:
		for _, p := range t.Params {
			if !p.Resolved() {
				return false
			}
		}
		return t.Result == nil || t.Result.Resolved()
	default:
		return true
	}
}

func (t *StaticType) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TypeArray:
		return "[" + t.Element.String() + "]"
	case TypeRecord:
		names := sortedFieldNames(t.Fields)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+":"+t.Fields[name].String())
		}
		return "{" + strings.Join(parts, ",") + "}"
	case TypeCallable:
		parts := make([]string, 0, len(t.Params))
		for _, p := range t.Params {
			parts = append(parts, p.String())
		}
		out := "fn(" + strings.Join(parts, ",") + ")"
		if t.Result != nil {
			out += "->" + t.Result.String()
		}
		return out
	default:
		return t.Kind.String()
	}
}

// Signature is a unit's declared parameter and result types.
type Signature struct {
	Params []*StaticType
	Result *StaticType
}

// Resolved reports whether every slot of the signature is fully resolved.
func (s Signature) Resolved() bool {
	for _, p := range s.Params {
		if !p.Resolved() {
			return false
		}
	}
	return s.Result == nil || s.Result.Resolved()
}
