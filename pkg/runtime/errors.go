package runtime

import "fmt"

// ShapeMismatchError reports that a boundary unboxing found a runtime value
// incompatible with the statically declared type. It is fatal to the call
// that attempted the crossing and is propagated to dynamic callers as a
// thrown error value, never coerced.
type ShapeMismatchError struct {
	Expected string
	Got      string
	Path     string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("runtime: shape mismatch at %s: expected %s, got %s", e.Path, e.Expected, e.Got)
}

// AsThrown converts the mismatch into the dynamic language's error value so
// propagation across the boundary keeps the original throw semantics.
func (e *ShapeMismatchError) AsThrown() *ErrorValue {
	return &ErrorValue{TypeName: "ShapeMismatch", Message: e.Error()}
}
