package script

import (
	"context"
)

// Value represents the result of an expression evaluation.
type Value interface {

	// Value returns the Go value for this value as an any
	Value() any

	// String returns the string representation of this value
	String() string

	// IsTruthy returns true if this value is truthy
	IsTruthy() bool

	// IsUndefined returns true if the expression produced no result
	IsUndefined() bool
}

// Script represents a compiled expression that can be evaluated.
type Script interface {
	Evaluate(ctx context.Context, globals map[string]any) (Value, error)
}

// Compiler is an interface used to compile expression source into a Script.
type Compiler interface {
	Compile(ctx context.Context, code string) (Script, error)
}
