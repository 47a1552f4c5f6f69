package blocks

import (
	"errors"
	"fmt"

	"github.com/eaburns/ilgraph/il"
)

var (
	// ErrMalformed is wrapped by errors building a graph
	// from a body that is not well formed.
	ErrMalformed = errors.New("malformed method body")

	// ErrCorrupt is wrapped by errors from passes
	// that find a graph that violates its structural invariants.
	ErrCorrupt = errors.New("corrupt block graph")
)

// A BuildError is an error building the graph of a malformed body.
type BuildError struct {
	// Offset is the byte offset of the offending instruction
	// or handler boundary.
	Offset int
	Msg    string
}

func (err *BuildError) Error() string {
	return fmt.Sprintf("%s: %s", il.Label(err.Offset), err.Msg)
}

func (err *BuildError) Unwrap() error { return ErrMalformed }

func buildErr(offs int, f string, vs ...interface{}) *BuildError {
	return &BuildError{Offset: offs, Msg: fmt.Sprintf(f, vs...)}
}

// A MethodError is an error processing a method.
// Its message is a single diagnostic line
// identifying the method by token and name.
type MethodError struct {
	Token il.Token
	Name  string
	Err   error
}

func (err *MethodError) Error() string {
	return fmt.Sprintf("method %08X: %s: %v", uint32(err.Token), err.Name, err.Err)
}

func (err *MethodError) Unwrap() error { return err.Err }

func corrupt(f string, vs ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(f, vs...))
}
