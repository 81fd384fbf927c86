// Package analysis holds the error kinds shared by the detection packages and the engine.
package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData: too few candles/points for the requested operation.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidInput: malformed request rejected before any computation.
	ErrInvalidInput = errors.New("invalid input")
)

// Error carries the operation that failed together with its kind.
type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return e.Op + ": " + e.Msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Kind }

// Insufficient builds the "insufficient points, found N need M" error.
func Insufficient(op string, found, need int) error {
	return &Error{
		Kind: ErrInsufficientData,
		Op:   op,
		Msg:  fmt.Sprintf("insufficient points, found %d need %d", found, need),
	}
}

// Invalid builds an ErrInvalidInput error with a formatted message.
func Invalid(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidInput, Op: op, Msg: fmt.Sprintf(format, args...)}
}
