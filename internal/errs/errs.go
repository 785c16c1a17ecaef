// Package errs defines the error kinds shared by llmfunc packages.
//
// Every failure surfaced by a component wraps exactly one kind sentinel so
// callers can branch with errors.Is while keeping the underlying cause.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrParse reports a malformed or unreadable function catalog.
	ErrParse = errors.New("parse_error")
	// ErrRender reports a catalog entry the prompt template cannot render.
	ErrRender = errors.New("render_error")
	// ErrEncoding reports tokenizer failures, including a missing end token.
	ErrEncoding = errors.New("encoding_error")
	// ErrTensor reports failures inside the model forward pass or weight loading.
	ErrTensor = errors.New("tensor_error")
	// ErrManifest reports a missing or malformed shard index.
	ErrManifest = errors.New("manifest_error")
	// ErrIO reports filesystem or network failures.
	ErrIO = errors.New("io_error")
	// ErrInvalidArgument reports bad caller input such as out-of-range params.
	ErrInvalidArgument = errors.New("invalid_argument")
)

// Error carries a kind, the failing operation and the cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Kind.Error()
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// New creates an error of the given kind from a formatted message.
func New(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the first kind sentinel err matches, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrParse, ErrRender, ErrEncoding, ErrTensor, ErrManifest, ErrInvalidArgument, ErrIO} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Recover converts a panic into an error of the given kind. Use as
//
//	defer errs.Recover(errs.ErrTensor, "forward", &err)
func Recover(kind error, op string, errp *error) {
	if r := recover(); r != nil {
		*errp = &Error{Kind: kind, Op: op, Err: fmt.Errorf("panic: %v", r)}
	}
}
