package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that need to pick a status or retry policy.
type Kind string

const (
	KindUnknown       Kind = ""
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindSourceFetch   Kind = "source_fetch"
	KindGeneration    Kind = "generation"
	KindRepository    Kind = "repository"
)

// ErrNotFound is wrapped by repository errors when an expected row is missing.
var ErrNotFound = errors.New("not found")

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind   Kind
	Op     string
	Person string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Person != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Person)
	}
	if e.Err != nil {
		if msg == "" {
			return e.Err.Error()
		}
		return msg + ": " + e.Err.Error()
	}
	if msg == "" {
		return string(e.Kind)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error. A nil err yields a bare Kind/Op error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// EP is E with the person name attached.
func EP(kind Kind, op, person string, err error) error {
	return &Error{Kind: kind, Op: op, Person: person, Err: err}
}

// KindOf returns the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return KindUnknown
		}
		if e.Kind != KindUnknown {
			return e.Kind
		}
		err = e.Err
	}
	return KindUnknown
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
