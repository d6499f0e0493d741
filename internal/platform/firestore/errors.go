package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error implements repositories.RepositoryError for Firestore backed repositories.
type Error struct {
	op    string
	err   error
	class errorClass
}

type errorClass int

const (
	classUnknown errorClass = iota
	classNotFound
	classConflict
	classUnavailable
)

var codeClasses = map[codes.Code]errorClass{
	codes.NotFound:           classNotFound,
	codes.AlreadyExists:      classConflict,
	codes.FailedPrecondition: classConflict,
	codes.Aborted:            classConflict,
	codes.OutOfRange:         classConflict,
	codes.Unavailable:        classUnavailable,
	codes.ResourceExhausted:  classUnavailable,
	codes.Internal:           classUnavailable,
	codes.DeadlineExceeded:   classUnavailable,
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the document was missing.
func (e *Error) IsNotFound() bool { return e != nil && e.class == classNotFound }

// IsConflict reports whether a write lost against another writer or already existed.
func (e *Error) IsConflict() bool { return e != nil && e.class == classConflict }

// IsUnavailable reports whether Firestore was temporarily unreachable.
func (e *Error) IsUnavailable() bool { return e != nil && e.class == classUnavailable }

// NotFound builds a not-found error for lookups that resolve to no document without a gRPC status.
func NotFound(op string, err error) error {
	return &Error{op: op, err: err, class: classNotFound}
}

// WrapError annotates Firestore errors with repository semantics. Context
// cancellation passes through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.op == "" {
			existing.op = op
		}
		return existing
	}
	return &Error{op: op, err: err, class: codeClasses[code]}
}
