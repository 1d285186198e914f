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
	op            string
	err           error
	code          codes.Code
	notFound      bool
	conflict      bool
	unavailable   bool
	alreadyExists bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the error represents a conflicting write.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// IsAlreadyExists reports whether a Create hit an existing document.
func (e *Error) IsAlreadyExists() bool { return e != nil && e.alreadyExists }

// Code returns the gRPC status code reported by Firestore.
func (e *Error) Code() codes.Code {
	if e == nil {
		return codes.OK
	}
	return e.code
}

func newError(op string, err error) *Error {
	code := status.Code(err)
	e := &Error{op: op, err: err, code: code}
	switch code {
	case codes.NotFound:
		e.notFound = true
	case codes.AlreadyExists:
		e.conflict = true
		e.alreadyExists = true
	case codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		e.conflict = true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		e.unavailable = true
	}
	return e
}

// WrapError annotates Firestore errors with repository semantics. Context cancellations are
// passed through unchanged.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return newError(op, err)
}

// IsAlreadyExists reports whether err (possibly wrapped) is a Create collision.
func IsAlreadyExists(err error) bool {
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return repoErr.IsAlreadyExists()
	}
	return status.Code(err) == codes.AlreadyExists
}

// IsNotFoundStatus reports whether a raw Firestore error carries codes.NotFound.
func IsNotFoundStatus(err error) bool {
	return status.Code(err) == codes.NotFound
}
