package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// UpdateFunc receives the current value and returns the replacement. Returning a nil slice
// deletes the key.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is a byte-oriented key/value store with optimistic read-modify-write.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
	Ping(ctx context.Context) error
}

// Error annotates store failures with repository semantics.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("kvstore %s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

// IsNotFound reports whether the key was missing.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether an optimistic update kept losing races.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the backend could not be reached.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

func notFoundError(op string) error {
	return &Error{op: op, err: ErrNotFound, notFound: true}
}

func conflictError(op string, err error) error {
	return &Error{op: op, err: err, conflict: true}
}

func unavailableError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{op: op, err: err, unavailable: true}
}
