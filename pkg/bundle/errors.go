package bundle

import (
	"errors"
	"fmt"
)

// Sentinel errors. The typed errors below match them with errors.Is.
var (
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrSerialization = errors.New("serialization error")
	ErrInvalidPath   = errors.New("invalid bundle path")
)

// TypeMismatchError is returned when a property is read as a different kind
// than the one it holds.
type TypeMismatchError struct {
	Key  string
	Want Kind
	Got  Kind
}

func (e *TypeMismatchError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("type mismatch: want %s, got %s", e.Want, e.Got)
	}
	return fmt.Sprintf("type mismatch for %q: want %s, got %s", e.Key, e.Want, e.Got)
}

func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// SerializationError reports a malformed interchange document.
type SerializationError struct {
	Msg string
	Err error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("serialization error: %s: %v", e.Msg, e.Err)
	}
	return "serialization error: " + e.Msg
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

func serializationErr(err error, format string, args ...any) error {
	return &SerializationError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// PathError reports a bundle path that cannot be parsed or resolved.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid bundle path %q: %s", e.Path, e.Reason)
}

func (e *PathError) Is(target error) bool { return target == ErrInvalidPath }
