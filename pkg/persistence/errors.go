package persistence

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/orneryd/bundledb/pkg/entity"
)

// Sentinel errors. Every typed error in this package matches exactly one of
// them with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrIDCollision  = errors.New("id collision")
	ErrItemNotFound = errors.New("item not found")
	ErrIntegrity    = errors.New("integrity error")
)

// FieldError describes one invalid property. Path addresses the offending
// bundle from the root in label[index] steps and is empty for the root.
type FieldError struct {
	Path    string
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s/%s: %s", e.Path, e.Field, e.Message)
}

// ValidationError collects the field errors found in one bundle tree.
type ValidationError struct {
	Type entity.Type
	Err  error
}

// Errors returns the individual field errors in the order they were found.
func (e *ValidationError) Errors() []*FieldError {
	var out []*FieldError
	for _, err := range multierr.Errors(e.Err) {
		var fe *FieldError
		if errors.As(err, &fe) {
			out = append(out, fe)
		}
	}
	return out
}

func (e *ValidationError) Error() string {
	errs := multierr.Errors(e.Err)
	var b strings.Builder
	fmt.Fprintf(&b, "validation failed for %s", e.Type)
	if len(errs) == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, ": %v", errs[0])
	if len(errs) > 1 {
		fmt.Fprintf(&b, " (and %d more)", len(errs)-1)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validationErr(t entity.Type, path, field, msg string) *ValidationError {
	return &ValidationError{Type: t, Err: &FieldError{Path: path, Field: field, Message: msg}}
}

// IDCollisionError reports that an id is already taken by another entity.
type IDCollisionError struct {
	ID         string
	Scope      []string
	Identifier string
	Err        error
}

func (e *IDCollisionError) Error() string {
	msg := "id collision"
	if e.ID != "" {
		msg += fmt.Sprintf(": %q", e.ID)
	}
	if e.Identifier != "" || len(e.Scope) > 0 {
		msg += fmt.Sprintf(" (scope [%s], identifier %q)", strings.Join(e.Scope, ", "), e.Identifier)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IDCollisionError) Unwrap() error { return e.Err }

func (e *IDCollisionError) Is(target error) bool { return target == ErrIDCollision }

// ItemNotFoundError reports a reference to an id that does not exist.
type ItemNotFoundError struct {
	ID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item not found: %q", e.ID)
}

func (e *ItemNotFoundError) Is(target error) bool { return target == ErrItemNotFound }

// IntegrityError is a store-level failure that is not a collision or a
// missing item, including stored data that cannot be read back as a bundle.
type IntegrityError struct {
	ID  string
	Msg string
	Err error
}

func (e *IntegrityError) Error() string {
	msg := "integrity error"
	if e.ID != "" {
		msg += fmt.Sprintf(" on %q", e.ID)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }
