package edits

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service matches exactly one of these with errors.Is.
var (
	ErrValidation    = errors.New("edits: validation failed")
	ErrInvalidState  = errors.New("edits: invalid proposal state")
	ErrAuthorization = errors.New("edits: not authorized")
	ErrPersistence   = errors.New("edits: persistence failure")
	ErrNotFound      = errors.New("edits: not found")
)

// ServiceError carries a stable "<operation>.<reason>" code along with its kind and cause.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if e.kind != nil {
		unwrapped = append(unwrapped, e.kind)
	}
	if e.err != nil {
		unwrapped = append(unwrapped, e.err)
	}
	return unwrapped
}

// Code returns the operation-qualified reason.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the taxonomy sentinel.
func (e *ServiceError) Kind() error {
	return e.kind
}

func newServiceError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}

// passThrough keeps ServiceErrors raised inside a transaction callback intact and
// classifies anything else as a persistence failure.
func passThrough(operation, reason string, err error) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return newServiceError(operation, reason, ErrPersistence, err)
}
