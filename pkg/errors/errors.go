package errors

import "errors"

var (
	// ErrInvalidRequest is returned for requests that fail validation and
	// must never be retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidData is returned when stored data cannot be interpreted.
	ErrInvalidData = errors.New("invalid data type")
)
