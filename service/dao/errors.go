package dao

import "github.com/pkg/errors"

// Common, reusable DAO errors detected by callers with errors.Is.
var (
	// ErrNotFound is returned when the requested entity does not exist
	ErrNotFound = errors.New("dao: not found")

	// ErrInvalidID indicates that the supplied key is empty or otherwise invalid
	ErrInvalidID = errors.New("dao: invalid id")

	// ErrNilEntity is returned when the caller attempts to persist a nil pointer
	ErrNilEntity = errors.New("dao: nil entity")
)
