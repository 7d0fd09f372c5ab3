package stash

import "github.com/pkg/errors"

var (
	// ErrNoHashCode is returned when no hash code was recorded for a build file
	ErrNoHashCode = errors.New("stash: no hash code for file")

	// ErrInvalidDeterminant is returned for an empty determinant
	ErrInvalidDeterminant = errors.New("stash: invalid determinant")
)
