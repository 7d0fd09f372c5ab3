package lock

import "github.com/pkg/errors"

var (
	// ErrUnroutableTarget is returned when no connection serves the machine
	// of a lock target. It is a topology error and is never retried.
	ErrUnroutableTarget = errors.New("lock: unroutable target")

	// ErrNotHeld is returned when releasing a lock the requester does not hold
	ErrNotHeld = errors.New("lock: not held")
)
