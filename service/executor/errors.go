package executor

import "github.com/pkg/errors"

var (
	// ErrCommandRequired is returned when no command template is configured
	ErrCommandRequired = errors.New("executor: command required")

	// ErrClosed is returned when executing on a closed service
	ErrClosed = errors.New("executor: closed")
)
