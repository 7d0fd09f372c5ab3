package processor

import "github.com/pkg/errors"

var (
	// ErrExecutorRequired is returned when a worker is built without an executor
	ErrExecutorRequired = errors.New("processor: executor is required")

	// ErrSourceRequired is returned when a worker is started without a source
	ErrSourceRequired = errors.New("processor: task source is required")
)
