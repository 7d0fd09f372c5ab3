package scheduler

import "github.com/pkg/errors"

var (
	// ErrNoWorkersAvailable is reported when the start broadcast yields no workers
	ErrNoWorkersAvailable = errors.New("scheduler: no workers available")

	// ErrRunNotFound is returned when a worker attaches to an unknown run
	ErrRunNotFound = errors.New("scheduler: pipeline run not found")

	// ErrScheduleStalled is reported when nothing is in flight and the
	// schedule offers nothing new while still incomplete
	ErrScheduleStalled = errors.New("scheduler: schedule stalled")

	// ErrWorkerStalled is reported when no completion arrives within the stall timeout
	ErrWorkerStalled = errors.New("scheduler: workers stopped responding")

	// ErrRegistryRequired is returned by New without a pipeline registry
	ErrRegistryRequired = errors.New("scheduler: pipeline registry is required")

	// ErrJobStarterRequired is returned by New without a job starter
	ErrJobStarterRequired = errors.New("scheduler: job starter is required")
)
