package graph

import "github.com/pkg/errors"

var (
	// ErrDuplicateTask is returned when two tasks share a name
	ErrDuplicateTask = errors.New("graph: duplicate task")

	// ErrUnknownDependency is returned when a task depends on a missing task
	ErrUnknownDependency = errors.New("graph: unknown dependency")

	// ErrCycle is returned when dependencies form a cycle
	ErrCycle = errors.New("graph: dependency cycle")

	// ErrPipelineNotFound is returned when no definition exists for a pipeline id
	ErrPipelineNotFound = errors.New("graph: pipeline not found")
)
