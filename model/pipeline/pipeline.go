package pipeline

import (
	"context"
	"fmt"
	"time"
)

type (
	// TaskDescriptor identifies one schedulable unit of pipeline work. The zero
	// value is the terminal task telling a worker to stop.
	TaskDescriptor struct {
		Name        string `json:"name,omitempty" yaml:"name,omitempty"`
		Fingerprint string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	}

	// Configuration selects and parameterises a pipeline
	Configuration struct {
		PipelineID string `json:"pipelineId" yaml:"pipelineId"`
		Payload    []byte `json:"payload,omitempty" yaml:"payload,omitempty"`
	}

	// ToolChain describes the build tools workers must use
	ToolChain struct {
		Name    string `json:"name,omitempty" yaml:"name,omitempty"`
		Version string `json:"version,omitempty" yaml:"version,omitempty"`
		Hash    string `json:"hash,omitempty" yaml:"hash,omitempty"`
	}

	// Fingerprints maps a build artefact path to its hash code
	Fingerprints map[string]string

	// Result is the verdict of one pipeline run
	Result struct {
		Success           bool         `json:"success"`
		Message           string       `json:"message"`
		BuildFingerprints Fingerprints `json:"buildFingerprints,omitempty"`
	}

	// TaskResult is the outcome of executing one task
	TaskResult struct {
		Success bool          `json:"success"`
		Message string        `json:"message,omitempty"`
		Elapsed time.Duration `json:"elapsed,omitempty"`
	}
)

// IsTerminal reports whether the descriptor is the termination sentinel
func (t TaskDescriptor) IsTerminal() bool {
	return t == TaskDescriptor{}
}

func (t TaskDescriptor) String() string {
	if t.IsTerminal() {
		return "<terminal>"
	}
	if t.Fingerprint == "" {
		return t.Name
	}
	return fmt.Sprintf("%s@%s", t.Name, t.Fingerprint)
}

// Clone returns a copy safe to hand out
func (f Fingerprints) Clone() Fingerprints {
	if f == nil {
		return nil
	}
	ret := make(Fingerprints, len(f))
	for k, v := range f {
		ret[k] = v
	}
	return ret
}

// Schedule drives a dependency graph of tasks. Implementations are stateful
// and owned by the caller; the scheduler only asks what is ready and reports
// completions.
type Schedule interface {
	// Ready returns tasks whose dependencies are complete, in dispatch order.
	// Already dispatched but not yet completed tasks may be returned again.
	Ready() []TaskDescriptor

	// Complete marks a task done
	Complete(task TaskDescriptor)

	// IsComplete reports whether every task has completed
	IsComplete() bool
}

// Pipeline is a loaded pipeline definition
type Pipeline interface {
	ID() string
	Schedule(ctx context.Context) (Schedule, error)
}

// Registry resolves a pipeline definition from its configuration
type Registry interface {
	Pipeline(ctx context.Context, toolChain ToolChain, configuration Configuration) (Pipeline, error)
}

// Executor runs one task on a worker
type Executor interface {
	ExecuteTask(ctx context.Context, task TaskDescriptor) (TaskResult, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, task TaskDescriptor) (TaskResult, error)

// ExecuteTask calls fn
func (fn ExecutorFunc) ExecuteTask(ctx context.Context, task TaskDescriptor) (TaskResult, error) {
	return fn(ctx, task)
}
