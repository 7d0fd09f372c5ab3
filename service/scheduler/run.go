package scheduler

import (
	"context"

	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/progress"
	"github.com/megastructure/coordinator/service/messaging"
	"github.com/megastructure/coordinator/service/messaging/memory"
	"github.com/megastructure/coordinator/service/processor"
)

// completion is what a worker reports back for a task
type completion struct {
	WorkerID string
	Task     pipeline.TaskDescriptor
	Result   pipeline.TaskResult
}

// run holds the channels of one pipeline run. Only the goroutine executing
// Service.Run reads completions and publishes tasks.
type run struct {
	id          string
	pipelineID  string
	ready       messaging.Queue[pipeline.TaskDescriptor]
	completions messaging.Queue[completion]
	tracker     *progress.Progress
}

func newRun(id, pipelineID string, channelSize int) *run {
	config := memory.Config{QueueBuffer: channelSize}
	return &run{
		id:          id,
		pipelineID:  pipelineID,
		ready:       memory.NewQueue[pipeline.TaskDescriptor](config),
		completions: memory.NewQueue[completion](config),
		tracker:     progress.New(id, pipelineID),
	}
}

func (r *run) close() {
	_ = r.ready.Close()
	_ = r.completions.Close()
}

// source adapts a run to the worker loop
type source struct {
	run      *run
	workerID string
}

// NextTask blocks until the scheduler publishes a task
func (s *source) NextTask(ctx context.Context) (pipeline.TaskDescriptor, error) {
	msg, err := s.run.ready.Consume(ctx)
	if err != nil {
		return pipeline.TaskDescriptor{}, err
	}
	if err = msg.Ack(); err != nil {
		return pipeline.TaskDescriptor{}, err
	}
	return *msg.T(), nil
}

// Complete hands the outcome back to the scheduler
func (s *source) Complete(ctx context.Context, task pipeline.TaskDescriptor, result pipeline.TaskResult) error {
	return s.run.completions.Publish(ctx, &completion{WorkerID: s.workerID, Task: task, Result: result})
}

var _ processor.Source = (*source)(nil)
