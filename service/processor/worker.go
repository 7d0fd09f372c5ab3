package processor

import (
	"context"
	"fmt"

	"github.com/megastructure/coordinator/internal/clock"
	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/progress"
	"github.com/megastructure/coordinator/tracing"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Source is the scheduler side of a worker conversation
type Source interface {
	// NextTask blocks until a task is available. The terminal task ends the loop.
	NextTask(ctx context.Context) (pipeline.TaskDescriptor, error)

	// Complete reports the outcome of a task. The terminal task is acknowledged
	// with a successful result.
	Complete(ctx context.Context, task pipeline.TaskDescriptor, result pipeline.TaskResult) error
}

// Worker runs the job loop for one worker identity
type Worker struct {
	ID       string
	Source   Source
	Executor pipeline.Executor
	Logger   *log.Entry
}

// Run pulls and executes tasks until the terminal task arrives. Task errors
// and panics are reported as failed completions; only source errors end the
// loop early.
func (w *Worker) Run(ctx context.Context) error {
	if w.Source == nil {
		return ErrSourceRequired
	}
	if w.Executor == nil {
		return ErrExecutorRequired
	}
	logger := w.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithField("worker", w.ID)
	for {
		task, err := w.Source.NextTask(ctx)
		if err != nil {
			return errors.Wrapf(err, "worker %v: next task", w.ID)
		}
		if task.IsTerminal() {
			if err := w.Source.Complete(ctx, task, pipeline.TaskResult{Success: true}); err != nil {
				return errors.Wrapf(err, "worker %v: terminal ack", w.ID)
			}
			logger.Debug("worker finished")
			return nil
		}
		result := w.execute(ctx, task)
		fields := log.Fields{"task": task.String(), "elapsed": result.Elapsed.String()}
		if result.Success {
			logger.WithFields(fields).Debug("task executed")
		} else {
			logger.WithFields(fields).WithField("message", result.Message).Warn("task failed")
		}
		if err := w.Source.Complete(ctx, task, result); err != nil {
			return errors.Wrapf(err, "worker %v: complete %v", w.ID, task)
		}
	}
}

func (w *Worker) execute(ctx context.Context, task pipeline.TaskDescriptor) (result pipeline.TaskResult) {
	ctx, span := tracing.StartSpan(ctx, "processor.ExecuteTask", tracing.KindInternal)
	span.WithAttributes(map[string]string{"task.name": task.Name, "task.fingerprint": task.Fingerprint, "worker.id": w.ID})
	started := clock.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("task %v panicked: %v", task, r)
			result = pipeline.TaskResult{Success: false, Message: err.Error()}
		}
		result.Elapsed = clock.Since(started)
		if err == nil && !result.Success {
			err = errors.New(result.Message)
		}
		tracing.EndSpan(span, err)
	}()
	result, err = w.Executor.ExecuteTask(ctx, task)
	if err != nil {
		result = pipeline.TaskResult{Success: false, Message: err.Error()}
	}
	if tracker, ok := progress.FromContext(ctx); ok && result.Message != "" {
		tracker.Note(fmt.Sprintf("%v: %v", task, result.Message))
	}
	return result
}
