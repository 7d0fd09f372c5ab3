// Package scheduler drives a pipeline schedule to completion on a pool of
// workers obtained from a start broadcast, with a bounded number of tasks in
// flight.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/megastructure/coordinator/internal/clock"
	"github.com/megastructure/coordinator/internal/idgen"
	"github.com/megastructure/coordinator/metrics"
	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/progress"
	"github.com/megastructure/coordinator/service/processor"
	"github.com/megastructure/coordinator/tracing"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// JobStarter broadcasts the start request of a run and returns the identities
// of the workers that will attach to it.
type JobStarter interface {
	StartJob(ctx context.Context, runID string, toolChain pipeline.ToolChain, configuration pipeline.Configuration) ([]string, error)
}

// JobStarterFunc adapts a function to JobStarter
type JobStarterFunc func(ctx context.Context, runID string, toolChain pipeline.ToolChain, configuration pipeline.Configuration) ([]string, error)

// StartJob calls fn
func (fn JobStarterFunc) StartJob(ctx context.Context, runID string, toolChain pipeline.ToolChain, configuration pipeline.Configuration) ([]string, error) {
	return fn(ctx, runID, toolChain, configuration)
}

// BuildState accumulates build fingerprints. It is reset when a run starts
// and its snapshot is returned with the result.
type BuildState interface {
	Reset()
	Fingerprints() pipeline.Fingerprints
}

// Service runs pipelines
type Service struct {
	config     Config
	registry   pipeline.Registry
	starter    JobStarter
	buildState BuildState
	logger     *log.Entry

	mu   sync.RWMutex
	runs map[string]*run
}

// New creates a scheduler service
func New(options ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		logger: log.NewEntry(log.StandardLogger()),
		runs:   make(map[string]*run),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.registry == nil {
		return nil, ErrRegistryRequired
	}
	if s.starter == nil {
		return nil, ErrJobStarterRequired
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	s.logger = s.logger.WithField("component", "scheduler")
	return s, nil
}

// Attach joins a worker to a running pipeline
func (s *Service) Attach(runID, workerID string) (processor.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	aRun, ok := s.runs[runID]
	if !ok {
		return nil, errors.Wrapf(ErrRunNotFound, "run %v", runID)
	}
	return &source{run: aRun, workerID: workerID}, nil
}

// Note records an informational worker message on a run
func (s *Service) Note(runID, message string) {
	s.mu.RLock()
	aRun, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		s.logger.WithFields(log.Fields{"run": runID, "message": message}).Debug("progress for finished run")
		return
	}
	aRun.tracker.Note(message)
}

// Runs returns the progress of active runs ordered by start time
func (s *Service) Runs() []progress.Progress {
	s.mu.RLock()
	ret := make([]progress.Progress, 0, len(s.runs))
	for _, aRun := range s.runs {
		ret = append(ret, aRun.tracker.Snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].StartedAt.Before(ret[j].StartedAt) })
	return ret
}

// Run executes one pipeline. Failures are reported in the result, never as
// an error.
func (s *Service) Run(ctx context.Context, toolChain pipeline.ToolChain, configuration pipeline.Configuration) (result pipeline.Result) {
	runID := idgen.WithPrefix("run")
	pipelineID := configuration.PipelineID
	ctx, span := tracing.StartSpan(ctx, "scheduler.Run", tracing.KindInternal)
	span.WithAttributes(map[string]string{"pipeline.id": pipelineID, "run.id": runID})
	logger := s.logger.WithFields(log.Fields{"pipeline": pipelineID, "run": runID})
	started := clock.Now()

	aRun := newRun(runID, pipelineID, s.config.ChannelSize)
	s.mu.Lock()
	s.runs[runID] = aRun
	s.mu.Unlock()
	ctx = progress.WithTracker(ctx, aRun.tracker)

	var err error
	defer func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
		aRun.close()
		metrics.PipelineRuns.WithLabelValues(metrics.Result(result.Success)).Inc()
		metrics.PipelineDuration.Observe(clock.Since(started).Seconds())
		tracing.EndSpan(span, err)
	}()

	if s.buildState != nil {
		s.buildState.Reset()
	}
	workers, err := s.starter.StartJob(ctx, runID, toolChain, configuration)
	if err == nil && len(workers) == 0 {
		err = ErrNoWorkersAvailable
	}
	if err != nil {
		logger.WithError(err).Error("pipeline could not start")
		return s.result(pipelineID, err)
	}
	logger.WithField("workers", len(workers)).Info("pipeline started")

	err = s.execute(ctx, aRun, toolChain, configuration, logger)
	if shutdownErr := s.terminate(ctx, aRun, workers, logger); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	if err != nil {
		logger.WithError(err).Warn("pipeline failed")
	} else {
		logger.WithField("elapsed", clock.Since(started).String()).Info("pipeline succeeded")
	}
	return s.result(pipelineID, err)
}

func (s *Service) result(pipelineID string, err error) pipeline.Result {
	ret := pipeline.Result{Success: err == nil}
	if err == nil {
		ret.Message = fmt.Sprintf("Pipeline: %v succeeded", pipelineID)
	} else {
		ret.Message = fmt.Sprintf("Pipeline: %v failed: %v", pipelineID, err)
	}
	if s.buildState != nil {
		ret.BuildFingerprints = s.buildState.Fingerprints()
	}
	return ret
}

// execute dispatches ready tasks until the schedule completes or a task
// fails, then drains everything still in flight.
func (s *Service) execute(ctx context.Context, aRun *run, toolChain pipeline.ToolChain, configuration pipeline.Configuration, logger *log.Entry) error {
	aPipeline, err := s.registry.Pipeline(ctx, toolChain, configuration)
	if err != nil {
		return errors.Wrapf(err, "failed to load pipeline %v", configuration.PipelineID)
	}
	schedule, err := aPipeline.Schedule(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to build schedule for %v", configuration.PipelineID)
	}

	dispatched := make(map[pipeline.TaskDescriptor]bool)
	inFlight := make(map[pipeline.TaskDescriptor]bool)
	var failure error

	onCompletion := func(c *completion) {
		if !inFlight[c.Task] {
			logger.WithFields(log.Fields{"task": c.Task.String(), "worker": c.WorkerID}).Warn("unexpected completion")
			return
		}
		delete(inFlight, c.Task)
		metrics.TasksInFlight.Dec()
		metrics.PipelineTasks.WithLabelValues(metrics.Result(c.Result.Success)).Inc()
		if c.Result.Success {
			schedule.Complete(c.Task)
			progress.UpdateCtx(ctx, progress.Delta{Completed: 1, InFlight: -1})
			return
		}
		progress.UpdateCtx(ctx, progress.Delta{Failed: 1, InFlight: -1})
		if failure == nil {
			failure = errors.Errorf("task %v failed: %v", c.Task, c.Result.Message)
			logger.WithFields(log.Fields{"task": c.Task.String(), "worker": c.WorkerID}).Warn("task failed, stopping dispatch")
		}
	}

	for failure == nil && !schedule.IsComplete() {
		for _, task := range schedule.Ready() {
			if len(inFlight) >= s.config.ChannelSize {
				break
			}
			if dispatched[task] || task.IsTerminal() {
				continue
			}
			if err := aRun.ready.Publish(ctx, &task); err != nil {
				failure = errors.Wrapf(err, "failed to dispatch %v", task)
				break
			}
			dispatched[task] = true
			inFlight[task] = true
			metrics.TasksInFlight.Inc()
			progress.UpdateCtx(ctx, progress.Delta{Total: 1, Dispatched: 1, InFlight: 1})
		}
		if failure != nil {
			break
		}
		if len(inFlight) == 0 {
			failure = ErrScheduleStalled
			break
		}
		c, err := s.nextCompletion(ctx, aRun)
		if err != nil {
			failure = err
			break
		}
		onCompletion(c)
	}

	for len(inFlight) > 0 {
		c, err := s.nextCompletion(ctx, aRun)
		if err != nil {
			metrics.TasksInFlight.Sub(float64(len(inFlight)))
			logger.WithError(err).WithField("inFlight", len(inFlight)).Error("abandoning in-flight tasks")
			if failure == nil {
				failure = err
			}
			break
		}
		onCompletion(c)
	}
	return failure
}

// terminate sends one terminal task per worker and waits for every
// acknowledgement.
func (s *Service) terminate(ctx context.Context, aRun *run, workers []string, logger *log.Entry) error {
	for range workers {
		terminal := pipeline.TaskDescriptor{}
		if err := aRun.ready.Publish(ctx, &terminal); err != nil {
			return errors.Wrap(err, "failed to send terminal task")
		}
	}
	acks := 0
	for acks < len(workers) {
		c, err := s.nextCompletion(ctx, aRun)
		if err != nil {
			logger.WithError(err).WithFields(log.Fields{"acks": acks, "workers": len(workers)}).Error("worker shutdown incomplete")
			return err
		}
		if !c.Task.IsTerminal() {
			logger.WithField("task", c.Task.String()).Warn("late completion during shutdown")
			continue
		}
		acks++
	}
	logger.WithField("acks", acks).Debug("workers terminated")
	return nil
}

func (s *Service) nextCompletion(ctx context.Context, aRun *run) (*completion, error) {
	waitCtx := ctx
	if s.config.StallTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.config.StallTimeout)
		defer cancel()
	}
	msg, err := aRun.completions.Consume(waitCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrapf(ErrWorkerStalled, "no completion within %v", s.config.StallTimeout)
		}
		return nil, err
	}
	_ = msg.Ack()
	return msg.T(), nil
}

// Config returns the scheduler configuration
func (s *Service) Config() Config {
	return s.config
}
