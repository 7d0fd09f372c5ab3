package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/pipeline/graph"
	"github.com/megastructure/coordinator/service/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
)

// countingSource counts terminal acknowledgements sent by a worker
type countingSource struct {
	processor.Source
	acks *atomic.Int32
}

func (c *countingSource) Complete(ctx context.Context, task pipeline.TaskDescriptor, result pipeline.TaskResult) error {
	if task.IsTerminal() {
		c.acks.Inc()
	}
	return c.Source.Complete(ctx, task, result)
}

// harness starts local workers that attach to the run like remote daemons do
type harness struct {
	service  *Service
	workers  int
	executor pipeline.Executor
	acks     atomic.Int32
	starts   atomic.Int32
	wg       sync.WaitGroup
}

func (h *harness) StartJob(ctx context.Context, runID string, _ pipeline.ToolChain, _ pipeline.Configuration) ([]string, error) {
	h.starts.Inc()
	var ids []string
	for i := 0; i < h.workers; i++ {
		id := fmt.Sprintf("worker-%d", i)
		source, err := h.service.Attach(runID, id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		worker := &processor.Worker{ID: id, Source: &countingSource{Source: source, acks: &h.acks}, Executor: h.executor}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			_ = worker.Run(context.Background())
		}()
	}
	return ids, nil
}

type buildState struct {
	resets atomic.Int32
}

func (b *buildState) Reset() { b.resets.Inc() }

func (b *buildState) Fingerprints() pipeline.Fingerprints {
	return pipeline.Fingerprints{"out/app": "f00d"}
}

func newHarness(t *testing.T, workers int, config Config, executor pipeline.Executor, definitions ...*graph.Definition) (*harness, *buildState) {
	registry := graph.NewRegistry("mem://localhost/scheduler-none", nil)
	for _, definition := range definitions {
		registry.Upsert(definition)
	}
	h := &harness{workers: workers, executor: executor}
	state := &buildState{}
	service, err := New(WithRegistry(registry), WithJobStarter(h), WithBuildState(state), WithConfig(config))
	require.NoError(t, err)
	h.service = service
	return h, state
}

func independent(id string, names ...string) *graph.Definition {
	ret := &graph.Definition{PipelineID: id}
	for _, name := range names {
		ret.Tasks = append(ret.Tasks, graph.Task{Name: name})
	}
	return ret
}

func TestService_DependencyOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	var mu sync.Mutex
	var events []string
	record := func(event string) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}
	executor := pipeline.ExecutorFunc(func(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
		record("start " + task.Name)
		time.Sleep(5 * time.Millisecond)
		record("end " + task.Name)
		return pipeline.TaskResult{Success: true}, nil
	})
	definition := &graph.Definition{PipelineID: "ab", Tasks: []graph.Task{{Name: "A"}, {Name: "B", DependsOn: []string{"A"}}}}
	h, state := newHarness(t, 2, DefaultConfig(), executor, definition)

	result := h.service.Run(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "ab"})
	h.wg.Wait()
	assert.True(t, result.Success, result.Message)
	assert.Equal(t, "Pipeline: ab succeeded", result.Message)
	assert.Equal(t, pipeline.Fingerprints{"out/app": "f00d"}, result.BuildFingerprints)
	assert.EqualValues(t, 1, state.resets.Load())
	assert.Equal(t, []string{"start A", "end A", "start B", "end B"}, events)
	assert.EqualValues(t, 2, h.acks.Load())
}

func TestService_FailureHandshake(t *testing.T) {
	defer goleak.VerifyNone(t)
	var executed atomic.Int32
	executor := pipeline.ExecutorFunc(func(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
		executed.Inc()
		return pipeline.TaskResult{Success: task.Name != "A", Message: "exit status 1"}, nil
	})
	definition := &graph.Definition{PipelineID: "ab", Tasks: []graph.Task{{Name: "A"}, {Name: "B", DependsOn: []string{"A"}}}}
	h, _ := newHarness(t, 4, DefaultConfig(), executor, definition)

	result := h.service.Run(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "ab"})
	h.wg.Wait()
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "Pipeline: ab failed")
	assert.Contains(t, result.Message, "exit status 1")
	assert.EqualValues(t, 1, executed.Load(), "B is never dispatched")
	assert.EqualValues(t, 4, h.acks.Load(), "one acknowledgement per worker")
	assert.Empty(t, h.service.Runs())
}

func TestService_BoundedInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)
	var running, peak, completed atomic.Int32
	executor := pipeline.ExecutorFunc(func(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
		current := running.Inc()
		for {
			previous := peak.Load()
			if current <= previous || peak.CompareAndSwap(previous, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Dec()
		completed.Inc()
		return pipeline.TaskResult{Success: true}, nil
	})
	config := DefaultConfig()
	config.ChannelSize = 2
	h, _ := newHarness(t, 3, config, executor, independent("five", "T1", "T2", "T3", "T4", "T5"))

	result := h.service.Run(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "five"})
	h.wg.Wait()
	assert.True(t, result.Success, result.Message)
	assert.EqualValues(t, 5, completed.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.EqualValues(t, 3, h.acks.Load())
}

func TestService_StopsDispatchOnFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	var mu sync.Mutex
	executed := map[string]bool{}
	executor := pipeline.ExecutorFunc(func(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
		mu.Lock()
		executed[task.Name] = true
		mu.Unlock()
		if task.Name == "T3" {
			return pipeline.TaskResult{Success: false, Message: "T3 broke"}, nil
		}
		return pipeline.TaskResult{Success: true}, nil
	})
	config := DefaultConfig()
	config.ChannelSize = 1
	h, _ := newHarness(t, 3, config, executor, independent("build", "T1", "T2", "T3", "T4", "T5"))

	result := h.service.Run(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "build"})
	h.wg.Wait()
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "Pipeline: build failed")
	assert.Equal(t, map[string]bool{"T1": true, "T2": true, "T3": true}, executed)
	assert.EqualValues(t, 3, h.acks.Load())
}

func TestService_DrainsInFlightOnFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	release := make(chan struct{})
	var finished atomic.Int32
	executor := pipeline.ExecutorFunc(func(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
		if task.Name == "fail" {
			return pipeline.TaskResult{Success: false, Message: "bad"}, nil
		}
		<-release
		finished.Inc()
		return pipeline.TaskResult{Success: true}, nil
	})
	h, _ := newHarness(t, 3, DefaultConfig(), executor, independent("drain", "slow1", "slow2", "fail"))

	done := make(chan pipeline.Result, 1)
	go func() {
		done <- h.service.Run(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "drain"})
	}()
	select {
	case <-done:
		t.Fatal("run returned before in-flight tasks completed")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	result := <-done
	h.wg.Wait()
	assert.False(t, result.Success)
	assert.EqualValues(t, 2, finished.Load())
	assert.EqualValues(t, 3, h.acks.Load())
}

func TestService_NoWorkers(t *testing.T) {
	h, _ := newHarness(t, 0, DefaultConfig(), nil, independent("empty", "a"))
	result := h.service.Run(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "empty"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "Pipeline: empty failed")
	assert.Contains(t, result.Message, ErrNoWorkersAvailable.Error())
}

func TestService_UnknownPipelineStillTerminatesWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)
	h, _ := newHarness(t, 2, DefaultConfig(), pipeline.ExecutorFunc(nil))
	result := h.service.Run(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "missing"})
	h.wg.Wait()
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "missing")
	assert.EqualValues(t, 2, h.acks.Load())
}

func TestService_WorkerStalled(t *testing.T) {
	defer goleak.VerifyNone(t)
	release := make(chan struct{})
	executor := pipeline.ExecutorFunc(func(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
		<-release
		return pipeline.TaskResult{Success: true}, nil
	})
	config := DefaultConfig()
	config.StallTimeout = 30 * time.Millisecond
	h, _ := newHarness(t, 1, config, executor, independent("stall", "hang"))

	result := h.service.Run(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "stall"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, ErrWorkerStalled.Error())
	close(release)
	h.wg.Wait()
}

// stuckSchedule never completes and never offers work
type stuckSchedule struct{}

func (stuckSchedule) Ready() []pipeline.TaskDescriptor { return nil }
func (stuckSchedule) Complete(pipeline.TaskDescriptor) {}
func (stuckSchedule) IsComplete() bool                 { return false }

type stuckPipeline struct{}

func (stuckPipeline) ID() string { return "stuck" }
func (stuckPipeline) Schedule(context.Context) (pipeline.Schedule, error) {
	return stuckSchedule{}, nil
}

type stuckRegistry struct{}

func (stuckRegistry) Pipeline(context.Context, pipeline.ToolChain, pipeline.Configuration) (pipeline.Pipeline, error) {
	return stuckPipeline{}, nil
}

func TestService_ScheduleStalled(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := &harness{workers: 1, executor: pipeline.ExecutorFunc(nil)}
	service, err := New(WithRegistry(stuckRegistry{}), WithJobStarter(h))
	require.NoError(t, err)
	h.service = service
	result := service.Run(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "stuck"})
	h.wg.Wait()
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, ErrScheduleStalled.Error())
	assert.EqualValues(t, 1, h.acks.Load())
}

func TestService_Attach(t *testing.T) {
	h, _ := newHarness(t, 1, DefaultConfig(), nil)
	_, err := h.service.Attach("run-unknown", "w")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.NotPanics(t, func() { h.service.Note("run-unknown", "compiling") })
}

func TestNew(t *testing.T) {
	_, err := New(WithJobStarter(JobStarterFunc(nil)))
	assert.ErrorIs(t, err, ErrRegistryRequired)
	_, err = New(WithRegistry(stuckRegistry{}))
	assert.ErrorIs(t, err, ErrJobStarterRequired)
	_, err = New(WithRegistry(stuckRegistry{}), WithJobStarter(JobStarterFunc(nil)), WithConfig(Config{}))
	assert.Error(t, err)
}
