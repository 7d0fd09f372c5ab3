package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type completion struct {
	task   pipeline.TaskDescriptor
	result pipeline.TaskResult
}

type fakeSource struct {
	tasks       chan pipeline.TaskDescriptor
	mu          sync.Mutex
	completions []completion
	nextErr     error
}

func newFakeSource(tasks ...pipeline.TaskDescriptor) *fakeSource {
	ret := &fakeSource{tasks: make(chan pipeline.TaskDescriptor, len(tasks))}
	for _, task := range tasks {
		ret.tasks <- task
	}
	return ret
}

func (f *fakeSource) NextTask(ctx context.Context) (pipeline.TaskDescriptor, error) {
	if f.nextErr != nil {
		return pipeline.TaskDescriptor{}, f.nextErr
	}
	select {
	case task := <-f.tasks:
		return task, nil
	case <-ctx.Done():
		return pipeline.TaskDescriptor{}, ctx.Err()
	}
}

func (f *fakeSource) Complete(_ context.Context, task pipeline.TaskDescriptor, result pipeline.TaskResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, completion{task: task, result: result})
	return nil
}

func (f *fakeSource) results() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := map[string]bool{}
	for _, c := range f.completions {
		ret[c.task.Name] = c.result.Success
	}
	return ret
}

func TestWorker_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	executor := pipeline.ExecutorFunc(func(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
		switch task.Name {
		case "fail":
			return pipeline.TaskResult{Success: false, Message: "compile error"}, nil
		case "error":
			return pipeline.TaskResult{}, errors.New("io failure")
		case "panic":
			panic("boom")
		}
		return pipeline.TaskResult{Success: true}, nil
	})

	var testCases = []struct {
		description string
		tasks       []pipeline.TaskDescriptor
		expect      map[string]bool
	}{
		{
			description: "success then terminal",
			tasks:       []pipeline.TaskDescriptor{{Name: "a"}, {Name: "b"}, {}},
			expect:      map[string]bool{"a": true, "b": true, "": true},
		},
		{
			description: "failures do not stop the loop",
			tasks:       []pipeline.TaskDescriptor{{Name: "fail"}, {Name: "error"}, {Name: "panic"}, {Name: "ok"}, {}},
			expect:      map[string]bool{"fail": false, "error": false, "panic": false, "ok": true, "": true},
		},
		{
			description: "terminal only",
			tasks:       []pipeline.TaskDescriptor{{}},
			expect:      map[string]bool{"": true},
		},
	}

	for _, testCase := range testCases {
		source := newFakeSource(testCase.tasks...)
		worker := &Worker{ID: "w1", Source: source, Executor: executor}
		err := worker.Run(context.Background())
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.expect, source.results(), testCase.description)
		assert.Len(t, source.completions, len(testCase.tasks), testCase.description)
	}
}

func TestWorker_FailureMessage(t *testing.T) {
	source := newFakeSource(pipeline.TaskDescriptor{Name: "panic"}, pipeline.TaskDescriptor{})
	worker := &Worker{ID: "w1", Source: source, Executor: pipeline.ExecutorFunc(func(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
		panic("boom")
	})}
	require.NoError(t, worker.Run(context.Background()))
	require.Len(t, source.completions, 2)
	assert.False(t, source.completions[0].result.Success)
	assert.Contains(t, source.completions[0].result.Message, "panicked: boom")
}

func TestWorker_SourceError(t *testing.T) {
	source := newFakeSource()
	source.nextErr = errors.New("connection closed")
	worker := &Worker{ID: "w1", Source: source, Executor: pipeline.ExecutorFunc(nil)}
	err := worker.Run(context.Background())
	assert.ErrorIs(t, err, source.nextErr)

	assert.ErrorIs(t, (&Worker{Source: source}).Run(context.Background()), ErrExecutorRequired)
	assert.ErrorIs(t, (&Worker{}).Run(context.Background()), ErrSourceRequired)
}

func TestWorker_Cancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	worker := &Worker{ID: "w1", Source: newFakeSource(), Executor: pipeline.ExecutorFunc(nil)}
	assert.ErrorIs(t, worker.Run(ctx), context.DeadlineExceeded)
}

func TestService_Run(t *testing.T) {
	defer goleak.VerifyNone(t)
	var tasks []pipeline.TaskDescriptor
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		tasks = append(tasks, pipeline.TaskDescriptor{Name: name})
	}
	for i := 0; i < 3; i++ {
		tasks = append(tasks, pipeline.TaskDescriptor{})
	}
	source := newFakeSource(tasks...)
	service := New(WithWorkers(3), WithExecutor(pipeline.ExecutorFunc(func(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
		return pipeline.TaskResult{Success: true}, nil
	})))
	require.NoError(t, service.Run(context.Background(), source))
	assert.Len(t, source.completions, 8)
	assert.Equal(t, 0, service.Active())

	assert.ErrorIs(t, New().Run(context.Background(), source), ErrExecutorRequired)
}
