package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/megastructure/coordinator/internal/idgen"
	"github.com/megastructure/coordinator/model/pipeline"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Config represents processor service configuration
type Config struct {
	// WorkerCount is the number of workers a daemon offers per pipeline run
	WorkerCount int `json:"workerCount" yaml:"workerCount"`
}

// DefaultConfig returns the default processor configuration
func DefaultConfig() Config {
	return Config{WorkerCount: 4}
}

// Service tracks running worker loops
type Service struct {
	config   Config
	executor pipeline.Executor
	logger   *log.Entry
	active   atomic.Int32
	wg       sync.WaitGroup
}

// New creates a processor service
func New(options ...Option) *Service {
	s := &Service{
		config: DefaultConfig(),
		logger: log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.config.WorkerCount <= 0 {
		s.config.WorkerCount = DefaultConfig().WorkerCount
	}
	s.logger = s.logger.WithField("component", "processor")
	return s
}

// Config returns the service configuration
func (s *Service) Config() Config {
	return s.config
}

// Active returns the number of running worker loops
func (s *Service) Active() int {
	return int(s.active.Load())
}

// NewWorker creates a worker bound to source. A nil executor falls back to the
// service executor.
func (s *Service) NewWorker(id string, source Source, executor pipeline.Executor) *Worker {
	if id == "" {
		id = idgen.WithPrefix("worker")
	}
	if executor == nil {
		executor = s.executor
	}
	return &Worker{ID: id, Source: source, Executor: executor, Logger: s.logger}
}

// Serve runs worker in the calling goroutine while tracking it
func (s *Service) Serve(ctx context.Context, worker *Worker) error {
	s.wg.Add(1)
	s.active.Inc()
	defer func() {
		s.active.Dec()
		s.wg.Done()
	}()
	err := worker.Run(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("worker", worker.ID).Warn("worker loop ended early")
	}
	return err
}

// Go runs worker in a new goroutine
func (s *Service) Go(ctx context.Context, worker *Worker) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Serve(ctx, worker)
	}()
}

// Run starts WorkerCount local workers against source and waits for all of
// them to receive the terminal task.
func (s *Service) Run(ctx context.Context, source Source) error {
	if s.executor == nil {
		return ErrExecutorRequired
	}
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.WorkerCount; i++ {
		worker := s.NewWorker(fmt.Sprintf("local-%d", i), source, nil)
		group.Go(func() error {
			return s.Serve(ctx, worker)
		})
	}
	return group.Wait()
}

// Wait blocks until every tracked worker loop returned
func (s *Service) Wait() {
	s.wg.Wait()
}
