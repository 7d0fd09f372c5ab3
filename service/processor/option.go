package processor

import (
	"github.com/megastructure/coordinator/model/pipeline"
	log "github.com/sirupsen/logrus"
)

// Option customises the processor service
type Option func(*Service)

// WithExecutor sets the task executor used by locally spawned workers
func WithExecutor(executor pipeline.Executor) Option {
	return func(s *Service) {
		s.executor = executor
	}
}

// WithWorkers sets the number of workers started by Run
func WithWorkers(count int) Option {
	return func(s *Service) {
		s.config.WorkerCount = count
	}
}

// WithLogger sets the logger
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithConfig sets the configuration for the service
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}
