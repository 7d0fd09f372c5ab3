package scheduler

import (
	"github.com/megastructure/coordinator/model/pipeline"
	log "github.com/sirupsen/logrus"
)

// Option customises the scheduler service
type Option func(s *Service)

// WithRegistry sets the pipeline definition registry
func WithRegistry(registry pipeline.Registry) Option {
	return func(s *Service) {
		s.registry = registry
	}
}

// WithJobStarter sets the collaborator that broadcasts the start request
func WithJobStarter(starter JobStarter) Option {
	return func(s *Service) {
		s.starter = starter
	}
}

// WithBuildState sets the build fingerprint accumulator
func WithBuildState(state BuildState) Option {
	return func(s *Service) {
		s.buildState = state
	}
}

// WithConfig sets the scheduler configuration
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithLogger sets the logger
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
