package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/megastructure/coordinator/internal/clock"
	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/viant/afs/url"
	"github.com/viant/gosh"
	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
	rssh "github.com/viant/gosh/runner/ssh"
	"github.com/viant/scy/cred/secret"
	"golang.org/x/crypto/ssh"
)

// Listener is invoked once a task command completes
type Listener func(task pipeline.TaskDescriptor, result pipeline.TaskResult)

// Option customises the executor
type Option func(*Service)

// WithListener sets the listener invoked after every task
func WithListener(l Listener) Option {
	return func(s *Service) {
		s.listener = l
	}
}

// WithLogger sets the logger
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service executes tasks as shell commands
type Service struct {
	config   Config
	listener Listener
	logger   *log.Entry

	mux    sync.Mutex
	idle   []*gosh.Service
	closed bool
}

// New creates a command executor
func New(config Config, options ...Option) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ret := &Service{config: config, logger: log.NewEntry(log.StandardLogger())}
	for _, option := range options {
		option(ret)
	}
	ret.logger = ret.logger.WithField("component", "executor")
	return ret, nil
}

// ExecuteTask runs the configured command for task. A non zero exit status
// is a failed result, not an error; errors report sessions that could not
// be used.
func (s *Service) ExecuteTask(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
	session, err := s.acquire(ctx)
	if err != nil {
		return pipeline.TaskResult{}, err
	}
	started := clock.Now()
	stdout, status, err := session.Run(ctx, s.command(task), runner.WithTimeout(int(s.config.Timeout.Milliseconds())))
	result := pipeline.TaskResult{Success: err == nil && status == 0, Message: strings.TrimSpace(stdout), Elapsed: clock.Since(started)}
	if err != nil {
		s.discard(session)
		if result.Message == "" {
			result.Message = err.Error()
		}
	} else {
		s.release(session)
	}
	if !result.Success && result.Message == "" {
		result.Message = fmt.Sprintf("exit status %d", status)
	}
	s.logger.WithFields(log.Fields{"task": task.String(), "status": status, "elapsed": result.Elapsed.String()}).Debug("task command finished")
	if s.listener != nil {
		s.listener(task, result)
	}
	return result, nil
}

func (s *Service) command(task pipeline.TaskDescriptor) string {
	return fmt.Sprintf("export MEGA_TASK=%s MEGA_FINGERPRINT=%s && %s", quote(task.Name), quote(task.Fingerprint), s.config.Command)
}

func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

func (s *Service) acquire(ctx context.Context) (*gosh.Service, error) {
	s.mux.Lock()
	if s.closed {
		s.mux.Unlock()
		return nil, ErrClosed
	}
	if n := len(s.idle); n > 0 {
		session := s.idle[n-1]
		s.idle = s.idle[:n-1]
		s.mux.Unlock()
		return session, nil
	}
	s.mux.Unlock()
	return s.open(ctx)
}

func (s *Service) release(session *gosh.Service) {
	s.mux.Lock()
	if !s.closed && len(s.idle) < s.config.Sessions {
		s.idle = append(s.idle, session)
		s.mux.Unlock()
		return
	}
	s.mux.Unlock()
	s.discard(session)
}

func (s *Service) discard(session *gosh.Service) {
	if err := session.Close(); err != nil {
		s.logger.WithError(err).Debug("failed to close session")
	}
}

func (s *Service) open(ctx context.Context) (*gosh.Service, error) {
	var options []runner.Option
	if len(s.config.Env) > 0 {
		options = append(options, runner.WithEnvironment(s.config.Env))
	}
	var session *gosh.Service
	var err error
	if s.config.Host == "" || url.Host(s.config.Host) == "localhost" {
		session, err = gosh.New(ctx, local.New(options...))
	} else {
		var config *ssh.ClientConfig
		if config, err = s.sshConfig(ctx); err != nil {
			return nil, err
		}
		host := url.Host(s.config.Host)
		if !strings.Contains(host, ":") {
			host += ":22"
		}
		session, err = gosh.New(ctx, rssh.New(host, config, options...))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open session on %v", s.host())
	}
	if s.config.Directory != "" {
		if _, _, err = session.Run(ctx, "cd "+quote(s.config.Directory)); err != nil {
			s.discard(session)
			return nil, errors.Wrapf(err, "failed to change directory to %v", s.config.Directory)
		}
	}
	return session, nil
}

func (s *Service) sshConfig(ctx context.Context) (*ssh.ClientConfig, error) {
	credentials := s.config.Credentials
	if credentials == "" {
		credentials = "localhost"
	}
	generic, err := secret.New().GetCredentials(ctx, credentials)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load credentials %v", credentials)
	}
	return generic.SSH.Config(ctx)
}

func (s *Service) host() string {
	if s.config.Host == "" {
		return "localhost"
	}
	return s.config.Host
}

// Close releases every idle session; running tasks finish on their own
// sessions which are closed on return.
func (s *Service) Close() error {
	s.mux.Lock()
	idle := s.idle
	s.idle = nil
	s.closed = true
	s.mux.Unlock()
	var messages []string
	for _, session := range idle {
		if err := session.Close(); err != nil {
			messages = append(messages, err.Error())
		}
	}
	if len(messages) > 0 {
		return errors.Errorf("failed to close sessions: %s", strings.Join(messages, "; "))
	}
	return nil
}
