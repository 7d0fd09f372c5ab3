package executor

import (
	"time"

	"github.com/pkg/errors"
)

// Config represents the task command configuration
type Config struct {
	// Command is run once per task with MEGA_TASK and MEGA_FINGERPRINT exported
	Command string `json:"command" yaml:"command"`
	// Directory is the working directory of every session
	Directory string `json:"directory,omitempty" yaml:"directory,omitempty"`
	// Host is the build host URL, e.g. ssh://builder:22; empty runs locally
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	// Credentials names the scy secret holding SSH credentials for Host
	Credentials string `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	// Env is exported into every session
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// Timeout bounds one task command
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Sessions is the number of idle sessions kept for reuse
	Sessions int `json:"sessions,omitempty" yaml:"sessions,omitempty"`
}

// DefaultConfig returns the default executor configuration
func DefaultConfig() Config {
	return Config{Timeout: time.Hour, Sessions: 4}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Command == "" {
		return ErrCommandRequired
	}
	if c.Timeout <= 0 {
		return errors.New("executor: timeout must be > 0")
	}
	if c.Sessions < 0 {
		return errors.New("executor: sessions must be >= 0")
	}
	return nil
}
