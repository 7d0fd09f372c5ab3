package scheduler

import (
	"time"

	"github.com/pkg/errors"
)

// DefaultChannelSize bounds the number of dispatched but uncompleted tasks
const DefaultChannelSize = 256

// Config represents scheduler configuration
type Config struct {
	// ChannelSize bounds in-flight tasks and sizes the ready and completion channels
	ChannelSize int `json:"channelSize" yaml:"channelSize"`
	// StallTimeout fails a run when no completion or acknowledgement arrives in time; zero waits forever
	StallTimeout time.Duration `json:"stallTimeout" yaml:"stallTimeout"`
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		ChannelSize:  DefaultChannelSize,
		StallTimeout: 10 * time.Minute,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.ChannelSize <= 0 {
		return errors.Errorf("scheduler: channelSize must be positive, got %d", c.ChannelSize)
	}
	if c.StallTimeout < 0 {
		return errors.Errorf("scheduler: stallTimeout must not be negative, got %v", c.StallTimeout)
	}
	return nil
}
