package coordinator

import (
	"context"
	"time"

	"github.com/megastructure/coordinator/service/executor"
	"github.com/megastructure/coordinator/service/meta"
	"github.com/megastructure/coordinator/service/network"
	"github.com/megastructure/coordinator/service/processor"
	"github.com/megastructure/coordinator/service/scheduler"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/viant/afs/storage"
)

// Config is a serialisable representation of the coordinator configuration.
// It can be populated from YAML or JSON; fields left out keep their defaults.
type Config struct {
	Server    ServerConfig     `json:"server" yaml:"server"`
	Scheduler scheduler.Config `json:"scheduler" yaml:"scheduler"`
	Processor processor.Config `json:"processor" yaml:"processor"`
	Network   network.Policy   `json:"network" yaml:"network"`
	Executor  executor.Config  `json:"executor" yaml:"executor"`
	Stash     StorageConfig    `json:"stash" yaml:"stash"`
	Pipelines StorageConfig    `json:"pipelines" yaml:"pipelines"`
	History   StorageConfig    `json:"history" yaml:"history"`
	Log       LogConfig        `json:"log" yaml:"log"`
	Tracing   TracingConfig    `json:"tracing" yaml:"tracing"`
}

// ServerConfig configures the status server
type ServerConfig struct {
	Listen          string        `json:"listen" yaml:"listen"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// StorageConfig locates an afs backed store
type StorageConfig struct {
	URL string `json:"url" yaml:"url"`
}

// LogConfig configures logrus
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Output  string `json:"output" yaml:"output"`
}

// DefaultConfig returns a Config populated with the package defaults.
// Callers may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Server:    ServerConfig{Listen: ":4137", ShutdownTimeout: 10 * time.Second},
		Scheduler: scheduler.DefaultConfig(),
		Processor: processor.DefaultConfig(),
		Network:   network.DefaultPolicy(),
		Executor:  executor.DefaultConfig(),
		Stash:     StorageConfig{URL: "./stash"},
		Pipelines: StorageConfig{URL: "./pipelines"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Validate returns an error describing the first invalid setting
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if err := c.Scheduler.Validate(); err != nil {
		return errors.Wrap(err, "scheduler")
	}
	if c.Processor.WorkerCount <= 0 {
		return errors.New("processor.workerCount must be > 0")
	}
	if c.Network.RequestTimeout < 0 {
		return errors.New("network.requestTimeout must be >= 0")
	}
	if c.Stash.URL == "" {
		return errors.New("stash.url is required")
	}
	if c.Pipelines.URL == "" {
		return errors.New("pipelines.url is required")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// LoadConfig decodes the YAML or JSON document at URL over the defaults
func LoadConfig(ctx context.Context, URL string, options ...storage.Option) (*Config, error) {
	ret := DefaultConfig()
	if err := meta.New(nil, options...).Load(ctx, URL, ret); err != nil {
		return nil, err
	}
	if err := ret.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %v", URL)
	}
	return ret, nil
}

// NewLogger builds the logger described by c
func (c LogConfig) NewLogger() (*log.Entry, error) {
	logger := log.New()
	level := c.Level
	if level == "" {
		level = "info"
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(parsed)
	if c.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return log.NewEntry(logger), nil
}
