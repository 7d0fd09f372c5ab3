package coordinator

import (
	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/service/dao"
	"github.com/megastructure/coordinator/tracing"
	log "github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises a Root
type Option func(r *Root)

// WithConfig sets the configuration
func WithConfig(config *Config) Option {
	return func(r *Root) {
		r.config = config
	}
}

// WithLogger sets the logger
func WithLogger(logger *log.Entry) Option {
	return func(r *Root) {
		r.logger = logger
	}
}

// WithFS sets the storage service backing the stash, pipelines and history
func WithFS(fs afs.Service) Option {
	return func(r *Root) {
		r.fs = fs
	}
}

// WithMetaFsOptions sets storage options, e.g. an embed.FS, used when
// loading pipeline definitions
func WithMetaFsOptions(options ...storage.Option) Option {
	return func(r *Root) {
		r.metaOptions = options
	}
}

// WithPipelineRegistry replaces the afs backed pipeline registry
func WithPipelineRegistry(registry pipeline.Registry) Option {
	return func(r *Root) {
		r.pipelines = registry
	}
}

// WithHistory sets the pipeline run history store
func WithHistory(history dao.Service[string, Record]) Option {
	return func(r *Root) {
		r.history = history
	}
}

// WithTracing configures OpenTelemetry tracing. If outputFile is empty the
// stdout exporter is used. The first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(r *Root) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing with a custom exporter
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(r *Root) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
