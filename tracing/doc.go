// Package tracing wraps OpenTelemetry so that coordinator services can open
// spans for pipeline runs, task executions and routed requests without
// importing the SDK directly. Without Init every span is a no-op.
package tracing
