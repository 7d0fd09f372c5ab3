// Package executor runs pipeline tasks as shell commands through gosh
// sessions, locally or on a remote build host over SSH. Sessions are pooled
// and reused across tasks.
package executor
