// Package progress tracks the task counters of a single pipeline run and the
// informational messages workers report while executing tasks.
package progress
