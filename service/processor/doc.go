// Package processor hosts the job worker loop. A worker pulls tasks from the
// pipeline run it joined, executes them and reports each outcome until it
// receives the terminal task.
package processor
