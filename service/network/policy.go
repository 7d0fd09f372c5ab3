package network

import (
	"context"
	"time"
)

// Policy bounds how long an outbound request may wait for its peer
type Policy struct {
	// RequestTimeout applies to every request kind except the long running
	// conversations listed in Unbounded; zero disables it
	RequestTimeout time.Duration `json:"requestTimeout" yaml:"requestTimeout"`
}

// DefaultPolicy returns the default policy
func DefaultPolicy() Policy {
	return Policy{RequestTimeout: 30 * time.Second}
}

// Unbounded reports request kinds whose duration is governed elsewhere: a
// pipeline run and a worker pull loop last as long as the run, and a task
// execution is bounded by the scheduler stall timeout.
func Unbounded(kind Kind) bool {
	switch kind {
	case KindPipelineRun, KindJobReadyForWork, KindJobStartTask:
		return true
	}
	return false
}

// Context derives the context an outbound request of req's kind runs under
func (p Policy) Context(ctx context.Context, req Request) (context.Context, context.CancelFunc) {
	if p.RequestTimeout <= 0 || Unbounded(req.Kind()) {
		return context.WithCancel(ctx)
	}
	return WithDeadline(ctx, p.RequestTimeout)
}

// WithDeadline applies timeout unless ctx already expires sooner
func WithDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Send issues req on conn under the policy deadline
func (p Policy) Send(ctx context.Context, conn Connection, req Request) (Response, error) {
	ctx, cancel := p.Context(ctx, req)
	defer cancel()
	return conn.Request(ctx, req)
}
