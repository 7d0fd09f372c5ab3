// Package lock routes simulation lock requests to the process that owns the
// target and keeps the owner side lock state.
package lock

import (
	"context"
	"time"

	"github.com/megastructure/coordinator/metrics"
	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/model/sim"
	"github.com/megastructure/coordinator/service/network"
	"github.com/megastructure/coordinator/tracing"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Finder resolves the connection serving a machine
type Finder interface {
	FindConnection(machine mpo.MachineID) (network.Connection, bool)
}

// FinderFunc adapts a function to Finder
type FinderFunc func(machine mpo.MachineID) (network.Connection, bool)

// FindConnection calls fn
func (fn FinderFunc) FindConnection(machine mpo.MachineID) (network.Connection, bool) {
	return fn(machine)
}

// Locker grants and releases locks on targets it owns
type Locker interface {
	Read(ctx context.Context, requester, target mpo.MPO) (mpo.TimeStamp, error)
	Write(ctx context.Context, requester, target mpo.MPO) (mpo.TimeStamp, error)
	Release(ctx context.Context, requester, target mpo.MPO, transaction sim.Transaction) error
}

// Router forwards lock requests to the owner of the target. It holds no lock
// state of its own.
type Router struct {
	finder       Finder
	policy       network.Policy
	local        Locker
	localMachine mpo.MachineID
	logger       *log.Entry
}

// Option customises a Router
type Option func(r *Router)

// WithPolicy sets the outbound request policy
func WithPolicy(policy network.Policy) Option {
	return func(r *Router) {
		r.policy = policy
	}
}

// WithLocal serves targets on machine with locker instead of forwarding them
func WithLocal(machine mpo.MachineID, locker Locker) Option {
	return func(r *Router) {
		r.localMachine = machine
		r.local = locker
	}
}

// WithLogger sets the logger
func WithLogger(logger *log.Entry) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter creates a router resolving targets with finder
func NewRouter(finder Finder, options ...Option) *Router {
	ret := &Router{
		finder: finder,
		policy: network.DefaultPolicy(),
		logger: log.NewEntry(log.StandardLogger()),
	}
	for _, option := range options {
		option(ret)
	}
	ret.logger = ret.logger.WithField("component", "lock")
	return ret
}

// SimLockRead acquires a read lock on target for requester
func (r *Router) SimLockRead(ctx context.Context, requester, target mpo.MPO) (mpo.TimeStamp, error) {
	req := network.SimLockRead{Requester: requester, Target: target}
	var stamp mpo.TimeStamp
	err := r.route(ctx, req, target, func(ctx context.Context, locker Locker) (err error) {
		stamp, err = locker.Read(ctx, requester, target)
		return err
	}, func(response network.Response) {
		stamp = response.TimeStamp
	})
	return stamp, err
}

// SimLockWrite acquires a write lock on target for requester
func (r *Router) SimLockWrite(ctx context.Context, requester, target mpo.MPO) (mpo.TimeStamp, error) {
	req := network.SimLockWrite{Requester: requester, Target: target}
	var stamp mpo.TimeStamp
	err := r.route(ctx, req, target, func(ctx context.Context, locker Locker) (err error) {
		stamp, err = locker.Write(ctx, requester, target)
		return err
	}, func(response network.Response) {
		stamp = response.TimeStamp
	})
	return stamp, err
}

// SimLockRelease releases requester's lock on target handing over the
// effects produced under it
func (r *Router) SimLockRelease(ctx context.Context, requester, target mpo.MPO, transaction sim.Transaction) error {
	req := network.SimLockRelease{Requester: requester, Target: target, Transaction: transaction}
	return r.route(ctx, req, target, func(ctx context.Context, locker Locker) error {
		return locker.Release(ctx, requester, target, transaction)
	}, nil)
}

func (r *Router) route(ctx context.Context, req network.Request, target mpo.MPO, local func(ctx context.Context, locker Locker) error, remote func(response network.Response)) (err error) {
	kind := string(req.Kind())
	started := time.Now()
	ctx, span := tracing.StartSpan(ctx, "lock."+kind, tracing.KindClient)
	span.WithAttributes(map[string]string{"lock.target": target.String()})
	defer func() {
		metrics.LockRequests.WithLabelValues(kind, metrics.Result(err == nil)).Inc()
		metrics.LockLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())
		tracing.EndSpan(span, err)
	}()

	if r.local != nil && target.Machine == r.localMachine {
		ctx, cancel := r.policy.Context(ctx, req)
		defer cancel()
		return local(ctx, r.local)
	}
	conn, ok := r.finder.FindConnection(target.Machine)
	if !ok {
		r.logger.WithFields(log.Fields{"kind": kind, "target": target.String()}).Warn("no connection for lock target")
		return errors.Wrapf(ErrUnroutableTarget, "%v for %v", kind, target)
	}
	response, err := r.policy.Send(ctx, conn, req)
	if err != nil {
		return err
	}
	if remote != nil {
		remote(response)
	}
	return nil
}
