package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/megastructure/coordinator/internal/idgen"
	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/model/sim"
	"github.com/megastructure/coordinator/service/lock"
	"github.com/megastructure/coordinator/service/network"
	"github.com/megastructure/coordinator/service/processor"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Daemon is the per machine peer of a root. It offers workers to pipeline
// runs, executes their tasks and owns the lock state of its machine's owners.
type Daemon struct {
	executor pipeline.Executor
	workers  int
	policy   network.Policy
	table    *lock.Table
	applier  lock.Applier
	logger   *log.Entry

	mu      sync.RWMutex
	conn    network.Connection
	machine mpo.MachineID
	router  *lock.Router
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// DaemonOption customises a Daemon
type DaemonOption func(d *Daemon)

// WithExecutor sets the task executor
func WithExecutor(executor pipeline.Executor) DaemonOption {
	return func(d *Daemon) {
		d.executor = executor
	}
}

// WithWorkers sets the number of workers offered per pipeline run
func WithWorkers(count int) DaemonOption {
	return func(d *Daemon) {
		d.workers = count
	}
}

// WithPolicy sets the outbound request policy
func WithPolicy(policy network.Policy) DaemonOption {
	return func(d *Daemon) {
		d.policy = policy
	}
}

// WithApplier sets the applier receiving effects released under write locks
func WithApplier(applier lock.Applier) DaemonOption {
	return func(d *Daemon) {
		d.applier = applier
	}
}

// WithDaemonLogger sets the logger
func WithDaemonLogger(logger *log.Entry) DaemonOption {
	return func(d *Daemon) {
		d.logger = logger
	}
}

// NewDaemon creates an unconnected daemon
func NewDaemon(options ...DaemonOption) *Daemon {
	ret := &Daemon{
		workers: processor.DefaultConfig().WorkerCount,
		policy:  network.DefaultPolicy(),
		logger:  log.NewEntry(log.StandardLogger()),
	}
	for _, option := range options {
		option(ret)
	}
	ret.logger = ret.logger.WithField("component", "daemon")
	ret.ctx, ret.cancel = context.WithCancel(context.Background())
	ret.table = lock.NewTable(lock.WithApplier(ret.applier), lock.WithTableLogger(ret.logger))
	return ret
}

// Connect enrols the daemon with the root behind conn
func (d *Daemon) Connect(ctx context.Context, conn network.Connection) error {
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	response, err := d.policy.Send(ctx, conn, network.EnroleDaemon{})
	if err != nil {
		return errors.Wrap(err, "failed to enrol daemon")
	}
	toRoot := lock.FinderFunc(func(mpo.MachineID) (network.Connection, bool) {
		return conn, true
	})
	d.mu.Lock()
	defer d.mu.Unlock()
	d.machine = response.MachineID
	d.router = lock.NewRouter(toRoot, lock.WithLocal(response.MachineID, d.table), lock.WithPolicy(d.policy), lock.WithLogger(d.logger))
	d.logger.WithField("machine", response.MachineID).Info("daemon enrolled")
	return nil
}

// Machine returns the enrolled machine id
func (d *Daemon) Machine() mpo.MachineID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.machine
}

// Table returns the lock table of the daemon's owners
func (d *Daemon) Table() *lock.Table { return d.table }

// Close stops worker loops and closes the root connection
func (d *Daemon) Close() error {
	d.cancel()
	d.mu.RLock()
	conn := d.conn
	d.mu.RUnlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	d.wg.Wait()
	return err
}

func (d *Daemon) connection() (network.Connection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.conn == nil {
		return nil, ErrNotConnected
	}
	return d.conn, nil
}

func (d *Daemon) send(ctx context.Context, req network.Request) (network.Response, error) {
	conn, err := d.connection()
	if err != nil {
		return network.Response{}, err
	}
	return d.policy.Send(ctx, conn, req)
}

// Handle serves requests from the root
func (d *Daemon) Handle(ctx context.Context, conn network.Connection, req network.Request) (network.Response, error) {
	switch actual := req.(type) {
	case network.JobStart:
		return network.Response{Workers: d.startWorkers(actual)}, nil
	case network.JobStartTask:
		return d.executeTask(ctx, actual)
	case network.SimLockRead:
		stamp, err := d.table.Read(ctx, actual.Requester, actual.Target)
		return network.Response{TimeStamp: stamp}, d.granted(ctx, actual.Requester, actual.Target, err)
	case network.SimLockWrite:
		stamp, err := d.table.Write(ctx, actual.Requester, actual.Target)
		return network.Response{TimeStamp: stamp}, d.granted(ctx, actual.Requester, actual.Target, err)
	case network.SimLockRelease:
		return network.Response{}, d.table.Release(ctx, actual.Requester, actual.Target, actual.Transaction)
	case network.SimLockReleaseAll:
		for _, owner := range actual.Owners {
			d.table.ReleaseAll(owner)
		}
		return network.Response{}, nil
	}
	return network.Response{}, errors.Wrapf(network.ErrUnexpectedRequest, "%v", req.Kind())
}

// granted takes back a grant whose caller gave up while it was made
func (d *Daemon) granted(ctx context.Context, requester, target mpo.MPO, err error) error {
	if err != nil || ctx.Err() == nil {
		return err
	}
	if releaseErr := d.table.Release(context.Background(), requester, target, sim.Transaction{}); releaseErr != nil {
		d.logger.WithError(releaseErr).WithField("target", target.String()).Warn("failed to take back abandoned lock")
	}
	return errors.Wrapf(ctx.Err(), "lock on %v for %v", target, requester)
}

// startWorkers opens one JobReadyForWork conversation per worker. Each lasts
// until the root sends the worker its terminal task.
func (d *Daemon) startWorkers(req network.JobStart) []string {
	if d.executor == nil {
		d.logger.WithField("run", req.RunID).Warn("no executor, offering no workers")
		return nil
	}
	ctx := d.ctx
	workers := make([]string, d.workers)
	for i := range workers {
		workers[i] = idgen.WithPrefix("worker")
		workerID := workers[i]
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if _, err := d.send(ctx, network.JobReadyForWork{RunID: req.RunID, WorkerID: workerID}); err != nil {
				d.logger.WithError(err).WithFields(log.Fields{"run": req.RunID, "worker": workerID}).Warn("worker conversation failed")
			}
		}()
	}
	d.logger.WithFields(log.Fields{"run": req.RunID, "pipeline": req.Configuration.PipelineID, "workers": len(workers)}).Info("workers offered")
	return workers
}

func (d *Daemon) executeTask(ctx context.Context, req network.JobStartTask) (network.Response, error) {
	if d.executor == nil {
		return network.Response{}, processor.ErrExecutorRequired
	}
	result, err := d.executor.ExecuteTask(ctx, req.Task)
	if err != nil {
		return network.Response{}, err
	}
	verdict := "succeeded"
	if !result.Success {
		verdict = "failed"
	}
	message := fmt.Sprintf("%v on %v %s in %v", req.Task, req.WorkerID, verdict, result.Elapsed)
	if _, err = d.send(ctx, network.JobProgress{RunID: req.RunID, Message: message}); err != nil {
		d.logger.WithError(err).WithField("run", req.RunID).Debug("failed to report progress")
	}
	return network.Response{TaskResult: result}, nil
}

// NewLeaf enrols a process on the daemon's machine
func (d *Daemon) NewLeaf(ctx context.Context) (mpo.MP, error) {
	response, err := d.send(ctx, network.EnroleLeafWithRoot{Daemon: d.Machine()})
	return response.MP, err
}

// LeafDisconnect reports a process that went away and drops every lock its
// owners held here
func (d *Daemon) LeafDisconnect(ctx context.Context, mp mpo.MP) ([]mpo.MPO, error) {
	response, err := d.send(ctx, network.EnroleLeafDisconnect{MP: mp})
	if err != nil {
		return nil, err
	}
	for _, owner := range response.MPOs {
		d.table.ReleaseAll(owner)
	}
	return response.MPOs, nil
}

// NewOwner enrols an owner in a process
func (d *Daemon) NewOwner(ctx context.Context, mp mpo.MP) (mpo.MPO, error) {
	response, err := d.send(ctx, network.EnroleOwner{MP: mp})
	return response.MPO, err
}

// ReleaseOwner frees an owner with its addresses and local locks
func (d *Daemon) ReleaseOwner(ctx context.Context, owner mpo.MPO) error {
	if _, err := d.send(ctx, network.ReleaseOwner{MPO: owner}); err != nil {
		return err
	}
	d.table.ReleaseAll(owner)
	return nil
}

// Allocate allocates a network address for an object of owner
func (d *Daemon) Allocate(ctx context.Context, owner mpo.MPO, typeID mpo.TypeID) (mpo.NetworkAddress, error) {
	response, err := d.send(ctx, network.AllocateNetworkAddress{MPO: owner, TypeID: typeID})
	return response.Address, err
}

// Deallocate frees a network address of owner
func (d *Daemon) Deallocate(ctx context.Context, owner mpo.MPO, addr mpo.NetworkAddress) error {
	_, err := d.send(ctx, network.DeAllocateNetworkAddress{MPO: owner, Address: addr})
	return err
}

// Resolve returns the owner of addr
func (d *Daemon) Resolve(ctx context.Context, addr mpo.NetworkAddress) (mpo.MPO, error) {
	response, err := d.send(ctx, network.GetNetworkAddressMPO{Address: addr})
	return response.MPO, err
}

// RootAddress returns the root object address of owner
func (d *Daemon) RootAddress(ctx context.Context, owner mpo.MPO) (mpo.NetworkAddress, error) {
	response, err := d.send(ctx, network.GetRootNetworkAddress{MPO: owner})
	return response.Address, err
}

func (d *Daemon) lockRouter() (*lock.Router, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.router == nil {
		return nil, ErrNotConnected
	}
	return d.router, nil
}

// SimLockRead acquires a read lock on target; targets on this machine are
// served from the local table, others through the root
func (d *Daemon) SimLockRead(ctx context.Context, requester, target mpo.MPO) (mpo.TimeStamp, error) {
	router, err := d.lockRouter()
	if err != nil {
		return 0, err
	}
	return router.SimLockRead(ctx, requester, target)
}

// SimLockWrite acquires a write lock on target
func (d *Daemon) SimLockWrite(ctx context.Context, requester, target mpo.MPO) (mpo.TimeStamp, error) {
	router, err := d.lockRouter()
	if err != nil {
		return 0, err
	}
	return router.SimLockWrite(ctx, requester, target)
}

// SimLockRelease releases a lock on target handing over its effects
func (d *Daemon) SimLockRelease(ctx context.Context, requester, target mpo.MPO, transaction sim.Transaction) error {
	router, err := d.lockRouter()
	if err != nil {
		return err
	}
	return router.SimLockRelease(ctx, requester, target, transaction)
}

// RunPipeline asks the root to run a pipeline and waits for its verdict
func (d *Daemon) RunPipeline(ctx context.Context, toolChain pipeline.ToolChain, configuration pipeline.Configuration) (pipeline.Result, error) {
	response, err := d.send(ctx, network.PipelineRun{ToolChain: toolChain, Configuration: configuration})
	if err != nil {
		return pipeline.Result{}, err
	}
	if response.Result == nil {
		return pipeline.Result{}, errors.New("coordinator: pipeline run returned no result")
	}
	return *response.Result, nil
}

// Stash stores a built file on the root under determinant
func (d *Daemon) Stash(ctx context.Context, filePath, determinant string) error {
	_, err := d.send(ctx, network.StashStash{FilePath: filePath, Determinant: determinant})
	return err
}

// Restore restores a stashed file, reporting whether it was found
func (d *Daemon) Restore(ctx context.Context, filePath, determinant string) (bool, error) {
	response, err := d.send(ctx, network.StashRestore{FilePath: filePath, Determinant: determinant})
	return response.Found, err
}

// ClearStash empties the root stash
func (d *Daemon) ClearStash(ctx context.Context) error {
	_, err := d.send(ctx, network.StashClear{})
	return err
}

// HashCode returns the recorded build hash of filePath
func (d *Daemon) HashCode(ctx context.Context, filePath string) (string, error) {
	response, err := d.send(ctx, network.BuildGetHashCode{FilePath: filePath})
	return response.Hash, err
}

// SetHashCode records the build hash of filePath for the current run
func (d *Daemon) SetHashCode(ctx context.Context, filePath, hash string) error {
	_, err := d.send(ctx, network.BuildSetHashCode{FilePath: filePath, Hash: hash})
	return err
}
