package coordinator

import (
	"context"
	"time"

	"github.com/megastructure/coordinator/internal/clock"
	"github.com/megastructure/coordinator/internal/idgen"
	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/pipeline/graph"
	"github.com/megastructure/coordinator/service/address"
	"github.com/megastructure/coordinator/service/dao"
	"github.com/megastructure/coordinator/service/enrole"
	"github.com/megastructure/coordinator/service/lock"
	"github.com/megastructure/coordinator/service/meta"
	"github.com/megastructure/coordinator/service/network"
	"github.com/megastructure/coordinator/service/processor"
	"github.com/megastructure/coordinator/service/scheduler"
	"github.com/megastructure/coordinator/service/stash"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
)

// Root is the coordinator every daemon connects to
type Root struct {
	config      *Config
	logger      *log.Entry
	fs          afs.Service
	metaOptions []storage.Option

	manager     *enrole.Manager
	space       *address.Space
	connections *network.Registry
	pipelines   pipeline.Registry
	scheduler   *scheduler.Service
	processor   *processor.Service
	router      *lock.Router
	stash       *stash.Service
	history     dao.Service[string, Record]
}

// New creates a root
func New(ctx context.Context, options ...Option) (*Root, error) {
	ret := &Root{}
	for _, option := range options {
		option(ret)
	}
	if ret.config == nil {
		ret.config = DefaultConfig()
	}
	if err := ret.config.Validate(); err != nil {
		return nil, err
	}
	if ret.logger == nil {
		ret.logger = log.NewEntry(log.StandardLogger())
	}
	if ret.fs == nil {
		ret.fs = afs.New()
	}
	if ret.pipelines == nil {
		ret.pipelines = graph.NewRegistry(ret.config.Pipelines.URL, meta.New(ret.fs, ret.metaOptions...))
	}
	if ret.history == nil {
		history, err := newHistory(ctx, ret.config.History.URL, ret.fs)
		if err != nil {
			return nil, err
		}
		ret.history = history
	}
	ret.manager = enrole.New(enrole.WithLogger(ret.logger))
	ret.space = address.New(address.WithLogger(ret.logger))
	ret.connections = network.NewRegistry(ret.logger)
	ret.stash = stash.New(ret.config.Stash.URL, stash.WithFS(ret.fs), stash.WithLogger(ret.logger))
	ret.processor = processor.New(processor.WithLogger(ret.logger))
	ret.router = lock.NewRouter(ret.connections, lock.WithPolicy(ret.config.Network), lock.WithLogger(ret.logger))
	var err error
	ret.scheduler, err = scheduler.New(
		scheduler.WithRegistry(ret.pipelines),
		scheduler.WithJobStarter(ret),
		scheduler.WithBuildState(ret.stash),
		scheduler.WithConfig(ret.config.Scheduler),
		scheduler.WithLogger(ret.logger))
	if err != nil {
		return nil, err
	}
	ret.logger = ret.logger.WithField("component", "root")
	return ret, nil
}

// Config returns the root configuration
func (r *Root) Config() *Config { return r.config }

// Manager returns the identity manager
func (r *Root) Manager() *enrole.Manager { return r.manager }

// Space returns the network address space
func (r *Root) Space() *address.Space { return r.space }

// Connections returns the connection registry
func (r *Root) Connections() *network.Registry { return r.connections }

// Scheduler returns the pipeline scheduler
func (r *Root) Scheduler() *scheduler.Service { return r.scheduler }

// Router returns the lock router
func (r *Root) Router() *lock.Router { return r.router }

// Connect registers a peer connection; everything it enrolled is released
// once it closes
func (r *Root) Connect(conn network.Connection) {
	r.connections.Add(conn)
	r.logger.WithField("connection", conn.ID()).Info("peer connected")
	go func() {
		<-conn.Done()
		r.disconnect(conn.ID())
	}()
}

func (r *Root) disconnect(connectionID string) {
	machine, mapped := r.connections.Remove(connectionID)
	logger := r.logger.WithField("connection", connectionID)
	if !mapped || !r.manager.HasMachine(machine) {
		logger.Info("peer disconnected")
		return
	}
	owners := r.manager.DaemonDisconnect(machine)
	addresses := r.releaseOwners(owners)
	r.releaseLocks(context.Background(), owners)
	logger.WithFields(log.Fields{"machine": machine, "owners": len(owners), "addresses": addresses}).Info("daemon disconnected")
}

func (r *Root) releaseOwners(owners []mpo.MPO) int {
	released := 0
	for _, owner := range owners {
		released += len(r.space.ReleaseOwner(owner))
	}
	return released
}

// releaseLocks tells every daemon to drop the locks held by owners. Lock
// state lives with the daemon owning each target, so all of them are asked.
func (r *Root) releaseLocks(ctx context.Context, owners []mpo.MPO) {
	if len(owners) == 0 {
		return
	}
	daemons := r.connections.Daemons()
	errs := network.Notify(ctx, r.config.Network, daemons, network.SimLockReleaseAll{Owners: owners})
	for _, err := range errs {
		if err != nil {
			r.logger.WithError(err).WithField("owners", len(owners)).Warn("failed to release locks of departed owners")
		}
	}
}

// Close closes every peer connection
func (r *Root) Close() error {
	for _, conn := range r.connections.Connections() {
		_ = conn.Close()
	}
	return nil
}

// RunPipeline runs a pipeline on the connected daemons and records it in the
// history
func (r *Root) RunPipeline(ctx context.Context, toolChain pipeline.ToolChain, configuration pipeline.Configuration) pipeline.Result {
	started := clock.Now()
	result := r.scheduler.Run(ctx, toolChain, configuration)
	record := &Record{
		ID:         idgen.WithPrefix("record"),
		PipelineID: configuration.PipelineID,
		ToolChain:  toolChain,
		StartedAt:  started,
		Elapsed:    clock.Since(started),
		Result:     result,
	}
	if err := r.history.Save(ctx, record); err != nil {
		r.logger.WithError(err).WithField("pipeline", configuration.PipelineID).Warn("failed to record pipeline run")
	}
	return result
}

// StartJob asks every enrolled daemon for workers. No daemons yields no
// workers, which fails the run.
func (r *Root) StartJob(ctx context.Context, runID string, toolChain pipeline.ToolChain, configuration pipeline.Configuration) ([]string, error) {
	daemons := r.connections.Daemons()
	if len(daemons) == 0 {
		return nil, nil
	}
	responses, err := network.Broadcast(ctx, r.config.Network, daemons, network.JobStart{RunID: runID, ToolChain: toolChain, Configuration: configuration})
	if err != nil {
		return nil, err
	}
	var workers []string
	for _, response := range responses {
		workers = append(workers, response.Workers...)
	}
	return workers, nil
}

// Handle serves a request from a connected peer
func (r *Root) Handle(ctx context.Context, conn network.Connection, req network.Request) (network.Response, error) {
	switch actual := req.(type) {
	case network.EnroleDaemon:
		machine := r.manager.NewDaemon()
		r.connections.Map(machine, conn.ID())
		r.logger.WithFields(log.Fields{"machine": machine, "connection": conn.ID()}).Info("daemon enrolled")
		return network.Response{MachineID: machine}, nil

	case network.EnroleLeafWithRoot:
		if !r.manager.HasMachine(actual.Daemon) {
			return network.Response{}, errors.Wrapf(enrole.ErrUnknownMachine, "machine %d", actual.Daemon)
		}
		mp, err := r.manager.NewLeaf(actual.Daemon)
		return network.Response{MP: mp}, err

	case network.EnroleLeafDisconnect:
		if !r.manager.HasProcess(actual.MP) {
			return network.Response{}, errors.Wrapf(enrole.ErrUnknownProcess, "process %v", actual.MP)
		}
		owners := r.manager.LeafDisconnected(actual.MP)
		addresses := r.releaseOwners(owners)
		r.releaseLocks(ctx, owners)
		r.logger.WithFields(log.Fields{"mp": actual.MP.String(), "owners": len(owners), "addresses": addresses}).Debug("leaf disconnected")
		return network.Response{MPOs: owners}, nil

	case network.EnroleOwner:
		if !r.manager.HasProcess(actual.MP) {
			return network.Response{}, errors.Wrapf(enrole.ErrUnknownProcess, "process %v", actual.MP)
		}
		owner, err := r.manager.NewOwner(actual.MP)
		return network.Response{MPO: owner}, err

	case network.ReleaseOwner:
		if !r.ownerKnown(actual.MPO) {
			return network.Response{}, errors.Wrapf(ErrUnknownOwner, "%v", actual.MPO)
		}
		r.space.ReleaseOwner(actual.MPO)
		r.manager.Release(actual.MPO)
		r.releaseLocks(ctx, []mpo.MPO{actual.MPO})
		return network.Response{}, nil

	case network.GetNetworkAddressMPO:
		owner, err := r.space.MPO(actual.Address)
		return network.Response{MPO: owner}, err

	case network.GetRootNetworkAddress:
		addr, err := r.space.RootAddress(actual.MPO)
		return network.Response{Address: addr}, err

	case network.AllocateNetworkAddress:
		if !r.ownerKnown(actual.MPO) {
			return network.Response{}, errors.Wrapf(ErrUnknownOwner, "%v", actual.MPO)
		}
		addr, err := r.space.Allocate(actual.MPO, actual.TypeID)
		return network.Response{Address: addr}, err

	case network.DeAllocateNetworkAddress:
		owner, err := r.space.MPO(actual.Address)
		if err != nil {
			return network.Response{}, err
		}
		if owner != actual.MPO {
			return network.Response{}, errors.Wrapf(ErrAddressNotOwned, "%v by %v", actual.Address, actual.MPO)
		}
		r.space.Deallocate(actual.MPO, actual.Address)
		return network.Response{}, nil

	case network.PipelineRun:
		result := r.RunPipeline(ctx, actual.ToolChain, actual.Configuration)
		return network.Response{Result: &result}, nil

	case network.JobReadyForWork:
		return network.Response{}, r.serveWorker(ctx, conn, actual)

	case network.JobProgress:
		r.scheduler.Note(actual.RunID, actual.Message)
		return network.Response{}, nil

	case network.SimLockRead:
		stamp, err := r.router.SimLockRead(ctx, actual.Requester, actual.Target)
		return network.Response{TimeStamp: stamp}, err

	case network.SimLockWrite:
		stamp, err := r.router.SimLockWrite(ctx, actual.Requester, actual.Target)
		return network.Response{TimeStamp: stamp}, err

	case network.SimLockRelease:
		return network.Response{}, r.router.SimLockRelease(ctx, actual.Requester, actual.Target, actual.Transaction)

	case network.StashClear:
		return network.Response{}, r.stash.Clear(ctx)

	case network.StashStash:
		return network.Response{}, r.stash.Stash(ctx, actual.FilePath, actual.Determinant)

	case network.StashRestore:
		found, err := r.stash.Restore(ctx, actual.FilePath, actual.Determinant)
		return network.Response{Found: found}, err

	case network.BuildGetHashCode:
		hash, err := r.stash.HashCode(ctx, actual.FilePath)
		return network.Response{Hash: hash}, err

	case network.BuildSetHashCode:
		return network.Response{}, r.stash.SetHashCode(ctx, actual.FilePath, actual.Hash)
	}
	return network.Response{}, errors.Wrapf(network.ErrUnexpectedRequest, "%v", req.Kind())
}

func (r *Root) ownerKnown(owner mpo.MPO) bool {
	owners, err := r.manager.MPOs(owner.MP())
	if err != nil {
		return false
	}
	for _, candidate := range owners {
		if candidate == owner {
			return true
		}
	}
	return false
}

// serveWorker runs the pull loop of a remote worker; every task it pulls is
// executed on the daemon behind conn
func (r *Root) serveWorker(ctx context.Context, conn network.Connection, req network.JobReadyForWork) error {
	source, err := r.scheduler.Attach(req.RunID, req.WorkerID)
	if err != nil {
		return err
	}
	executor := &remoteExecutor{
		conn:     conn,
		runID:    req.RunID,
		workerID: req.WorkerID,
		timeout:  r.config.Scheduler.StallTimeout,
	}
	return r.processor.Serve(ctx, r.processor.NewWorker(req.WorkerID, source, executor))
}

// remoteExecutor executes tasks on a daemon
type remoteExecutor struct {
	conn     network.Connection
	runID    string
	workerID string
	timeout  time.Duration
}

func (e *remoteExecutor) ExecuteTask(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = network.WithDeadline(ctx, e.timeout)
		defer cancel()
	}
	response, err := e.conn.Request(ctx, network.JobStartTask{RunID: e.runID, WorkerID: e.workerID, Task: task})
	if err != nil {
		return pipeline.TaskResult{}, err
	}
	return response.TaskResult, nil
}
