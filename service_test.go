package coordinator_test

import (
	"context"
	"embed"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/megastructure/coordinator"
	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/model/sim"
	"github.com/megastructure/coordinator/service/lock"
	"github.com/megastructure/coordinator/service/network"
	"github.com/megastructure/coordinator/service/network/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	_ "github.com/viant/afs/embed"
)

//go:embed testdata/*
var embedFS embed.FS

func newRoot(t *testing.T) *coordinator.Root {
	config := coordinator.DefaultConfig()
	config.Pipelines.URL = "embed:///testdata/pipelines"
	config.Stash.URL = "mem://localhost/" + strings.ReplaceAll(t.Name(), "/", "_") + "/stash"
	config.Scheduler.StallTimeout = 5 * time.Second
	root, err := coordinator.New(context.Background(),
		coordinator.WithConfig(config),
		coordinator.WithFS(afs.New()),
		coordinator.WithMetaFsOptions(&embedFS))
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })
	return root
}

// recorder executes tasks by recording them and their build hash
type recorder struct {
	mu     sync.Mutex
	daemon *coordinator.Daemon
	fail   string
	tasks  []string
}

func (r *recorder) ExecuteTask(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
	r.mu.Lock()
	r.tasks = append(r.tasks, task.Name)
	r.mu.Unlock()
	if task.Name == r.fail {
		return pipeline.TaskResult{Success: false, Message: "compiler crashed"}, nil
	}
	if task.Fingerprint != "" {
		if err := r.daemon.SetHashCode(ctx, "out/"+task.Name, task.Fingerprint); err != nil {
			return pipeline.TaskResult{}, err
		}
	}
	return pipeline.TaskResult{Success: true}, nil
}

func (r *recorder) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := append([]string(nil), r.tasks...)
	sort.Strings(ret)
	return ret
}

func connect(t *testing.T, root *coordinator.Root, options ...coordinator.DaemonOption) *coordinator.Daemon {
	daemon := coordinator.NewDaemon(options...)
	toRoot, toDaemon := memory.Pair(daemon, root)
	root.Connect(toDaemon)
	require.NoError(t, daemon.Connect(context.Background(), toRoot))
	t.Cleanup(func() { _ = daemon.Close() })
	return daemon
}

func TestRoot_Enrolment(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	first := connect(t, root)
	second := connect(t, root)
	assert.EqualValues(t, 0, first.Machine())
	assert.EqualValues(t, 1, second.Machine())
	assert.Equal(t, []mpo.MachineID{0, 1}, root.Manager().Machines())

	leaf, err := second.NewLeaf(ctx)
	require.NoError(t, err)
	assert.Equal(t, mpo.NewMP(1, 0), leaf)
	owner, err := second.NewOwner(ctx, leaf)
	require.NoError(t, err)
	other, err := second.NewOwner(ctx, leaf)
	require.NoError(t, err)

	rootAddr, err := second.Allocate(ctx, owner, mpo.RootTypeID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rootAddr)
	objectAddr, err := second.Allocate(ctx, owner, 7)
	require.NoError(t, err)
	found, err := second.RootAddress(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, rootAddr, found)
	resolved, err := first.Resolve(ctx, objectAddr)
	require.NoError(t, err)
	assert.Equal(t, owner, resolved)

	var remote *network.RemoteError
	err = second.Deallocate(ctx, other, objectAddr)
	require.True(t, errors.As(err, &remote), "wrong owner is refused")
	assert.Contains(t, remote.Message, coordinator.ErrAddressNotOwned.Error())
	_, err = second.Allocate(ctx, mpo.NewMPO(1, 9, 9), 7)
	require.True(t, errors.As(err, &remote), "unknown owner is refused")
	require.NoError(t, second.Deallocate(ctx, owner, objectAddr))

	released, err := second.LeafDisconnect(ctx, leaf)
	require.NoError(t, err)
	assert.Equal(t, []mpo.MPO{owner, other}, released)
	assert.Zero(t, root.Space().Len(), "leaf disconnect releases addresses")
	_, err = second.RootAddress(ctx, owner)
	assert.Error(t, err)

	again, err := second.NewLeaf(ctx)
	require.NoError(t, err)
	assert.Equal(t, leaf, again, "process id reused")
}

func TestRoot_DaemonDisconnect(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	daemon := connect(t, root)
	leaf, err := daemon.NewLeaf(ctx)
	require.NoError(t, err)
	owner, err := daemon.NewOwner(ctx, leaf)
	require.NoError(t, err)
	_, err = daemon.Allocate(ctx, owner, 3)
	require.NoError(t, err)

	require.NoError(t, daemon.Close())
	assert.Eventually(t, func() bool {
		return len(root.Manager().Machines()) == 0 && root.Space().Len() == 0
	}, time.Second, 5*time.Millisecond)

	replacement := connect(t, root)
	assert.EqualValues(t, 0, replacement.Machine(), "machine id reused")
}

func TestRoot_PipelineRun(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	var recorders []*recorder
	for i := 0; i < 2; i++ {
		exec := &recorder{}
		exec.daemon = connect(t, root, coordinator.WithExecutor(exec), coordinator.WithWorkers(2))
		recorders = append(recorders, exec)
	}

	result, err := recorders[0].daemon.RunPipeline(ctx, pipeline.ToolChain{Name: "mega"}, pipeline.Configuration{PipelineID: "build"})
	require.NoError(t, err)
	assert.True(t, result.Success, result.Message)
	assert.Equal(t, "Pipeline: build succeeded", result.Message)
	assert.Equal(t, pipeline.Fingerprints{
		"out/generate":     "g1",
		"out/compile-core": "c1",
		"out/compile-cad":  "c2",
		"out/link":         "l1",
	}, result.BuildFingerprints)

	var all []string
	for _, exec := range recorders {
		all = append(all, exec.executed()...)
	}
	sort.Strings(all)
	assert.Equal(t, []string{"compile-cad", "compile-core", "generate", "link"}, all)

	history, err := root.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "build", history[0].PipelineID)
	assert.True(t, history[0].Result.Success)
	assert.Empty(t, root.Scheduler().Runs())
}

func TestRoot_PipelineFailure(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	exec := &recorder{fail: "compile"}
	exec.daemon = connect(t, root, coordinator.WithExecutor(exec), coordinator.WithWorkers(3))

	result := root.RunPipeline(ctx, pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "broken"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "Pipeline: broken failed")
	assert.Contains(t, result.Message, "compiler crashed")
	assert.Equal(t, []string{"compile", "generate"}, exec.executed(), "link never dispatched")

	result = root.RunPipeline(ctx, pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "missing"})
	assert.False(t, result.Success)
}

func TestRoot_NoWorkers(t *testing.T) {
	root := newRoot(t)
	result := root.RunPipeline(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "build"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "no workers")
}

func TestRoot_Locks(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	a := connect(t, root)
	b := connect(t, root)
	leafA, _ := a.NewLeaf(ctx)
	ownerA, _ := a.NewOwner(ctx, leafA)
	leafB, _ := b.NewLeaf(ctx)
	ownerB, err := b.NewOwner(ctx, leafB)
	require.NoError(t, err)

	stamp, err := a.SimLockWrite(ctx, ownerA, ownerB)
	require.NoError(t, err)
	assert.NotZero(t, stamp)
	_, writer := b.Table().Held(ownerB)
	require.NotNil(t, writer, "lock state lives with the target's daemon")
	assert.Equal(t, ownerA, *writer)

	require.NoError(t, a.SimLockRelease(ctx, ownerA, ownerB, sim.Transaction{}))
	_, writer = b.Table().Held(ownerB)
	assert.Nil(t, writer)

	_, err = b.SimLockRead(ctx, ownerB, ownerB)
	require.NoError(t, err, "local target")
	readers, _ := b.Table().Held(ownerB)
	assert.Equal(t, []mpo.MPO{ownerB}, readers)

	_, err = a.SimLockRead(ctx, ownerA, mpo.NewMPO(99, 0, 0))
	var remote *network.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Contains(t, remote.Message, lock.ErrUnroutableTarget.Error())

	_, err = root.Router().SimLockRead(ctx, ownerA, mpo.NewMPO(99, 0, 0))
	assert.ErrorIs(t, err, lock.ErrUnroutableTarget)
}

func TestRoot_DepartedOwnersReleaseLocks(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	owner := connect(t, root)
	leaf, err := owner.NewLeaf(ctx)
	require.NoError(t, err)
	target, err := owner.NewOwner(ctx, leaf)
	require.NoError(t, err)
	second, err := owner.NewOwner(ctx, leaf)
	require.NoError(t, err)

	held := func(target mpo.MPO) *mpo.MPO {
		_, writer := owner.Table().Held(target)
		return writer
	}

	requester := connect(t, root)
	requesterLeaf, err := requester.NewLeaf(ctx)
	require.NoError(t, err)
	first, err := requester.NewOwner(ctx, requesterLeaf)
	require.NoError(t, err)
	_, err = requester.SimLockWrite(ctx, first, target)
	require.NoError(t, err)
	require.NotNil(t, held(target))
	require.NoError(t, requester.ReleaseOwner(ctx, first))
	assert.Nil(t, held(target), "released owner drops its remote locks")

	first, err = requester.NewOwner(ctx, requesterLeaf)
	require.NoError(t, err)
	_, err = requester.SimLockWrite(ctx, first, target)
	require.NoError(t, err)
	_, err = requester.LeafDisconnect(ctx, requesterLeaf)
	require.NoError(t, err)
	assert.Nil(t, held(target), "leaf disconnect drops remote locks of its owners")

	requesterLeaf, err = requester.NewLeaf(ctx)
	require.NoError(t, err)
	first, err = requester.NewOwner(ctx, requesterLeaf)
	require.NoError(t, err)
	_, err = requester.SimLockWrite(ctx, first, second)
	require.NoError(t, err)
	require.NotNil(t, held(second))
	require.NoError(t, requester.Close())
	assert.Eventually(t, func() bool { return held(second) == nil }, 5*time.Second, 10*time.Millisecond,
		"daemon disconnect drops remote locks of every owner on the machine")
}

func TestRoot_Stash(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	daemon := connect(t, root)
	found, err := daemon.Restore(ctx, "mem://localhost/"+t.Name()+"/out/lib.a", "d1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, daemon.ClearStash(ctx))
	_, err = daemon.HashCode(ctx, "out/none")
	assert.Error(t, err)
}
