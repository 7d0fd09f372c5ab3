package memory

import (
	"context"
	"testing"
	"time"

	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/service/network"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPair_Request(t *testing.T) {
	var served network.Connection
	root := network.HandlerFunc(func(ctx context.Context, conn network.Connection, req network.Request) (network.Response, error) {
		served = conn
		switch actual := req.(type) {
		case network.EnroleDaemon:
			return network.Response{MachineID: 7}, nil
		case network.EnroleLeafWithRoot:
			return network.Response{MP: mpo.NewMP(actual.Daemon, 3)}, nil
		}
		return network.Response{}, network.ErrUnexpectedRequest
	})
	daemon, rootSide := Pair(nil, root)
	defer daemon.Close()

	response, err := daemon.Request(context.Background(), network.EnroleDaemon{})
	require.NoError(t, err)
	assert.EqualValues(t, 7, response.MachineID)
	assert.Equal(t, rootSide.ID(), served.ID())

	response, err = daemon.Request(context.Background(), network.EnroleLeafWithRoot{Daemon: 7})
	require.NoError(t, err)
	assert.Equal(t, mpo.NewMP(7, 3), response.MP)

	_, err = daemon.Request(context.Background(), network.StashClear{})
	var remote *network.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, network.KindStashClear, remote.Kind)

	_, err = rootSide.Request(context.Background(), network.EnroleDaemon{})
	require.True(t, errors.As(err, &remote), "no handler on the daemon side")
}

func TestPair_PanicBecomesRemoteError(t *testing.T) {
	a, _ := Pair(nil, network.HandlerFunc(func(ctx context.Context, conn network.Connection, req network.Request) (network.Response, error) {
		panic("boom")
	}))
	defer a.Close()
	_, err := a.Request(context.Background(), network.EnroleDaemon{})
	var remote *network.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Contains(t, remote.Message, "boom")
}

func TestPair_CloseReleasesRequests(t *testing.T) {
	started := make(chan struct{})
	handlerDone := make(chan error, 1)
	a, b := Pair(nil, network.HandlerFunc(func(ctx context.Context, conn network.Connection, req network.Request) (network.Response, error) {
		close(started)
		<-ctx.Done()
		handlerDone <- ctx.Err()
		return network.Response{}, ctx.Err()
	}))

	errs := make(chan error, 1)
	go func() {
		_, err := a.Request(context.Background(), network.JobReadyForWork{RunID: "r"})
		errs <- err
	}()
	<-started
	require.NoError(t, b.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, network.ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("request not released by close")
	}
	assert.Error(t, <-handlerDone, "handler context cancelled by close")

	<-a.Done()
	_, err := a.Request(context.Background(), network.EnroleDaemon{})
	assert.ErrorIs(t, err, network.ErrConnectionClosed)
}

func TestPair_ContextCancel(t *testing.T) {
	a, _ := Pair(nil, network.HandlerFunc(func(ctx context.Context, conn network.Connection, req network.Request) (network.Response, error) {
		<-ctx.Done()
		return network.Response{}, ctx.Err()
	}))
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Request(ctx, network.EnroleDaemon{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
