package status_test

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/megastructure/coordinator"
	"github.com/megastructure/coordinator/model/mpo"
	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/service/network/ws"
	"github.com/megastructure/coordinator/service/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	_ "github.com/viant/afs/embed"
)

//go:embed testdata/*
var embedFS embed.FS

type fixture struct {
	root   *coordinator.Root
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	config := coordinator.DefaultConfig()
	config.Pipelines.URL = "embed:///testdata/pipelines"
	config.Stash.URL = "mem://localhost/" + t.Name() + "/stash"
	config.Scheduler.StallTimeout = 5 * time.Second
	root, err := coordinator.New(context.Background(),
		coordinator.WithConfig(config),
		coordinator.WithFS(afs.New()),
		coordinator.WithMetaFsOptions(&embedFS))
	require.NoError(t, err)
	server := httptest.NewServer(status.NewEngine(status.NewHandlers(root, nil)))
	t.Cleanup(func() {
		_ = root.Close()
		server.Close()
	})
	return &fixture{root: root, server: server}
}

// daemon connects a daemon to the fixture through the websocket endpoint
func (f *fixture) daemon(t *testing.T, options ...coordinator.DaemonOption) *coordinator.Daemon {
	ctx := context.Background()
	daemon := coordinator.NewDaemon(options...)
	URL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/connect"
	conn, err := ws.Dial(ctx, URL, ws.WithHandler(daemon))
	require.NoError(t, err)
	require.NoError(t, daemon.Connect(ctx, conn))
	t.Cleanup(func() { _ = daemon.Close() })
	return daemon
}

func (f *fixture) get(t *testing.T, path string, target interface{}) int {
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp.StatusCode
}

func TestHandlers_Identity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	daemon := f.daemon(t)
	leaf, err := daemon.NewLeaf(ctx)
	require.NoError(t, err)
	owner, err := daemon.NewOwner(ctx, leaf)
	require.NoError(t, err)
	addr, err := daemon.Allocate(ctx, owner, mpo.RootTypeID)
	require.NoError(t, err)

	var machines status.MachinesResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/v1/status/machines", &machines))
	assert.Equal(t, []mpo.MachineID{0}, machines.Machines)

	var machine status.MachineResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/v1/status/machines/0", &machine))
	assert.Equal(t, []string{leaf.String()}, machine.Processes)

	var process status.ProcessResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/v1/status/processes/0/0", &process))
	assert.Equal(t, []string{owner.String()}, process.Owners)

	var addresses status.AddressesResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/v1/status/addresses?owner="+owner.String(), &addresses))
	assert.Equal(t, 1, addresses.Allocated)
	assert.Equal(t, []mpo.NetworkAddress{addr}, addresses.Owned)

	var resolved status.AddressResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/v1/status/addresses/1", &resolved))
	assert.Equal(t, owner.String(), resolved.Owner)
}

func TestHandlers_Errors(t *testing.T) {
	f := newFixture(t)
	var testCases = []struct {
		description string
		path        string
		expectCode  int
	}{
		{description: "unknown machine", path: "/v1/status/machines/7", expectCode: http.StatusNotFound},
		{description: "malformed machine", path: "/v1/status/machines/x", expectCode: http.StatusBadRequest},
		{description: "unknown process", path: "/v1/status/processes/7/0", expectCode: http.StatusNotFound},
		{description: "process out of range", path: "/v1/status/processes/0/300", expectCode: http.StatusBadRequest},
		{description: "malformed owner", path: "/v1/status/addresses?owner=1.2", expectCode: http.StatusBadRequest},
		{description: "unallocated address", path: "/v1/status/addresses/42", expectCode: http.StatusNotFound},
	}
	for _, testCase := range testCases {
		var body status.ErrorResponse
		code := f.get(t, testCase.path, &body)
		assert.Equal(t, testCase.expectCode, code, testCase.description)
		assert.NotEmpty(t, body.Error, testCase.description)
	}
}

func TestHandlers_Run(t *testing.T) {
	f := newFixture(t)
	executed := make(chan string, 4)
	f.daemon(t, coordinator.WithWorkers(2), coordinator.WithExecutor(pipeline.ExecutorFunc(
		func(ctx context.Context, task pipeline.TaskDescriptor) (pipeline.TaskResult, error) {
			executed <- task.Name
			return pipeline.TaskResult{Success: true}, nil
		})))

	body, err := json.Marshal(status.RunRequest{PipelineID: "build"})
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+"/v1/pipeline/run", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var result pipeline.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, result.Success, result.Message)
	assert.Len(t, executed, 2)

	var runs status.RunsResponse
	assert.Equal(t, http.StatusOK, f.get(t, "/v1/pipeline/runs", &runs))
	assert.Empty(t, runs.Active)
	require.Len(t, runs.History, 1)
	assert.Equal(t, "build", runs.History[0].PipelineID)
}

func TestHandlers_RunRejected(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.server.URL+"/v1/pipeline/run", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, err := json.Marshal(status.RunRequest{PipelineID: "build"})
	require.NoError(t, err)
	resp, err = http.Post(f.server.URL+"/v1/pipeline/run", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "no daemons means no workers")
}

func TestHandlers_Metrics(t *testing.T) {
	f := newFixture(t)
	f.daemon(t)
	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "megastructure_machines")
}

func TestServer_ListenAndServe(t *testing.T) {
	config := coordinator.DefaultConfig()
	config.Server.Listen = "127.0.0.1:0"
	config.Server.ShutdownTimeout = time.Second
	config.Stash.URL = "mem://localhost/" + t.Name() + "/stash"
	config.Pipelines.URL = "mem://localhost/" + t.Name() + "/pipelines"
	root, err := coordinator.New(context.Background(), coordinator.WithConfig(config), coordinator.WithFS(afs.New()))
	require.NoError(t, err)
	defer root.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- status.NewServer(root, nil).ListenAndServe(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
