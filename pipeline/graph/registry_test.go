package graph

import (
	"bytes"
	"context"
	"testing"

	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/service/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

const buildYAML = `
id: build
tasks:
  - name: gen
    fingerprint: g1
  - name: compile
    fingerprint: c1
    dependsOn: [gen]
`

func TestRegistry_Pipeline(t *testing.T) {
	ctx := context.Background()
	fs := afs.New()
	baseURL := "mem://localhost/pipelines"
	require.NoError(t, fs.Upload(ctx, baseURL+"/build.yaml", file.DefaultFileOsMode, bytes.NewReader([]byte(buildYAML))))
	registry := NewRegistry(baseURL, meta.New(fs))

	aPipeline, err := registry.Pipeline(ctx, pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "build"})
	require.NoError(t, err)
	assert.Equal(t, "build", aPipeline.ID())
	schedule, err := aPipeline.Schedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, []pipeline.TaskDescriptor{{Name: "gen", Fingerprint: "g1"}}, schedule.Ready())

	another, err := aPipeline.Schedule(ctx)
	require.NoError(t, err)
	schedule.Complete(pipeline.TaskDescriptor{Name: "gen"})
	assert.Len(t, another.Ready(), 1, "each run gets a fresh schedule")

	_, err = registry.Pipeline(ctx, pipeline.ToolChain{}, pipeline.Configuration{PipelineID: "missing"})
	assert.ErrorIs(t, err, ErrPipelineNotFound)
	_, err = registry.Load(ctx, "../etc")
	assert.Error(t, err)
}

func TestRegistry_Refresh(t *testing.T) {
	ctx := context.Background()
	fs := afs.New()
	baseURL := "mem://localhost/refresh"
	URL := baseURL + "/deploy.yaml"
	require.NoError(t, fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader([]byte("tasks:\n  - name: a\n"))))
	registry := NewRegistry(baseURL, meta.New(fs))

	definition, err := registry.Load(ctx, "deploy")
	require.NoError(t, err)
	assert.Equal(t, "deploy", definition.PipelineID)
	assert.Len(t, definition.Tasks, 1)

	require.NoError(t, fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader([]byte("tasks:\n  - name: a\n  - name: b\n    dependsOn: [a]\n"))))
	cached, err := registry.Load(ctx, "deploy")
	require.NoError(t, err)
	assert.Len(t, cached.Tasks, 1)

	refreshed, err := registry.Refresh(ctx, "deploy")
	require.NoError(t, err)
	assert.Len(t, refreshed.Tasks, 2)

	registry.Evict("deploy")
	registry.Upsert(&Definition{PipelineID: "deploy"})
	empty, err := registry.Load(ctx, "deploy")
	require.NoError(t, err)
	assert.Empty(t, empty.Tasks)
}

func TestRegistry_InlinePayload(t *testing.T) {
	registry := NewRegistry("mem://localhost/none", nil)
	aPipeline, err := registry.Pipeline(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{
		PipelineID: "inline",
		Payload:    []byte("tasks:\n  - name: only\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "inline", aPipeline.ID())

	_, err = registry.Pipeline(context.Background(), pipeline.ToolChain{}, pipeline.Configuration{
		Payload: []byte("tasks:\n  - name: a\n    dependsOn: [b]\n"),
	})
	assert.ErrorIs(t, err, ErrUnknownDependency)
}
