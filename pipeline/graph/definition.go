package graph

import (
	"context"

	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type (
	// Definition describes a pipeline as a list of tasks with dependencies
	Definition struct {
		PipelineID string `json:"id" yaml:"id"`
		Tasks      []Task `json:"tasks" yaml:"tasks"`
	}

	// Task is one task of a definition
	Task struct {
		Name        string   `json:"name" yaml:"name"`
		Fingerprint string   `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
		DependsOn   []string `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	}
)

// DecodeYAML decodes and validates a definition
func DecodeYAML(encoded []byte) (*Definition, error) {
	ret := &Definition{}
	if err := yaml.Unmarshal(encoded, ret); err != nil {
		return nil, errors.Wrap(err, "graph: invalid pipeline definition")
	}
	if _, err := ret.Graph(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Graph builds a fresh validated graph
func (d *Definition) Graph() (*Graph, error) {
	ret := New()
	for _, task := range d.Tasks {
		if err := ret.AddTask(pipeline.TaskDescriptor{Name: task.Name, Fingerprint: task.Fingerprint}, task.DependsOn...); err != nil {
			return nil, errors.Wrapf(err, "pipeline %v", d.PipelineID)
		}
	}
	if err := ret.Validate(); err != nil {
		return nil, errors.Wrapf(err, "pipeline %v", d.PipelineID)
	}
	return ret, nil
}

// ID returns the pipeline id
func (d *Definition) ID() string {
	return d.PipelineID
}

// Schedule returns a new schedule for one run
func (d *Definition) Schedule(_ context.Context) (pipeline.Schedule, error) {
	return d.Graph()
}

var _ pipeline.Pipeline = (*Definition)(nil)
