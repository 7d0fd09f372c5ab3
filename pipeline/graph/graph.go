// Package graph provides the dependency graph schedule used to drive pipeline
// runs, together with the YAML definitions it is built from.
package graph

import (
	"sync"

	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/pkg/errors"
)

type node struct {
	task      pipeline.TaskDescriptor
	dependsOn []string
}

// Graph is a pipeline.Schedule over named tasks. Ready lists tasks in the
// order they were added.
type Graph struct {
	mu        sync.RWMutex
	nodes     []*node
	index     map[string]*node
	completed map[string]bool
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		index:     make(map[string]*node),
		completed: make(map[string]bool),
	}
}

// AddTask adds a task that becomes ready once every task in dependsOn completed
func (g *Graph) AddTask(task pipeline.TaskDescriptor, dependsOn ...string) error {
	if task.Name == "" {
		return errors.New("graph: task name is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.index[task.Name]; ok {
		return errors.Wrapf(ErrDuplicateTask, "task %v", task.Name)
	}
	aNode := &node{task: task, dependsOn: append([]string(nil), dependsOn...)}
	g.nodes = append(g.nodes, aNode)
	g.index[task.Name] = aNode
	return nil
}

// Validate checks that every dependency exists and that there are no cycles
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, aNode := range g.nodes {
		for _, dep := range aNode.dependsOn {
			if _, ok := g.index[dep]; !ok {
				return errors.Wrapf(ErrUnknownDependency, "%v depends on %v", aNode.task.Name, dep)
			}
		}
	}
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(g.nodes))
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return errors.Wrapf(ErrCycle, "at %v", name)
		case visited:
			return nil
		}
		state[name] = visiting
		for _, dep := range g.index[name].dependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = visited
		return nil
	}
	for _, aNode := range g.nodes {
		if err := visit(aNode.task.Name); err != nil {
			return err
		}
	}
	return nil
}

// Ready returns incomplete tasks whose dependencies have all completed
func (g *Graph) Ready() []pipeline.TaskDescriptor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ret []pipeline.TaskDescriptor
	for _, aNode := range g.nodes {
		if g.completed[aNode.task.Name] {
			continue
		}
		ready := true
		for _, dep := range aNode.dependsOn {
			if !g.completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			ret = append(ret, aNode.task)
		}
	}
	return ret
}

// Complete marks a task done. Unknown tasks are ignored.
func (g *Graph) Complete(task pipeline.TaskDescriptor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.index[task.Name]; ok {
		g.completed[task.Name] = true
	}
}

// IsComplete reports whether every task completed
func (g *Graph) IsComplete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.completed) == len(g.nodes)
}

// Completed returns the completed tasks in insertion order
func (g *Graph) Completed() []pipeline.TaskDescriptor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ret []pipeline.TaskDescriptor
	for _, aNode := range g.nodes {
		if g.completed[aNode.task.Name] {
			ret = append(ret, aNode.task)
		}
	}
	return ret
}

// Len returns the number of tasks
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

var _ pipeline.Schedule = (*Graph)(nil)
