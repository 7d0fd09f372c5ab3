package graph

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/service/meta"
	"github.com/pkg/errors"
	"github.com/viant/afs/url"
)

// Registry resolves pipeline definitions by id from <baseURL>/<id>.yaml and
// caches them. A configuration carrying a payload is decoded as an inline
// definition instead.
type Registry struct {
	baseURL string
	meta    *meta.Service
	mu      sync.RWMutex
	cache   map[string]*Definition
}

// NewRegistry creates a registry rooted at baseURL
func NewRegistry(baseURL string, metaService *meta.Service) *Registry {
	if metaService == nil {
		metaService = meta.New(nil)
	}
	return &Registry{
		baseURL: baseURL,
		meta:    metaService,
		cache:   make(map[string]*Definition),
	}
}

// Pipeline returns the definition selected by configuration
func (r *Registry) Pipeline(ctx context.Context, _ pipeline.ToolChain, configuration pipeline.Configuration) (pipeline.Pipeline, error) {
	if len(configuration.Payload) > 0 {
		definition, err := DecodeYAML(configuration.Payload)
		if err != nil {
			return nil, err
		}
		if definition.PipelineID == "" {
			definition.PipelineID = configuration.PipelineID
		}
		return definition, nil
	}
	return r.Load(ctx, configuration.PipelineID)
}

// Load returns the cached definition or loads it from storage
func (r *Registry) Load(ctx context.Context, pipelineID string) (*Definition, error) {
	r.mu.RLock()
	definition, ok := r.cache[pipelineID]
	r.mu.RUnlock()
	if ok {
		return definition, nil
	}
	return r.Refresh(ctx, pipelineID)
}

// Refresh reloads a definition from storage, replacing the cached one
func (r *Registry) Refresh(ctx context.Context, pipelineID string) (*Definition, error) {
	if pipelineID == "" || strings.Contains(pipelineID, "..") {
		return nil, errors.Errorf("graph: invalid pipeline id %q", pipelineID)
	}
	URL := r.definitionURL(pipelineID)
	exists, err := r.meta.Exists(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check %v", URL)
	}
	if !exists {
		return nil, errors.Wrapf(ErrPipelineNotFound, "%v", URL)
	}
	data, err := r.meta.Download(ctx, URL)
	if err != nil {
		return nil, err
	}
	definition, err := DecodeYAML(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %v", URL)
	}
	if definition.PipelineID == "" {
		definition.PipelineID = pipelineID
	}
	r.Upsert(definition)
	return definition, nil
}

// Upsert places a definition in the cache under its id
func (r *Registry) Upsert(definition *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[definition.PipelineID] = definition
}

// Evict drops a cached definition
func (r *Registry) Evict(pipelineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, pipelineID)
}

func (r *Registry) definitionURL(pipelineID string) string {
	name := pipelineID
	if filepath.Ext(name) == "" {
		name += ".yaml"
	}
	return url.Join(r.baseURL, name)
}

var _ pipeline.Registry = (*Registry)(nil)
