package store

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"
	"sync"

	"github.com/megastructure/coordinator/service/dao"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
)

// FileStore persists entities as one JSON document per key under baseURL
// using any afs supported storage.
type FileStore[T any] struct {
	baseURL     string
	fs          afs.Service
	keySelector func(*T) string
	mu          sync.RWMutex
}

// NewFileStore creates a file store, creating baseURL when missing
func NewFileStore[T any](ctx context.Context, baseURL string, fs afs.Service, keySelector func(*T) string) (*FileStore[T], error) {
	if baseURL == "" {
		return nil, errors.New("store: base URL cannot be empty")
	}
	if fs == nil {
		fs = afs.New()
	}
	baseURL = url.Normalize(baseURL, file.Scheme)
	exists, _ := fs.Exists(ctx, baseURL)
	if !exists {
		if err := fs.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, errors.Wrapf(err, "failed to create %v", baseURL)
		}
	}
	return &FileStore[T]{baseURL: baseURL, fs: fs, keySelector: keySelector}, nil
}

// Save persists v
func (s *FileStore[T]) Save(ctx context.Context, v *T) error {
	if v == nil {
		return dao.ErrNilEntity
	}
	key := s.keySelector(v)
	if key == "" {
		return dao.ErrInvalidID
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %v", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	URL := s.path(key)
	if err = s.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "failed to save %v", URL)
	}
	return nil
}

// Load retrieves an entity by key
func (s *FileStore[T]) Load(ctx context.Context, key string) (*T, error) {
	if key == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	URL := s.path(key)
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check %v", URL)
	}
	if !exists {
		return nil, errors.Wrapf(dao.ErrNotFound, "%v", key)
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %v", URL)
	}
	ret := new(T)
	if err = json.Unmarshal(data, ret); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal %v", URL)
	}
	return ret, nil
}

// Delete removes an entity; deleting a missing key is not an error
func (s *FileStore[T]) Delete(ctx context.Context, key string) error {
	if key == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	URL := s.path(key)
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil || !exists {
		return err
	}
	return s.fs.Delete(ctx, URL)
}

// List returns every stored entity; unreadable documents are skipped
func (s *FileStore[T]) List(ctx context.Context, _ ...*dao.Parameter) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objects, err := s.fs.List(ctx, s.baseURL, option.NewRecursive(false))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %v", s.baseURL)
	}
	var ret []*T
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			log.WithError(err).WithField("url", object.URL()).Warn("skipping unreadable record")
			continue
		}
		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			log.WithError(err).WithField("url", object.URL()).Warn("skipping malformed record")
			continue
		}
		ret = append(ret, v)
	}
	return ret, nil
}

func (s *FileStore[T]) path(key string) string {
	return url.Join(s.baseURL, path.Base(key)+".json")
}

var _ dao.Service[string, struct{}] = (*FileStore[struct{}])(nil)
