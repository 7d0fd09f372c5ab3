// Package stash keeps build artefacts keyed by the determinant of their
// inputs so an unchanged task can restore its output instead of rebuilding
// it, and accumulates the hash codes of the files built during a pipeline
// run.
package stash

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/megastructure/coordinator/model/pipeline"
	"github.com/megastructure/coordinator/service/dao/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// HashCode records the hash of one built file
type HashCode struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Service is the stash and build hash code accumulator
type Service struct {
	baseURL string
	fs      afs.Service
	codes   *store.MemoryStore[string, HashCode]
	logger  *log.Entry
}

// Option customises the stash
type Option func(s *Service)

// WithFS sets the storage service
func WithFS(fs afs.Service) Option {
	return func(s *Service) {
		s.fs = fs
	}
}

// WithLogger sets the logger
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a stash rooted at baseURL
func New(baseURL string, options ...Option) *Service {
	ret := &Service{
		baseURL: url.Normalize(baseURL, file.Scheme),
		codes:   store.NewMemoryStore[string, HashCode](func(h *HashCode) string { return h.Path }),
		logger:  log.NewEntry(log.StandardLogger()),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.fs == nil {
		ret.fs = afs.New()
	}
	ret.logger = ret.logger.WithField("component", "stash")
	return ret
}

// Clear removes every stashed artefact
func (s *Service) Clear(ctx context.Context) error {
	exists, err := s.fs.Exists(ctx, s.baseURL)
	if err != nil || !exists {
		return err
	}
	if err = s.fs.Delete(ctx, s.baseURL); err != nil {
		return errors.Wrapf(err, "failed to clear stash %v", s.baseURL)
	}
	s.logger.Info("stash cleared")
	return nil
}

// Stash copies the file at filePath into the stash under determinant
func (s *Service) Stash(ctx context.Context, filePath, determinant string) error {
	if determinant == "" {
		return ErrInvalidDeterminant
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to read %v", filePath)
	}
	URL := s.entryURL(filePath, determinant)
	if err = s.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "failed to stash %v", filePath)
	}
	return nil
}

// Restore copies a stashed artefact back to filePath and reports whether one
// existed for determinant
func (s *Service) Restore(ctx context.Context, filePath, determinant string) (bool, error) {
	if determinant == "" {
		return false, ErrInvalidDeterminant
	}
	URL := s.entryURL(filePath, determinant)
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil || !exists {
		return false, err
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read stashed %v", filePath)
	}
	if err = s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return false, errors.Wrapf(err, "failed to restore %v", filePath)
	}
	return true, nil
}

func (s *Service) entryURL(filePath, determinant string) string {
	_, location := url.Base(filePath, file.Scheme)
	name := strings.ReplaceAll(strings.Trim(location, "/"), "/", "_")
	return url.Join(s.baseURL, determinant, name)
}

// Reset forgets every recorded hash code
func (s *Service) Reset() {
	s.codes.Clear()
}

// HashCode returns the hash recorded for filePath during the current run
func (s *Service) HashCode(ctx context.Context, filePath string) (string, error) {
	code, err := s.codes.Load(ctx, filePath)
	if err != nil {
		return "", errors.Wrapf(ErrNoHashCode, "%v", filePath)
	}
	return code.Hash, nil
}

// SetHashCode records the hash of a built file
func (s *Service) SetHashCode(ctx context.Context, filePath, hash string) error {
	return s.codes.Save(ctx, &HashCode{Path: filePath, Hash: hash})
}

// Fingerprints returns a snapshot of the recorded hash codes
func (s *Service) Fingerprints() pipeline.Fingerprints {
	codes, _ := s.codes.List(context.Background())
	ret := make(pipeline.Fingerprints, len(codes))
	for _, code := range codes {
		ret[code.Path] = code.Hash
	}
	return ret
}

// Paths returns the files with recorded hash codes in ascending order
func (s *Service) Paths() []string {
	fingerprints := s.Fingerprints()
	ret := make([]string, 0, len(fingerprints))
	for path := range fingerprints {
		ret = append(ret, path)
	}
	sort.Strings(ret)
	return ret
}
