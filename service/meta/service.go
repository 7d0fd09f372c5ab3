// Package meta loads YAML or JSON documents such as the coordinator
// configuration and pipeline definitions from any afs supported location.
// ${env.KEY} expressions are expanded before decoding.
package meta

import (
	"context"

	"github.com/pkg/errors"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"gopkg.in/yaml.v3"
)

// Service loads documents
type Service struct {
	fs      afs.Service
	options []storage.Option
}

// New creates a meta service; a nil fs uses afs.New(). Options such as an
// embed.FS are passed to every storage call.
func New(fs afs.Service, options ...storage.Option) *Service {
	if fs == nil {
		fs = afs.New()
	}
	return &Service{fs: fs, options: options}
}

// FS returns the underlying storage service
func (s *Service) FS() afs.Service {
	return s.fs
}

// Exists reports whether URL exists
func (s *Service) Exists(ctx context.Context, URL string) (bool, error) {
	return s.fs.Exists(ctx, URL, s.options...)
}

// Download returns the document at URL with environment expressions expanded
func (s *Service) Download(ctx context.Context, URL string) ([]byte, error) {
	data, err := s.fs.DownloadWithURL(ctx, URL, s.options...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download %v", URL)
	}
	return []byte(expandEnvExpr(string(data))), nil
}

// Load decodes the YAML (or JSON) document at URL into dest
func (s *Service) Load(ctx context.Context, URL string, dest interface{}) error {
	data, err := s.Download(ctx, URL)
	if err != nil {
		return err
	}
	if err = yaml.Unmarshal(data, dest); err != nil {
		return errors.Wrapf(err, "failed to decode %v", URL)
	}
	return nil
}
