// Package status exposes a root over HTTP: identity and address reports,
// pipeline runs, Prometheus metrics and the websocket endpoint daemons
// connect to.
package status

import (
	"context"
	"net/http"
	"time"

	"github.com/megastructure/coordinator"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Server serves the status API until its context is done
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
	logger          *log.Entry
}

// NewServer creates a server for root listening on the configured address
func NewServer(root *coordinator.Root, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	config := root.Config()
	return &Server{
		server: &http.Server{
			Addr:              config.Server.Listen,
			Handler:           NewEngine(NewHandlers(root, logger)),
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: config.Server.ShutdownTimeout,
		logger:          logger.WithField("component", "status"),
	}
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		s.logger.WithField("listen", s.server.Addr).Info("status server listening")
		errs <- s.server.ListenAndServe()
	}()
	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "status server failed")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "status server shutdown")
	}
	return nil
}
