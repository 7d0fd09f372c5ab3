package network

import "context"

// Connection is one peer link. Both ends may issue requests; each request
// blocks until the peer responds, ctx is done or the link closes.
type Connection interface {
	// ID identifies the connection within its registry
	ID() string

	// Request sends req and waits for the peer's response
	Request(ctx context.Context, req Request) (Response, error)

	// Close closes the link, failing outstanding requests
	Close() error

	// Done is closed once the link is closed
	Done() <-chan struct{}
}

// Handler serves requests arriving on conn. Each request is served on its
// own goroutine.
type Handler interface {
	Handle(ctx context.Context, conn Connection, req Request) (Response, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, conn Connection, req Request) (Response, error)

// Handle calls fn
func (fn HandlerFunc) Handle(ctx context.Context, conn Connection, req Request) (Response, error) {
	return fn(ctx, conn, req)
}
