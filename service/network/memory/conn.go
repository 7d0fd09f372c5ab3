// Package memory links two network endpoints inside one process. It backs
// tests and single binary deployments where the root and a daemon share an
// address space.
package memory

import (
	"context"
	"sync"

	"github.com/megastructure/coordinator/internal/idgen"
	"github.com/megastructure/coordinator/service/network"
	"github.com/pkg/errors"
)

// link is the state both endpoints share
type link struct {
	once   sync.Once
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func (l *link) close() {
	l.once.Do(func() {
		l.cancel()
		close(l.done)
	})
}

// Conn is one endpoint of an in-process link
type Conn struct {
	id      string
	link    *link
	peer    *Conn
	handler network.Handler
}

// Pair links two endpoints; requests issued on a are served by bHandler on b
// and the other way round. Either handler may be nil if that side never
// receives requests.
func Pair(aHandler, bHandler network.Handler) (*Conn, *Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	shared := &link{done: make(chan struct{}), ctx: ctx, cancel: cancel}
	a := &Conn{id: idgen.WithPrefix("mem"), link: shared, handler: aHandler}
	b := &Conn{id: idgen.WithPrefix("mem"), link: shared, handler: bHandler}
	a.peer, b.peer = b, a
	return a, b
}

// ID returns the endpoint id
func (c *Conn) ID() string { return c.id }

// Done is closed once either endpoint is closed
func (c *Conn) Done() <-chan struct{} { return c.link.done }

// Close closes the link, failing outstanding requests on both endpoints
func (c *Conn) Close() error {
	c.link.close()
	return nil
}

type reply struct {
	response network.Response
	err      error
}

// Request serves req on the peer and waits for its response. Handler errors
// come back as *network.RemoteError, as they would over a wire.
func (c *Conn) Request(ctx context.Context, req network.Request) (network.Response, error) {
	select {
	case <-c.link.done:
		return network.Response{}, network.ErrConnectionClosed
	default:
	}
	peer := c.peer
	if peer.handler == nil {
		return network.Response{}, &network.RemoteError{Kind: req.Kind(), Message: network.ErrUnexpectedRequest.Error()}
	}
	handlerCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.link.ctx, cancel)
	replies := make(chan reply, 1)
	go func() {
		defer stop()
		defer cancel()
		response, err := serve(handlerCtx, peer, req)
		replies <- reply{response: response, err: err}
	}()
	select {
	case r := <-replies:
		if r.err != nil {
			return network.Response{}, &network.RemoteError{Kind: req.Kind(), Message: r.err.Error()}
		}
		return r.response, nil
	case <-ctx.Done():
		return network.Response{}, ctx.Err()
	case <-c.link.done:
		return network.Response{}, network.ErrConnectionClosed
	}
}

func serve(ctx context.Context, conn *Conn, req network.Request) (response network.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	return conn.handler.Handle(ctx, conn, req)
}
