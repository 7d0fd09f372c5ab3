// Package ws carries network requests over a websocket. Each frame is a JSON
// envelope; requests and replies are matched by id so both ends can have many
// requests outstanding at once.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/megastructure/coordinator/internal/clock"
	"github.com/megastructure/coordinator/internal/idgen"
	"github.com/megastructure/coordinator/service/network"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const closeGrace = time.Second

// envelope is one frame. A request carries the caller's deadline; a cancel
// frame tells the peer the caller abandoned request ID.
type envelope struct {
	ID       uint64            `json:"id"`
	Kind     network.Kind      `json:"kind"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Deadline *time.Time        `json:"deadline,omitempty"`
	Cancel   bool              `json:"cancel,omitempty"`
	Reply    bool              `json:"reply,omitempty"`
	Response *network.Response `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Conn is a websocket backed network.Connection
type Conn struct {
	id      string
	ws      *websocket.Conn
	handler network.Handler
	logger  *log.Entry

	writeMu sync.Mutex
	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan envelope
	serving map[uint64]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Option customises a Conn
type Option func(c *Conn)

// WithLogger sets the logger
func WithLogger(logger *log.Entry) Option {
	return func(c *Conn) {
		c.logger = logger
	}
}

// WithHandler sets the handler serving requests from the peer
func WithHandler(handler network.Handler) Option {
	return func(c *Conn) {
		c.handler = handler
	}
}

// New wraps an established websocket and starts reading from it
func New(socket *websocket.Conn, options ...Option) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	ret := &Conn{
		id:      idgen.WithPrefix("ws"),
		ws:      socket,
		pending: make(map[uint64]chan envelope),
		serving: make(map[uint64]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  log.NewEntry(log.StandardLogger()),
	}
	for _, option := range options {
		option(ret)
	}
	ret.logger = ret.logger.WithFields(log.Fields{"component": "ws", "connection": ret.id})
	go ret.read()
	return ret
}

// Dial connects to a websocket endpoint
func Dial(ctx context.Context, URL string, options ...Option) (*Conn, error) {
	socket, _, err := websocket.DefaultDialer.DialContext(ctx, URL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %v", URL)
	}
	return New(socket, options...), nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Upgrade upgrades an HTTP request to a websocket connection
func Upgrade(w http.ResponseWriter, r *http.Request, options ...Option) (*Conn, error) {
	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upgrade websocket")
	}
	return New(socket, options...), nil
}

// ID returns the connection id
func (c *Conn) ID() string { return c.id }

// Done is closed once the connection is closed
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close closes the socket, failing outstanding requests
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		close(c.done)
		closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, closing, clock.Now().Add(closeGrace))
		err = c.ws.Close()
	})
	return err
}

// Request sends req and waits for the matching reply
func (c *Conn) Request(ctx context.Context, req network.Request) (network.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return network.Response{}, errors.Wrapf(err, "failed to encode %v", req.Kind())
	}
	id := c.nextID.Inc()
	replies := make(chan envelope, 1)
	c.mu.Lock()
	c.pending[id] = replies
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	message := &envelope{ID: id, Kind: req.Kind(), Payload: payload}
	if deadline, ok := ctx.Deadline(); ok {
		message.Deadline = &deadline
	}
	if err = c.write(message); err != nil {
		return network.Response{}, err
	}
	select {
	case reply := <-replies:
		return decodeReply(req.Kind(), reply)
	case <-ctx.Done():
		select {
		case reply := <-replies:
			return decodeReply(req.Kind(), reply)
		default:
		}
		if err := c.write(&envelope{ID: id, Kind: req.Kind(), Cancel: true}); err != nil {
			c.logger.WithError(err).WithField("kind", req.Kind()).Debug("failed to cancel request")
		}
		return network.Response{}, ctx.Err()
	case <-c.done:
		return network.Response{}, network.ErrConnectionClosed
	}
}

func decodeReply(kind network.Kind, reply envelope) (network.Response, error) {
	if reply.Error != "" {
		return network.Response{}, &network.RemoteError{Kind: kind, Message: reply.Error}
	}
	if reply.Response == nil {
		return network.Response{}, nil
	}
	return *reply.Response, nil
}

func (c *Conn) write(message *envelope) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %v envelope", message.Kind)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return network.ErrConnectionClosed
	default:
	}
	if err = c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(network.ErrConnectionClosed, err.Error())
	}
	return nil
}

func (c *Conn) read() {
	defer func() { _ = c.Close() }()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.done:
				default:
					c.logger.WithError(err).Debug("read failed")
				}
			}
			return
		}
		message := envelope{}
		if err = json.Unmarshal(data, &message); err != nil {
			c.logger.WithError(err).Warn("dropping malformed envelope")
			continue
		}
		switch {
		case message.Reply:
			c.deliver(message)
		case message.Cancel:
			c.abandon(message.ID)
		default:
			ctx, cancel := c.requestContext(message)
			go c.serve(ctx, cancel, message)
		}
	}
}

// requestContext registers the context a request is served under, bounded by
// the caller's deadline and cancelled by a cancel frame. It runs on the read
// loop, before any later cancel frame is read.
func (c *Conn) requestContext(message envelope) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if message.Deadline != nil {
		ctx, cancel = context.WithDeadline(c.ctx, *message.Deadline)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	c.mu.Lock()
	c.serving[message.ID] = cancel
	c.mu.Unlock()
	return ctx, cancel
}

func (c *Conn) abandon(id uint64) {
	c.mu.Lock()
	cancel, ok := c.serving[id]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Conn) deliver(message envelope) {
	c.mu.Lock()
	replies, ok := c.pending[message.ID]
	c.mu.Unlock()
	if !ok {
		c.logger.WithField("id", message.ID).Debug("reply for abandoned request")
		return
	}
	replies <- message
}

func (c *Conn) serve(ctx context.Context, cancel context.CancelFunc, message envelope) {
	defer func() {
		c.mu.Lock()
		delete(c.serving, message.ID)
		c.mu.Unlock()
		cancel()
	}()
	reply := &envelope{ID: message.ID, Kind: message.Kind, Reply: true}
	response, err := c.handle(ctx, message)
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Response = &response
	}
	if err = c.write(reply); err != nil {
		c.logger.WithError(err).WithField("kind", message.Kind).Debug("failed to write reply")
	}
}

func (c *Conn) handle(ctx context.Context, message envelope) (response network.Response, err error) {
	if c.handler == nil {
		return response, errors.Wrapf(network.ErrUnexpectedRequest, "%v", message.Kind)
	}
	req, err := network.DecodeRequest(message.Kind, message.Payload)
	if err != nil {
		return response, err
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("kind", message.Kind).Errorf("handler panic: %v", r)
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler.Handle(ctx, c, req)
}
