// Package rpc implements request/response calls over a broadcast transport.
//
// A call publishes an execute message with a fresh correlation id and waits
// for the first callback carrying that id. Every endpoint on the channel sees
// every message, so callbacks for unknown ids are normal and are dropped.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/broadcast"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/protocol"
)

// DefaultTimeout bounds a call when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

var (
	// ErrTimeout is wrapped by errors of calls that got no callback in time.
	ErrTimeout = errors.New("rpc: call timed out")
	// ErrClosed is returned by calls on, or pending at, a closed channel.
	ErrClosed = errors.New("rpc: channel closed")
)

// RemoteError is a failure reported by the endpoint that served a call.
type RemoteError struct {
	Name    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc %s: %s", e.Name, e.Message)
}

// Handler serves one named function. The returned string becomes the
// callback payload; a non-nil error becomes a failure callback.
type Handler func(ctx context.Context, payload string) (string, error)

// Caller is the calling half of a Channel.
type Caller interface {
	Call(ctx context.Context, name, payload string) (string, error)
}

// Options configures a Channel.
type Options struct {
	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
	// Broadcaster identifies this endpoint in callbacks. Defaults to the
	// transport id.
	Broadcaster string
	// IgnoreUnknown suppresses failure callbacks for functions this channel
	// has not registered. Useful for pure callers sharing a channel with
	// other callers, whose failures would otherwise race the real host.
	IgnoreUnknown bool
}

type result struct {
	payload string
	failed  bool
	err     error
}

type pendingCall struct {
	result chan result
	timer  *time.Timer
}

// Channel sends and serves calls over a broadcast transport.
type Channel struct {
	tr            broadcast.Transport
	timeout       time.Duration
	broadcaster   string
	ignoreUnknown bool
	log           *zap.Logger

	mu       sync.Mutex
	pending  map[string]*pendingCall
	handlers map[string]Handler
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Caller = (*Channel)(nil)

// New starts a channel listening on tr. The channel owns tr and closes it
// on Close.
func New(tr broadcast.Transport, opts Options) *Channel {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Broadcaster == "" {
		opts.Broadcaster = tr.ID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		tr:            tr,
		timeout:       opts.Timeout,
		broadcaster:   opts.Broadcaster,
		ignoreUnknown: opts.IgnoreUnknown,
		log:           logging.Named("rpc").With(zap.String("endpoint", tr.ID())),
		pending:       make(map[string]*pendingCall),
		handlers:      make(map[string]Handler),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	go c.listen()
	return c
}

// Register serves name with h, replacing any earlier handler.
func (c *Channel) Register(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = h
}

// Call invokes name on whichever endpoint answers first.
func (c *Channel) Call(ctx context.Context, name, payload string) (string, error) {
	start := time.Now()
	id := uuid.NewString()
	pc := &pendingCall{result: make(chan result, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.pending[id] = pc
	pc.timer = time.AfterFunc(c.timeout, func() {
		c.settle(id, result{err: fmt.Errorf("%w: %s after %s", ErrTimeout, name, c.timeout)})
	})
	metrics.SetRPCPending(len(c.pending))
	c.mu.Unlock()

	data, err := protocol.Encode(protocol.NewExecute(name, payload, id))
	if err == nil {
		err = c.tr.Publish(ctx, data)
	}
	if err != nil {
		c.remove(id)
		metrics.RecordRPCCall(name, "failure", time.Since(start))
		return "", fmt.Errorf("rpc %s: publish: %w", name, err)
	}

	select {
	case r := <-pc.result:
		if r.failed {
			r.err = &RemoteError{Name: name, Message: r.payload}
			r.payload = ""
		}
		metrics.RecordRPCCall(name, outcome(r.err), time.Since(start))
		return r.payload, r.err
	case <-ctx.Done():
		c.remove(id)
		metrics.RecordRPCCall(name, "canceled", time.Since(start))
		return "", ctx.Err()
	}
}

// Pending returns the number of calls awaiting a callback.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops listening, closes the transport and fails pending calls.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	err := c.tr.Close()
	<-c.done
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "failure"
	}
}

// settle completes the pending call id with r. Only the first settle for an
// id has any effect.
func (c *Channel) settle(id string, r result) bool {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		pc.timer.Stop()
		metrics.SetRPCPending(len(c.pending))
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	pc.result <- r
	return true
}

func (c *Channel) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pc, ok := c.pending[id]; ok {
		pc.timer.Stop()
		delete(c.pending, id)
		metrics.SetRPCPending(len(c.pending))
	}
}

func (c *Channel) listen() {
	defer close(c.done)

	for data := range c.tr.Messages() {
		c.handle(data)
	}

	c.mu.Lock()
	c.closed = true
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.settle(id, result{err: ErrClosed})
	}
}

func (c *Channel) handle(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		metrics.RecordBroadcast("malformed")
		c.log.Warn("dropping malformed message", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}

	switch msg.Operation {
	case protocol.OpExecute:
		go c.execute(msg)
	case protocol.OpCallback:
		r := result{payload: msg.PayloadString(), failed: !msg.Succeeded()}
		if !c.settle(msg.CorrelationID, r) {
			c.log.Debug("ignoring callback for unknown call",
				zap.String("correlation_id", msg.CorrelationID),
				zap.String("broadcaster", msg.Broadcaster))
		}
	}
}

func (c *Channel) execute(msg protocol.Message) {
	c.mu.Lock()
	h, ok := c.handlers[msg.Name]
	c.mu.Unlock()

	var reply protocol.Message
	if !ok {
		if c.ignoreUnknown {
			return
		}
		c.log.Debug("no handler for function", zap.String("function", msg.Name))
		reply = protocol.NewCallback(msg.CorrelationID, c.broadcaster, false,
			"no function registered: "+msg.Name)
	} else {
		out, err := h(c.ctx, msg.PayloadString())
		metrics.RecordRPCExecution(msg.Name, err == nil)
		if err != nil {
			c.log.Debug("function failed",
				zap.String("function", msg.Name),
				zap.String("payload", msg.PayloadString()),
				zap.Error(err))
			reply = protocol.NewCallback(msg.CorrelationID, c.broadcaster, false, err.Error())
		} else {
			reply = protocol.NewCallback(msg.CorrelationID, c.broadcaster, true, out)
		}
	}

	data, err := protocol.Encode(reply)
	if err != nil {
		c.log.Error("encode callback", zap.Error(err))
		return
	}
	if err := c.tr.Publish(c.ctx, data); err != nil && c.ctx.Err() == nil {
		c.log.Warn("publish callback failed",
			zap.String("function", msg.Name),
			zap.Error(err))
	}
}
