// Package conn implements the full-duplex JSON-RPC 2.0 multiplexer described
// in spec.md §4.2 (Frame Codec) and §4.3 (Router): newline-delimited JSON
// framing over a pair of byte streams, outbound request/response matching
// keyed by a monotonic identifier, ordered notification fan-out to
// registered subscribers, and single-handler dispatch of inbound agent
// requests.
//
// Grounded on github.com/dmora/agentrun's engine/acp/conn.go, generalized
// per spec.md's Design Notes §9 ("Subscribers and closures"): subscribers
// are a handle-keyed set rather than a list of closures compared by identity.
package conn

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultRequestTimeout is the deadline spec.md §5 places on every
// outbound request.
const DefaultRequestTimeout = 60 * time.Second

// defaultMaxMessageSize bounds a single JSON-RPC frame. spec.md §6 states
// framing imposes no length limit; this is a DoS guard on the scanner
// buffer, not a protocol constraint — raised well past any realistic frame.
const defaultMaxMessageSize = 64 << 20 // 64 MiB

// ErrClosed is returned to callers whose request was pending when the
// connection's ReadLoop exited.
var ErrClosed = fmt.Errorf("conn: closed")

// RPCError is returned by Call when the agent's response carries an
// "error" object.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("acp: agent error %d: %s", e.Code, e.Message)
}

// TimeoutError is returned by Call when no response arrives before the
// request's deadline elapses.
type TimeoutError struct {
	Method string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("acp: %s: timed out", e.Method)
}

// SubscriptionID is an opaque handle returned by OnNotification, used to
// deregister a subscriber. Zero is never a valid handle.
type SubscriptionID uint64

// Conn is a bidirectional JSON-RPC 2.0 multiplexer over newline-delimited
// JSON streams. One Conn serializes writes via a mutex-protected encoder
// and dispatches reads in ReadLoop, which must run in its own goroutine
// and must be started exactly once.
type Conn struct {
	log *zap.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*pendingCall
	subs    []*subscriber
	nextSub uint64

	requestHandler func(method string, params json.RawMessage) (any, error)

	scanner *bufio.Scanner

	done    chan struct{}
	readErr atomic.Value

	requestTimeout time.Duration
}

type pendingCall struct {
	ch       chan *rpcMessage
	method   string
	deadline time.Time
}

type subscriber struct {
	id     uint64
	active atomic.Bool
	fn     func(method string, params json.RawMessage)
}

// Options configures a Conn.
type Options struct {
	Logger         *zap.Logger
	MaxMessageSize int
	RequestTimeout time.Duration
}

// New creates a JSON-RPC 2.0 connection reading from r and writing to w.
// Call ReadLoop in a goroutine to begin processing inbound messages; all
// registrations (OnNotification, OnRequest) should happen before ReadLoop
// starts to avoid racing the first inbound message.
func New(r io.Reader, w io.Writer, opts Options) *Conn {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxSize := opts.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	c := &Conn{
		log:            log,
		enc:            json.NewEncoder(w),
		pending:        make(map[int64]*pendingCall),
		done:           make(chan struct{}),
		requestTimeout: timeout,
	}
	c.scanner = bufio.NewScanner(r)
	c.scanner.Buffer(make([]byte, 0, min(4096, maxSize)), maxSize)
	return c
}

// OnNotification registers fn to receive every inbound notification in
// registration order until Unsubscribe is called with the returned handle.
// fn must not block — the reader is single-threaded and synchronous.
func (c *Conn) OnNotification(fn func(method string, params json.RawMessage)) SubscriptionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	sub := &subscriber{id: c.nextSub, fn: fn}
	sub.active.Store(true)
	c.subs = append(c.subs, sub)
	return SubscriptionID(sub.id)
}

// Unsubscribe deregisters a notification subscriber. Safe to call more
// than once, and safe to call from within the subscriber's own callback.
func (c *Conn) Unsubscribe(id SubscriptionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		if s.id == uint64(id) {
			s.active.Store(false)
			return
		}
	}
}

// OnRequest installs the single handler for inbound JSON-RPC requests
// (messages with both an id and a method). The handler runs in a
// dedicated goroutine per request so it never blocks ReadLoop. Must be
// called before ReadLoop starts.
func (c *Conn) OnRequest(fn func(method string, params json.RawMessage) (any, error)) {
	c.requestHandler = fn
}

// Call sends a JSON-RPC request and blocks until a response arrives, the
// request's deadline elapses, or ctx is cancelled — whichever happens
// first. result may be nil to discard the response payload.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	id := c.nextID.Add(1)
	ch := make(chan *rpcMessage, 1)
	c.mu.Lock()
	c.pending[id] = &pendingCall{ch: ch, method: method, deadline: time.Now().Add(c.requestTimeout)}
	c.mu.Unlock()

	req := &rpcMessage{JSONRPC: "2.0", ID: &id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			c.removePending(id)
			return fmt.Errorf("acp: marshal %s params: %w", method, err)
		}
		req.Params = raw
	}

	if err := c.write(req); err != nil {
		c.removePending(id)
		return fmt.Errorf("acp: send %s: %w", method, err)
	}

	select {
	case msg, ok := <-ch:
		return decodeResponse(msg, ok, method, result)
	case <-ctx.Done():
		c.removePending(id)
		// The response may have landed between the select's cases being
		// readied; prefer a successful result over a spurious timeout.
		select {
		case msg, ok := <-ch:
			return decodeResponse(msg, ok, method, result)
		default:
		}
		if ctx.Err() == context.DeadlineExceeded {
			return &TimeoutError{Method: method}
		}
		return ctx.Err()
	}
}

func (c *Conn) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func decodeResponse(msg *rpcMessage, ok bool, method string, result any) error {
	if !ok {
		return fmt.Errorf("acp: %s: %w", method, ErrClosed)
	}
	if msg.Error != nil {
		return &RPCError{Code: msg.Error.Code, Message: msg.Error.Message}
	}
	if result != nil && len(msg.Result) > 0 {
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return fmt.Errorf("acp: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// Notify sends a JSON-RPC notification (no id, no response expected).
func (c *Conn) Notify(method string, params any) error {
	msg := &rpcMessage{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("acp: marshal %s params: %w", method, err)
		}
		msg.Params = raw
	}
	return c.write(msg)
}

// ReadLoop reads and dispatches inbound messages until the reader returns
// EOF or an unrecoverable scan error. On exit every pending Call is
// failed with ErrClosed. Must run in its own goroutine, exactly once.
func (c *Conn) ReadLoop() {
	defer close(c.done)
	defer c.drainPending()

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.log.Debug("acp: malformed frame, discarding", zap.Error(err))
			continue
		}
		c.dispatch(&msg)
	}
	if err := c.scanner.Err(); err != nil {
		c.readErr.Store(err)
	}
}

// Err returns the ReadLoop's terminal scan error, if any, after it exits.
func (c *Conn) Err() error {
	if v := c.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Done is closed when ReadLoop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(v)
}

func (c *Conn) dispatch(msg *rpcMessage) {
	switch {
	case msg.ID != nil && msg.Method == "":
		c.handleResponse(msg)
	case msg.ID != nil && msg.Method != "":
		c.handleIncomingRequest(msg)
	case msg.Method != "":
		c.handleNotification(msg)
	}
}

func (c *Conn) handleResponse(msg *rpcMessage) {
	c.mu.Lock()
	p, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		return // duplicate or unsolicited — drop
	}
	p.ch <- msg
}

func (c *Conn) handleNotification(msg *rpcMessage) {
	c.mu.Lock()
	subs := make([]*subscriber, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		if s.active.Load() {
			s.fn(msg.Method, msg.Params)
		}
	}
}

func (c *Conn) handleIncomingRequest(msg *rpcMessage) {
	id := *msg.ID
	if c.requestHandler == nil {
		c.sendResult(id, struct{}{})
		return
	}
	method, params := msg.Method, msg.Params
	go func() {
		result, err := c.requestHandler(method, params)
		if err != nil {
			c.sendError(id, rpcInternalError, err.Error())
			return
		}
		c.sendResult(id, result)
	}()
}

func (c *Conn) sendResult(id int64, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		c.sendError(id, rpcInternalError, "marshal result: "+err.Error())
		return
	}
	_ = c.write(&rpcMessage{JSONRPC: "2.0", ID: &id, Result: data})
}

func (c *Conn) sendError(id int64, code int, message string) {
	_ = c.write(&rpcMessage{JSONRPC: "2.0", ID: &id, Error: &rpcError{Code: code, Message: message}})
}

func (c *Conn) drainPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		close(p.ch)
		delete(c.pending, id)
	}
}

const rpcInternalError = -32603

// --- Wire envelope ---

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
