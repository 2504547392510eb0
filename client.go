package acpclient

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkveil/acpclient/internal/conn"
	"github.com/arkveil/acpclient/internal/permission"
	"github.com/arkveil/acpclient/internal/session"
	"github.com/arkveil/acpclient/internal/store"
	"github.com/arkveil/acpclient/internal/supervisor"
	"github.com/arkveil/acpclient/internal/turn"
	"github.com/arkveil/acpclient/internal/wire"
)

// generation bundles one spawned process with the connection and
// session/engine state built on top of it. A new generation replaces the
// previous one when the process is lost and a caller makes the next
// request, per spec.md §8's "a subsequent chat_stream re-spawns and
// succeeds" property; the store (persisted session id) is the only piece
// of state shared across generations.
type generation struct {
	handle *supervisor.Handle
	conn   *conn.Conn
	sess   *session.Manager
	engine *turn.Engine
}

// Client is a single long-lived connection to one spawned agent process.
// It is safe for concurrent use by many callers (spec.md §5). The
// underlying process is transparently respawned if it exits or errors
// mid-operation (spec.md §4.1, §8).
type Client struct {
	// EditsAllowed is read once per inbound permission request; spec.md
	// §4.8 calls for no locking since it is a single scalar read.
	EditsAllowed atomic.Bool

	id    string
	cfg   Config
	log   *zap.Logger
	store *store.Store

	gen       atomic.Pointer[generation]
	respawnMu sync.Mutex

	disposeOnce sync.Once
	disposed    atomic.Bool
}

// New spawns the agent process configured by cfg and performs no
// handshake yet — establishment happens lazily on first use, per
// spec.md §4.4's Ensure semantics.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Client{id: uuid.NewString(), cfg: *cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("clientId", c.id))
	c.EditsAllowed.Store(cfg.Permission.EditsAllowed)
	c.store = store.New(cfg.Session.StorePath, c.log)

	g, err := c.spawnGeneration(context.Background())
	if err != nil {
		return nil, err
	}
	c.gen.Store(g)
	return c, nil
}

// Option customizes a Client constructed by New.
type Option func(*Client)

// WithLogger overrides the client's structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// spawnGeneration starts a fresh child process and builds the connection,
// session manager, and turn engine layered on it.
func (c *Client) spawnGeneration(ctx context.Context) (*generation, error) {
	handle, err := supervisor.Spawn(ctx, supervisor.Config{
		Binary:            c.cfg.Agent.Binary,
		Args:              c.cfg.Agent.Args,
		CWD:               c.cfg.Agent.CWD,
		DiagnosticLogPath: c.cfg.Agent.DiagnosticLogPath,
		Logger:            c.log,
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("acp: agent process started", zap.Int("pid", handle.PID()), zap.String("resolvedBinary", handle.ResolvedPath()))

	cn := conn.New(handle.Stdout(), handle.Stdin(), conn.Options{
		Logger:         c.log,
		RequestTimeout: c.cfg.Agent.RequestTimeout,
	})

	sess := session.New(session.Options{
		Conn: cn, Store: c.store, CWD: c.cfg.Agent.CWD,
		InitialMode: c.cfg.Session.InitialMode, InitialModel: c.cfg.Session.InitialModel,
		Logger: c.log,
	})
	cn.OnRequest(c.handlePermissionRequest)

	tracker := turn.NewContextTracker()
	turn.InstallContextSubscriber(cn, tracker, c.log)
	engine := turn.NewEngine(cn, sess, tracker, c.log)

	g := &generation{handle: handle, conn: cn, sess: sess, engine: engine}

	go cn.ReadLoop()
	go c.watchProcess(g)

	return g, nil
}

func (c *Client) watchProcess(g *generation) {
	err := g.handle.AwaitExit()
	if c.disposed.Load() {
		return
	}
	if err != nil {
		c.log.Warn("acp: agent process exited unexpectedly", zap.Error(err))
	}
	g.sess.OnProcessLost()
}

// live returns the current generation, transparently respawning the
// process if it has exited since the last call. spec.md §4.1 clears all
// session state on process loss; respawning here is what lets the next
// operation succeed against a fresh child instead of failing forever.
func (c *Client) live(ctx context.Context) (*generation, error) {
	g := c.gen.Load()
	select {
	case <-g.handle.Done():
	default:
		return g, nil
	}

	c.respawnMu.Lock()
	defer c.respawnMu.Unlock()
	if cur := c.gen.Load(); cur != g {
		return cur, nil // another caller already respawned
	}
	fresh, err := c.spawnGeneration(ctx)
	if err != nil {
		return nil, fmtErr("respawn after process loss", err)
	}
	c.gen.Store(fresh)
	return fresh, nil
}

// handlePermissionRequest answers an inbound session/request_permission
// call under the current EditsAllowed policy (spec.md §4.5).
func (c *Client) handlePermissionRequest(method string, rawParams json.RawMessage) (any, error) {
	if method != wire.MethodRequestPermission {
		return struct{}{}, nil
	}
	var req wire.RequestPermissionParams
	if err := json.Unmarshal(rawParams, &req); err != nil {
		c.log.Debug("acp: malformed request_permission params", zap.Error(err))
		return struct{}{}, nil
	}
	return permission.Decide(c.log, req, c.EditsAllowed.Load()), nil
}

func (c *Client) checkDisposed() error {
	if c.disposed.Load() {
		return ErrDisposed
	}
	return nil
}

// ChatStream runs one prompt and returns its event sequence (spec.md
// §4.6, §4.8). The returned channel is closed after exactly one done or
// error event.
func (c *Client) ChatStream(ctx context.Context, req PromptRequest) (<-chan TurnEvent, error) {
	if err := c.checkDisposed(); err != nil {
		return nil, err
	}
	g, err := c.live(ctx)
	if err != nil {
		return nil, err
	}
	return g.engine.Run(ctx, req)
}

// Chat drains ChatStream into a single string, raising an error if the
// turn ends with an error event (spec.md §4.8).
func (c *Client) Chat(ctx context.Context, req PromptRequest) (string, error) {
	if err := c.checkDisposed(); err != nil {
		return "", err
	}
	g, err := c.live(ctx)
	if err != nil {
		return "", err
	}
	return turn.Chat(ctx, g.engine, req)
}

// Cancel issues a best-effort session/cancel for the active session.
func (c *Client) Cancel(ctx context.Context) {
	if c.disposed.Load() {
		return
	}
	g, err := c.live(ctx)
	if err != nil {
		return
	}
	g.engine.Cancel(ctx)
}

// ResetSession discards the cached session and persisted record; the
// next operation establishes a fresh one.
func (c *Client) ResetSession() {
	c.gen.Load().sess.Reset()
}

// GetModels returns the cached model catalog, establishing a session
// first if necessary.
func (c *Client) GetModels(ctx context.Context) (session.Catalog, error) {
	if err := c.checkDisposed(); err != nil {
		return session.Catalog{}, err
	}
	g, err := c.live(ctx)
	if err != nil {
		return session.Catalog{}, err
	}
	if _, err := g.sess.Ensure(ctx); err != nil {
		return session.Catalog{}, err
	}
	return g.sess.Models(), nil
}

// SetModel selects the active model for the session.
func (c *Client) SetModel(ctx context.Context, modelID string) error {
	if err := c.checkDisposed(); err != nil {
		return err
	}
	g, err := c.live(ctx)
	if err != nil {
		return err
	}
	return g.sess.SetModel(ctx, modelID)
}

// GetModes returns the cached mode catalog, establishing a session first
// if necessary.
func (c *Client) GetModes(ctx context.Context) (session.Catalog, error) {
	if err := c.checkDisposed(); err != nil {
		return session.Catalog{}, err
	}
	g, err := c.live(ctx)
	if err != nil {
		return session.Catalog{}, err
	}
	if _, err := g.sess.Ensure(ctx); err != nil {
		return session.Catalog{}, err
	}
	return g.sess.Modes(), nil
}

// SetMode selects the active mode for the session.
func (c *Client) SetMode(ctx context.Context, modeID string) error {
	if err := c.checkDisposed(); err != nil {
		return err
	}
	g, err := c.live(ctx)
	if err != nil {
		return err
	}
	return g.sess.SetMode(ctx, modeID)
}

// GetCommands returns the agent's advertised slash commands, or an empty
// list if the agent does not support the catalog (spec.md §4.4, §7).
func (c *Client) GetCommands(ctx context.Context) ([]session.Command, error) {
	if err := c.checkDisposed(); err != nil {
		return nil, err
	}
	g, err := c.live(ctx)
	if err != nil {
		return nil, err
	}
	return g.sess.Commands(ctx)
}

// ExecuteCommand runs a named slash command in the active session.
func (c *Client) ExecuteCommand(ctx context.Context, command string) error {
	if err := c.checkDisposed(); err != nil {
		return err
	}
	g, err := c.live(ctx)
	if err != nil {
		return err
	}
	return g.sess.ExecuteCommand(ctx, command)
}

// GetContextUsage returns the last observed context-usage percentage
// from any of the three wire sources spec.md §9 names, last-write-wins.
func (c *Client) GetContextUsage() (float64, bool) {
	return c.gen.Load().engine.ContextUsage()
}

// IsCompacting reports whether the agent last reported an in-progress
// compaction.
func (c *Client) IsCompacting() bool {
	return c.gen.Load().engine.IsCompacting()
}

// ConnectionStatus is the result of TestConnection.
type ConnectionStatus struct {
	OK    bool
	Model string
	Error string
}

// TestConnection performs the initialize handshake only, without
// establishing a session (spec.md §4.8).
func (c *Client) TestConnection(ctx context.Context) ConnectionStatus {
	if err := c.checkDisposed(); err != nil {
		return ConnectionStatus{OK: false, Error: err.Error()}
	}
	g, err := c.live(ctx)
	if err != nil {
		return ConnectionStatus{OK: false, Error: err.Error()}
	}
	result, err := g.sess.Initialize(ctx)
	if err != nil {
		return ConnectionStatus{OK: false, Error: err.Error()}
	}
	status := ConnectionStatus{OK: true}
	models := g.sess.Models()
	if models.Current != "" {
		status.Model = models.Current
	}
	c.log.Debug("acp: test_connection ok", zap.String("protocolVersion", result.ProtocolVersion))
	return status
}

// Dispose cooperatively tears the client down: it notifies the agent of
// shutdown, terminates the process, and fails every pending request.
// Idempotent and safe to call more than once.
func (c *Client) Dispose(ctx context.Context) error {
	var err error
	c.disposeOnce.Do(func() {
		c.disposed.Store(true)
		g := c.gen.Load()
		err = g.handle.Dispose(ctx, func(shCtx context.Context) error {
			return g.conn.Notify(wire.MethodShutdown, struct{}{})
		})
	})
	return err
}
