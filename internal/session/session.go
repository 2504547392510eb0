// Package session drives the ACP handshake: initialize, then resume an
// existing session or create a new one, caching the model/mode/command
// catalogs the agent advertises. Establishment is serialized across
// concurrent callers by a stored in-flight future (spec.md §4.4, §9).
//
// Grounded on github.com/dmora/agentrun's engine/acp/process.go
// (handshake/resumeSession/openSession/sessionConfigCalls), restructured
// around a standalone state machine instead of being folded into the
// process type, and extended with persistence and command-catalog caching
// per spec.md §4.4.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/arkveil/acpclient/internal/conn"
	"github.com/arkveil/acpclient/internal/errfmt"
	"github.com/arkveil/acpclient/internal/store"
	"github.com/arkveil/acpclient/internal/wire"
)

// ClientName and ClientVersion identify this client during initialize.
const (
	ClientName    = "acpclient"
	ClientVersion = "0.1.0"
)

// state is the establishment state machine spelled out in spec.md §9:
// idle -> establishing(awaiters) -> ready, collapsing back to idle on
// failure so the next caller retries from scratch.
type state int

const (
	stateIdle state = iota
	stateEstablishing
	stateReady
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,256}$`)

func validateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("session: id %q does not match allowed pattern", id)
	}
	return nil
}

// ErrNoSession reports that no session is established. No Manager method
// returns it: operations that need a session establish one via Ensure.
var ErrNoSession = errors.New("session: no active session")

// Catalog is the shape shared by the model and mode catalogs: a current
// identifier plus an ordered list of entries (spec.md §3).
type Catalog struct {
	Current string
	Entries []CatalogEntry
}

// CatalogEntry is one {identifier, display name, description} tuple.
type CatalogEntry struct {
	ID          string
	Name        string
	Description string
}

// Command describes one cached slash command.
type Command struct {
	Name        string
	Description string
}

// Manager owns session establishment and the cached catalogs for a single
// connection. It does not own the connection's lifecycle — Reset leaves
// the underlying process alive, per spec.md §4.4.
type Manager struct {
	c     *conn.Conn
	store *store.Store
	log   *zap.Logger

	cwd          string
	initialMode  string
	initialModel string

	mu            sync.Mutex
	st            state
	awaiters      []chan error
	sessionID     string
	models        Catalog
	modes         Catalog
	commands      []Command
	commandsKnown bool // true once fetched (possibly empty)
}

// Options configures a Manager.
type Options struct {
	Conn  *conn.Conn
	Store *store.Store
	CWD   string

	// InitialMode, if non-empty, is applied via session/set_mode
	// immediately after establishment, but only if the agent advertised
	// any modes. A failure here fails establishment itself: mode
	// controls tool approval stringency, so a silent fallback would be a
	// security regression.
	InitialMode string
	// InitialModel, if non-empty, is applied via session/set_model
	// immediately after establishment. A failure here is logged and
	// swallowed — an unavailable model is not a reason to fail the
	// whole session.
	InitialModel string

	Logger *zap.Logger
}

// New constructs a Manager bound to a live connection.
func New(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		c: opts.Conn, store: opts.Store, cwd: opts.CWD, log: log,
		initialMode: opts.InitialMode, initialModel: opts.InitialModel,
	}
}

// Initialize performs the protocol-level handshake only (no session
// establishment). Used directly by the public facade's test_connection.
func (m *Manager) Initialize(ctx context.Context) (wire.InitializeResult, error) {
	params := wire.InitializeParams{
		ProtocolVersion: wire.ProtocolVersion,
		ClientInfo:      wire.ClientInfo{Name: ClientName, Version: ClientVersion},
	}
	var result wire.InitializeResult
	if err := m.c.Call(ctx, wire.MethodInitialize, params, &result); err != nil {
		return wire.InitializeResult{}, fmt.Errorf("acp: initialize: %w", err)
	}
	return result, nil
}

// SessionID returns the currently established identifier, or "" if none.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Ensure returns the active session identifier, establishing one if
// necessary. Concurrent callers collapse onto a single establishment
// attempt per spec.md §9.
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	m.mu.Lock()
	switch m.st {
	case stateReady:
		id := m.sessionID
		m.mu.Unlock()
		return id, nil
	case stateEstablishing:
		wait := make(chan error, 1)
		m.awaiters = append(m.awaiters, wait)
		m.mu.Unlock()
		select {
		case err := <-wait:
			if err != nil {
				return "", err
			}
			return m.SessionID(), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	default: // stateIdle
		m.st = stateEstablishing
		m.mu.Unlock()
	}

	id, err := m.establish(ctx)

	m.mu.Lock()
	awaiters := m.awaiters
	m.awaiters = nil
	if err != nil {
		m.st = stateIdle
	} else {
		m.st = stateReady
		m.sessionID = id
	}
	m.mu.Unlock()

	for _, w := range awaiters {
		w <- err
	}
	return id, err
}

// establish implements the handshake: initialize, then resume-or-create.
func (m *Manager) establish(ctx context.Context) (string, error) {
	if _, err := m.Initialize(ctx); err != nil {
		return "", err
	}

	if m.store != nil {
		if resumeID, ok := m.store.Load(); ok {
			id, err := m.resume(ctx, resumeID)
			if err == nil {
				if err := m.applyInitialConfig(ctx, id); err != nil {
					return "", err
				}
				return id, nil
			}
			m.log.Debug("acp: session resume failed, falling back to create", zap.Error(err))
			m.store.Clear()
		}
	}

	id, err := m.create(ctx)
	if err != nil {
		return "", err
	}
	if err := m.applyInitialConfig(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// applyInitialConfig applies the configured initial mode and model once
// per establishment. A set_mode failure fails establishment outright
// since mode governs tool approval stringency; a set_model failure is
// logged and swallowed.
func (m *Manager) applyInitialConfig(ctx context.Context, id string) error {
	if m.initialMode != "" && len(m.Modes().Entries) > 0 {
		if err := m.c.Call(ctx, wire.MethodSessionSetMode, wire.SetModeParams{SessionID: id, ModeID: m.initialMode}, nil); err != nil {
			return fmt.Errorf("acp: session/set_mode failed (security-critical): %w", err)
		}
		m.mu.Lock()
		m.modes.Current = m.initialMode
		m.mu.Unlock()
	}
	if m.initialModel != "" {
		if err := m.c.Call(ctx, wire.MethodSessionSetModel, wire.SetModelParams{SessionID: id, ModelID: m.initialModel}, nil); err != nil {
			m.log.Debug("acp: session/set_model failed, continuing without it", zap.Error(err))
			return nil
		}
		m.mu.Lock()
		m.models.Current = m.initialModel
		m.mu.Unlock()
	}
	return nil
}

func (m *Manager) resume(ctx context.Context, id string) (string, error) {
	if err := validateSessionID(id); err != nil {
		return "", err
	}
	params := wire.LoadSessionParams{SessionID: id, CWD: m.cwd, MCPServers: []wire.MCPServer{}}
	var result wire.SessionEstablishResult
	if err := m.c.Call(ctx, wire.MethodSessionLoad, params, &result); err != nil {
		return "", fmt.Errorf("acp: session/load: %w", err)
	}
	m.applyCatalogs(result)
	return id, nil
}

func (m *Manager) create(ctx context.Context) (string, error) {
	params := wire.NewSessionParams{CWD: m.cwd, MCPServers: []wire.MCPServer{}}
	var result wire.SessionEstablishResult
	if err := m.c.Call(ctx, wire.MethodSessionNew, params, &result); err != nil {
		return "", fmt.Errorf("acp: session/new: %w", err)
	}
	if err := validateSessionID(result.SessionID); err != nil {
		return "", fmt.Errorf("acp: invalid session ID from agent: %w", err)
	}
	m.applyCatalogs(result)
	if m.store != nil {
		if err := m.store.Save(result.SessionID); err != nil {
			m.log.Debug("acp: persist session id failed", zap.Error(err))
		}
	}
	return result.SessionID, nil
}

func (m *Manager) applyCatalogs(r wire.SessionEstablishResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Models != nil {
		entries := make([]CatalogEntry, 0, len(r.Models.Available))
		for _, mi := range r.Models.Available {
			entries = append(entries, CatalogEntry{ID: errfmt.SanitizeCode(mi.ID), Name: mi.DisplayName, Description: mi.Description})
		}
		m.models = Catalog{Current: errfmt.SanitizeCode(r.Models.CurrentModelID), Entries: entries}
	}
	if r.Modes != nil {
		entries := make([]CatalogEntry, 0, len(r.Modes.Available))
		for _, md := range r.Modes.Available {
			entries = append(entries, CatalogEntry{ID: errfmt.SanitizeCode(md.ID), Name: md.DisplayName, Description: md.Description})
		}
		m.modes = Catalog{Current: errfmt.SanitizeCode(r.Modes.CurrentModeID), Entries: entries}
	}
}

// Reset clears in-memory session state and the persisted record, leaving
// the connection untouched. The next Ensure establishes a fresh session.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.st = stateIdle
	m.sessionID = ""
	m.models = Catalog{}
	m.modes = Catalog{}
	m.commands = nil
	m.commandsKnown = false
	m.mu.Unlock()
	if m.store != nil {
		m.store.Clear()
	}
}

// Models returns the cached model catalog.
func (m *Manager) Models() Catalog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.models
}

// Modes returns the cached mode catalog.
func (m *Manager) Modes() Catalog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modes
}

// SetModel issues session/set_model and updates the cached current model
// on success.
func (m *Manager) SetModel(ctx context.Context, modelID string) error {
	id, err := m.Ensure(ctx)
	if err != nil {
		return err
	}
	if err := m.c.Call(ctx, wire.MethodSessionSetModel, wire.SetModelParams{SessionID: id, ModelID: modelID}, nil); err != nil {
		return fmt.Errorf("acp: session/set_model: %w", err)
	}
	m.mu.Lock()
	m.models.Current = modelID
	m.mu.Unlock()
	return nil
}

// SetMode issues session/set_mode and updates the cached current mode on
// success.
func (m *Manager) SetMode(ctx context.Context, modeID string) error {
	id, err := m.Ensure(ctx)
	if err != nil {
		return err
	}
	if err := m.c.Call(ctx, wire.MethodSessionSetMode, wire.SetModeParams{SessionID: id, ModeID: modeID}, nil); err != nil {
		return fmt.Errorf("acp: session/set_mode: %w", err)
	}
	m.mu.Lock()
	m.modes.Current = modeID
	m.mu.Unlock()
	return nil
}

// Commands returns the cached command catalog, fetching it lazily on
// first call. A "method not found" reply is treated as an empty catalog
// (spec.md §4.4, §7).
func (m *Manager) Commands(ctx context.Context) ([]Command, error) {
	m.mu.Lock()
	if m.commandsKnown {
		cmds := m.commands
		m.mu.Unlock()
		return cmds, nil
	}
	m.mu.Unlock()

	id, err := m.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	var result wire.CommandsAvailableResult
	err = m.c.Call(ctx, wire.MethodCommandsAvailable, wire.CommandsAvailableParams{SessionID: id}, &result)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		var rpcErr *conn.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == methodNotFoundCode {
			m.commands = nil
			m.commandsKnown = true
			return nil, nil
		}
		return nil, fmt.Errorf("acp: commands/available: %w", err)
	}

	cmds := make([]Command, 0, len(result.Commands))
	for _, c := range result.Commands {
		cmds = append(cmds, Command{Name: c.Name, Description: c.Description})
	}
	m.commands = cmds
	m.commandsKnown = true
	return cmds, nil
}

// ExecuteCommand issues _kiro.dev/commands/execute for the named command.
func (m *Manager) ExecuteCommand(ctx context.Context, command string) error {
	id, err := m.Ensure(ctx)
	if err != nil {
		return err
	}
	if err := m.c.Call(ctx, wire.MethodCommandsExecute, wire.CommandsExecuteParams{SessionID: id, Command: command}, nil); err != nil {
		return fmt.Errorf("acp: commands/execute: %w", err)
	}
	return nil
}

// methodNotFoundCode is the standard JSON-RPC 2.0 code for an unknown
// method, used to recognize an agent without slash-command support.
const methodNotFoundCode = -32601

// OnProcessLost resets every cached entry when the process supervisor
// observes a terminal error, matching the cleanup spec.md §4.1 requires:
// catalogs and flags reset, the persisted identifier cleared because a
// replacement process cannot reliably resume it.
func (m *Manager) OnProcessLost() {
	m.Reset()
}
