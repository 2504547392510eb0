package session

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkveil/acpclient/internal/conn"
	"github.com/arkveil/acpclient/internal/store"
	"github.com/arkveil/acpclient/internal/wire"
)

const testTimeout = 5 * time.Second

// fakeAgent answers initialize/session/new/session/load/etc with canned
// results, recording every method it sees for assertions.
type fakeAgent struct {
	mu         sync.Mutex
	dec        *json.Decoder
	write      func([]byte) error
	calls      []string
	newCount   atomic.Int32
	loadErr    bool
	sessionID  string
	withModes  bool
	setModeErr bool
}

type rawMsg struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (a *fakeAgent) loop(t *testing.T) {
	for {
		var msg rawMsg
		if err := a.dec.Decode(&msg); err != nil {
			return
		}
		a.mu.Lock()
		a.calls = append(a.calls, msg.Method)
		a.mu.Unlock()

		switch msg.Method {
		case wire.MethodInitialize:
			a.respond(t, *msg.ID, wire.InitializeResult{ProtocolVersion: wire.ProtocolVersion})
		case wire.MethodSessionNew:
			a.newCount.Add(1)
			result := wire.SessionEstablishResult{
				SessionID: a.sessionID,
				Models:    &wire.ModelCatalog{CurrentModelID: "m1", Available: []wire.ModelInfo{{ID: "m1", DisplayName: "Model One"}}},
			}
			if a.withModes {
				result.Modes = &wire.ModeCatalog{CurrentModeID: "code", Available: []wire.ModeInfo{{ID: "code", DisplayName: "Code"}, {ID: "plan", DisplayName: "Plan"}}}
			}
			a.respond(t, *msg.ID, result)
		case wire.MethodSessionLoad:
			if a.loadErr {
				a.respondError(t, *msg.ID, -32000, "session not found")
				continue
			}
			a.respond(t, *msg.ID, wire.SessionEstablishResult{SessionID: a.sessionID})
		case wire.MethodSessionSetMode:
			if a.setModeErr {
				a.respondError(t, *msg.ID, -32000, "mode rejected")
				continue
			}
			a.respond(t, *msg.ID, struct{}{})
		case wire.MethodSessionSetModel:
			a.respond(t, *msg.ID, struct{}{})
		case wire.MethodCommandsAvailable:
			a.respondError(t, *msg.ID, -32601, "method not found")
		default:
			a.respond(t, *msg.ID, struct{}{})
		}
	}
}

func (a *fakeAgent) callCount(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, m := range a.calls {
		if m == method {
			n++
		}
	}
	return n
}

func (a *fakeAgent) respond(t *testing.T, id int64, result any) {
	t.Helper()
	data, err := json.Marshal(result)
	require.NoError(t, err)
	a.sendJSON(t, map[string]any{"jsonrpc": "2.0", "id": id, "result": json.RawMessage(data)})
}

func (a *fakeAgent) respondError(t *testing.T, id int64, code int, message string) {
	t.Helper()
	a.sendJSON(t, map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": message}})
}

func (a *fakeAgent) sendJSON(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, a.write(append(data, '\n')))
}

func newTestManager(t *testing.T, st *store.Store) (*Manager, *fakeAgent) {
	t.Helper()
	return newTestManagerWith(t, Options{Store: st, CWD: "/work"}, func(*fakeAgent) {})
}

// newTestManagerWith wires a Manager and fakeAgent over fresh pipes,
// applying configure to the agent before the connection's ReadLoop
// starts and filling in opts.Conn/opts.Store from the harness.
func newTestManagerWith(t *testing.T, opts Options, configure func(*fakeAgent)) (*Manager, *fakeAgent) {
	t.Helper()
	pr1, pw1 := io.Pipe()
	pr2, pw2 := io.Pipe()
	c := conn.New(pr1, pw2, conn.Options{RequestTimeout: testTimeout})
	agent := newFakeAgentIdle(t, pr2, pw1)
	configure(agent)
	go agent.loop(t)
	go c.ReadLoop()
	t.Cleanup(func() { pw1.Close(); pw2.Close(); pr1.Close(); pr2.Close() })

	opts.Conn = c
	m := New(opts)
	return m, agent
}

// newFakeAgentIdle builds a fakeAgent without starting its loop, so
// callers can configure it before any traffic is decoded.
func newFakeAgentIdle(t *testing.T, prIn io.Reader, pwOut io.Writer) *fakeAgent {
	t.Helper()
	return &fakeAgent{
		dec:       json.NewDecoder(prIn),
		write:     func(b []byte) error { _, err := pwOut.Write(b); return err },
		sessionID: "sess-abc",
	}
}

func TestEnsure_CreatesNewSessionWhenNoPersisted(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "session.json"), nil)
	m, agent := newTestManager(t, st)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	id, err := m.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sess-abc", id)
	assert.Equal(t, "m1", m.Models().Current)

	persisted, ok := st.Load()
	require.True(t, ok)
	assert.Equal(t, "sess-abc", persisted)
	assert.Equal(t, 1, agent.callCount(wire.MethodSessionNew))
}

func TestEnsure_ResumesPersistedSession(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "session.json"), nil)
	require.NoError(t, st.Save("sess-abc"))
	m, agent := newTestManager(t, st)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	id, err := m.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sess-abc", id)
	assert.Equal(t, 0, agent.callCount(wire.MethodSessionNew))
	assert.Equal(t, 1, agent.callCount(wire.MethodSessionLoad))
}

func TestEnsure_FallsBackToCreateOnResumeFailure(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "session.json"), nil)
	require.NoError(t, st.Save("sess-stale"))
	m, agent := newTestManager(t, st)
	agent.loadErr = true

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	id, err := m.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sess-abc", id)
	assert.Equal(t, 1, agent.callCount(wire.MethodSessionNew))

	persisted, ok := st.Load()
	require.True(t, ok)
	assert.Equal(t, "sess-abc", persisted)
}

func TestEnsure_ConcurrentCallersCollapseToOneEstablishment(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "session.json"), nil)
	m, agent := newTestManager(t, st)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	const n = 10
	results := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.Ensure(ctx)
			require.NoError(t, err)
			results <- id
		}()
	}
	wg.Wait()
	close(results)

	for id := range results {
		assert.Equal(t, "sess-abc", id)
	}
	assert.Equal(t, 1, agent.callCount(wire.MethodSessionNew))
}

func TestReset_ClearsStateAndPersistedRecord(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "session.json"), nil)
	m, _ := newTestManager(t, st)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err := m.Ensure(ctx)
	require.NoError(t, err)

	m.Reset()

	assert.Equal(t, "", m.SessionID())
	_, ok := st.Load()
	assert.False(t, ok)
}

func TestSetModel_UpdatesCachedCurrent(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "session.json"), nil)
	m, _ := newTestManager(t, st)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	require.NoError(t, m.SetModel(ctx, "m2"))
	assert.Equal(t, "m2", m.Models().Current)
}

func TestEnsure_AppliesInitialModeAndModelWhenAdvertised(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "session.json"), nil)
	m, agent := newTestManagerWith(t, Options{Store: st, CWD: "/work", InitialMode: "plan", InitialModel: "m2"},
		func(a *fakeAgent) { a.withModes = true })

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	_, err := m.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, agent.callCount(wire.MethodSessionSetMode))
	assert.Equal(t, 1, agent.callCount(wire.MethodSessionSetModel))
	assert.Equal(t, "plan", m.Modes().Current)
	assert.Equal(t, "m2", m.Models().Current)
}

func TestEnsure_InitialModeFailureFailsEstablishment(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "session.json"), nil)
	m, _ := newTestManagerWith(t, Options{Store: st, CWD: "/work", InitialMode: "plan"},
		func(a *fakeAgent) { a.withModes = true; a.setModeErr = true })

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	_, err := m.Ensure(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security-critical")
}

func TestCommands_MethodNotFoundTreatedAsEmpty(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "session.json"), nil)
	m, _ := newTestManager(t, st)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	cmds, err := m.Commands(ctx)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}
