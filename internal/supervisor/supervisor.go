// Package supervisor spawns and tears down the locally-run agent process
// described in spec.md §4.1: it resolves the configured binary against an
// extended PATH, wires the child's three pipes, watches stderr for
// diagnostics, and tears the handle down on crash, clean exit, or
// cooperative disposal.
//
// Grounded on github.com/dmora/agentrun's engine/acp/engine.go
// (spawnSubprocess, resolveBinary) and process.go (Stop/kill/finish),
// generalized to the single-child, single-supervisor shape spec.md names.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arkveil/acpclient/internal/errfmt"
	"github.com/arkveil/acpclient/internal/pathenv"
)

// ShutdownCeiling is the deadline for a cooperative "shutdown" exchange
// before a termination signal is sent regardless of outcome (spec.md §4.1).
const ShutdownCeiling = 2 * time.Second

// gracePeriod is how long Dispose waits after a termination signal before
// escalating to an unconditional kill.
const gracePeriod = 3 * time.Second

// ErrBinaryNotFound is returned by Spawn when the configured command name
// cannot be located on the extended PATH (spec.md §7: BinaryNotFound).
var ErrBinaryNotFound = errors.New("acp: cannot find command")

// ErrProcessExited is the terminal error surfaced to callers when the
// child process exits or errors mid-operation (spec.md §7: ProcessExited).
var ErrProcessExited = errors.New("acp: process exited")

// Config configures a single spawn.
type Config struct {
	// Binary is the command name or path to resolve and execute.
	Binary string
	// Args are additional arguments (e.g. ["acp"]).
	Args []string
	// CWD is the working directory handed to the agent.
	CWD string
	// DiagnosticLogPath, if set, is exported to the child as
	// KIRO_ACP_DEBUG_LOG so the agent can route its own debug logs there.
	DiagnosticLogPath string
	// Logger receives supervisor diagnostics. Nil-safe.
	Logger *zap.Logger
}

// Handle is a spawned child process bound to its stdin/stdout pipes.
// Owned exclusively by the caller from Spawn until Dispose or AwaitExit.
type Handle struct {
	cfg    Config
	log    *zap.Logger
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	disposeOnce sync.Once
	waitOnce    sync.Once
	waitErr     error
	waitDone    chan struct{}

	resolvedPath string
}

// Spawn resolves cfg.Binary on an extended PATH and starts the child.
// Returns ErrBinaryNotFound if resolution fails — the spawn is aborted
// and no process is started.
func Spawn(ctx context.Context, cfg Config) (*Handle, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	extendedPath := pathenv.Build(ctx)
	resolved, err := pathenv.Resolve(cfg.Binary, extendedPath)
	if err != nil {
		log.Warn("acp: command not found on extended PATH",
			zap.String("binary", cfg.Binary), zap.String("path", extendedPath))
		return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, cfg.Binary)
	}
	log.Info("acp: resolved agent binary", zap.String("binary", cfg.Binary), zap.String("resolved", resolved))

	cmd := exec.Command(resolved, cfg.Args...)
	if cfg.CWD != "" {
		cmd.Dir = cfg.CWD
	}
	cmd.Env = os.Environ()
	if cfg.DiagnosticLogPath != "" {
		cmd.Env = append(cmd.Env, "KIRO_ACP_DEBUG_LOG="+cfg.DiagnosticLogPath)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("acp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("acp: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("acp: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("acp: start: %w", err)
	}

	h := &Handle{
		cfg:          cfg,
		log:          log,
		cmd:          cmd,
		stdin:        stdin,
		stdout:       stdout,
		waitDone:     make(chan struct{}),
		resolvedPath: resolved,
	}
	go h.watchStderr(stderr)
	return h, nil
}

// Stdin is the child's standard input, for the frame codec's writer.
func (h *Handle) Stdin() io.WriteCloser { return h.stdin }

// Stdout is the child's standard output, for the frame codec's reader.
func (h *Handle) Stdout() io.ReadCloser { return h.stdout }

// Done returns a channel that is closed once the child process has exited.
// AwaitExit must be running in some goroutine (Spawn starts one internally
// is not guaranteed; callers that only poll Done should also call
// AwaitExit once, e.g. in a background watcher) for this to ever close.
func (h *Handle) Done() <-chan struct{} {
	return h.waitDone
}

// PID returns the child's process id, or 0 if unavailable.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// ResolvedPath returns the path the binary resolved to.
func (h *Handle) ResolvedPath() string { return h.resolvedPath }

func (h *Handle) watchStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		h.log.Debug("acp: agent stderr", zap.String("line", errfmt.Truncate(scanner.Text())))
	}
}

// AwaitExit blocks until the child process exits and returns the wrapped
// terminal error (nil on clean exit). Safe to call from several
// goroutines: the child is waited on once and every caller gets the same
// result. Dispose and Kill start a call of their own.
func (h *Handle) AwaitExit() error {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()
		h.waitErr = wrapExitError(err)
		close(h.waitDone)
	})
	<-h.waitDone
	return h.waitErr
}

// Dispose cooperatively shuts the child down: it calls notifyShutdown
// (expected to send the ACP "shutdown" notification) with a bounded
// ceiling, then sends SIGTERM regardless of that outcome, escalating to
// SIGKILL if the process hasn't exited after a grace period. Idempotent.
func (h *Handle) Dispose(ctx context.Context, notifyShutdown func(context.Context) error) error {
	h.disposeOnce.Do(func() {
		go h.AwaitExit()
		if notifyShutdown != nil {
			shCtx, cancel := context.WithTimeout(ctx, ShutdownCeiling)
			if err := notifyShutdown(shCtx); err != nil {
				h.log.Debug("acp: shutdown notification failed", zap.Error(err))
			}
			cancel()
		}
		_ = h.stdin.Close()
		h.signal(syscall.SIGTERM)

		select {
		case <-h.waitDone:
		case <-time.After(gracePeriod):
			h.signal(os.Kill)
			<-h.waitDone
		}
	})
	<-h.waitDone
	return h.waitErr
}

// Kill forcefully terminates the child without the cooperative shutdown
// sequence.
func (h *Handle) Kill() {
	h.disposeOnce.Do(func() {
		go h.AwaitExit()
		_ = h.stdin.Close()
		h.signal(os.Kill)
		<-h.waitDone
	})
}

func (h *Handle) signal(sig os.Signal) {
	if h.cmd.Process == nil {
		return
	}
	if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.log.Debug("acp: signal failed", zap.Error(err))
	}
}

// wrapExitError converts a non-zero *exec.ExitError into ErrProcessExited;
// a clean (code 0) exit or a nil error becomes nil.
func wrapExitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return fmt.Errorf("%w: %w", ErrProcessExited, err)
	}
	if ee.ExitCode() == 0 {
		return nil
	}
	return fmt.Errorf("%w: exit code %d", ErrProcessExited, ee.ExitCode())
}
