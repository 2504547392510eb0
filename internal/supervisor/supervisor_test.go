package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawn_BinaryNotFound(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Spawn(ctx, Config{Binary: "definitely-not-a-real-command-xyz"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestSpawn_StartsAndExits(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Spawn(ctx, Config{Binary: "sh", Args: []string{"-c", "echo hi; exit 0"}})
	require.NoError(t, err)
	require.NotZero(t, h.PID())

	err = h.AwaitExit()
	assert.NoError(t, err)
}

func TestAwaitExit_NonZeroWrapsProcessExited(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Spawn(ctx, Config{Binary: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)

	err = h.AwaitExit()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessExited)
}

func TestAwaitExit_IsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Spawn(ctx, Config{Binary: "sh", Args: []string{"-c", "exit 0"}})
	require.NoError(t, err)

	err1 := h.AwaitExit()
	err2 := h.AwaitExit()
	assert.Equal(t, err1, err2)
}

func TestDispose_SendsShutdownThenTerminates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Spawn(ctx, Config{Binary: "sh", Args: []string{"-c", "trap 'exit 0' TERM; while true; do sleep 0.1; done"}})
	require.NoError(t, err)

	shutdownCalled := false
	err = h.Dispose(ctx, func(context.Context) error {
		shutdownCalled = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, shutdownCalled)
}

func TestDispose_IsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Spawn(ctx, Config{Binary: "sh", Args: []string{"-c", "exit 0"}})
	require.NoError(t, err)

	err1 := h.Dispose(ctx, nil)
	err2 := h.Dispose(ctx, nil)
	assert.Equal(t, err1, err2)
}

func TestDispose_EscalatesToKillWhenUnresponsive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	h, err := Spawn(ctx, Config{Binary: "sh", Args: []string{"-c", "trap '' TERM; while true; do sleep 0.1; done"}})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		h.Dispose(ctx, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispose did not escalate to kill in time")
	}
}
