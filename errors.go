package acpclient

import (
	"errors"
	"fmt"

	"github.com/arkveil/acpclient/internal/conn"
	"github.com/arkveil/acpclient/internal/supervisor"
)

// ErrBinaryNotFound is returned when the configured agent command name
// cannot be resolved before spawn (spec.md §7: BinaryNotFound).
var ErrBinaryNotFound = supervisor.ErrBinaryNotFound

// ErrProcessExited wraps the child's abnormal end (a non-zero exit status
// or a signal) as Dispose reports it (spec.md §7: ProcessExited). Requests
// pending when the child exits fail with a connection-closed error that
// does not wrap ErrProcessExited, and the next call spawns a replacement
// process.
var ErrProcessExited = supervisor.ErrProcessExited

// ErrDisposed is returned by any operation begun after Dispose has been
// called (spec.md §7: Disposed).
var ErrDisposed = errors.New("acp: client disposed")

// IsTimeout reports whether err is a RequestTimeout failure (spec.md §7).
func IsTimeout(err error) bool {
	var te *conn.TimeoutError
	return errors.As(err, &te)
}

// IsAgentError reports whether err carries a JSON-RPC error object
// returned by the agent verbatim (spec.md §7: AgentError).
func IsAgentError(err error) bool {
	var re *conn.RPCError
	return errors.As(err, &re)
}

// AgentErrorMessage returns the agent's verbatim error message and true,
// or ("", false) if err is not an AgentError.
func AgentErrorMessage(err error) (string, bool) {
	var re *conn.RPCError
	if errors.As(err, &re) {
		return re.Message, true
	}
	return "", false
}

func fmtErr(op string, err error) error {
	return fmt.Errorf("acp: %s: %w", op, err)
}
