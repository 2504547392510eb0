package turn

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/arkveil/acpclient/internal/conn"
	"github.com/arkveil/acpclient/internal/wire"
)

// ContextTracker holds the client's single cached context-usage
// percentage and compaction flag. Updated from three independent wire
// sources per spec.md §9's first Open Question (turn_end.contextUsage,
// kiro.dev/metadata, and the session/prompt response's contextUsage),
// all treated as equally authoritative: last write wins.
type ContextTracker struct {
	mu         sync.Mutex
	percentage float64
	haveUsage  bool
	compacting bool
}

// NewContextTracker returns an empty tracker.
func NewContextTracker() *ContextTracker {
	return &ContextTracker{}
}

// SetPercentage records a new context-usage percentage.
func (t *ContextTracker) SetPercentage(p float64) {
	t.mu.Lock()
	t.percentage = p
	t.haveUsage = true
	t.mu.Unlock()
}

// Percentage returns the most recently recorded percentage and whether
// any value has been recorded yet.
func (t *ContextTracker) Percentage() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentage, t.haveUsage
}

// SetCompacting records the compaction flag.
func (t *ContextTracker) SetCompacting(b bool) {
	t.mu.Lock()
	t.compacting = b
	t.mu.Unlock()
}

// IsCompacting reports the current compaction flag.
func (t *ContextTracker) IsCompacting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.compacting
}

// InstallContextSubscriber registers the persistent notification
// subscriber described in spec.md §3: it keeps the tracker current from
// kiro.dev/metadata and _kiro.dev/compaction/status notifications even
// when no turn is in flight. Installed once, for the connection's
// lifetime.
func InstallContextSubscriber(c *conn.Conn, tracker *ContextTracker, log *zap.Logger) conn.SubscriptionID {
	if log == nil {
		log = zap.NewNop()
	}
	return c.OnNotification(func(method string, params json.RawMessage) {
		switch method {
		case wire.MethodMetadata:
			var n wire.MetadataNotification
			if err := json.Unmarshal(params, &n); err != nil {
				log.Debug("acp: malformed metadata notification", zap.Error(err))
				return
			}
			if n.ContextUsagePercentage != nil {
				tracker.SetPercentage(*n.ContextUsagePercentage)
			}
		case wire.MethodCompactionStatus:
			var n wire.CompactionStatusNotification
			if err := json.Unmarshal(params, &n); err != nil {
				log.Debug("acp: malformed compaction notification", zap.Error(err))
				return
			}
			tracker.SetCompacting(n.Status == wire.CompactionInProgress)
		}
	})
}
