// Package store persists a single ACP session identifier to disk so the
// client can attempt to resume a session across restarts (spec.md §4.7).
//
// Grounded on kdlbs-kandev's orchestrator/acp/memory_store.go for the
// mutex-guarded Store/Load/Delete shape, adapted from an in-memory map to
// a single JSON file since spec.md §6 calls for one well-known path.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TTL is how long a persisted session identifier remains eligible for
// resume before Load treats it as expired (spec.md §3, §4.7).
const TTL = 24 * time.Hour

// record is the on-disk shape: {"sessionId":string,"timestamp":integer
// milliseconds} per spec.md §6.
type record struct {
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

// Store reads and writes a single session record at a fixed path.
type Store struct {
	path string
	log  *zap.Logger
	mu   sync.Mutex
}

// New returns a Store backed by the file at path. The parent directory is
// created lazily on first Save.
func New(path string, logger *zap.Logger) *Store {
	log := logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

// Load returns the persisted session identifier and true if the record
// exists, parses, and is younger than TTL. Any other outcome — missing
// file, malformed JSON, expiry — returns ("", false); the caller falls
// back to creating a new session.
func (s *Store) Load() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", false
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Debug("acp: malformed session record, ignoring", zap.Error(err))
		return "", false
	}
	if rec.SessionID == "" {
		return "", false
	}
	age := time.Since(time.UnixMilli(rec.Timestamp))
	if age < 0 || age >= TTL {
		return "", false
	}
	return rec.SessionID, true
}

// Save writes the session identifier with the current moment, overwriting
// any prior record. Writes to a temp file in the same directory and
// renames into place so a concurrent reader never observes a partial
// write.
func (s *Store) Save(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(record{SessionID: sessionID, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Clear deletes the persisted record. Missing file is not an error.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.log.Debug("acp: clear session record failed", zap.Error(err))
	}
}
