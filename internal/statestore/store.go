// Package statestore ports original_source/src/takopi/telegram/state_store.py's
// JsonStateStore: a versioned JSON document with mtime-based reload and an
// atomic tmp-file + rename write path, generalized with Go generics. Builds
// on the teacher's own tmp+rename idiom already present in
// internal/adapters/codex/codex.go's saveStateLocked and
// internal/telegram/scheduler.go's ScheduleStore.saveLocked.
package statestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Versioned is implemented by every document type this store persists.
type Versioned interface {
	StateVersion() int
}

// Store[T] is a generic, mtime-cached, atomically-written JSON document.
type Store[T Versioned] struct {
	path    string
	version int
	factory func() T
	logger  *slog.Logger

	mu      sync.Mutex
	loaded  bool
	mtimeNs int64
	state   T
}

func New[T Versioned](path string, version int, factory func() T, logger *slog.Logger) *Store[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[T]{path: path, version: version, factory: factory, logger: logger, state: factory()}
}

func statMtimeNs(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.ModTime().UnixNano(), true
}

// WithState runs fn against the current, up-to-date state under the
// store's lock, reloading from disk first if the file's mtime changed
// since the last read. fn may mutate state in place; callers that want the
// mutation persisted must call SaveLocked from inside fn, or use Mutate
// (kept explicit, matching the teacher's own save-after-mutate call sites).
func (s *Store[T]) WithState(fn func(state *T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfNeededLocked()
	fn(&s.state)
}

// View runs fn against a read-only snapshot, same reload semantics.
func (s *Store[T]) View(fn func(state T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfNeededLocked()
	fn(s.state)
}

func (s *Store[T]) reloadIfNeededLocked() {
	mtime, ok := statMtimeNs(s.path)
	if s.loaded && ((ok && mtime == s.mtimeNs) || (!ok && s.mtimeNs == 0)) {
		return
	}
	s.loadLocked()
}

func (s *Store[T]) loadLocked() {
	s.loaded = true
	mtime, ok := statMtimeNs(s.path)
	s.mtimeNs = mtime
	if !ok {
		s.state = s.factory()
		return
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("statestore.load_failed", "path", s.path, "err", err)
		s.state = s.factory()
		return
	}
	var decoded T
	if err := json.Unmarshal(raw, &decoded); err != nil {
		s.logger.Warn("statestore.load_failed", "path", s.path, "err", err)
		s.state = s.factory()
		return
	}
	if decoded.StateVersion() != s.version {
		s.logger.Warn("statestore.version_mismatch", "path", s.path, "version", decoded.StateVersion(), "expected", s.version)
		s.state = s.factory()
		return
	}
	s.state = decoded
}

// SaveLocked must be called while already holding the lock, i.e. from
// inside a WithState callback. It is exported under this name to make the
// call-site contract explicit: callers mutate state and then invoke this
// before returning from WithState.
func (s *Store[T]) SaveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("statestore: mkdir: %w", err)
	}
	payload, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("statestore: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("statestore: rename: %w", err)
	}
	if mtime, ok := statMtimeNs(s.path); ok {
		s.mtimeNs = mtime
	}
	return nil
}

// Mutate is the common WithState+SaveLocked pairing used by every call site
// that changes the document.
func (s *Store[T]) Mutate(fn func(state *T)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfNeededLocked()
	fn(&s.state)
	return s.SaveLocked()
}
