// Package lockfile implements the single-instance guard ported from
// original_source/src/takopi/lockfile.py: a small JSON sidecar next to the
// bot's config file recording the owning pid and a fingerprint of its bot
// token, so a second process started against the same config (or the same
// token under a different config path) fails fast instead of racing the
// first for Telegram's getUpdates long-poll.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type lockInfo struct {
	PID              int    `json:"pid"`
	TokenFingerprint string `json:"token_fingerprint,omitempty"`
}

// LockError reports why acquisition failed. State is "running" when another
// live process holds the lock; any other value is the underlying I/O error
// text.
type LockError struct {
	Path  string
	State string
}

func (e *LockError) Error() string {
	if e.State != "running" {
		return fmt.Sprintf("lock failed: %s", e.State)
	}
	return fmt.Sprintf("already running\nremove %s if stale", displayPath(e.Path))
}

// Handle is a held lock; Release removes the lock file. Safe to call more
// than once.
type Handle struct {
	path string
}

func (h *Handle) Release() error {
	if h == nil || h.path == "" {
		return nil
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockfile: remove: %w", err)
	}
	return nil
}

// TokenFingerprint truncates a sha256 of the bot token to 10 hex chars, so
// the lock file never stores the token itself.
func TokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:10]
}

// PathForConfig mirrors lock_path_for_config: replace config_path's
// extension with ".lock".
func PathForConfig(configPath string) string {
	ext := filepath.Ext(configPath)
	return strings.TrimSuffix(configPath, ext) + ".lock"
}

// Acquire takes the lock next to configPath, or returns a *LockError if a
// live process already holds it with a matching token fingerprint. If an
// existing lock names a different token fingerprint, the lock is
// overwritten and acquisition still succeeds (mirrors acquire_lock's "token
// rotated" branch: a stale lock from a previous token generation yields to
// whichever token is currently configured).
func Acquire(configPath, tokenFingerprint string) (*Handle, error) {
	lockPath := PathForConfig(configPath)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, &LockError{Path: lockPath, State: err.Error()}
	}

	existing := readLockInfo(lockPath)
	if existing != nil {
		sameToken := tokenFingerprint != "" && existing.TokenFingerprint != "" && existing.TokenFingerprint == tokenFingerprint
		differentToken := tokenFingerprint != "" && existing.TokenFingerprint != "" && existing.TokenFingerprint != tokenFingerprint
		if !differentToken && sameToken && pidRunning(existing.PID) {
			return nil, &LockError{Path: lockPath, State: "running"}
		}
		if !differentToken && existing.TokenFingerprint == "" && pidRunning(existing.PID) {
			return nil, &LockError{Path: lockPath, State: "running"}
		}
	}

	if err := writeLockInfo(lockPath, os.Getpid(), tokenFingerprint); err != nil {
		return nil, &LockError{Path: lockPath, State: err.Error()}
	}
	return &Handle{path: lockPath}, nil
}

func readLockInfo(path string) *lockInfo {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var info lockInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil
	}
	return &info
}

func writeLockInfo(path string, pid int, tokenFingerprint string) error {
	payload, err := json.MarshalIndent(lockInfo{PID: pid, TokenFingerprint: tokenFingerprint}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

func displayPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(home, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.Join("~", rel)
}
