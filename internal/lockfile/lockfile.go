// Package lockfile provides advisory cross-process locks and counting
// semaphores backed by atomically created files under a shared directory.
// A crashed holder leaves a stale file that later acquirers reclaim.
package lockfile

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cerr "github.com/probeshift/codectx/internal/errors"
)

// Stale timeouts. A lock guards one mutation and should turn over fast; a
// semaphore slot can legitimately be held for a whole index run.
const (
	DefaultLockTimeout      = 30 * time.Minute
	DefaultSemaphoreTimeout = 2 * time.Hour
)

// ownerInfo identifies the process holding a lock file.
type ownerInfo struct {
	PID         int    `json:"pid"`
	StartTimeMS int64  `json:"start_time_ms"`
	Hostname    string `json:"hostname"`
}

// Manager creates and releases lock files under a single directory and
// remembers what it holds so ReleaseAll can run from a signal handler.
type Manager struct {
	dir     string
	timeout time.Duration

	mu   sync.Mutex
	held map[string]string // name -> file path
}

// NewManager returns a Manager rooted at dir with the default lock timeout.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:     dir,
		timeout: DefaultLockTimeout,
		held:    make(map[string]string),
	}
}

// TryAcquire attempts to take the named lock without blocking. It succeeds
// when no lock file exists or the existing one is stale.
func (m *Manager) TryAcquire(name string) (bool, error) {
	path := m.lockPath(name)

	ok, err := acquireFile(path, m.timeout)
	if err != nil || !ok {
		return ok, err
	}

	m.mu.Lock()
	m.held[name] = path
	m.mu.Unlock()
	return true, nil
}

// Release removes the named lock iff this process owns it.
func (m *Manager) Release(name string) error {
	path := m.lockPath(name)
	if err := releaseFile(path); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.held, name)
	m.mu.Unlock()
	return nil
}

// WithLock runs fn while holding the named lock.
func (m *Manager) WithLock(name string, fn func() error) error {
	ok, err := m.TryAcquire(name)
	if err != nil {
		return err
	}
	if !ok {
		return cerr.New(cerr.ErrCodeLockHeld,
			fmt.Sprintf("lock %q is held by another process", name), nil)
	}
	defer func() {
		if err := m.Release(name); err != nil {
			slog.Warn("failed to release lock",
				slog.String("name", name),
				slog.String("error", err.Error()))
		}
	}()
	return fn()
}

// ReleaseAll releases every lock this manager still holds. Called from
// shutdown paths and signal handlers.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	paths := make(map[string]string, len(m.held))
	for name, path := range m.held {
		paths[name] = path
	}
	m.held = make(map[string]string)
	m.mu.Unlock()

	for name, path := range paths {
		if err := releaseFile(path); err != nil {
			slog.Warn("failed to release lock during shutdown",
				slog.String("name", name),
				slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) lockPath(name string) string {
	sum := md5.Sum([]byte(name))
	return filepath.Join(m.dir, hex.EncodeToString(sum[:])+".lock")
}

// acquireFile atomically creates path with this process's identity. A stale
// existing file is removed and the create retried once; losing that race
// to another process is a clean failure, not an error.
func acquireFile(path string, timeout time.Duration) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		created, err := createExclusive(path)
		if err != nil {
			return false, err
		}
		if created {
			return true, nil
		}
		if !isStale(path, timeout) {
			return false, nil
		}
		_ = os.Remove(path)
	}
	return false, nil
}

func createExclusive(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	info := ownerInfo{
		PID:         os.Getpid(),
		StartTimeMS: time.Now().UnixMilli(),
		Hostname:    hostname(),
	}
	data, err := json.Marshal(info)
	if err == nil {
		_, err = f.Write(data)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return false, err
	}
	return true, nil
}

// isStale reports whether an existing lock file can be reclaimed: its
// content is unreadable, its owner on this host is dead, or it is older
// than the timeout. A live owner on another host can only age out.
func isStale(path string, timeout time.Duration) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return os.IsNotExist(err)
	}

	var info ownerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return true
	}

	age := time.Since(time.UnixMilli(info.StartTimeMS))
	if age > timeout {
		return true
	}

	if info.Hostname == hostname() && !processAlive(info.PID) {
		return true
	}
	return false
}

// releaseFile removes path iff the current process wrote it.
func releaseFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var info ownerInfo
	if err := json.Unmarshal(data, &info); err == nil && info.PID != os.Getpid() {
		return cerr.New(cerr.ErrCodeLockHeld,
			fmt.Sprintf("lock %s is owned by pid %d, not this process", path, info.PID), nil)
	}
	return os.Remove(path)
}

// processAlive checks whether pid exists by sending signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return err == syscall.EPERM
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
