package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mkarppi/mcpdrive/logger"
	"github.com/mkarppi/mcpdrive/paths"
)

// Entry records one spawned server process.
type Entry struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	SessionID string    `json:"sessionID,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// Tracker persists spawned pids to a JSON file so servers orphaned by a
// crashed run can be found and killed later. Server commands are arbitrary,
// so there is no process-name marker to search for; the registry is the
// only record of what was spawned.
type Tracker struct {
	path string
	log  *slog.Logger
	mu   sync.Mutex
}

// NewTracker creates a tracker backed by the given registry file. A nil
// log uses the package default.
func NewTracker(path string, log *slog.Logger) *Tracker {
	if log == nil {
		log = logger.WithComponent("process")
	}
	return &Tracker{path: path, log: log}
}

// DefaultTracker creates a tracker backed by the registry file in the
// state directory.
func DefaultTracker() (*Tracker, error) {
	path, err := paths.ProcessRegistryPath()
	if err != nil {
		return nil, err
	}
	return NewTracker(path, nil), nil
}

// Path returns the registry file backing this tracker.
func (t *Tracker) Path() string {
	return t.path
}

// Add records a spawned process.
func (t *Tracker) Add(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.load()
	if err != nil {
		return err
	}
	return t.save(append(entries, e))
}

// Remove drops the record for a pid. Removing an unknown pid is not an
// error; the process may have been cleaned up by another run.
func (t *Tracker) Remove(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.load()
	if err != nil {
		return err
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.PID != pid {
			kept = append(kept, e)
		}
	}
	return t.save(kept)
}

// Orphans returns recorded processes that are still alive. Records for
// dead pids are pruned from the registry as a side effect.
func (t *Tracker) Orphans() ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.load()
	if err != nil {
		return nil, err
	}

	var alive []Entry
	for _, e := range entries {
		if pidAlive(e.PID) {
			alive = append(alive, e)
		}
	}

	if len(alive) != len(entries) {
		if err := t.save(alive); err != nil {
			return alive, err
		}
	}
	return alive, nil
}

// CleanupOrphans kills every recorded process that is still alive and
// clears the registry. Returns the number of processes killed.
func (t *Tracker) CleanupOrphans() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.load()
	if err != nil {
		return 0, err
	}

	killed := 0
	var remaining []Entry
	for _, e := range entries {
		if !pidAlive(e.PID) {
			continue
		}

		t.log.Info("killing orphaned process", "pid", e.PID, "command", e.Command)
		if err := KillPID(e.PID); err != nil {
			t.log.Warn("failed to kill orphan", "pid", e.PID, "error", err)
			remaining = append(remaining, e)
			continue
		}
		killed++
	}

	if err := t.save(remaining); err != nil {
		return killed, err
	}
	return killed, nil
}

// load reads the registry, treating a missing file as empty.
func (t *Tracker) load() ([]Entry, error) {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read process registry: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse process registry %s: %w", t.path, err)
	}
	return entries, nil
}

func (t *Tracker) save(entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return err
	}

	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(t.path, data, 0644)
}

// KillPID force-kills an arbitrary pid. Killing an already-dead process is
// not an error.
func KillPID(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}

// pidAlive reports whether a pid refers to a live process. Signal 0
// performs the permission checks without delivering anything; EPERM still
// means the process exists.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
