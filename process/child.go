// Package process manages MCP server child processes: spawning them with
// piped stdio, draining stderr concurrently, reaping them exactly once,
// and tracking their pids so orphans from crashed runs can be cleaned up.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mkarppi/mcpdrive/logger"
)

const (
	// stderrTailLines is how many recent stderr lines are kept for error
	// reporting when a server fails.
	stderrTailLines = 50

	// maxStderrLineBytes bounds a single stderr line so a misbehaving
	// server cannot grow the drain buffer without limit.
	maxStderrLineBytes = 256 * 1024
)

// SpawnError reports a server command that could not be started.
type SpawnError struct {
	Command string
	cause   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command, e.cause)
}

func (e *SpawnError) Unwrap() error {
	return e.cause
}

// LivenessError reports a process still alive after the shutdown grace
// period. The caller decides whether to escalate to Kill.
type LivenessError struct {
	PID     int
	Timeout time.Duration
}

func (e *LivenessError) Error() string {
	return fmt.Sprintf("process %d still running %s after shutdown request", e.PID, e.Timeout)
}

// Config holds the configuration for spawning a server process.
type Config struct {
	Command string
	Args    []string
	Dir     string   // working directory; empty inherits the parent's
	Env     []string // extra KEY=VALUE entries appended to the parent environment

	// StderrFilter decides which stderr lines are recorded. A nil filter
	// keeps every line.
	StderrFilter func(line string) bool

	// StderrSink optionally mirrors kept stderr lines, e.g. to the user's
	// terminal in debug mode.
	StderrSink io.Writer

	// Tracker optionally records the pid for orphan cleanup.
	Tracker   *Tracker
	SessionID string
}

// DropInfoLines is a StderrFilter that suppresses routine INFO chatter
// many servers write on startup, keeping warnings and errors.
func DropInfoLines(line string) bool {
	return !strings.Contains(line, "INFO")
}

// Child is a spawned server process with piped stdio. The stdout side is
// read on demand by ReadLine; stderr is drained by a background goroutine
// from the moment the process starts.
type Child struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr io.ReadCloser
	log    *slog.Logger

	filter    func(string) bool
	sink      io.Writer
	tracker   *Tracker
	sessionID string

	// Process state (protected by mu)
	mu         sync.Mutex
	tail       []string
	exitErr    error
	exited     bool
	terminated bool

	// waitDone is closed by monitorExit when cmd.Wait() completes.
	// Everything that needs the process reaped selects on this channel
	// instead of calling cmd.Wait() again.
	waitDone   chan struct{}
	stderrDone chan struct{}

	wg sync.WaitGroup
}

// Spawn starts the configured command with piped stdin, stdout, and stderr,
// and begins draining stderr. A nil log uses the package default.
func Spawn(cfg Config, log *slog.Logger) (*Child, error) {
	if log == nil {
		log = logger.WithComponent("process")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	// Get stdin pipe for writing requests
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Error("failed to get stdin pipe", "error", err)
		return nil, &SpawnError{Command: cfg.Command, cause: fmt.Errorf("stdin pipe: %w", err)}
	}

	// Get stdout pipe for reading responses
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		log.Error("failed to get stdout pipe", "error", err)
		return nil, &SpawnError{Command: cfg.Command, cause: fmt.Errorf("stdout pipe: %w", err)}
	}

	// Get stderr pipe for diagnostics
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		log.Error("failed to get stderr pipe", "error", err)
		return nil, &SpawnError{Command: cfg.Command, cause: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		log.Error("failed to start process", "command", cfg.Command, "error", err)
		return nil, &SpawnError{Command: cfg.Command, cause: err}
	}

	c := &Child{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     bufio.NewReader(stdout),
		stderr:     stderr,
		log:        log,
		filter:     cfg.StderrFilter,
		sink:       cfg.StderrSink,
		tracker:    cfg.Tracker,
		sessionID:  cfg.SessionID,
		waitDone:   make(chan struct{}),
		stderrDone: make(chan struct{}),
	}

	log.Info("process started", "command", cfg.Command, "pid", cmd.Process.Pid)

	if c.tracker != nil {
		if err := c.tracker.Add(Entry{
			PID:       cmd.Process.Pid,
			Command:   cfg.Command,
			SessionID: cfg.SessionID,
			StartedAt: time.Now(),
		}); err != nil {
			log.Warn("failed to record process", "pid", cmd.Process.Pid, "error", err)
		}
	}

	// Start goroutines to drain stderr and reap the process.
	// Track them with WaitGroup so shutdown can wait for both.
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.drainStderr()
	}()
	go func() {
		defer c.wg.Done()
		c.monitorExit()
	}()

	return c, nil
}

// PID returns the process id of the child.
func (c *Child) PID() int {
	return c.cmd.Process.Pid
}

// Running reports whether the process has not yet been reaped.
func (c *Child) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.exited
}

// ExitErr returns the result of cmd.Wait() once the process has exited,
// nil before that.
func (c *Child) ExitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

// StderrTail returns the most recent stderr lines, newest last, for
// inclusion in error reports.
func (c *Child) StderrTail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.tail, "\n")
}

// Terminate requests a graceful exit: it closes stdin so the server sees
// EOF, then sends SIGTERM. It does not wait; pair with WaitExit. Safe to
// call multiple times.
func (c *Child) Terminate() {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	stdin := c.stdin
	c.stdin = nil
	exited := c.exited
	c.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}

	if exited {
		return
	}

	c.log.Debug("sending SIGTERM", "pid", c.cmd.Process.Pid)
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.log.Debug("failed to send SIGTERM", "error", err)
	}
}

// WaitExit waits up to timeout for the process to exit on its own. On
// success all process goroutines have finished. On timeout it returns a
// LivenessError and leaves the process running for the caller to Kill.
func (c *Child) WaitExit(timeout time.Duration) error {
	select {
	case <-c.waitDone:
	case <-time.After(timeout):
		return &LivenessError{PID: c.cmd.Process.Pid, Timeout: timeout}
	}

	c.wg.Wait()
	return nil
}

// Kill force-kills the process and waits for it to be reaped. Used when
// WaitExit reports the process ignored the shutdown request.
func (c *Child) Kill() {
	c.log.Debug("force killing process", "pid", c.cmd.Process.Pid)
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.log.Debug("kill failed", "error", err)
	}

	<-c.waitDone
	c.wg.Wait()
}

// drainStderr reads stderr for the life of the process so the child can
// never block on a full pipe. Kept lines go to the debug log, the rolling
// tail, and the optional sink.
func (c *Child) drainStderr() {
	defer close(c.stderrDone)

	scanner := bufio.NewScanner(c.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStderrLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if c.filter != nil && !c.filter(line) {
			continue
		}

		c.log.Debug("server stderr", "line", line)

		c.mu.Lock()
		c.tail = append(c.tail, line)
		if len(c.tail) > stderrTailLines {
			c.tail = c.tail[1:]
		}
		c.mu.Unlock()

		if c.sink != nil {
			fmt.Fprintln(c.sink, line)
		}
	}
	if err := scanner.Err(); err != nil {
		c.log.Debug("error reading stderr", "error", err)
	}
}

// monitorExit waits for the process to exit and records the result. It is
// the sole caller of cmd.Wait(); everyone else coordinates through the
// waitDone channel, preventing undefined behavior from double Wait().
func (c *Child) monitorExit() {
	err := c.cmd.Wait()

	c.mu.Lock()
	c.exited = true
	c.exitErr = err
	c.mu.Unlock()

	if err != nil {
		c.log.Debug("process exited", "pid", c.cmd.Process.Pid, "error", err)
	} else {
		c.log.Debug("process exited cleanly", "pid", c.cmd.Process.Pid)
	}

	if c.tracker != nil {
		if rmErr := c.tracker.Remove(c.cmd.Process.Pid); rmErr != nil {
			c.log.Warn("failed to remove process record", "pid", c.cmd.Process.Pid, "error", rmErr)
		}
	}

	close(c.waitDone)
}
