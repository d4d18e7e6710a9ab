package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// spawnCat starts a cat process that echoes stdin lines back on stdout.
func spawnCat(t *testing.T) *Child {
	t.Helper()
	c, err := Spawn(Config{Command: "cat"}, nil)
	if err != nil {
		t.Fatalf("Spawn(cat): %v", err)
	}
	t.Cleanup(func() {
		if c.Running() {
			c.Kill()
		}
	})
	return c
}

func TestSpawn_BadCommand(t *testing.T) {
	_, err := Spawn(Config{Command: "definitely-not-a-real-binary-xyz"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}

	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("error type = %T, want *SpawnError", err)
	}
	if spawnErr.Command != "definitely-not-a-real-binary-xyz" {
		t.Errorf("Command = %q", spawnErr.Command)
	}
	if spawnErr.Unwrap() == nil {
		t.Error("SpawnError should wrap the underlying cause")
	}
}

func TestChild_EchoRoundTrip(t *testing.T) {
	c := spawnCat(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, msg := range []string{`{"jsonrpc":"2.0","id":1}`, "second line"} {
		if err := c.WriteLine([]byte(msg)); err != nil {
			t.Fatalf("WriteLine: %v", err)
		}
		line, err := c.ReadLine(ctx)
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		if line != msg {
			t.Errorf("ReadLine = %q, want %q", line, msg)
		}
	}

	c.Terminate()
	if err := c.WaitExit(2 * time.Second); err != nil {
		t.Fatalf("WaitExit: %v", err)
	}
	if c.Running() {
		t.Error("process should not be running after WaitExit")
	}
}

func TestChild_WriteLine_RejectsEmbeddedNewline(t *testing.T) {
	c := spawnCat(t)
	defer func() {
		c.Terminate()
		c.WaitExit(2 * time.Second)
	}()

	if err := c.WriteLine([]byte("line one\nline two")); err == nil {
		t.Error("WriteLine should reject payload with embedded newline")
	}
}

func TestChild_WriteLine_AfterTerminate(t *testing.T) {
	c := spawnCat(t)

	c.Terminate()
	if err := c.WaitExit(2 * time.Second); err != nil {
		t.Fatalf("WaitExit: %v", err)
	}

	if err := c.WriteLine([]byte("too late")); err == nil {
		t.Error("WriteLine should fail after Terminate")
	}
}

func TestChild_ReadLine_EOF(t *testing.T) {
	c, err := Spawn(Config{Command: "true"}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.ReadLine(ctx); err != io.EOF {
		t.Errorf("ReadLine = %v, want io.EOF", err)
	}

	if err := c.WaitExit(2 * time.Second); err != nil {
		t.Fatalf("WaitExit: %v", err)
	}
}

func TestChild_ReadLine_PartialLineAtEOF(t *testing.T) {
	c, err := Spawn(Config{Command: "sh", Args: []string{"-c", `printf "no terminator"`}}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.ReadLine(ctx); err != io.ErrUnexpectedEOF {
		t.Errorf("ReadLine = %v, want io.ErrUnexpectedEOF", err)
	}

	if err := c.WaitExit(2 * time.Second); err != nil {
		t.Fatalf("WaitExit: %v", err)
	}
}

func TestChild_ReadLine_ContextCancel(t *testing.T) {
	c := spawnCat(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.ReadLine(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReadLine = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("ReadLine took %s, should return promptly on cancel", elapsed)
	}

	c.Kill()
}

func TestChild_StripsCRLF(t *testing.T) {
	c, err := Spawn(Config{Command: "sh", Args: []string{"-c", `printf 'crlf line\r\n'`}}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	line, err := c.ReadLine(ctx)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "crlf line" {
		t.Errorf("ReadLine = %q, want %q", line, "crlf line")
	}

	if err := c.WaitExit(2 * time.Second); err != nil {
		t.Fatalf("WaitExit: %v", err)
	}
}

func TestChild_StderrTail(t *testing.T) {
	c, err := Spawn(Config{
		Command: "sh",
		Args:    []string{"-c", `echo "warning one" >&2; echo "warning two" >&2`},
	}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := c.WaitExit(2 * time.Second); err != nil {
		t.Fatalf("WaitExit: %v", err)
	}

	tail := c.StderrTail()
	if !strings.Contains(tail, "warning one") || !strings.Contains(tail, "warning two") {
		t.Errorf("StderrTail = %q, want both warnings", tail)
	}
}

func TestChild_StderrFilter(t *testing.T) {
	var sink bytes.Buffer
	c, err := Spawn(Config{
		Command:      "sh",
		Args:         []string{"-c", `echo "INFO starting up" >&2; echo "ERROR something broke" >&2`},
		StderrFilter: DropInfoLines,
		StderrSink:   &sink,
	}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := c.WaitExit(2 * time.Second); err != nil {
		t.Fatalf("WaitExit: %v", err)
	}

	tail := c.StderrTail()
	if strings.Contains(tail, "INFO") {
		t.Errorf("StderrTail = %q, INFO lines should be filtered", tail)
	}
	if !strings.Contains(tail, "ERROR something broke") {
		t.Errorf("StderrTail = %q, want the error line", tail)
	}
	if got := sink.String(); !strings.Contains(got, "ERROR something broke") || strings.Contains(got, "INFO") {
		t.Errorf("sink = %q, want filtered lines only", got)
	}
}

func TestChild_WaitExit_StubbornProcess(t *testing.T) {
	// The shell ignores SIGTERM, so Terminate alone cannot stop it
	c, err := Spawn(Config{
		Command: "sh",
		Args:    []string{"-c", `trap "" TERM; while :; do sleep 1; done`},
	}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	c.Terminate()

	err = c.WaitExit(300 * time.Millisecond)
	if err == nil {
		t.Fatal("WaitExit should time out on a process that ignores SIGTERM")
	}

	var liveErr *LivenessError
	if !errors.As(err, &liveErr) {
		t.Fatalf("error type = %T, want *LivenessError", err)
	}
	if liveErr.PID != c.PID() {
		t.Errorf("PID = %d, want %d", liveErr.PID, c.PID())
	}
	if !c.Running() {
		t.Error("process should still be running after WaitExit timeout")
	}

	c.Kill()
	if c.Running() {
		t.Error("process should be gone after Kill")
	}
}

func TestChild_Terminate_Idempotent(t *testing.T) {
	c := spawnCat(t)

	c.Terminate()
	c.Terminate()
	c.Terminate()

	if err := c.WaitExit(2 * time.Second); err != nil {
		t.Fatalf("WaitExit: %v", err)
	}
}

func TestChild_EnvPassthrough(t *testing.T) {
	c, err := Spawn(Config{
		Command: "sh",
		Args:    []string{"-c", `echo "$MCPDRIVE_TEST_MARKER"`},
		Env:     []string{"MCPDRIVE_TEST_MARKER=present"},
	}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	line, err := c.ReadLine(ctx)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "present" {
		t.Errorf("ReadLine = %q, want %q", line, "present")
	}

	if err := c.WaitExit(2 * time.Second); err != nil {
		t.Fatalf("WaitExit: %v", err)
	}
}

func TestChild_WorkingDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "here.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := Spawn(Config{Command: "sh", Args: []string{"-c", "ls"}, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	line, err := c.ReadLine(ctx)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "here.txt" {
		t.Errorf("ls output = %q, want %q", line, "here.txt")
	}

	if err := c.WaitExit(2 * time.Second); err != nil {
		t.Fatalf("WaitExit: %v", err)
	}
}

func TestChild_TrackerLifecycle(t *testing.T) {
	tracker := NewTracker(filepath.Join(t.TempDir(), "processes.json"), nil)

	c, err := Spawn(Config{Command: "cat", Tracker: tracker, SessionID: "sess-1"}, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	entries, err := tracker.Orphans()
	if err != nil {
		t.Fatalf("Orphans: %v", err)
	}
	if len(entries) != 1 || entries[0].PID != c.PID() {
		t.Fatalf("Orphans = %+v, want the spawned pid %d", entries, c.PID())
	}
	if entries[0].SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", entries[0].SessionID)
	}

	c.Terminate()
	if err := c.WaitExit(2 * time.Second); err != nil {
		t.Fatalf("WaitExit: %v", err)
	}

	entries, err = tracker.Orphans()
	if err != nil {
		t.Fatalf("Orphans: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Orphans after exit = %+v, want empty", entries)
	}
}
