// Package cli provides preflight checks for server commands before they
// are spawned.
package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResolveCommand verifies that a server command can actually be spawned
// and returns the path that would run. Bare names resolve through PATH;
// anything containing a separator is checked on disk for existence and an
// executable bit, relative to dir the way exec.Cmd resolves it.
func ResolveCommand(command, dir string) (string, error) {
	if command == "" {
		return "", errors.New("server command is empty")
	}

	if !strings.Contains(command, "/") {
		path, err := exec.LookPath(command)
		if err != nil {
			return "", fmt.Errorf("server command %q not found in PATH", command)
		}
		return path, nil
	}

	path := command
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("server command %q not found", path)
		}
		return "", fmt.Errorf("stat server command: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("server command %q is a directory", path)
	}
	if info.Mode()&0111 == 0 {
		return "", fmt.Errorf("server command %q is not executable", path)
	}
	return path, nil
}

// CheckResult contains the result of checking one server's command.
type CheckResult struct {
	Name    string // server name from the registry
	Command string
	Found   bool
	Path    string // resolved path if found
	Err     error
}

// Check runs the preflight for one named server command.
func Check(name, command, dir string) CheckResult {
	result := CheckResult{Name: name, Command: command}

	path, err := ResolveCommand(command, dir)
	if err != nil {
		result.Err = err
		return result
	}

	result.Found = true
	result.Path = path
	return result
}

// FormatCheckResults formats check results for display.
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Server commands:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			status = "✗"
		}

		sb.WriteString(fmt.Sprintf("  %s %s", status, r.Name))
		if r.Found {
			sb.WriteString(fmt.Sprintf(" (%s)", r.Path))
		} else {
			sb.WriteString(fmt.Sprintf(": %v", r.Err))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
