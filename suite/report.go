package suite

import (
	"fmt"
	"strings"
)

// Status classifies one call's outcome.
type Status int

const (
	StatusPassed Status = iota
	StatusFailed
	// StatusSkipped marks calls never attempted because the session broke
	// earlier in the run.
	StatusSkipped
)

// String returns the status name for logs.
func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// glyph returns the status marker used in report lines.
func (s Status) glyph() string {
	switch s {
	case StatusPassed:
		return "✓"
	case StatusFailed:
		return "✗"
	default:
		return "○"
	}
}

// CallResult records one executed or skipped call.
type CallResult struct {
	Tool   string
	Status Status
	Detail string // failure or skip reason, empty on pass
}

// Line renders the result as a single report line.
func (c CallResult) Line() string {
	if c.Detail != "" {
		return fmt.Sprintf("%s %s: %s", c.Status.glyph(), c.Tool, c.Detail)
	}
	return fmt.Sprintf("%s %s", c.Status.glyph(), c.Tool)
}

// Report is the outcome of one suite run.
type Report struct {
	RunID   string
	Server  string
	Results []CallResult
	// Err is the session-level fault that cut the run short, if any.
	Err error
}

// Passed counts calls that passed.
func (r *Report) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusPassed {
			n++
		}
	}
	return n
}

// AllPassed reports whether every call in the run passed.
func (r *Report) AllPassed() bool {
	return r.Passed() == len(r.Results)
}

// Summary is the aggregate line a run ends with.
func (r *Report) Summary() string {
	return fmt.Sprintf("%d/%d calls passed", r.Passed(), len(r.Results))
}

// Format renders the full report: one line per call, then the summary.
func (r *Report) Format() string {
	var sb strings.Builder
	for _, res := range r.Results {
		sb.WriteString(res.Line())
		sb.WriteString("\n")
	}
	sb.WriteString(r.Summary())
	sb.WriteString("\n")
	return sb.String()
}
