package suite

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mkarppi/mcpdrive/client"
	"github.com/mkarppi/mcpdrive/logger"
)

// Session is the slice of a client session the runner drives.
type Session interface {
	Call(ctx context.Context, tool string, args map[string]any) (client.Outcome, error)
	Close() error
}

var _ Session = (*client.Session)(nil)

// SessionFunc hands the runner a started session for the suite's server.
// Called once per run, or once per call when the suite isolates.
type SessionFunc func(ctx context.Context) (Session, error)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithProgress streams each call's report line to w as it lands, for live
// CLI output.
func WithProgress(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.progress = w
	}
}

// Runner executes a suite document against live sessions.
type Runner struct {
	doc      *Document
	open     SessionFunc
	progress io.Writer
	log      *slog.Logger
}

// NewRunner creates a runner for doc. The document must already be
// validated.
func NewRunner(doc *Document, open SessionFunc, opts ...RunnerOption) *Runner {
	r := &Runner{
		doc:  doc,
		open: open,
		log:  logger.WithComponent("suite"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the suite and reports per-call outcomes. In shared-session
// mode a transport fault fails the call that hit it and skips the rest; in
// isolate mode every call gets a fresh session and fails alone.
func (r *Runner) Run(ctx context.Context) *Report {
	report := &Report{
		RunID:  uuid.New().String(),
		Server: r.doc.Server.Label(),
	}

	r.log.Info("suite started",
		"runID", report.RunID,
		"server", report.Server,
		"calls", len(r.doc.Calls),
		"isolate", r.doc.Isolate)

	if r.doc.Isolate {
		r.runIsolated(ctx, report)
	} else {
		r.runShared(ctx, report)
	}

	r.log.Info("suite finished",
		"runID", report.RunID,
		"passed", report.Passed(),
		"total", len(report.Results))
	return report
}

func (r *Runner) runShared(ctx context.Context, report *Report) {
	sess, err := r.open(ctx)
	if err != nil {
		report.Err = err
		r.skipFrom(report, 0, fmt.Sprintf("server never became ready: %v", err))
		return
	}
	defer r.closeSession(sess)

	for i, call := range r.doc.Calls {
		result, fatal := r.execute(ctx, sess, call)
		r.record(report, result)
		if fatal != nil {
			report.Err = fatal
			r.skipFrom(report, i+1, "session unusable")
			return
		}
	}
}

func (r *Runner) runIsolated(ctx context.Context, report *Report) {
	for _, call := range r.doc.Calls {
		sess, err := r.open(ctx)
		if err != nil {
			r.record(report, CallResult{
				Tool:   call.Tool,
				Status: StatusFailed,
				Detail: fmt.Sprintf("start session: %v", err),
			})
			continue
		}

		result, _ := r.execute(ctx, sess, call)
		r.closeSession(sess)
		r.record(report, result)
	}
}

// execute runs one call. The returned error is non-nil when the session
// broke under the call.
func (r *Runner) execute(ctx context.Context, sess Session, call Call) (CallResult, error) {
	if r.doc.Timeout != nil && r.doc.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.doc.Timeout.Duration)
		defer cancel()
	}

	out, err := sess.Call(ctx, call.Tool, call.Args)
	if err != nil {
		return CallResult{Tool: call.Tool, Status: StatusFailed, Detail: err.Error()}, err
	}
	return evaluate(call, out), nil
}

// evaluate scores a completed call against its expectations. A remote
// error only fails the call when the suite did not ask for it.
func evaluate(call Call, out client.Outcome) CallResult {
	result := CallResult{Tool: call.Tool, Status: StatusPassed}

	if out.Failed() {
		if call.WantError == out.Err.Code {
			return result
		}
		result.Status = StatusFailed
		if call.WantError != 0 {
			result.Detail = fmt.Sprintf("want remote error %d, got %d (%s)", call.WantError, out.Err.Code, out.Err.Message)
		} else {
			result.Detail = fmt.Sprintf("remote error %d: %s", out.Err.Code, out.Err.Message)
		}
		return result
	}

	if call.WantError != 0 {
		result.Status = StatusFailed
		result.Detail = fmt.Sprintf("want remote error %d, got success", call.WantError)
		return result
	}

	toolResult, err := out.ToolResult()
	if err != nil {
		result.Status = StatusFailed
		result.Detail = err.Error()
		return result
	}

	text := toolResult.Text()
	if toolResult.IsError {
		result.Status = StatusFailed
		result.Detail = "tool reported error: " + text
		return result
	}
	if call.WantText != "" && !strings.Contains(text, call.WantText) {
		result.Status = StatusFailed
		result.Detail = fmt.Sprintf("text %q does not contain %q", text, call.WantText)
		return result
	}
	return result
}

func (r *Runner) record(report *Report, result CallResult) {
	report.Results = append(report.Results, result)
	if r.progress != nil {
		fmt.Fprintln(r.progress, result.Line())
	}
	r.log.Debug("call finished",
		"tool", result.Tool,
		"status", result.Status.String(),
		"detail", result.Detail)
}

func (r *Runner) skipFrom(report *Report, start int, reason string) {
	for _, call := range r.doc.Calls[start:] {
		r.record(report, CallResult{Tool: call.Tool, Status: StatusSkipped, Detail: reason})
	}
}

func (r *Runner) closeSession(sess Session) {
	if err := sess.Close(); err != nil {
		r.log.Warn("session close failed", "error", err)
	}
}
