package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkarppi/mcpdrive/logger"
	"github.com/mkarppi/mcpdrive/mcp"
	"github.com/mkarppi/mcpdrive/process"
)

// Session timeout defaults
const (
	// DefaultCallTimeout bounds each request/response exchange, the
	// handshake included.
	DefaultCallTimeout = 30 * time.Second
	// DefaultTerminateTimeout is how long Close waits for the server to
	// exit after the shutdown request.
	DefaultTerminateTimeout = 5 * time.Second
)

// Client identity defaults sent in the initialize request.
const (
	DefaultClientName    = "mcpdrive"
	DefaultClientVersion = "0.1.0"
)

// Config describes one server and how to run it.
type Config struct {
	Name    string // server name from the registry, used in logs
	Command string
	Args    []string
	Dir     string   // working directory; empty inherits the parent's
	Env     []string // extra KEY=VALUE entries for the server

	// ClientName and ClientVersion identify this client in the initialize
	// request. Defaults are filled in by New.
	ClientName    string
	ClientVersion string

	// CallTimeout bounds each exchange; zero means DefaultCallTimeout.
	CallTimeout time.Duration
	// TerminateTimeout bounds the graceful-exit wait in Close; zero means
	// DefaultTerminateTimeout.
	TerminateTimeout time.Duration
	// StartupDelay optionally pauses between spawn and handshake for
	// servers that cannot buffer stdin while booting. Normally zero: the
	// handshake already blocks until the server answers.
	StartupDelay time.Duration

	// StderrFilter and StderrSink control stderr handling; see
	// process.Config.
	StderrFilter func(line string) bool
	StderrSink   io.Writer

	// Tracker optionally records the spawned pid for orphan cleanup.
	Tracker *process.Tracker
}

// Session is a live connection to one MCP server over its stdio. All
// operations are safe for concurrent use; requests are serialized onto the
// wire in the order the callers arrive.
type Session struct {
	cfg   Config
	id    string
	log   *slog.Logger
	child *process.Child

	// callMu serializes exchanges so concurrent callers cannot interleave
	// frames on the pipe.
	callMu sync.Mutex

	// mu guards the fields below
	mu         sync.Mutex
	state      State
	nextID     int64
	fatal      error
	serverInfo mcp.ServerInfo
}

// New creates an unstarted session for the given server.
func New(cfg Config) *Session {
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = DefaultClientVersion
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.TerminateTimeout <= 0 {
		cfg.TerminateTimeout = DefaultTerminateTimeout
	}
	if cfg.StderrFilter == nil {
		cfg.StderrFilter = process.DropInfoLines
	}

	id := uuid.New().String()
	return &Session{
		cfg:    cfg,
		id:     id,
		log:    logger.WithSession(id).With("component", "client", "server", cfg.Name),
		state:  StateUnstarted,
		nextID: mcp.InitializeID,
	}
}

// ID returns the session id used in logs and the process registry.
func (s *Session) ID() string {
	return s.id
}

// Name returns the server name this session was configured with.
func (s *Session) Name() string {
	return s.cfg.Name
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fault that broke the session, or nil while it is
// healthy. Set once, by the first failed start or exchange.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// ServerInfo returns the server identity reported during the handshake.
func (s *Session) ServerInfo() mcp.ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// StderrTail returns recent stderr from the server process.
func (s *Session) StderrTail() string {
	s.mu.Lock()
	child := s.child
	s.mu.Unlock()

	if child == nil {
		return ""
	}
	return child.StderrTail()
}

// Start spawns the server and performs the initialize handshake. On
// return the session is Ready, or the error describes why it never got
// there. A failed start tears the child process down before returning.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUnstarted {
		defer s.mu.Unlock()
		return &StateError{Op: "start", State: s.state}
	}
	s.state = StateHandshaking
	s.mu.Unlock()

	s.log.Info("starting session", "command", s.cfg.Command)

	child, err := process.Spawn(process.Config{
		Command:      s.cfg.Command,
		Args:         s.cfg.Args,
		Dir:          s.cfg.Dir,
		Env:          s.cfg.Env,
		StderrFilter: s.cfg.StderrFilter,
		StderrSink:   s.cfg.StderrSink,
		Tracker:      s.cfg.Tracker,
		SessionID:    s.id,
	}, s.log)
	if err != nil {
		hsErr := &HandshakeError{Stage: "spawn", cause: err}
		s.mu.Lock()
		s.state = StateErrored
		s.fatal = hsErr
		s.mu.Unlock()
		return hsErr
	}

	s.mu.Lock()
	s.child = child
	s.mu.Unlock()

	if s.cfg.StartupDelay > 0 {
		s.log.Debug("waiting before handshake", "delay", s.cfg.StartupDelay)
		select {
		case <-time.After(s.cfg.StartupDelay):
		case <-ctx.Done():
			err := &HandshakeError{Stage: "initialize", cause: ctx.Err()}
			s.failStart(err)
			return err
		}
	}

	if err := s.handshake(ctx); err != nil {
		s.failStart(err)
		// The child is down and its drain has finished, so the tail is
		// complete; attach it for the error report.
		var hsErr *HandshakeError
		if errors.As(err, &hsErr) && hsErr.Stderr == "" {
			hsErr.Stderr = child.StderrTail()
		}
		return err
	}

	s.mu.Lock()
	s.state = StateReady
	info := s.serverInfo
	s.mu.Unlock()

	s.log.Info("session ready", "serverName", info.Name, "serverVersion", info.Version)
	return nil
}

// handshake sends initialize, consumes the response, and confirms with the
// initialized notification.
func (s *Session) handshake(ctx context.Context) error {
	params := mcp.InitializeParams{
		ProtocolVersion: mcp.ProtocolVersion,
		ClientInfo: mcp.ClientInfo{
			Name:    s.cfg.ClientName,
			Version: s.cfg.ClientVersion,
		},
	}

	resp, err := s.exchange(ctx, mcp.MethodInitialize, params)
	if err != nil {
		return &HandshakeError{Stage: "initialize", cause: err}
	}
	// During the handshake an error response is fatal: there is no
	// session to attribute it to yet.
	if resp.Error != nil {
		return &HandshakeError{Stage: "initialize", cause: resp.Error}
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return &HandshakeError{Stage: "initialize", cause: fmt.Errorf("parse initialize result: %w", err)}
	}

	s.mu.Lock()
	s.serverInfo = result.ServerInfo
	s.mu.Unlock()

	if result.ProtocolVersion != "" && result.ProtocolVersion != mcp.ProtocolVersion {
		s.log.Warn("server negotiated a different protocol version", "version", result.ProtocolVersion)
	}

	data, err := mcp.EncodeNotification(mcp.NewNotification(mcp.MethodInitialized, nil))
	if err != nil {
		return &HandshakeError{Stage: "initialized", cause: err}
	}
	if err := s.child.WriteLine(data); err != nil {
		return &HandshakeError{Stage: "initialized", cause: err}
	}
	return nil
}

// failStart tears the child down after a failed start. The caller never
// got a usable session, so escalation to Kill is automatic here, unlike
// Close.
func (s *Session) failStart(err error) {
	s.child.Terminate()
	if waitErr := s.child.WaitExit(s.cfg.TerminateTimeout); waitErr != nil {
		s.log.Warn("server did not exit after failed start, killing", "error", waitErr)
		s.child.Kill()
	}

	s.mu.Lock()
	s.state = StateErrored
	if s.fatal == nil {
		s.fatal = err
	}
	s.mu.Unlock()
}

// Tools fetches the server's tool catalogue.
func (s *Session) Tools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	if err := s.enterCall("list tools"); err != nil {
		return nil, err
	}

	resp, err := s.exchange(ctx, mcp.MethodToolsList, struct{}{})
	if err != nil {
		s.exitCall(err)
		return nil, err
	}
	if resp.Error != nil {
		s.exitCall(nil)
		return nil, resp.Error
	}

	var result mcp.ToolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		s.exitCall(nil)
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	s.exitCall(nil)

	s.log.Debug("listed tools", "count", len(result.Tools))
	return result.Tools, nil
}

// Call invokes a tool with the given arguments. A server-side error for
// the call comes back inside the Outcome; transport and protocol failures
// come back as the error and leave the session unusable. Nil args are sent
// as an empty object.
func (s *Session) Call(ctx context.Context, tool string, args map[string]any) (Outcome, error) {
	if err := s.enterCall("call " + tool); err != nil {
		return Outcome{}, err
	}

	if args == nil {
		args = map[string]any{}
	}

	resp, err := s.exchange(ctx, mcp.MethodToolsCall, mcp.ToolCallParams{Name: tool, Arguments: args})
	if err != nil {
		s.exitCall(err)
		return Outcome{}, err
	}
	s.exitCall(nil)

	if resp.Error != nil {
		s.log.Debug("tool call failed on server", "tool", tool, "code", resp.Error.Code)
		return Outcome{Err: resp.Error}, nil
	}
	return Outcome{Result: resp.Result}, nil
}

// Close asks the server to exit and waits out the grace period: stdin is
// closed, SIGTERM is sent, and the process gets TerminateTimeout to go. If
// it is still running after that, Close returns the process's
// LivenessError and leaves it alive; escalating to Kill is the caller's
// explicit decision, never Close's. Safe to call repeatedly, in any state.
func (s *Session) Close() error {
	s.mu.Lock()
	s.state = StateClosed
	child := s.child
	s.mu.Unlock()

	if child == nil {
		return nil
	}

	s.log.Debug("closing session")
	child.Terminate()
	if err := child.WaitExit(s.cfg.TerminateTimeout); err != nil {
		s.log.Warn("server still running after shutdown request", "pid", child.PID())
		return err
	}

	s.log.Info("session closed")
	return nil
}

// Kill force-kills the server process. Meant for escalation after Close
// reports that the server ignored its shutdown request.
func (s *Session) Kill() {
	s.mu.Lock()
	s.state = StateClosed
	child := s.child
	s.mu.Unlock()

	if child != nil {
		child.Kill()
	}
}

// exchange sends one request and reads exactly one line back, which must
// be the well-formed response to it. Any other traffic is a protocol
// fault: after a timeout, junk line, or mismatched id the stream position
// is unknown, so the caller poisons the session rather than resynchronize.
func (s *Session) exchange(ctx context.Context, method string, params any) (*mcp.Response, error) {
	id := s.takeID()

	data, err := mcp.EncodeRequest(mcp.NewRequest(id, method, params))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	s.log.Debug("sending request", "method", method, "requestID", id)
	if err := s.child.WriteLine(data); err != nil {
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}

	line, err := s.child.ReadLine(ctx)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("server closed stdout before responding to %s: %w", method, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("timed out waiting for %s response: %w", method, ctx.Err())
		}
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	resp, err := mcp.DecodeResponse([]byte(line))
	if err != nil {
		return nil, err
	}

	if !resp.ID.Equal(id) {
		return nil, &CorrelationError{Got: resp.ID.String(), Want: id}
	}

	s.log.Debug("received response", "requestID", id, "isError", resp.Error != nil)
	return resp, nil
}

// takeID hands out the next request id. IDs increase by one per request
// and are never reused within a session.
func (s *Session) takeID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id
}

// enterCall takes the wire for one operation, moving Ready to Calling.
// Callers must pair it with exitCall.
func (s *Session) enterCall(op string) error {
	s.callMu.Lock()

	s.mu.Lock()
	if s.state != StateReady {
		defer s.callMu.Unlock()
		defer s.mu.Unlock()
		return &StateError{Op: op, State: s.state}
	}
	s.state = StateCalling
	s.mu.Unlock()
	return nil
}

// exitCall releases the wire. A non-nil err is a transport or protocol
// fault: the session moves to Errored and stays there. A concurrent Close
// wins over Errored, since its stdin close is what killed the exchange.
func (s *Session) exitCall(err error) {
	s.mu.Lock()
	if err != nil {
		if s.fatal == nil {
			s.fatal = err
		}
		if s.state == StateCalling {
			s.state = StateErrored
			s.log.Error("session failed", "error", err)
		}
	} else if s.state == StateCalling {
		s.state = StateReady
	}
	s.mu.Unlock()

	s.callMu.Unlock()
}
