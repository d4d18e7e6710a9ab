// Package client drives MCP servers over stdio, one session per server
// process.
//
// # Overview
//
// A Session owns a single server subprocess and speaks JSON-RPC 2.0 with it
// over the child's stdin and stdout, one message per line. The session
// spawns the process, performs the initialize handshake, and then exposes
// the two tool operations: listing the catalogue and invoking a tool.
//
// # Session Lifecycle
//
// Sessions move through a small state machine:
//
//	unstarted -> handshaking -> ready <-> calling
//	                 |            |
//	                 v            v
//	              errored      closed
//
// Start spawns the server and runs the handshake. Ready sessions accept
// Tools and Call. Close requests shutdown and waits out a grace period;
// Kill is the explicit escalation when the server ignores it.
//
//	sess := client.New(client.Config{Name: "files", Command: "mcp-files"})
//	if err := sess.Start(ctx); err != nil {
//	    // Inspect HandshakeError.Stderr for the server's complaints.
//	}
//	defer sess.Close()
//
//	out, err := sess.Call(ctx, "read_file", map[string]any{"path": "go.mod"})
//
// # Error Classes
//
// Failures split into two classes with different consequences:
//
//   - Server-side tool errors (a JSON-RPC error response, or a result with
//     isError set) are ordinary answers. They come back inside the Outcome
//     and the session stays ready for the next operation.
//   - Transport and protocol faults (broken pipe, timeout, junk on stdout,
//     a mismatched response id) mean the stream position is unknown. The
//     session moves to errored and refuses further operations; the only
//     recovery is a new session.
//
// # Concurrency
//
// A Session is safe for concurrent use. Exchanges are serialized onto the
// wire, so overlapping Call invocations queue rather than interleave
// frames. The Manager adds a name-keyed registry on top for programs that
// hold several servers open at once.
package client
