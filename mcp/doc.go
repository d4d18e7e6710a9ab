// Package mcp implements the client side of the Model Context Protocol wire
// format: JSON-RPC 2.0 messages exchanged as newline-delimited JSON over a
// server's stdin and stdout.
//
// # Message Flow
//
// A session always opens with the initialize handshake, then issues tool
// operations:
//
//	client                              server
//	  | initialize (id 1)                 |
//	  |---------------------------------->|
//	  |<----------------------------------|
//	  | notifications/initialized         |
//	  |---------------------------------->|
//	  | tools/list (id 2)                 |
//	  |---------------------------------->|
//	  |<----------------------------------|
//	  | tools/call (id 3, 4, ...)         |
//	  |---------------------------------->|
//	  |<----------------------------------|
//
// Requests carry integer ids assigned in increasing order starting at
// InitializeID. Responses echo the id they answer; RequestID tolerates
// servers that echo it back as a string.
//
// # Decoding
//
// DecodeResponse is strict: a line must be valid JSON, declare jsonrpc
// "2.0", and carry exactly one of result or error. Anything else yields a
// DecodeError, which callers treat as a protocol fault on the session.
// A decoded *RPCError, by contrast, is a well-formed answer: it belongs to
// the request that provoked it and leaves the session usable.
package mcp
