package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// maxErrLine bounds how much of a bad line is echoed in error messages.
const maxErrLine = 200

// DecodeError reports a line from the server that could not be decoded as
// a JSON-RPC response. After a decode failure the stream position is
// unreliable, so callers treat this as fatal for the session.
type DecodeError struct {
	Reason string
	Line   string
	cause  error
}

func (e *DecodeError) Error() string {
	if e.Line == "" {
		return "decode response: " + e.Reason
	}
	return fmt.Sprintf("decode response: %s: %q", e.Reason, e.Line)
}

func (e *DecodeError) Unwrap() error {
	return e.cause
}

// EncodeRequest serializes a request to a single JSON line without the
// trailing newline.
func EncodeRequest(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Method, err)
	}
	return data, nil
}

// EncodeNotification serializes a notification to a single JSON line.
func EncodeNotification(n Notification) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode %s notification: %w", n.Method, err)
	}
	return data, nil
}

// DecodeResponse parses one line from the server. It rejects blank lines,
// invalid JSON, a wrong jsonrpc version, and responses that carry neither
// or both of result and error. An explicit "result": null counts as a
// result.
func DecodeResponse(line []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Reason: "empty line"}
	}

	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON", Line: truncateLine(trimmed), cause: err}
	}

	if resp.JSONRPC != JSONRPCVersion {
		return nil, &DecodeError{Reason: fmt.Sprintf("jsonrpc version %q", resp.JSONRPC), Line: truncateLine(trimmed)}
	}

	hasResult := len(resp.Result) > 0
	hasError := resp.Error != nil
	switch {
	case hasResult && hasError:
		return nil, &DecodeError{Reason: "both result and error present", Line: truncateLine(trimmed)}
	case !hasResult && !hasError:
		// A method field marks a server-initiated request or notification,
		// which this client does not support.
		var probe struct {
			Method string `json:"method"`
		}
		if json.Unmarshal(trimmed, &probe) == nil && probe.Method != "" {
			return nil, &DecodeError{
				Reason: fmt.Sprintf("unexpected server-initiated message %q", probe.Method),
				Line:   truncateLine(trimmed),
			}
		}
		return nil, &DecodeError{Reason: "neither result nor error present", Line: truncateLine(trimmed)}
	}

	return &resp, nil
}

// truncateLine shortens a line for inclusion in error messages, adding
// ellipsis if needed.
func truncateLine(line []byte) string {
	s := string(line)
	if len(s) <= maxErrLine {
		return s
	}
	return s[:maxErrLine] + "..."
}
