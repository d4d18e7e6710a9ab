package client

import (
	"encoding/json"
	"fmt"

	"github.com/mkarppi/mcpdrive/mcp"
)

// Outcome is the answer to one tool call: either the raw result payload or
// the server's error for that call. A remote error belongs to the call
// that provoked it and leaves the session usable, which is why it lives
// here instead of in Call's error return.
type Outcome struct {
	Result json.RawMessage
	Err    *mcp.RPCError
}

// Failed reports whether the server answered the call with an error.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// ToolResult decodes the result payload as a tools/call result. On a
// failed outcome it returns the server's error.
func (o Outcome) ToolResult() (mcp.ToolCallResult, error) {
	if o.Err != nil {
		return mcp.ToolCallResult{}, o.Err
	}

	var result mcp.ToolCallResult
	if err := json.Unmarshal(o.Result, &result); err != nil {
		return mcp.ToolCallResult{}, fmt.Errorf("parse tool result: %w", err)
	}
	return result, nil
}

// Text is shorthand for the text content of a successful outcome. A failed
// outcome or unparseable payload yields the empty string.
func (o Outcome) Text() string {
	result, err := o.ToolResult()
	if err != nil {
		return ""
	}
	return result.Text()
}
