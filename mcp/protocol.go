package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSON-RPC 2.0 message types for the MCP client

const (
	// JSONRPCVersion is the fixed jsonrpc field value on every message.
	JSONRPCVersion = "2.0"
	// ProtocolVersion is the MCP protocol revision this client speaks.
	ProtocolVersion = "2024-11-05"
)

// Method names sent by the client.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// InitializeID is the id of the initialize request. Later requests count up
// from here, one id per request, never reused within a session.
const InitializeID int64 = 1

// Request represents an outgoing JSON-RPC request
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a request with the JSON-RPC version filled in
func NewRequest(id int64, method string, params any) Request {
	return Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Notification represents an outgoing JSON-RPC notification (no id, no reply)
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification builds a notification with the JSON-RPC version filled in
func NewNotification(method string, params any) Notification {
	return Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	}
}

// Response represents an incoming JSON-RPC response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error returned by the server
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface so remote errors can flow through
// normal error returns. The error stays attached to the call that caused
// it; it does not indicate a broken session.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s (code %d, data %v)", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// MCP Protocol specific types

// InitializeParams for the initialize method
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
}

// ClientCapabilities represents the capabilities this client advertises
type ClientCapabilities struct {
	Roots    RootsCapability `json:"roots"`
	Sampling struct{}        `json:"sampling"`
}

// RootsCapability represents root-listing capabilities
type RootsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ClientInfo represents client information
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult for the initialize response. Server capabilities are kept
// raw since this client does not act on them.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      ServerInfo      `json:"serverInfo"`
	Instructions    string          `json:"instructions,omitempty"`
}

// ServerInfo represents server information
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsListResult for tools/list response
type ToolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ToolDefinition represents a tool available on the server. The input schema
// is kept raw so it round-trips unchanged through JSON output.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Schema decodes the tool's input schema for display. Returns a zero schema
// when the tool does not declare one or the schema has an unexpected shape.
func (t ToolDefinition) Schema() InputSchema {
	var s InputSchema
	if len(t.InputSchema) > 0 {
		_ = json.Unmarshal(t.InputSchema, &s)
	}
	return s
}

// InputSchema represents the JSON schema for tool input
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property represents a property in the input schema
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ToolCallParams represents parameters for tools/call
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallResult represents the result of a tool call
type ToolCallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// UnmarshalJSON tolerates servers that send content as a bare string
// instead of a block list.
func (r *ToolCallResult) UnmarshalJSON(data []byte) error {
	var aux struct {
		Content json.RawMessage `json:"content"`
		IsError bool            `json:"isError"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.IsError = aux.IsError
	r.Content = nil
	if len(aux.Content) == 0 {
		return nil
	}
	if aux.Content[0] == '"' {
		var text string
		if err := json.Unmarshal(aux.Content, &text); err != nil {
			return err
		}
		r.Content = []ContentItem{{Type: "text", Text: text}}
		return nil
	}
	return json.Unmarshal(aux.Content, &r.Content)
}

// Text returns the text content blocks joined with newlines. Non-text
// blocks are skipped.
func (r ToolCallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if (c.Type == "text" || c.Type == "") && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ContentItem represents content in a tool result
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
