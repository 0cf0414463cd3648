package toolbox

import (
	"context"
	"encoding/json"
)

// Handler executes a tool with the given JSON input and returns a text result.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool represents an executable tool with a name, description, JSON Schema, and handler.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// Call is a request to invoke a named tool. Arguments holds the raw JSON
// string to avoid unnecessary deserialization.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Result holds the output of a tool invocation.
type Result struct {
	CallID  string
	Content string
	IsError bool
}
