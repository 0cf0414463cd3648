// Package tools provides the tool surface and its MCP (Model Context
// Protocol) integration.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/hearth/pkg/tools/toolbox] — Tool type and ToolBox orchestrator for registering, listing, and calling tools
//   - [github.com/germanamz/hearth/pkg/tools/mcpserver] — MCP server using the official MCP Go SDK for exposing tools over the MCP protocol
//   - [github.com/germanamz/hearth/pkg/tools/hatools] — Home Assistant control tools (entities, state, services)
//   - [github.com/germanamz/hearth/pkg/tools/logtools] — log search and error-log tools
//   - [github.com/germanamz/hearth/pkg/tools/synctools] — live sync tools (subscriptions, recent changes, callbacks)
//
// The toolbox sub-package is the foundation layer: every other sub-package
// depends on it for the Tool type. The mcpserver package is a thin wrapper
// around the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk).
package tools
