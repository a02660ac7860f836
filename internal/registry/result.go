package registry

import (
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

var jsonMarshal = json.Marshal

// ToolResult is the flattened outcome of one tool call: the rendered
// content and whether the tool itself reported an error.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// renderToolResult extracts textual output from an MCP CallToolResult.
// Structured content wins; otherwise text parts are joined and non-text
// parts fall back to their JSON encoding.
func renderToolResult(result *mcp.CallToolResult) *ToolResult {
	if result == nil {
		return &ToolResult{IsError: true, Content: "empty result"}
	}

	out := &ToolResult{IsError: result.IsError}

	if result.StructuredContent != nil {
		if data, err := jsonMarshal(result.StructuredContent); err == nil {
			out.Content = string(data)
			return out
		}
	}

	var parts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		default:
			if raw, err := jsonMarshal(content); err == nil {
				parts = append(parts, string(raw))
			}
		}
	}
	out.Content = strings.Join(parts, "\n")
	return out
}
