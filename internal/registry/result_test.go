package registry

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

func TestRenderToolResultJoinsTextParts(t *testing.T) {
	result := renderToolResult(&mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "line one"},
			mcp.TextContent{Type: "text", Text: "line two"},
		},
	})
	assert.Equal(t, "line one\nline two", result.Content)
	assert.False(t, result.IsError)
}

func TestRenderToolResultPrefersStructuredContent(t *testing.T) {
	result := renderToolResult(&mcp.CallToolResult{
		StructuredContent: map[string]any{"count": 2},
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "ignored"},
		},
	})
	assert.JSONEq(t, `{"count":2}`, result.Content)
}

func TestRenderToolResultCarriesIsError(t *testing.T) {
	result := renderToolResult(&mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "tool exploded"},
		},
	})
	assert.True(t, result.IsError)
	assert.Equal(t, "tool exploded", result.Content)
}

func TestRenderToolResultNil(t *testing.T) {
	result := renderToolResult(nil)
	assert.True(t, result.IsError)
}
