package dispatch

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tradebridge/openapi-mcp/pkg/spec"
)

// StatusToolName is the placeholder tool advertised while a remote
// specification load is still in flight.
const StatusToolName = "specification_status"

// StatusTool describes the placeholder. Its presence in a tool listing
// marks the bridge as not ready, so callers can tell an in-flight load
// apart from a settled document with zero operations.
func StatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        StatusToolName,
		Description: "Reports whether the OpenAPI specification has finished loading.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}
}

// StatusHandler answers from the loader's current state: still loading,
// settled with a failure, or settled successfully.
func StatusHandler(loader *spec.Loader) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		switch {
		case !loader.Ready():
			return textResult("Specification is still loading; tools are not available yet. Retry shortly."), nil
		case loader.Err() != nil:
			return errorResult(fmt.Sprintf("Specification failed to load; serving zero tools: %v", loader.Err())), nil
		default:
			return textResult("Specification loaded."), nil
		}
	}
}
