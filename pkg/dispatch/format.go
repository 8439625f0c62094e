package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"

	"github.com/tradebridge/openapi-mcp/pkg/server"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
		IsError: true,
	}
}

// elicitationResult reports missing inputs as a normal (non-error) result:
// an instruction line plus a machine-readable JSON block the caller can
// use to re-invoke the tool.
func elicitationResult(toolName string, missing []missingInput) *mcp.CallToolResult {
	payload, _ := json.MarshalIndent(map[string]any{"missing_inputs": missing}, "", "  ")
	var b strings.Builder
	fmt.Fprintf(&b, "Tool %s needs more input. Collect the following values and call the tool again with them as arguments:\n\n", toolName)
	b.WriteString("```json\n")
	b.Write(payload)
	b.WriteString("\n```")
	return textResult(b.String())
}

// prettyJSON renders a decoded payload as indented JSON; raw text payloads
// pass through unchanged.
func prettyJSON(payload any) string {
	if payload == nil {
		return "(empty response)"
	}
	if s, ok := payload.(string); ok {
		return s
	}
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(out)
}

// formatUserList renders a proxy-user listing as a numbered human list
// followed by the raw records and re-invocation instructions. Returns
// false when the payload is not a recognizable user array so the caller
// falls through to generic formatting.
func formatUserList(payload any) (string, bool) {
	users, ok := userArray(payload)
	if !ok || len(users) == 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString("Available proxy users:\n\n")
	for i, user := range users {
		name := firstField(user, "name", "full_name", "username", "email")
		id := firstField(user, "id", "user_id", "uuid")
		switch {
		case name != "" && id != "":
			fmt.Fprintf(&b, "%d. %s (id: %s)\n", i+1, name, id)
		case id != "":
			fmt.Fprintf(&b, "%d. id: %s\n", i+1, id)
		default:
			return "", false
		}
	}

	raw, _ := json.MarshalIndent(payload, "", "  ")
	b.WriteString("\n```json\n")
	b.Write(raw)
	b.WriteString("\n```\n\n")
	b.WriteString("To act on behalf of a user, call any tool with the argument " +
		ProxyUserArgument + " set to the chosen id.")
	return b.String(), true
}

// userArray accepts a bare array or an object wrapping one under "items".
func userArray(payload any) ([]map[string]any, bool) {
	var items []any
	switch t := payload.(type) {
	case []any:
		items = t
	case map[string]any:
		wrapped, ok := t["items"].([]any)
		if !ok {
			return nil, false
		}
		items = wrapped
	default:
		return nil, false
	}

	users := make([]map[string]any, 0, len(items))
	for _, item := range items {
		user, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		users = append(users, user)
	}
	return users, true
}

func firstField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := cast.ToString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// sensitiveHeaders are masked in every diagnostic payload, matching the
// masking applied to routine logging.
var sensitiveHeaders = map[string]bool{
	"authorization":  true,
	"x-access-token": true,
	"x-api-key":      true,
}

// maskValue keeps the first and last four characters of a secret visible.
func maskValue(value string) string {
	if len(value) > 8 {
		return value[:4] + "..." + value[len(value)-4:]
	}
	return "***"
}

// formatError serializes a failed call: the structured error plus the
// attempted request with credential header values masked.
func formatError(err *server.BridgeError, method, requestURL string, query url.Values, header http.Header, body []byte) string {
	request := map[string]any{
		"method": method,
		"url":    requestURL,
	}
	if len(query) > 0 {
		request["query"] = query.Encode()
	}
	if len(header) > 0 {
		masked := map[string]string{}
		for name, values := range header {
			value := strings.Join(values, ", ")
			if sensitiveHeaders[strings.ToLower(name)] {
				value = maskValue(value)
			}
			masked[name] = value
		}
		request["headers"] = masked
	}
	if len(body) > 0 {
		request["body"] = string(body)
	}

	payload, marshalErr := json.MarshalIndent(map[string]any{
		"error": map[string]any{
			"type":    string(err.Type),
			"message": err.Message,
			"details": err.Details,
		},
		"request":    request,
		"request_id": err.RequestID,
	}, "", "  ")
	if marshalErr != nil {
		return err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Request failed: %s\n\n", err.Message)
	b.WriteString("```json\n")
	b.Write(payload)
	b.WriteString("\n```")
	return b.String()
}
