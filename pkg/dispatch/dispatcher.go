// Package dispatch turns a tool invocation into exactly one upstream HTTP
// request. Every call runs the same pipeline: resolve the operation, apply
// the proxy-user side effect, assemble URL, query, headers, and body,
// collect missing inputs, resolve authentication, execute, and format.
// Per-call failures become structured error results; the process never
// exits because of one.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"
	"github.com/xeipuuv/gojsonschema"

	"github.com/tradebridge/openapi-mcp/pkg/server"
	"github.com/tradebridge/openapi-mcp/pkg/toolgen"
	"github.com/tradebridge/openapi-mcp/pkg/upstream"
)

// ProxyUserArgument selects the delegated user for this and subsequent
// calls; any tool accepts it as a side-effecting extra argument.
const ProxyUserArgument = "proxy_user_id"

// accessTokenHeader is matched case-insensitively against declared header
// parameters; when the caller does not supply it, the Amazon vendor token
// fills it in.
const accessTokenHeader = "x-access-token"

// Dispatcher executes compiled operations against the upstream client.
type Dispatcher struct {
	client *upstream.Client
	ops    map[string]*toolgen.Operation

	// strictBody turns advisory request-body validation into a per-call
	// validation error.
	strictBody bool
}

// New creates a Dispatcher over the given upstream client.
func New(client *upstream.Client, strictBody bool) *Dispatcher {
	return &Dispatcher{
		client:     client,
		ops:        make(map[string]*toolgen.Operation),
		strictBody: strictBody,
	}
}

// Register makes an operation callable by name.
func (d *Dispatcher) Register(op *toolgen.Operation) {
	d.ops[op.Name] = op
}

// Operations returns the registered operations in registration-map order.
func (d *Dispatcher) Operations() map[string]*toolgen.Operation {
	return d.ops
}

// Handler adapts an operation into a tool handler. Handler errors are
// always delivered as error results, never as protocol failures.
func (d *Dispatcher) Handler(op *toolgen.Operation) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return d.Call(ctx, op, request.GetArguments()), nil
	}
}

// CallByName resolves the operation first; an unknown name yields an
// unknown_tool error result naming the tool verbatim.
func (d *Dispatcher) CallByName(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	op, ok := d.ops[name]
	if !ok {
		err := server.NewError(server.ErrorTypeUnknownTool,
			fmt.Sprintf("unknown tool: %s", name), "")
		err.LogError()
		return errorResult(err.Error())
	}
	return d.Call(ctx, op, args)
}

// missingInput is one entry of an elicitation report.
type missingInput struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Location    string         `json:"location"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// Call runs the dispatch pipeline for one invocation.
func (d *Dispatcher) Call(ctx context.Context, op *toolgen.Operation, args map[string]any) *mcp.CallToolResult {
	requestID := uuid.NewString()
	if args == nil {
		args = map[string]any{}
	}

	// The proxy-user side effect happens before anything else so even a
	// call that later fails or elicits has already switched the session.
	if raw, ok := args[ProxyUserArgument]; ok {
		if id := cast.ToString(raw); id != "" {
			d.client.SetProxyUser(id)
			log.Printf("Proxy user switched to %s", id)
			if op.Policy.ProxySelection {
				return textResult(fmt.Sprintf(
					"Proxy user set to %s. Subsequent calls act on behalf of this user.", id))
			}
		}
	}

	var missing []missingInput

	// BUILD_URL: substitute each placeholder with the percent-encoded
	// argument value; the template's trailing slash survives verbatim.
	path := op.PathTemplate
	for _, p := range op.PathParams {
		val, ok := lookupArg(args, p)
		if !ok {
			missing = append(missing, missingEntry(p))
			continue
		}
		path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(cast.ToString(val)))
	}
	if op.TrailingSlash && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	requestURL := d.client.BaseURL() + path

	// BUILD_QUERY
	query := url.Values{}
	for _, p := range op.QueryParams {
		val, ok := lookupArg(args, p)
		if !ok {
			if p.Required {
				missing = append(missing, missingEntry(p))
			}
			continue
		}
		for _, s := range queryValues(val) {
			query.Add(p.Name, s)
		}
	}

	// BUILD_HEADERS
	header := http.Header{}
	for _, p := range op.HeaderParams {
		val, ok := lookupArg(args, p)
		if ok {
			header.Set(p.Name, cast.ToString(val))
			continue
		}
		if strings.EqualFold(p.Name, accessTokenHeader) {
			// Fill from the vendor token cache; failure leaves the
			// header off without failing the call.
			if token, err := d.client.AmazonAccessToken(ctx); err == nil {
				header.Set(p.Name, token)
			} else {
				log.Printf("Vendor access token unavailable, sending %s without %s", op.Name, p.Name)
			}
			continue
		}
		if p.Required {
			missing = append(missing, missingEntry(p))
		}
	}

	// BUILD_BODY
	var body []byte
	if op.BodyRequired {
		raw, ok := args[toolgen.BodyArgument]
		if !ok {
			schema := op.BodySchema
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			missing = append(missing, missingInput{
				Name:        toolgen.BodyArgument,
				Description: "The JSON request body.",
				Location:    "body",
				Schema:      schema,
			})
		} else {
			encoded, err := encodeBody(raw)
			if err != nil {
				return d.reportError(
					server.Wrap(err, server.ErrorTypeValidation, "request body is not valid JSON"),
					op, requestURL, query, header, nil, requestID)
			}
			if violations := d.validateBody(op, encoded); violations != "" {
				if d.strictBody {
					return d.reportError(
						server.NewError(server.ErrorTypeValidation, "request body failed schema validation", violations),
						op, requestURL, query, header, encoded, requestID)
				}
				log.Printf("Body validation warnings for %s: %s", op.Name, violations)
			}
			body = encoded
		}
	}

	// CHECK_MISSING: elicit instead of failing. The api_token argument is
	// never reported because the session can always mint a token.
	if len(missing) > 0 {
		return elicitationResult(op.Name, missing)
	}

	// RESOLVE_AUTH
	req := &upstream.Request{
		Method: op.Method,
		URL:    requestURL,
		Query:  query,
		Header: header,
		Body:   body,
	}
	switch op.Auth {
	case toolgen.AuthBasic:
		// Basic never rides together with a bearer header.
		header.Del("Authorization")
		req.UseBasicAuth = true
		if !d.client.HasBasicCredentials() {
			return d.reportError(
				server.NewError(server.ErrorTypeConfig,
					"operation requires basic auth but no credentials are configured", ""),
				op, requestURL, query, header, body, requestID)
		}
	case toolgen.AuthBearer:
		token := cast.ToString(args[toolgen.TokenArgument])
		if token == "" {
			token = d.client.CachedToken()
		}
		if token == "" {
			minted, err := d.client.Authenticate(ctx)
			if err != nil {
				return d.reportError(
					server.NewError(server.ErrorTypeAuth, "missing bearer token",
						"no api_token argument, no session token, and the token handshake failed: "+err.Error()),
					op, requestURL, query, header, body, requestID)
			}
			token = minted
		}
		header.Set("Authorization", "Bearer "+token)
	}

	// EXECUTE: one attempt, no retry.
	resp, err := d.client.Do(ctx, req)
	if err != nil {
		return d.reportError(err, op, requestURL, query, header, body, requestID)
	}

	// FORMAT_RESULT
	if op.Policy.ReformatUserList {
		if text, ok := formatUserList(resp.Payload); ok {
			return textResult(text)
		}
	}
	return textResult(prettyJSON(resp.Payload))
}

func (d *Dispatcher) reportError(err error, op *toolgen.Operation, requestURL string, query url.Values, header http.Header, body []byte, requestID string) *mcp.CallToolResult {
	bridgeErr, ok := err.(*server.BridgeError)
	if !ok {
		bridgeErr = server.Wrap(err, server.ErrorTypeInternal, "dispatch failed")
	}
	bridgeErr.WithRequestID(requestID).LogError()
	return errorResult(formatError(bridgeErr, op.Method, requestURL, query, header, body))
}

// validateBody checks the encoded body against the compiled schema and
// returns a violation summary, empty when the body conforms or no schema
// was compiled.
func (d *Dispatcher) validateBody(op *toolgen.Operation, body []byte) string {
	if op.BodySchema == nil {
		return ""
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(op.BodySchema),
		gojsonschema.NewBytesLoader(body))
	if err != nil {
		log.Printf("Body schema for %s is not validatable: %v", op.Name, err)
		return ""
	}
	if result.Valid() {
		return ""
	}
	var parts []string
	for _, violation := range result.Errors() {
		parts = append(parts, violation.String())
	}
	return strings.Join(parts, "; ")
}

// lookupArg fetches an argument under the original parameter name first,
// then the sanitized one.
func lookupArg(args map[string]any, p toolgen.Parameter) (any, bool) {
	if v, ok := args[p.Name]; ok {
		return v, true
	}
	if v, ok := args[p.Sanitized]; ok {
		return v, true
	}
	return nil, false
}

func missingEntry(p toolgen.Parameter) missingInput {
	return missingInput{
		Name:        p.Sanitized,
		Description: p.Description,
		Location:    p.In,
		Schema:      p.Schema,
	}
}

// queryValues flattens an argument into query string values: arrays repeat
// the key, non-scalar values are sent as compact JSON, scalars are
// stringified.
func queryValues(v any) []string {
	if items, ok := v.([]any); ok {
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, queryScalar(item))
		}
		return out
	}
	return []string{queryScalar(v)}
}

func queryScalar(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		if encoded, err := json.Marshal(v); err == nil {
			return string(encoded)
		}
	}
	return cast.ToString(v)
}

// encodeBody turns the body argument into JSON bytes. Strings must already
// be valid JSON; everything else is marshaled.
func encodeBody(raw any) ([]byte, error) {
	if s, ok := raw.(string); ok {
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("string body is not valid JSON")
		}
		return []byte(s), nil
	}
	return json.Marshal(raw)
}
