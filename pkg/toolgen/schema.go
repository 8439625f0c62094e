package toolgen

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/mark3labs/mcp-go/mcp"
)

// TokenArgument is the reserved optional argument accepted by every tool;
// it overrides the session bearer token for one call and never appears in
// missing-input reports.
const TokenArgument = "api_token"

// BodyArgument is the reserved argument carrying the JSON request body.
const BodyArgument = "body"

// queryType is the advertised type union for query parameters; upstream
// accepts scalars, repeated values, and deep-object encodings there.
var queryType = []string{"string", "number", "boolean", "array", "object"}

// Tool renders the operation as an advertised tool definition. Parameter
// names are sanitized; only path parameters are marked required.
func (op *Operation) Tool() mcp.Tool {
	properties := map[string]any{}
	var required []string

	for _, p := range op.PathParams {
		properties[p.Sanitized] = map[string]any{
			"type":        "string",
			"description": parameterDescription(p, "path parameter"),
		}
		required = append(required, p.Sanitized)
	}
	for _, p := range op.QueryParams {
		properties[p.Sanitized] = map[string]any{
			"type":        queryType,
			"description": parameterDescription(p, "query parameter"),
		}
	}
	for _, p := range op.HeaderParams {
		properties[p.Sanitized] = map[string]any{
			"type":        "string",
			"description": parameterDescription(p, "header parameter"),
		}
	}

	if op.BodyRequired {
		body := map[string]any{
			"type":        "object",
			"description": "The JSON request body.",
		}
		if op.BodySchema != nil {
			for k, v := range op.BodySchema {
				body[k] = v
			}
		}
		properties[BodyArgument] = body
	}

	properties[TokenArgument] = map[string]any{
		"type":        "string",
		"description": "Optional bearer token overriding the session token for this call.",
	}

	description := op.Description
	if description == "" {
		description = op.Method + " " + op.PathTemplate
	}

	return mcp.Tool{
		Name:        op.Name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}

func parameterDescription(p Parameter, fallback string) string {
	desc := p.Description
	if desc == "" {
		desc = fallback
	}
	if p.Sanitized != p.Name {
		desc += " (original name: " + p.Name + ")"
	}
	return desc
}

// extractProperty converts an OpenAPI schema into a plain JSON Schema map.
// allOf variants are merged key-wise; oneOf variants are merged into a
// single permissive object since strict unions confuse tool callers.
func extractProperty(ref *openapi3.SchemaRef, doc *openapi3.T) map[string]any {
	if ref == nil {
		return nil
	}
	val := resolveSchema(ref, doc)
	if val == nil {
		return nil
	}

	prop := map[string]any{}

	if len(val.AllOf) > 0 {
		for _, sub := range val.AllOf {
			for k, v := range extractProperty(sub, doc) {
				prop[k] = v
			}
		}
	}
	if len(val.OneOf) > 0 {
		return mergeVariants(val.OneOf, doc)
	}
	if len(val.AnyOf) > 0 {
		variants := make([]any, 0, len(val.AnyOf))
		for _, sub := range val.AnyOf {
			if v := extractProperty(sub, doc); v != nil {
				variants = append(variants, v)
			}
		}
		prop["anyOf"] = variants
	}

	if val.Type != nil && len(*val.Type) > 0 {
		prop["type"] = (*val.Type)[0]
	}
	if val.Format != "" {
		prop["format"] = val.Format
	}
	if val.Description != "" {
		prop["description"] = val.Description
	}
	if len(val.Enum) > 0 {
		prop["enum"] = val.Enum
	}
	if val.Default != nil {
		prop["default"] = val.Default
	}

	if val.Type != nil && val.Type.Is("object") && val.Properties != nil {
		objProps := map[string]any{}
		for name, sub := range val.Properties {
			objProps[name] = extractProperty(sub, doc)
		}
		prop["properties"] = objProps
		if len(val.Required) > 0 {
			prop["required"] = val.Required
		}
	}
	if val.Type != nil && val.Type.Is("array") && val.Items != nil {
		prop["items"] = extractProperty(val.Items, doc)
	}
	return prop
}

// mergeVariants flattens oneOf into one object carrying every variant
// property; a field stays required only when all variants require it.
func mergeVariants(variants []*openapi3.SchemaRef, doc *openapi3.T) map[string]any {
	merged := map[string]any{"type": "object"}
	properties := map[string]any{}
	requiredCount := map[string]int{}
	total := 0

	for _, ref := range variants {
		val := resolveSchema(ref, doc)
		if val == nil {
			continue
		}
		total++
		for name, sub := range val.Properties {
			if p := extractProperty(sub, doc); p != nil {
				properties[name] = p
			}
		}
		for _, req := range val.Required {
			requiredCount[req]++
		}
	}

	if len(properties) > 0 {
		merged["properties"] = properties
	}
	var required []string
	for field, count := range requiredCount {
		if count == total {
			required = append(required, field)
		}
	}
	if len(required) > 0 {
		merged["required"] = required
	}
	return merged
}

func resolveSchema(ref *openapi3.SchemaRef, doc *openapi3.T) *openapi3.Schema {
	if ref == nil {
		return nil
	}
	if ref.Value != nil {
		return ref.Value
	}
	const prefix = "#/components/schemas/"
	if doc != nil && doc.Components != nil && strings.HasPrefix(ref.Ref, prefix) {
		if target, ok := doc.Components.Schemas[strings.TrimPrefix(ref.Ref, prefix)]; ok {
			return target.Value
		}
	}
	return nil
}
