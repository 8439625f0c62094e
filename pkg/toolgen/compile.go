// Package toolgen compiles a parsed OpenAPI document into immutable
// operation descriptors and the tool definitions advertised over the
// protocol. Compilation happens once per process; dispatch never touches
// the document again.
package toolgen

import (
	"log"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/yosida95/uritemplate/v3"

	"github.com/tradebridge/openapi-mcp/pkg/spec"
)

// AuthKind is the authentication strategy resolved at compile time from an
// operation's first security requirement group.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthBasic
	AuthBearer
	// AuthUnsupported covers declared schemes the bridge cannot satisfy
	// (API keys, OAuth flows); dispatch sends no credentials for these.
	AuthUnsupported
)

func (k AuthKind) String() string {
	switch k {
	case AuthBasic:
		return "basic"
	case AuthBearer:
		return "bearer"
	case AuthUnsupported:
		return "unsupported"
	default:
		return "none"
	}
}

// Parameter is one declared operation input.
type Parameter struct {
	Name        string
	Sanitized   string
	In          string
	Required    bool
	Description string
	Schema      map[string]any
}

// Operation is an immutable compiled descriptor for one path+method pair.
type Operation struct {
	Name         string
	Method       string
	PathTemplate string

	// TrailingSlash records whether the template ends in "/" so URL
	// assembly can preserve it; some upstream routes 404 without it.
	TrailingSlash bool

	PathParams   []Parameter
	QueryParams  []Parameter
	HeaderParams []Parameter

	BodyRequired bool
	BodySchema   map[string]any

	Description string
	Auth        AuthKind
	Policy      Policy
}

// Parameters returns all declared parameters in path, query, header order.
func (op *Operation) Parameters() []Parameter {
	out := make([]Parameter, 0, len(op.PathParams)+len(op.QueryParams)+len(op.HeaderParams))
	out = append(out, op.PathParams...)
	out = append(out, op.QueryParams...)
	out = append(out, op.HeaderParams...)
	return out
}

// methodOrder is the fixed set of HTTP methods turned into tools.
var methodOrder = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}

// Compile walks the document in deterministic order and produces one
// operation per exposable path+method pair. Operations with broken path
// templates or colliding names are logged and skipped, never exported
// half-built.
func Compile(doc *openapi3.T, policies PolicyTable) []*Operation {
	if doc == nil || doc.Paths == nil {
		return nil
	}
	if policies == nil {
		policies = DefaultPolicies()
	}

	pathMap := doc.Paths.Map()
	paths := make([]string, 0, len(pathMap))
	for p := range pathMap {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var ops []*Operation
	seen := make(map[string]string)

	for _, path := range paths {
		item := pathMap[path]
		if item == nil {
			continue
		}
		for _, method := range methodOrder {
			apiOp := item.GetOperation(method)
			if apiOp == nil {
				continue
			}

			op, err := compileOne(doc, path, method, item, apiOp, policies)
			if err != nil {
				log.Printf("Skipping %s %s: %v", method, path, err)
				continue
			}
			if prior, dup := seen[op.Name]; dup {
				log.Printf("Skipping %s %s: tool name %q already taken by %s", method, path, op.Name, prior)
				continue
			}
			seen[op.Name] = method + " " + path
			ops = append(ops, op)
		}
	}

	log.Printf("Compiled %d tools from %d paths", len(ops), len(paths))
	return ops
}

func compileOne(doc *openapi3.T, path, method string, item *openapi3.PathItem, apiOp *openapi3.Operation, policies PolicyTable) (*Operation, error) {
	name := apiOp.OperationID
	if name == "" {
		name = synthesizeName(method, path)
	}

	op := &Operation{
		Name:          name,
		Method:        method,
		PathTemplate:  path,
		TrailingSlash: len(path) > 1 && strings.HasSuffix(path, "/"),
		Description:   operationDescription(apiOp),
		Policy:        policies.For(name),
	}
	if op.Policy.ForceTrailingSlash {
		op.TrailingSlash = true
	}

	// Path-item parameters apply to every method and come first; an
	// operation-level redeclaration of the same name+location wins.
	for _, ref := range item.Parameters {
		addParameter(op, spec.ResolveParameter(doc, ref), doc)
	}
	for _, ref := range apiOp.Parameters {
		addParameter(op, spec.ResolveParameter(doc, ref), doc)
	}

	if err := checkTemplate(op); err != nil {
		return nil, err
	}

	if media := jsonRequestBody(apiOp.RequestBody); media != nil {
		op.BodyRequired = true
		if media.Schema != nil {
			op.BodySchema = extractProperty(media.Schema, doc)
		}
	}

	op.Auth = resolveAuth(doc, apiOp)
	return op, nil
}

func addParameter(op *Operation, p *openapi3.Parameter, doc *openapi3.T) {
	if p == nil {
		return
	}
	param := Parameter{
		Name:        p.Name,
		Sanitized:   SanitizeName(p.Name),
		In:          p.In,
		Required:    p.Required,
		Description: p.Description,
	}
	if p.Schema != nil {
		param.Schema = extractProperty(p.Schema, doc)
	}

	var bucket *[]Parameter
	switch p.In {
	case openapi3.ParameterInPath:
		param.Required = true
		bucket = &op.PathParams
	case openapi3.ParameterInQuery:
		bucket = &op.QueryParams
	case openapi3.ParameterInHeader:
		bucket = &op.HeaderParams
	default:
		// Cookie and anything exotic are not dispatchable.
		log.Printf("Ignoring parameter %q with unsupported location %q", p.Name, p.In)
		return
	}

	for i := range *bucket {
		if (*bucket)[i].Name == p.Name {
			(*bucket)[i] = param
			return
		}
	}
	*bucket = append(*bucket, param)
}

// checkTemplate verifies the path template parses and that its variable
// set exactly matches the declared path parameters.
func checkTemplate(op *Operation) error {
	tmpl, err := uritemplate.New(op.PathTemplate)
	if err != nil {
		return &templateError{op.PathTemplate, "invalid path template: " + err.Error()}
	}

	declared := make(map[string]bool, len(op.PathParams))
	for _, p := range op.PathParams {
		declared[p.Name] = true
	}
	inTemplate := make(map[string]bool)
	for _, v := range tmpl.Varnames() {
		inTemplate[v] = true
		if !declared[v] {
			return &templateError{op.PathTemplate, "placeholder {" + v + "} has no declared path parameter"}
		}
	}
	for name := range declared {
		if !inTemplate[name] {
			return &templateError{op.PathTemplate, "path parameter " + name + " has no placeholder"}
		}
	}
	return nil
}

type templateError struct {
	template string
	reason   string
}

func (e *templateError) Error() string {
	return e.reason + " in " + e.template
}

// jsonRequestBody returns the JSON media type of a request body, tolerant
// of media-type parameters like "application/json; charset=utf-8".
func jsonRequestBody(ref *openapi3.RequestBodyRef) *openapi3.MediaType {
	if ref == nil || ref.Value == nil {
		return nil
	}
	for name, media := range ref.Value.Content {
		base := name
		if idx := strings.IndexByte(name, ';'); idx > 0 {
			base = strings.TrimSpace(name[:idx])
		}
		if base == "application/json" {
			return media
		}
	}
	return nil
}

// resolveAuth picks the authentication strategy from the first security
// requirement group, operation-level overriding document-level. The first
// declared scheme in the group decides; alternatives are not tried.
func resolveAuth(doc *openapi3.T, apiOp *openapi3.Operation) AuthKind {
	var reqs openapi3.SecurityRequirements
	if apiOp.Security != nil {
		reqs = *apiOp.Security
	} else if doc.Security != nil {
		reqs = doc.Security
	}
	if len(reqs) == 0 {
		return AuthNone
	}

	// Only the first group is considered; alternative groups degrade to
	// "first declared option". Within the group, the first recognizable
	// scheme wins.
	group := reqs[0]
	if len(group) == 0 {
		return AuthNone
	}
	names := make([]string, 0, len(group))
	for name := range group {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, schemeName := range names {
		if kind, ok := schemeKind(doc, schemeName); ok {
			return kind
		}
	}
	return AuthUnsupported
}

func schemeKind(doc *openapi3.T, schemeName string) (AuthKind, bool) {
	if scheme := registeredScheme(doc, schemeName); scheme != nil {
		if scheme.Type != "http" {
			return AuthUnsupported, false
		}
		switch strings.ToLower(scheme.Scheme) {
		case "basic":
			return AuthBasic, true
		case "bearer":
			return AuthBearer, true
		}
	}
	// Sloppy documents register basic auth under a nonstandard http scheme
	// or reference it without registering it at all; the name still tells.
	if strings.Contains(strings.ToLower(schemeName), "basic") {
		return AuthBasic, true
	}
	return AuthUnsupported, false
}

func registeredScheme(doc *openapi3.T, name string) *openapi3.SecurityScheme {
	if doc.Components == nil || doc.Components.SecuritySchemes == nil {
		return nil
	}
	if ref, ok := doc.Components.SecuritySchemes[name]; ok && ref != nil {
		return ref.Value
	}
	return nil
}

func operationDescription(apiOp *openapi3.Operation) string {
	if apiOp.Summary != "" {
		return apiOp.Summary
	}
	return apiOp.Description
}

// synthesizeName builds a tool name for operations without an operationId:
// the lowercase method joined to the path with non-alphanumeric runs
// collapsed to single underscores.
func synthesizeName(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	pending := true
	for _, r := range path {
		if isIdentRune(r) {
			if pending {
				b.WriteByte('_')
				pending = false
			}
			b.WriteRune(r)
		} else {
			pending = true
		}
	}
	return b.String()
}

// SanitizeName replaces every rune that is not a letter, digit, or
// underscore with an underscore so parameter names survive strict tool
// argument validation.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if isIdentRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func isIdentRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
