package toolgen

import (
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const compileDoc = `{
  "openapi": "3.0.0",
  "info": {"title": "Fixture API", "version": "1.0"},
  "security": [{"bearerAuth": []}],
  "paths": {
    "/widgets/{id}": {
      "get": {
        "operationId": "getWidget",
        "summary": "Fetch one widget",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}},
          {"name": "filter[type]", "in": "query", "schema": {"type": "string"}},
          {"name": "X-Access-Token", "in": "header", "schema": {"type": "string"}}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/search/": {
      "get": {
        "operationId": "searchItems",
        "security": [],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/users": {
      "get": {
        "security": [],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/reports": {
      "post": {
        "operationId": "createReport",
        "security": [{"basicAuth": []}],
        "requestBody": {
          "content": {
            "application/json; charset=utf-8": {
              "schema": {
                "type": "object",
                "required": ["title"],
                "properties": {"title": {"type": "string"}}
              }
            }
          }
        },
        "responses": {"201": {"description": "created"}}
      }
    },
    "/zz-widgets-alias/{id}": {
      "get": {
        "operationId": "getWidget",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/broken/{id}": {
      "get": {
        "operationId": "brokenTemplate",
        "responses": {"200": {"description": "ok"}}
      }
    }
  },
  "components": {
    "securitySchemes": {
      "bearerAuth": {"type": "http", "scheme": "bearer"},
      "basicAuth": {"type": "http", "scheme": "basic"}
    }
  }
}`

func loadDoc(t *testing.T, data string) *openapi3.T {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(data))
	require.NoError(t, err)
	return doc
}

func compileFixture(t *testing.T) map[string]*Operation {
	t.Helper()
	ops := Compile(loadDoc(t, compileDoc), DefaultPolicies())
	byName := make(map[string]*Operation, len(ops))
	for _, op := range ops {
		byName[op.Name] = op
	}
	return byName
}

func TestCompileNamesAndMethods(t *testing.T) {
	ops := compileFixture(t)

	require.Contains(t, ops, "getWidget")
	require.Contains(t, ops, "searchItems")
	require.Contains(t, ops, "createReport")
	require.Contains(t, ops, "get_users", "operation without operationId gets a synthesized name")

	assert.Equal(t, "GET", ops["getWidget"].Method)
	assert.Equal(t, "POST", ops["createReport"].Method)
}

func TestCompileSkipsDuplicateNames(t *testing.T) {
	ops := compileFixture(t)

	// /zz-widgets-alias declares the same operationId; the first compiled
	// path keeps the name.
	assert.Equal(t, "/widgets/{id}", ops["getWidget"].PathTemplate)
	assert.Len(t, collectTemplates(ops, "getWidget"), 1)
}

func collectTemplates(ops map[string]*Operation, name string) []string {
	var out []string
	for _, op := range ops {
		if op.Name == name {
			out = append(out, op.PathTemplate)
		}
	}
	return out
}

func TestCompileSkipsBrokenTemplates(t *testing.T) {
	ops := compileFixture(t)
	assert.NotContains(t, ops, "brokenTemplate",
		"placeholder without a declared path parameter must be rejected")
}

func TestCompileAuthResolution(t *testing.T) {
	ops := compileFixture(t)

	assert.Equal(t, AuthBearer, ops["getWidget"].Auth, "document-level requirement applies")
	assert.Equal(t, AuthBasic, ops["createReport"].Auth)
	assert.Equal(t, AuthNone, ops["searchItems"].Auth, "empty operation security overrides the document")
}

func TestCompileAuthBasicByName(t *testing.T) {
	doc := loadDoc(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "t", "version": "1"},
	  "paths": {
	    "/ping": {
	      "get": {
	        "operationId": "ping",
	        "security": [{"legacyBasicAuth": []}],
	        "responses": {"200": {"description": "ok"}}
	      }
	    }
	  },
	  "components": {
	    "securitySchemes": {
	      "legacyBasicAuth": {"type": "http", "scheme": "Basic-Legacy"}
	    }
	  }
	}`)
	ops := Compile(doc, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, AuthBasic, ops[0].Auth, "http scheme named like basic maps to basic")
}

func TestCompileAuthBasicUnregisteredScheme(t *testing.T) {
	doc := loadDoc(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "t", "version": "1"},
	  "paths": {
	    "/ping": {
	      "get": {
	        "operationId": "ping",
	        "security": [{"basicAuth": []}],
	        "responses": {"200": {"description": "ok"}}
	      }
	    }
	  }
	}`)
	ops := Compile(doc, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, AuthBasic, ops[0].Auth, "an unregistered scheme still resolves by name")
}

func TestCompileTrailingSlash(t *testing.T) {
	ops := compileFixture(t)

	assert.True(t, ops["searchItems"].TrailingSlash)
	assert.False(t, ops["getWidget"].TrailingSlash)
}

func TestCompileBody(t *testing.T) {
	ops := compileFixture(t)

	op := ops["createReport"]
	require.True(t, op.BodyRequired, "media type parameters must not hide application/json")
	require.NotNil(t, op.BodySchema)
	assert.Equal(t, "object", op.BodySchema["type"])

	assert.False(t, ops["getWidget"].BodyRequired)
}

func TestToolSchema(t *testing.T) {
	ops := compileFixture(t)

	tool := ops["getWidget"].Tool()
	assert.Equal(t, "getWidget", tool.Name)
	assert.Equal(t, []string{"id"}, tool.InputSchema.Required, "only path parameters are required")

	props := tool.InputSchema.Properties
	require.Contains(t, props, "id")
	require.Contains(t, props, "filter_type_", "query parameter names are sanitized")
	require.Contains(t, props, "X_Access_Token")
	require.Contains(t, props, TokenArgument, "every tool accepts an api_token override")

	query := props["filter_type_"].(map[string]any)
	assert.Equal(t, queryType, query["type"], "query parameters advertise the type union")
}

func TestToolSchemaBody(t *testing.T) {
	ops := compileFixture(t)

	props := ops["createReport"].Tool().InputSchema.Properties
	require.Contains(t, props, BodyArgument)
	body := props[BodyArgument].(map[string]any)
	assert.Equal(t, "object", body["type"])
	assert.NotContains(t, ops["createReport"].Tool().InputSchema.Required, BodyArgument,
		"the body argument stays optional so missing fields elicit instead of failing validation")
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "filter_type_", SanitizeName("filter[type]"))
	assert.Equal(t, "X_Access_Token", SanitizeName("X-Access-Token"))
	assert.Equal(t, "plain_name", SanitizeName("plain_name"))
}

func TestSynthesizeName(t *testing.T) {
	assert.Equal(t, "get_api_v2_items_id", synthesizeName("GET", "/api/v2/items/{id}"))
	assert.Equal(t, "delete_items", synthesizeName("DELETE", "/items/"))
}

func TestDefaultPolicies(t *testing.T) {
	policies := DefaultPolicies()

	proxy := policies.For("getProxyUsers")
	assert.True(t, proxy.ReformatUserList)
	assert.True(t, proxy.ProxySelection)

	search := policies.For("searchItems")
	assert.True(t, search.ForceTrailingSlash)

	assert.Zero(t, policies.For("anythingElse"))
}
