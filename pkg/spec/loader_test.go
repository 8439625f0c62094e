package spec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "Minimal", "version": "0.1"},
  "paths": {
    "/ping": {
      "get": {"operationId": "ping", "responses": {"200": {"description": "ok"}}}
    }
  }
}`

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.json")
	require.NoError(t, os.WriteFile(path, []byte(minimalSpec), 0o644))

	loader := NewLoader(path, "")
	require.False(t, loader.Ready())

	require.NoError(t, loader.Load(context.Background()))
	assert.True(t, loader.Ready())
	require.NotNil(t, loader.Doc())
	assert.Equal(t, "Minimal", loader.Doc().Info.Title)
}

func TestLoadFromURLRepairsTrailingCommas(t *testing.T) {
	sloppy := `{
	  "openapi": "3.0.0",
	  "info": {"title": "Sloppy", "version": "0.1",},
	  "paths": {
	    "/ping": {
	      "get": {"operationId": "ping", "responses": {"200": {"description": "ok"}}},
	    },
	  },
	}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sloppy))
	}))
	defer ts.Close()

	loader := NewLoader(ts.URL, "")
	require.NoError(t, loader.Load(context.Background()))
	require.NotNil(t, loader.Doc())
	assert.Equal(t, "Sloppy", loader.Doc().Info.Title)
}

func TestLoadFromURLFailureStillSettles(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	loader := NewLoader(ts.URL, "")
	err := loader.Load(context.Background())
	require.Error(t, err)
	assert.True(t, loader.Ready(), "a failed load still settles")
	assert.Nil(t, loader.Doc())
	assert.Error(t, loader.Err())
}

func TestBlobSourceSettlesWithoutDocument(t *testing.T) {
	loader := NewLoader("blob:https://example.com/550e8400", "")

	require.NoError(t, loader.Load(context.Background()))
	assert.True(t, loader.Ready())
	assert.Nil(t, loader.Doc(), "blob sources serve zero tools")
	assert.NoError(t, loader.Err())
}

func TestDbSourceRequiresDatabaseURL(t *testing.T) {
	loader := NewLoader("db:orders", "")

	err := loader.Load(context.Background())
	require.Error(t, err)
	assert.True(t, loader.Ready())
	assert.Nil(t, loader.Doc())
}

func TestLoadFromMissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.json"), "")

	err := loader.Load(context.Background())
	require.Error(t, err)
	assert.True(t, loader.Ready())
	assert.Nil(t, loader.Doc())
}
