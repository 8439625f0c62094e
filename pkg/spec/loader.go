// Package spec loads the OpenAPI document the bridge exposes. Sources are
// a filesystem path, an http(s) URL, or a named record in the Postgres
// store. Loading settles exactly once per process; a failed load leaves
// the bridge serving zero tools instead of exiting.
package spec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/tidwall/jsonc"

	"github.com/tradebridge/openapi-mcp/pkg/server"
	"github.com/tradebridge/openapi-mcp/pkg/store"
)

const fetchTimeout = 30 * time.Second

// Loader resolves a specification source into a parsed document. Ready
// flips to true once the load attempt has settled, success or failure;
// Doc stays nil on failure and the bridge serves zero tools.
type Loader struct {
	source      string
	databaseURL string

	mu      sync.RWMutex
	ready   bool
	doc     *openapi3.T
	loadErr error
}

// NewLoader creates a Loader for the given source. The database URL is
// only consulted for db:<name> sources.
func NewLoader(source, databaseURL string) *Loader {
	return &Loader{source: source, databaseURL: databaseURL}
}

// Ready reports whether the load attempt has settled.
func (l *Loader) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready
}

// Doc returns the parsed document, nil when loading failed or has not
// settled yet.
func (l *Loader) Doc() *openapi3.T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.doc
}

// Err returns the settled load error, nil on success or before settling.
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadErr
}

// Load fetches and parses the specification synchronously. It always
// settles the loader; the returned error mirrors the recorded one.
func (l *Loader) Load(ctx context.Context) error {
	doc, err := l.fetch(ctx)

	l.mu.Lock()
	l.doc = doc
	l.loadErr = err
	l.ready = true
	l.mu.Unlock()

	if err != nil {
		if bridgeErr, ok := err.(*server.BridgeError); ok {
			bridgeErr.LogError()
		} else {
			log.Printf("SPEC ERROR: %v", err)
		}
		return err
	}
	if doc != nil {
		log.Printf("Loaded OpenAPI spec: %s (version %s)", docTitle(doc), docVersion(doc))
	}
	return nil
}

// LoadAsync runs Load on a goroutine. Used for URL sources so a slow or
// unreachable host does not block transport startup.
func (l *Loader) LoadAsync(ctx context.Context) {
	go func() {
		if err := l.Load(ctx); err != nil {
			log.Printf("Background spec load failed; serving zero tools")
		}
	}()
}

func (l *Loader) fetch(ctx context.Context) (*openapi3.T, error) {
	switch {
	case strings.HasPrefix(l.source, "blob:"):
		// Browser-local object URLs are unreachable from this process.
		log.Printf("Spec source %q is a blob URL and cannot be fetched; serving zero tools", l.source)
		return nil, nil
	case strings.HasPrefix(l.source, "http://"), strings.HasPrefix(l.source, "https://"):
		return l.loadFromURL(ctx)
	case strings.HasPrefix(l.source, "db:"):
		return l.loadFromDatabase(ctx)
	default:
		return l.loadFromFile()
	}
}

func (l *Loader) loadFromURL(ctx context.Context) (*openapi3.T, error) {
	log.Printf("Fetching OpenAPI spec from URL: %s", l.source)

	client := &http.Client{Timeout: fetchTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.source, nil)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeSpec, "invalid spec URL")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeNetwork, "failed to fetch spec")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, server.NewError(server.ErrorTypeSpec,
			"failed to fetch spec", fmt.Sprintf("HTTP %d from %s", resp.StatusCode, l.source))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeNetwork, "failed to read spec response")
	}

	// Remote documents are sometimes hand-edited JSON with trailing
	// commas; repair before parsing. YAML bodies pass through untouched.
	if looksLikeJSON(data) {
		data = jsonc.ToJSON(data)
	}

	return parseDocument(data)
}

func (l *Loader) loadFromFile() (*openapi3.T, error) {
	log.Printf("Loading OpenAPI spec from file: %s", l.source)

	data, err := os.ReadFile(l.source)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeSpec, "failed to read spec file")
	}
	return parseDocument(data)
}

func (l *Loader) loadFromDatabase(ctx context.Context) (*openapi3.T, error) {
	name := strings.TrimPrefix(l.source, "db:")

	if l.databaseURL == "" {
		return nil, server.NewError(server.ErrorTypeConfig,
			"db: spec source requires DATABASE_URL", "")
	}

	db, err := store.Connect(l.databaseURL)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	repo := store.NewRepository(db)
	var record *store.SpecRecord
	if name == "" {
		// Bare "db:" loads whichever record specctl marked active.
		log.Printf("Loading active OpenAPI spec from database")
		record, err = repo.GetActive(ctx)
	} else {
		log.Printf("Loading OpenAPI spec %q from database", name)
		record, err = repo.GetByName(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	return parseDocument([]byte(record.Content))
}

// parseDocument parses JSON or YAML bytes into an OpenAPI document and
// resolves internal references.
func parseDocument(data []byte) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeSpec, "failed to parse OpenAPI spec")
	}
	if doc.Paths == nil || doc.Paths.Len() == 0 {
		log.Printf("Spec contains no paths; no tools will be generated")
	}
	return doc, nil
}

// ResolveParameter follows a #/components/parameters/<name> reference in
// the given document. Already-resolved parameter refs pass through.
func ResolveParameter(doc *openapi3.T, ref *openapi3.ParameterRef) *openapi3.Parameter {
	if ref == nil {
		return nil
	}
	if ref.Value != nil {
		return ref.Value
	}
	const prefix = "#/components/parameters/"
	if doc == nil || doc.Components == nil || !strings.HasPrefix(ref.Ref, prefix) {
		return nil
	}
	name := strings.TrimPrefix(ref.Ref, prefix)
	if target, ok := doc.Components.Parameters[name]; ok && target != nil {
		return target.Value
	}
	return nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func docTitle(doc *openapi3.T) string {
	if doc.Info != nil && doc.Info.Title != "" {
		return doc.Info.Title
	}
	return "untitled"
}

func docVersion(doc *openapi3.T) string {
	if doc.Info != nil && doc.Info.Version != "" {
		return doc.Info.Version
	}
	return "unknown"
}
