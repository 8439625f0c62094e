// Command openapi-mcp bridges a fixed upstream REST API into callable
// tools: it loads an OpenAPI document, compiles one tool per operation,
// and dispatches invocations as single upstream HTTP requests. Default
// transport is stdio; --http <addr> serves the streamable HTTP transport.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tradebridge/openapi-mcp/pkg/config"
	"github.com/tradebridge/openapi-mcp/pkg/dispatch"
	"github.com/tradebridge/openapi-mcp/pkg/spec"
	"github.com/tradebridge/openapi-mcp/pkg/toolgen"
	"github.com/tradebridge/openapi-mcp/pkg/upstream"
)

const (
	serverName    = "openapi-mcp"
	serverVersion = "1.2.0"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	cfg.LogConfiguration()

	client := upstream.New(upstream.Options{
		BaseURL:       cfg.BaseURL,
		Username:      cfg.Username,
		Password:      cfg.Password,
		ProxyUserID:   cfg.ProxyUserID,
		MarketplaceID: cfg.AmazonMarketplaceID,
		TLSInsecure:   cfg.TLSInsecure,
	})
	dispatcher := dispatch.New(client, cfg.ValidateBody)

	mcpServer := mcpserver.NewMCPServer(
		serverName,
		serverVersion,
		mcpserver.WithToolCapabilities(true),
	)

	loader := spec.NewLoader(cfg.SpecSource, cfg.DatabaseURL)
	register := func() {
		doc := loader.Doc()
		if doc == nil {
			log.Printf("No specification available; serving zero tools")
			return
		}
		for _, op := range toolgen.Compile(doc, toolgen.DefaultPolicies()) {
			dispatcher.Register(op)
			mcpServer.AddTool(op.Tool(), dispatcher.Handler(op))
		}
	}

	ctx := context.Background()
	if strings.HasPrefix(cfg.SpecSource, "http://") || strings.HasPrefix(cfg.SpecSource, "https://") {
		// Remote specs load in the background so a slow host does not
		// block transport startup. Until the load settles the status
		// placeholder is the only advertised tool, so callers can tell
		// "still loading" apart from "loaded with zero tools".
		mcpServer.AddTool(dispatch.StatusTool(), dispatch.StatusHandler(loader))
		go func() {
			_ = loader.Load(ctx)
			if loader.Err() == nil && loader.Doc() != nil {
				mcpServer.DeleteTools(dispatch.StatusToolName)
			}
			register()
		}()
	} else {
		_ = loader.Load(ctx)
		register()
	}

	if cfg.HTTPMode {
		startHTTPWithGracefulShutdown(mcpServer, cfg.HTTPAddr)
		return
	}

	log.Printf("Serving tools over stdio")
	if err := mcpserver.ServeStdio(mcpServer); err != nil {
		log.Fatalf("stdio server error: %v", err)
	}
}

func startHTTPWithGracefulShutdown(mcpServer *mcpserver.MCPServer, addr string) {
	httpServer := mcpserver.NewStreamableHTTPServer(mcpServer,
		mcpserver.WithStateLess(true),
	)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Serving streamable HTTP on %s", addr)
		errCh <- httpServer.Start(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("http server error: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		log.Printf("Server stopped")
	}
}
