// Command toolshell is an interactive console over the dispatcher. It
// loads a specification, compiles the tools, and executes calls in-process
// without any transport, which makes it the quickest way to poke at an
// upstream while writing tool policies.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tradebridge/openapi-mcp/pkg/config"
	"github.com/tradebridge/openapi-mcp/pkg/dispatch"
	"github.com/tradebridge/openapi-mcp/pkg/spec"
	"github.com/tradebridge/openapi-mcp/pkg/toolgen"
	"github.com/tradebridge/openapi-mcp/pkg/upstream"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx := context.Background()
	loader := spec.NewLoader(cfg.SpecSource, cfg.DatabaseURL)
	if err := loader.Load(ctx); err != nil {
		log.Fatalf("Failed to load specification: %v", err)
	}

	client := upstream.New(upstream.Options{
		BaseURL:       cfg.BaseURL,
		Username:      cfg.Username,
		Password:      cfg.Password,
		ProxyUserID:   cfg.ProxyUserID,
		MarketplaceID: cfg.AmazonMarketplaceID,
		TLSInsecure:   cfg.TLSInsecure,
	})
	dispatcher := dispatch.New(client, cfg.ValidateBody)
	for _, op := range toolgen.Compile(loader.Doc(), toolgen.DefaultPolicies()) {
		dispatcher.Register(op)
	}

	rl, err := readline.New("toolshell> ")
	if err != nil {
		log.Fatalf("Failed to start readline: %v", err)
	}
	defer rl.Close()

	fmt.Println("Type 'tools' to list tools, 'call <name> [json-args]' to invoke, 'proxy <id>' to switch user, 'exit' to quit.")

	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, " ", 3)
		switch fields[0] {
		case "exit", "quit":
			return
		case "tools":
			printTools(dispatcher)
		case "proxy":
			if len(fields) < 2 {
				fmt.Println("Usage: proxy <id>")
				continue
			}
			client.SetProxyUser(fields[1])
			fmt.Printf("Proxy user set to %s\n", fields[1])
		case "call":
			if len(fields) < 2 {
				fmt.Println("Usage: call <name> [json-args]")
				continue
			}
			args := map[string]any{}
			if len(fields) == 3 {
				if err := json.Unmarshal([]byte(fields[2]), &args); err != nil {
					fmt.Printf("Arguments must be a JSON object: %v\n", err)
					continue
				}
			}
			printResult(dispatcher.CallByName(ctx, fields[1], args))
		default:
			fmt.Printf("Unknown command: %s\n", fields[0])
		}
	}
}

func printTools(dispatcher *dispatch.Dispatcher) {
	ops := dispatcher.Operations()
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		op := ops[name]
		fmt.Printf("%-40s %s %s\n", name, op.Method, op.PathTemplate)
	}
	fmt.Printf("%d tools\n", len(names))
}

func printResult(result *mcp.CallToolResult) {
	if result.IsError {
		fmt.Println("ERROR")
	}
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			fmt.Println(text.Text)
		}
	}
}
