// Command specctl manages the OpenAPI specifications stored in Postgres.
// The serving process reads the store through the db:<name> source; this
// tool imports, lists, activates, and removes records.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tradebridge/openapi-mcp/pkg/store"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}
	command := os.Args[1]
	if command == "help" {
		printHelp()
		return
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatalf("DATABASE_URL is required")
	}
	db, err := store.Connect(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	repo := store.NewRepository(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch command {
	case "list":
		handleList(ctx, repo)
	case "import":
		handleImport(ctx, repo)
	case "show":
		handleShow(ctx, repo)
	case "activate":
		handleNamed(ctx, repo.SetActive, "activated")
	case "deactivate":
		handleNamed(ctx, repo.SetInactive, "deactivated")
	case "delete":
		handleNamed(ctx, repo.Delete, "deleted")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("Specification store manager")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list                  List stored specifications")
	fmt.Println("  import <file> <name>  Import a spec file under a name")
	fmt.Println("  show <name>           Print a stored spec document")
	fmt.Println("  activate <name>       Mark a spec active (deactivates others)")
	fmt.Println("  deactivate <name>     Clear the active flag")
	fmt.Println("  delete <name>         Remove a spec")
	fmt.Println("  help                  Show this help message")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_URL          PostgreSQL connection string")
}

func handleList(ctx context.Context, repo *store.Repository) {
	records, err := repo.GetAll(ctx)
	if err != nil {
		log.Fatalf("Failed to list specifications: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("No specifications stored.")
		return
	}

	fmt.Printf("%-20s %-30s %-10s %-8s %-8s %s\n", "Name", "Title", "Version", "Format", "Active", "Updated")
	fmt.Println(strings.Repeat("-", 95))
	for _, rec := range records {
		active := ""
		if rec.Active {
			active = "yes"
		}
		fmt.Printf("%-20s %-30s %-10s %-8s %-8s %s\n",
			rec.Name, truncate(rec.Title, 30), rec.Version, rec.Format, active,
			rec.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

func handleImport(ctx context.Context, repo *store.Repository) {
	if len(os.Args) < 4 {
		log.Fatalf("Usage: specctl import <file> <name>")
	}
	path, name := os.Args[2], os.Args[3]

	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}

	format := "json"
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		format = "yaml"
	}
	title, version := documentInfo(content, format)

	rec := &store.SpecRecord{
		Name:    name,
		Title:   title,
		Version: version,
		Content: string(content),
		Format:  format,
	}
	if err := repo.Create(ctx, rec); err != nil {
		log.Fatalf("Failed to import: %v", err)
	}
	fmt.Printf("Imported %s (%s %s) as %q\n", path, title, version, name)
}

func handleShow(ctx context.Context, repo *store.Repository) {
	if len(os.Args) < 3 {
		log.Fatalf("Usage: specctl show <name>")
	}
	rec, err := repo.GetByName(ctx, os.Args[2])
	if err != nil {
		log.Fatalf("Failed to load %s: %v", os.Args[2], err)
	}
	fmt.Println(rec.Content)
}

func handleNamed(ctx context.Context, action func(context.Context, string) error, verb string) {
	if len(os.Args) < 3 {
		log.Fatalf("Usage: specctl %s <name>", os.Args[1])
	}
	name := os.Args[2]
	if err := action(ctx, name); err != nil {
		log.Fatalf("Failed: %v", err)
	}
	fmt.Printf("Specification %q %s\n", name, verb)
}

// documentInfo pulls info.title and info.version out of a raw document for
// the listing columns; a document that will not parse imports anyway.
func documentInfo(content []byte, format string) (string, string) {
	var doc struct {
		Info struct {
			Title   string `json:"title" yaml:"title"`
			Version string `json:"version" yaml:"version"`
		} `json:"info" yaml:"info"`
	}
	if format == "yaml" {
		_ = yaml.Unmarshal(content, &doc)
	} else {
		_ = json.Unmarshal(content, &doc)
	}
	return doc.Info.Title, doc.Info.Version
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
