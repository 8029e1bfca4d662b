package query

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/payvex/payvex/cmd/payvex/serve"
	"github.com/payvex/payvex/internal/config"
	"github.com/payvex/payvex/internal/logging"
	"github.com/payvex/payvex/pkg/payvex"
)

// Run executes a single find against the configured backend and prints the
// result as JSON. Inline mode reads the latest snapshot; remote mode calls
// the backend over HTTP.
func Run(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	collection := fs.String("collection", "", "Logical collection name (required)")
	where := fs.String("where", "", `Where clause as JSON, e.g. {"status":{"equals":"draft"}}`)
	sort := fs.String("sort", "", `Sort field, prefix with "-" for descending`)
	limit := fs.Int("limit", 0, "Maximum number of documents")
	pageSize := fs.Int("page-size", 0, "Page size; enables pagination")
	cursor := fs.String("cursor", "", "Cursor returned by a previous page")
	index := fs.String("index", "", "Index hint")
	count := fs.Bool("count", false, "Print the number of matching documents")
	explain := fs.Bool("explain", false, "Print the compiled query without running it")
	fs.Parse(args)

	if *collection == "" {
		fmt.Fprintln(os.Stderr, "Error: -collection is required")
		fs.Usage()
		os.Exit(2)
	}

	var whereMap map[string]any
	if *where != "" {
		if err := json.Unmarshal([]byte(*where), &whereMap); err != nil {
			log.Fatalf("Invalid -where JSON: %v", err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.NewWithLevel(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	ctx := context.Background()

	var tx payvex.Tx
	if cfg.Mode != config.ModeRemote {
		backend, err := serve.OpenBackend(ctx, cfg, logger)
		if err != nil {
			log.Fatalf("Failed to open backend: %v", err)
		}
		tx = backend.DB
	}

	adapter, err := payvex.Open(cfg, tx, logger)
	if err != nil {
		log.Fatalf("Failed to open adapter: %v", err)
	}

	findArgs := payvex.FindArgs{
		Collection: *collection,
		Where:      whereMap,
		Sort:       *sort,
		Limit:      *limit,
		PageSize:   *pageSize,
		Cursor:     *cursor,
		Index:      *index,
	}

	var out any
	switch {
	case *explain:
		out, err = adapter.Explain(findArgs)
	case *count:
		var n int
		n, err = adapter.Count(ctx, *collection, whereMap)
		out = map[string]int{"count": n}
	case *pageSize > 0 || *cursor != "":
		out, err = adapter.FindPage(ctx, findArgs)
	default:
		out, err = adapter.Find(ctx, findArgs)
	}
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("Failed to write result: %v", err)
	}
}
