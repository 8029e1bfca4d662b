package serve

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/payvex/payvex/internal/config"
	"github.com/payvex/payvex/internal/logging"
	"github.com/payvex/payvex/internal/memdb"
	"github.com/payvex/payvex/pkg/objectstore"
	"github.com/payvex/payvex/pkg/payvex"
	"github.com/payvex/payvex/pkg/rpc"
)

// Backend is the embedded database plus its snapshot generations.
// Snapshots is nil when snapshots are disabled.
type Backend struct {
	DB        *memdb.DB
	Snapshots *memdb.Generations
}

// OpenBackend creates the embedded database for cfg and restores the last
// snapshot when one exists.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Backend, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	b := &Backend{DB: memdb.New(catalog)}
	if !cfg.Snapshot.Enabled() {
		return b, nil
	}

	sc := cfg.Snapshot.ObjectStore
	store, err := objectstore.Open(ctx, objectstore.Config{
		Type:      sc.Type,
		Endpoint:  sc.Endpoint,
		Bucket:    sc.Bucket,
		AccessKey: sc.AccessKey,
		SecretKey: sc.SecretKey,
		Region:    sc.Region,
		UseSSL:    sc.UseSSL,
		RootPath:  sc.RootPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}
	prefix := cfg.Snapshot.GetPrefix()
	b.Snapshots = memdb.NewGenerations(store, prefix, cfg.Snapshot.GetRetain())

	key, err := b.Snapshots.Restore(ctx, b.DB)
	if err != nil {
		if !errors.Is(err, objectstore.ErrNotFound) {
			return nil, err
		}
		logger.Info("no snapshot found, starting empty", "prefix", prefix)
	} else {
		logger.Info("snapshot restored", "key", key, "tables", len(b.DB.Tables()))
	}
	return b, nil
}

func Run(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	addr := fs.String("addr", "", "Listen address (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	// The backend always executes inline; remote settings are for clients.
	cfg.Mode = config.ModeInline

	logger := logging.NewWithLevel(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	backend, err := OpenBackend(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}

	adapter, err := payvex.Open(cfg, backend.DB, logger)
	if err != nil {
		log.Fatalf("Failed to create processor: %v", err)
	}

	server, err := rpc.NewServer(adapter.Processor(), rpc.Options{
		AuthToken:        cfg.AuthToken,
		QueryConcurrency: cfg.GetQueryConcurrency(),
		QueryTimeout:     cfg.Timeout.GetQueryTimeout(),
		MutationTimeout:  cfg.Timeout.GetMutationTimeout(),
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	snapCtx, stopSnapshots := context.WithCancel(context.Background())
	snapDone := make(chan struct{})
	if backend.Snapshots != nil {
		go func() {
			defer close(snapDone)
			backend.DB.RunSnapshots(snapCtx, backend.Snapshots, cfg.Snapshot.Interval(), logger.Logger)
		}()
		fmt.Printf("Writing snapshots to %s every %s\n", cfg.Snapshot.GetPrefix(), cfg.Snapshot.Interval())
	} else {
		close(snapDone)
	}

	writeTimeout := cfg.Timeout.GetMutationTimeout() + 5*time.Second
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		fmt.Printf("Starting payvex backend on %s\n", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	fmt.Println("\nShutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	stopSnapshots()
	<-snapDone

	fmt.Println("Server stopped")
}
