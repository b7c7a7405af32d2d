// Package main is the entry point for the phylo-tiles server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phylo-tiles/server/internal/api"
	"github.com/phylo-tiles/server/internal/cache"
	"github.com/phylo-tiles/server/internal/config"
	"github.com/phylo-tiles/server/internal/render"
	"github.com/phylo-tiles/server/internal/service"
	"github.com/phylo-tiles/server/internal/tree"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	dataPath := flag.String("data", "", "Path to the tree JSONL export (overrides config)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dataPath != "" {
		cfg.Data.Path = *dataPath
	}

	log.Printf("Starting phylo-tiles server on port %d", cfg.Server.Port)

	// Load the tree. This is all-or-nothing: a partially built store is
	// never served.
	start := time.Now()
	store, metadata, err := tree.Load(cfg.Data.Path)
	if err != nil {
		log.Fatalf("Failed to load tree from %s: %v", cfg.Data.Path, err)
	}
	log.Printf("Loaded %s in %v (dataset version %s)", tree.Describe(store), time.Since(start), metadata.Version)

	// Derive the client config from the loaded tree
	tree.ApplyLoadSummary(&metadata.Config, store, metadata.Mutations)

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		QueryCacheSizeMB: cfg.Cache.QuerySizeMB,
		QueryTTL:         time.Duration(cfg.Cache.QueryTTLMinutes) * time.Minute,
		NodeCacheSize:    cfg.Cache.NodeCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize preview renderer
	previewRenderer := render.NewPreviewRenderer(render.Config{
		Width:  cfg.Render.PreviewWidth,
		Height: cfg.Render.PreviewHeight,
	})

	// Initialize tree service
	treeService := service.NewTreeService(service.TreeServiceConfig{
		Store:    store,
		Cache:    cacheManager,
		Renderer: previewRenderer,
	})

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Service:     treeService,
		Config:      &metadata.Config,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
