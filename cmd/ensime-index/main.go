package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/adelbertc/ensime-server/internal/mcp"
	"github.com/adelbertc/ensime-server/internal/project"
	"github.com/adelbertc/ensime-server/internal/search"
	"github.com/adelbertc/ensime-server/internal/storage"
	"github.com/adelbertc/ensime-server/internal/watcher"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("Ensime Index Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		os.Exit(0)
	}

	// Log startup info to stderr (stdout reserved for the protocol)
	log.SetOutput(os.Stderr)
	log.Printf("Ensime Index Server v%s starting...", version)
	log.Printf("Build Mode: %s, Driver: %s", storage.BuildMode, storage.DriverName)

	config := configFromEnv()

	service, err := search.NewSearchService(config, project.NoResolver{})
	if err != nil {
		log.Fatalf("Failed to open index stores: %v", err)
	}

	// Best-effort change listener over the class-output dirs
	if os.Getenv("ENSIME_WATCH") == "1" {
		w, err := watcher.New(service)
		if err != nil {
			log.Fatalf("Failed to create watcher: %v", err)
		}
		if err := w.Start(config.TargetDirs()); err != nil {
			log.Printf("Watcher start failed: %v", err)
		} else {
			defer func() { _ = w.Stop() }()
		}
	}

	server := mcp.NewServerWith(service)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Println("MCP server ready, listening on stdio...")
		errChan <- server.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}

	log.Println("Server stopped")
}

// configFromEnv assembles the project configuration the external config
// collaborator would normally provide.
func configFromEnv() *project.Config {
	cacheDir := os.Getenv("ENSIME_CACHE_DIR")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		cacheDir = filepath.Join(home, ".ensime", "index")
	}

	module := project.Module{
		Name:        "default",
		TargetDirs:  splitPathList(os.Getenv("ENSIME_TARGET_DIRS")),
		CompileJars: splitPathList(os.Getenv("ENSIME_JARS")),
	}

	return &project.Config{
		CacheDir: cacheDir,
		Modules:  map[string]project.Module{module.Name: module},
		JavaLib:  os.Getenv("ENSIME_JAVA_LIB"),
	}
}

func splitPathList(value string) []string {
	if value == "" {
		return nil
	}
	var paths []string
	for _, p := range strings.Split(value, string(os.PathListSeparator)) {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
