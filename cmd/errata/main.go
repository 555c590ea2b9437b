// Package main implements the errata binary. It serves the event store
// API, task workers, and compaction daemon in one process, or runs a
// single compaction pass in compact mode.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cedricziel/errata/internal/app"
	"github.com/cedricziel/errata/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpAddr    string
		dryRun      bool
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "", "Mode: serve, compact")
	flag.StringVar(&httpAddr, "http-addr", "", "Listen address of the API server")
	flag.BoolVar(&dryRun, "dry-run", false, "Compact mode: report candidates without mutating storage")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "errata - partitioned columnar event store\n\n")
		fmt.Fprintf(os.Stderr, "Usage: errata [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  errata --data-dir /var/lib/errata\n")
		fmt.Fprintf(os.Stderr, "  errata --mode compact --dry-run\n")
		fmt.Fprintf(os.Stderr, "  errata --config /etc/errata/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment variables use the ERRATA_ prefix (ERRATA_MODE,\n")
		fmt.Fprintf(os.Stderr, "ERRATA_DATA_DIR, ERRATA_HTTP_ADDR, ERRATA_STORAGE_TYPE, ...).\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("errata version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, mode, httpAddr)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Mode == config.ModeCompact {
		runCompaction(ctx, application, dryRun)
		return
	}

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Stop error: %v", err)
		os.Exit(1)
	}
}

// runCompaction performs one compaction pass and prints the summary.
func runCompaction(ctx context.Context, application *app.App, dryRun bool) {
	summary, err := application.RunCompaction(ctx, dryRun)
	if err != nil {
		log.Fatalf("Compaction failed: %v", err)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))

	if summary.HasErrors() {
		os.Exit(1)
	}
}

// loadConfig layers configuration: file, then environment, then flags.
func loadConfig(configFile, dataDir, mode, httpAddr string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	return cfg, nil
}
