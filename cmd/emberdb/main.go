// Package main provides the emberdb CLI entry point.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emberdb/emberdb/pkg/config"
	"github.com/emberdb/emberdb/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "emberdb",
		Short: "emberdb - a transactional property-graph storage engine",
		Long: `emberdb is an embedded property-graph storage engine: MVCC
snapshot isolation over an in-memory delta-chain object store, with a
write-ahead log and periodic snapshots for crash recovery.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("emberdb v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the store and run its background GC and snapshot loops",
		Long:  "Open the store at --data-dir, run recovery, and keep its garbage collector and snapshot loop running until interrupted.",
		RunE:  runServe,
	}
	serveCmd.Flags().String("data-dir", "./data", "Data directory")
	serveCmd.Flags().String("config", "", "Path to an emberdb.yaml config file (overrides EMBERDB_* env vars)")
	rootCmd.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new emberdb data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.LoadFromEnv()
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("Starting emberdb v%s\n", version)
	fmt.Printf("  data dir:   %s\n", cfg.DataDir)
	fmt.Printf("  storage:    %s\n", cfg.StorageMode)
	fmt.Printf("  isolation:  %s\n", cfg.IsolationLevel)
	fmt.Printf("  wal:        %v\n", cfg.WalEnabled)

	logger := log.New(os.Stderr, "emberdb: ", log.LstdFlags)
	engine, err := storage.NewEngine(cfg.ToStorageConfig(), logger)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer engine.Close()

	engine.Run()
	fmt.Println("emberdb is ready. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("shutting down...")
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("initializing emberdb data directory in %s\n", dataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	cfg := config.LoadFromEnv()
	cfg.DataDir = dataDir

	configPath := filepath.Join(dataDir, "emberdb.yaml")
	if err := cfg.SaveToFile(configPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println("database initialized successfully")
	fmt.Printf("  config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next step: emberdb serve --data-dir", dataDir)
	return nil
}
