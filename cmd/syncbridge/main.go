// Package main provides the CLI entry point for syncbridge.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncbridge-io/syncbridge/internal/config"
	"github.com/syncbridge-io/syncbridge/internal/document"
	"github.com/syncbridge-io/syncbridge/internal/endpoint"
	"github.com/syncbridge-io/syncbridge/internal/natsengine"
	"github.com/syncbridge-io/syncbridge/internal/replicator"
)

const defaultConfigPath = "/etc/syncbridge/config.json"

var (
	// Version information set via ldflags
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syncbridge",
	Short: "SyncBridge - bidirectional document replication over NATS",
	Long: `SyncBridge replicates a local SQLite-backed document store with a remote
peer over NATS JetStream, with push/pull filtering and resumable checkpoints.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need one
		if cmd.Name() == "init" || cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.ApplyDefaults()

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// initCmd writes a starter configuration file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a syncbridge configuration file",
	RunE:  runInit,
}

var (
	initDatabase   string
	initEndpoint   string
	initDirection  string
	initContinuous bool
)

func init() {
	initCmd.Flags().StringVar(&initDatabase, "database", config.DefaultDatabasePath, "Path to the local document store")
	initCmd.Flags().StringVar(&initEndpoint, "endpoint", "", "Remote endpoint URL, e.g. nats://broker:4222/inventory (required)")
	initCmd.Flags().StringVar(&initDirection, "direction", config.DefaultDirection, "Replication direction: push, pull, or pushAndPull")
	initCmd.Flags().BoolVar(&initContinuous, "continuous", false, "Keep replicating after the initial sync")

	_ = initCmd.MarkFlagRequired("endpoint")
}

func runInit(cmd *cobra.Command, args []string) error {
	newCfg := &config.Config{
		Database: config.DatabaseConfig{Path: initDatabase},
		Endpoint: config.EndpointConfig{URL: initEndpoint},
		Replication: config.ReplicationConfig{
			Direction:  initDirection,
			Continuous: initContinuous,
		},
	}

	newCfg.ApplyDefaults()
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(newCfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("✓ Configuration initialized\n")
	fmt.Printf("  Config file: %s\n", configPath)
	fmt.Printf("  Database:    %s\n", newCfg.Database.Path)
	fmt.Printf("  Endpoint:    %s\n", newCfg.Endpoint.URL)
	fmt.Printf("  Direction:   %s (continuous=%v)\n", newCfg.Replication.Direction, newCfg.Replication.Continuous)
	fmt.Println()
	fmt.Println("Next step: syncbridge run")

	return nil
}

// validateCmd checks the configuration without starting anything
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Loading and validation already happened in PersistentPreRunE;
		// also check that the replicator accepts it.
		store, err := document.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = store.Close() }()

		rcfg, err := replicatorConfig(store)
		if err != nil {
			return err
		}
		if err := rcfg.Validate(); err != nil {
			return fmt.Errorf("replicator rejects configuration: %w", err)
		}

		fmt.Println("✓ Configuration is valid")
		return nil
	},
}

// runCmd runs the replication daemon
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the replication daemon",
	Long: `Run the replication daemon until stopped with SIGINT or SIGTERM.

One-shot configurations exit when the initial sync completes; continuous
configurations keep replicating changes as they occur.`,
	RunE: runDaemon,
}

var resetCheckpoint bool

func init() {
	runCmd.Flags().BoolVar(&resetCheckpoint, "reset-checkpoint", false, "Discard the persisted checkpoint and re-sync from scratch")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := document.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	rcfg, err := replicatorConfig(store)
	if err != nil {
		return err
	}

	repl, err := replicator.New(rcfg, natsengine.New())
	if err != nil {
		return fmt.Errorf("failed to create replicator: %w", err)
	}

	// stopped fires on every terminal status; buffered so delivery never
	// blocks the listener.
	stopped := make(chan replicator.Status, 1)
	repl.SetListener(func(st replicator.Status) {
		fmt.Printf("  %-10s %6.1f%%  %d documents\n",
			st.Activity, st.Progress.Complete*100, st.Progress.DocumentCount)
		if st.Activity == replicator.ActivityStopped {
			select {
			case stopped <- st:
			default:
			}
		}
	})

	if resetCheckpoint {
		repl.ResetCheckpoint()
	}

	fmt.Printf("Starting replication of %s with %s...\n", store.Name(), cfg.Endpoint.URL)
	repl.Start(ctx)

	if st := repl.Status(); st.Activity == replicator.ActivityStopped {
		if st.Err != nil {
			return fmt.Errorf("replication failed to start: %w", st.Err)
		}
		return nil
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
		repl.Stop()
		select {
		case <-stopped:
		case <-time.After(30 * time.Second):
			return fmt.Errorf("timed out waiting for replication to stop")
		}
	case st := <-stopped:
		if st.Err != nil {
			return fmt.Errorf("replication stopped: %w", st.Err)
		}
	}

	fmt.Println("✓ Replication stopped")
	return nil
}

// replicatorConfig converts the file configuration into a replicator
// configuration bound to the open store.
func replicatorConfig(store *document.Store) (replicator.Config, error) {
	ep, err := endpoint.NewURLEndpoint(cfg.Endpoint.URL)
	if err != nil {
		return replicator.Config{}, fmt.Errorf("invalid endpoint: %w", err)
	}

	direction, err := replicator.ParseDirection(cfg.Replication.Direction)
	if err != nil {
		return replicator.Config{}, err
	}

	rcfg := replicator.Config{
		Database:   store,
		Endpoint:   ep,
		Direction:  direction,
		Continuous: cfg.Replication.Continuous,
		Options:    cfg.Replication.Options,
	}

	switch cfg.Auth.Type {
	case "basic":
		rcfg.Authenticator = endpoint.NewBasicAuthenticator(cfg.Auth.Username, cfg.Auth.Password)
	case "session":
		rcfg.Authenticator = endpoint.NewSessionAuthenticator(cfg.Auth.SessionID, cfg.Auth.CookieName)
	}

	return rcfg, nil
}

// versionCmd shows version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("syncbridge %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}
