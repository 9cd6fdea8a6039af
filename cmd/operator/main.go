// Package main provides the operator CLI for deployment and operations tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/config"
	"github.com/easeaico/roza/internal/logging"
	"github.com/easeaico/roza/internal/storage"
)

const version = "0.2.0"

var (
	verbose bool
	timeout time.Duration

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "operator",
	Short: "roza operator - deployment and operations CLI",
	Long: `Operations for the roza backend: store migrations, YAML config import,
administrator commands and environment checks.

The store is selected by ROZA_STORE (mongo, postgres, sqlite or memory).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		logger, err = logging.New(verbose || cfg.Debug)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "roza operator v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline for the command")

	migrateCmd.Flags().BoolVar(&migratePools, "pools", false, "also normalize the reply pools of every stored bot")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "show what would be migrated without executing")

	importCmd.Flags().StringVar(&importBots, "bots", "", "bot YAML file or directory")
	importCmd.Flags().StringVar(&importGroups, "groups", "", "group YAML file or directory")

	execCmd.Flags().StringVar(&execBot, "bot", "", "bot id (required)")
	execCmd.Flags().StringVar(&execGroup, "group", "", "group id, empty for private chat")
	execCmd.Flags().StringVar(&execUser, "user", "", "calling user id; must be a bot admin unless --force")
	execCmd.Flags().BoolVar(&execForce, "force", false, "run as an administrator regardless of --user")
	_ = execCmd.MarkFlagRequired("bot")

	schemaCmd.Flags().StringVar(&schemaFile, "file", "", "specific migration file to execute")
	schemaCmd.Flags().StringVar(&schemaDir, "dir", "migrations", "directory containing migration files")
	schemaCmd.Flags().BoolVar(&schemaDryRun, "dry-run", false, "show what would be executed without running")

	rootCmd.AddCommand(migrateCmd, importCmd, execCmd, schemaCmd, validateCmd, versionCmd)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// openStore validates the configuration and opens the selected backend under
// the command deadline. The returned cancel must be called after close.
func openStore(cmd *cobra.Command) (*storage.Store, context.Context, context.CancelFunc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	store, err := storage.NewStore(ctx, cfg.StoreOptions())
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	return store, ctx, cancel, nil
}

func closeStore(store *storage.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close store", zap.Error(err))
	}
}
