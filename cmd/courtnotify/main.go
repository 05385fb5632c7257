package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"courtnotify/internal/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	dryRun     bool

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "courtnotify [profile]",
	Short: "courtnotify - hearing notice dispatch over WhatsApp Web",
	Long: `courtnotify reads the client dataset exported by the case-management
system, selects the clients whose next hearing falls on the configured
target date, and sends each one a templated reminder through a persistent
WhatsApp Web browser session.

The optional profile argument picks which WhatsApp account's browser
profile to use (default "shs"). A fresh profile requires scanning the QR
code once; the login persists in the profile directory afterwards.`,
	Args: cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
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
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := "shs"
		if len(args) == 1 {
			profile = args[0]
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, profile, dryRun, logger)
	},
	SilenceUsage: true,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent dispatch runs from the history database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return showHistory(cmd.OutOrStdout(), cfg)
	},
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate binary: %w", err)
		}
		path = filepath.Join(filepath.Dir(exe), config.DefaultFileName)
	}
	return config.Load(path)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the settings file (default: app_config.json next to the binary)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "select and render without opening a browser or sending anything")

	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
