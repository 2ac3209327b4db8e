package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ibero-data/licensor/internal/api"
	"github.com/ibero-data/licensor/internal/config"
	"github.com/ibero-data/licensor/internal/database"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	// Global flags
	configPath  string
	databaseURL string
	listenAddr  string
)

var rootCmd = &cobra.Command{
	Use:   "licensor",
	Short: "Licensor - license keys, trials and PayPal checkout",
	Long: `Licensor issues and redeems software license keys, tracks free-trial
usage per device and takes payments through PayPal.

Get started:
  licensor init     # Create the schema and an admin user
  licensor serve    # Start the server`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: run serve command
		return serveCmd.RunE(cmd, args)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("licensor %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func init() {
	// Set version in API package for /api/version endpoint
	api.Version = Version

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to JSON config file (default config.json)")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database", "", "Database URL, overrides config")
	rootCmd.PersistentFlags().StringVarP(&listenAddr, "listen", "l", "", "Address to listen on, overrides config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(licenseCmd)
	rootCmd.AddCommand(adminCmd)
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	return cfg, nil
}

// openDatabase opens the configured store and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
